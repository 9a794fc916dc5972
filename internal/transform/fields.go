package transform

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexFloat accepts a JSON number, a numeric string or null.
// Malformed input never fails decoding; it is flagged so the caller can count a warning.
type flexFloat struct {
	Value     float64
	Set       bool
	Malformed bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	text := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			f.Malformed = true
			return nil
		}
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return nil
		}
		text = s
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		f.Malformed = true
		return nil
	}
	f.Value = v
	f.Set = true
	return nil
}

// flexString accepts a JSON string, number, boolean or null
type flexString struct {
	Value     string
	Malformed bool
}

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	switch b[0] {
	case '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			s.Malformed = true
			return nil
		}
		s.Value = strings.TrimSpace(v)
	case '{', '[':
		s.Malformed = true
	default:
		s.Value = string(b)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp returns nil for empty input and ok=false for unparseable input
func parseTimestamp(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	return nil, false
}

// passthrough copies every key of obj not in promoted (case-insensitive) into dst under prefix
func passthrough(dst map[string]json.RawMessage, obj map[string]json.RawMessage, promoted []string, prefix string) {
	for key, value := range obj {
		if isPromoted(key, promoted) {
			continue
		}
		dst[prefix+key] = value
	}
}

func isPromoted(key string, promoted []string) bool {
	for _, p := range promoted {
		if strings.EqualFold(key, p) {
			return true
		}
	}
	return false
}

// warnings accumulates data-shape problems for one record
type warnings struct {
	recordKey string
	fields    []string
}

func (w *warnings) float(field string, f flexFloat) float64 {
	if f.Malformed {
		w.fields = append(w.fields, field)
	}
	return f.Value
}

func (w *warnings) str(field string, s flexString) string {
	if s.Malformed {
		w.fields = append(w.fields, field)
	}
	return s.Value
}

func (w *warnings) timestamp(field string, s flexString) *time.Time {
	v := w.str(field, s)
	t, ok := parseTimestamp(v)
	if !ok {
		w.fields = append(w.fields, field)
	}
	return t
}

// firstNonEmpty returns the first non-empty value
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
