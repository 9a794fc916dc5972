package transform

import (
	"strings"
	"unicode"
)

// SplitAddress splits a free-form street address into number and name.
// The first whitespace-delimited token is the number; the trimmed remainder is the name.
func SplitAddress(unparsed string) (number, name string) {
	trimmed := strings.TrimSpace(unparsed)
	idx := strings.IndexFunc(trimmed, unicode.IsSpace)
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], strings.TrimSpace(trimmed[idx:])
}
