package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
)

// ListingQuery selects one status filter's worth of listings
type ListingQuery struct {
	Status        string
	PageSize      int
	ModifiedSince *time.Time
	MaxPages      int // hard ceiling; 0 means unbounded
}

// PageStats summarizes one pagination walk
type PageStats struct {
	Pages     int  `json:"pages"`
	Records   int  `json:"records"`
	Truncated bool `json:"truncated"` // the page ceiling stopped the walk with more data available
}

// PageFunc consumes one page of raw records
type PageFunc func(ctx context.Context, records []json.RawMessage) error

// odataPage is the envelope most providers wrap result pages in
type odataPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
	Count    *int              `json:"@odata.count"`
}

// SearchListings walks every page of listings matching q, handing each page to fn
func (c *Client) SearchListings(ctx context.Context, q ListingQuery, fn PageFunc) (PageStats, error) {
	filter := fmt.Sprintf("StandardStatus eq %s", odataQuote(q.Status))
	if q.ModifiedSince != nil {
		filter += " and ModificationTimestamp ge " + q.ModifiedSince.UTC().Format(time.RFC3339)
	}

	params := url.Values{}
	params.Set("$filter", filter)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"source": c.source,
		"status": q.Status,
		"filter": filter,
	}).Debug("[MLSClient] searching listings")

	return c.walk(ctx, "Property", params, q.PageSize, q.MaxPages, fn)
}

// ExportMembers walks the bulk member export
func (c *Client) ExportMembers(ctx context.Context, pageSize, maxPages int, fn PageFunc) (PageStats, error) {
	return c.walk(ctx, "Member", url.Values{}, pageSize, maxPages, fn)
}

// GetMember fetches a single member by key.
// A missing member returns a not_found categorized error.
func (c *Client) GetMember(ctx context.Context, key string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/Member(%s)", c.baseURL, url.PathEscape(odataQuote(key)))

	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		if apperrors.HasCategory(err, apperrors.CategoryNotFound) {
			return nil, apperrors.NewNotFoundError("member", key)
		}
		return nil, fmt.Errorf("failed to get member %s: %w", key, err)
	}

	records, _, _, err := decodePage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode member %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError("member", key)
	}
	return records[0], nil
}

// Ping fetches a single listing to verify credentials and connectivity
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("$top", "1")
	if _, err := c.getJSON(ctx, c.baseURL+"/Property?"+params.Encode()); err != nil {
		return fmt.Errorf("failed to reach source %s: %w", c.source, err)
	}
	return nil
}

// walk follows pagination for one resource until exhaustion, an empty page or the ceiling.
// Next-page selection: @odata.nextLink, then $skip against @odata.count,
// otherwise the response is treated as the only page.
func (c *Client) walk(ctx context.Context, resource string, params url.Values, pageSize, maxPages int, fn PageFunc) (PageStats, error) {
	var stats PageStats
	logger := logging.FromContext(ctx)

	if pageSize <= 0 {
		pageSize = 100
	}
	params.Set("$top", strconv.Itoa(pageSize))
	params.Set("$count", "true")

	skip := 0
	next := c.pageURL(resource, params, skip)

	for next != "" {
		body, err := c.getJSON(ctx, next)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch %s page %d: %w", resource, stats.Pages+1, err)
		}

		records, nextLink, count, err := decodePage(body)
		if err != nil {
			return stats, apperrors.NewProviderError(c.source, 200, fmt.Errorf("%s page %d: %w", resource, stats.Pages+1, err))
		}
		stats.Pages++

		if len(records) == 0 {
			break
		}
		stats.Records += len(records)

		if err := fn(ctx, records); err != nil {
			return stats, err
		}

		next = ""
		switch {
		case nextLink != "":
			next, err = c.resolveLink(nextLink)
			if err != nil {
				return stats, apperrors.NewProviderError(c.source, 200, err)
			}
		case count != nil:
			skip += len(records)
			if skip < *count {
				next = c.pageURL(resource, params, skip)
			}
		}

		if next != "" && maxPages > 0 && stats.Pages >= maxPages {
			stats.Truncated = true
			logger.WithFields(map[string]interface{}{
				"source":   c.source,
				"resource": resource,
				"pages":    stats.Pages,
			}).Warn("[MLSClient] page ceiling reached, stopping walk")
			break
		}
	}

	return stats, nil
}

func (c *Client) pageURL(resource string, params url.Values, skip int) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if skip > 0 {
		q.Set("$skip", strconv.Itoa(skip))
	}
	return c.baseURL + "/" + resource + "?" + q.Encode()
}

// resolveLink resolves a possibly relative nextLink against the base URL
func (c *Client) resolveLink(link string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid nextLink %q: %w", link, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// decodePage accepts an OData envelope, a bare array, or a single object
func decodePage(body []byte) ([]json.RawMessage, string, *int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", nil, nil
	}

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, "", nil, fmt.Errorf("failed to decode array page: %w", err)
		}
		return records, "", nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, "", nil, fmt.Errorf("failed to decode page: %w", err)
	}
	if _, ok := probe["value"]; !ok {
		return []json.RawMessage{json.RawMessage(trimmed)}, "", nil, nil
	}

	var page odataPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, "", nil, fmt.Errorf("failed to decode page envelope: %w", err)
	}
	return page.Value, page.NextLink, page.Count, nil
}

// odataQuote renders s as an OData string literal
func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
