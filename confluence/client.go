// Package confluence is a read-only client for the Confluence Cloud REST
// API: space and page listings with cursor pagination, CQL fallback, and
// rate/retry discipline.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluence-qa/config"
)

const (
	// Upstream allows up to 250 results per listing request.
	listPageSize = 250
	// CQL (v1) search caps out lower.
	cqlPageSize = 50

	minRequestInterval = 100 * time.Millisecond
)

// Space is one wiki space as returned by the listing endpoint.
type Space struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Page is one wiki page with its storage-format body.
type Page struct {
	PageID    string
	SpaceKey  string
	Title     string
	URL       string
	BodyHTML  string
	Version   int
	UpdatedAt *time.Time
	CreatedAt *time.Time
}

// StatusError is a non-2xx response that exhausted (or did not qualify
// for) retries.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("confluence returned status %d: %s", e.Code, e.Body)
}

// Client talks to the Confluence Cloud REST API. It enforces a minimum
// spacing between requests and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiBase    string
	email      string
	apiToken   string
	maxRetries int

	httpClient *http.Client
	requests   atomic.Int64

	mu          sync.Mutex
	lastRequest time.Time
}

func NewClient(cfg *config.ConfluenceConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiBase:    cfg.BaseURL + "/api/v2",
		email:      cfg.Email,
		apiToken:   cfg.APIToken,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// EachSpace streams all active spaces, following the pagination cursor
// until exhausted. A listing error aborts the iteration.
func (c *Client) EachSpace(ctx context.Context, fn func(Space) error) error {
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(listPageSize))
		params.Set("status", "current")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			Results []Space `json:"results"`
			Links   struct {
				Next string `json:"next"`
			} `json:"_links"`
		}
		if err := c.getJSON(ctx, c.apiBase+"/spaces", params, &resp); err != nil {
			return fmt.Errorf("failed to list spaces: %w", err)
		}

		for _, space := range resp.Results {
			if err := fn(space); err != nil {
				return err
			}
		}

		if resp.Links.Next == "" {
			return nil
		}
		cursor = extractCursor(resp.Links.Next)
		if cursor == "" {
			return nil
		}
	}
}

// EachPage streams the pages of a space with their storage-format bodies.
// If the v2 space-pages endpoint fails, it falls back to a CQL search.
// updatedSince, when non-nil, filters out pages last modified before it.
func (c *Client) EachPage(ctx context.Context, spaceKey string, updatedSince *time.Time, fn func(Page) error) error {
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(listPageSize))
		params.Set("status", "current")
		params.Set("body-format", "storage")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp struct {
			Results []json.RawMessage `json:"results"`
			Links   struct {
				Next string `json:"next"`
			} `json:"_links"`
		}
		endpoint := fmt.Sprintf("%s/spaces/%s/pages", c.apiBase, url.PathEscape(spaceKey))
		if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
			log.Printf("confluence: space pages endpoint failed for %q, trying CQL: %v", spaceKey, err)
			return c.eachPageByCQL(ctx, spaceCQL(spaceKey, updatedSince), spaceKey, fn)
		}

		for _, raw := range resp.Results {
			page, err := parsePageV2(raw, spaceKey, c.baseURL)
			if err != nil {
				log.Printf("confluence: skipping unparseable page: %v", err)
				continue
			}
			if updatedSince != nil && page.UpdatedAt != nil && page.UpdatedAt.Before(*updatedSince) {
				continue
			}
			if err := fn(*page); err != nil {
				return err
			}
		}

		if resp.Links.Next == "" {
			return nil
		}
		cursor = extractCursor(resp.Links.Next)
		if cursor == "" {
			return nil
		}
	}
}

// EachUpdatedPage streams pages modified at or after since, across all
// spaces, via the CQL search endpoint. The lastModified filter is
// inclusive.
func (c *Client) EachUpdatedPage(ctx context.Context, since time.Time, fn func(Page) error) error {
	cql := fmt.Sprintf(`type = "page" AND lastModified >= "%s"`, since.UTC().Format("2006-01-02 15:04"))
	return c.eachPageByCQL(ctx, cql, "", fn)
}

// GetPage fetches one page by id with its storage-format body.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	params := url.Values{}
	params.Set("body-format", "storage")

	var raw json.RawMessage
	endpoint := fmt.Sprintf("%s/pages/%s", c.apiBase, url.PathEscape(pageID))
	if err := c.getJSON(ctx, endpoint, params, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch page %s: %w", pageID, err)
	}
	return parsePageV2(raw, "", c.baseURL)
}

// Health reports whether the upstream API is reachable with the
// configured credentials.
func (c *Client) Health(ctx context.Context) bool {
	params := url.Values{}
	params.Set("limit", "1")
	var resp json.RawMessage
	if err := c.getJSON(ctx, c.apiBase+"/spaces", params, &resp); err != nil {
		log.Printf("confluence: health check failed: %v", err)
		return false
	}
	return true
}

// RequestCount returns the number of HTTP requests issued since the
// client was created, including retried attempts.
func (c *Client) RequestCount() int64 {
	return c.requests.Load()
}

func spaceCQL(spaceKey string, updatedSince *time.Time) string {
	cql := fmt.Sprintf(`space = "%s" AND type = "page"`, spaceKey)
	if updatedSince != nil {
		cql += fmt.Sprintf(` AND lastModified >= "%s"`, updatedSince.UTC().Format("2006-01-02"))
	}
	return cql
}

func (c *Client) eachPageByCQL(ctx context.Context, cql, spaceKey string, fn func(Page) error) error {
	start := 0
	for {
		params := url.Values{}
		params.Set("cql", cql)
		params.Set("start", strconv.Itoa(start))
		params.Set("limit", strconv.Itoa(cqlPageSize))
		params.Set("expand", "body.storage,version,history,space")

		var resp struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/rest/api/content/search", params, &resp); err != nil {
			return fmt.Errorf("CQL search failed: %w", err)
		}

		if len(resp.Results) == 0 {
			return nil
		}

		for _, raw := range resp.Results {
			page, err := parsePageV1(raw, spaceKey, c.baseURL)
			if err != nil {
				log.Printf("confluence: skipping unparseable page (CQL): %v", err)
				continue
			}
			if err := fn(*page); err != nil {
				return err
			}
		}

		if len(resp.Results) < cqlPageSize {
			return nil
		}
		start += cqlPageSize
	}
}

// getJSON performs a GET with rate spacing and the retry policy: 429 waits
// out Retry-After without consuming an attempt, 5xx and transport errors
// back off exponentially, other 4xx fail fast.
func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; {
		if err := c.waitTurn(ctx); err != nil {
			return err
		}

		reqURL := rawURL
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.email, c.apiToken)
		req.Header.Set("Accept", "application/json")

		c.requests.Add(1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			attempt++
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header)
			log.Printf("confluence: rate limited, waiting %s", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			// Honoring the server's pacing is not a failed attempt.
			continue

		case resp.StatusCode >= 500:
			lastErr = &StatusError{Code: resp.StatusCode, Body: truncateBody(body)}
			attempt++
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return err
			}
			continue

		case resp.StatusCode >= 400:
			return &StatusError{Code: resp.StatusCode, Body: truncateBody(body)}
		}

		if readErr != nil {
			lastErr = readErr
			attempt++
			continue
		}
		return json.Unmarshal(body, out)
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// waitTurn enforces the minimum inter-request spacing.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	var wait time.Duration
	if elapsed < minRequestInterval {
		wait = minRequestInterval - elapsed
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

func extractCursor(next string) string {
	parsed, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("cursor")
}
