package confluence

import (
	"encoding/json"
	"fmt"
	"time"
)

// parsePageV2 maps a v2 API page payload onto Page. spaceKey may be empty
// when the caller does not know it (single-page fetch).
func parsePageV2(raw json.RawMessage, spaceKey, baseURL string) (*Page, error) {
	var data struct {
		ID    json.Number `json:"id"`
		Title string      `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			Number    int    `json:"number"`
			CreatedAt string `json:"createdAt"`
		} `json:"version"`
		CreatedAt string      `json:"createdAt"`
		SpaceID   json.Number `json:"spaceId"`
		Links     struct {
			WebUI string `json:"webui"`
		} `json:"_links"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode page payload: %w", err)
	}
	if data.ID.String() == "" {
		return nil, fmt.Errorf("page payload has no id")
	}

	page := &Page{
		PageID:    data.ID.String(),
		SpaceKey:  spaceKey,
		Title:     data.Title,
		URL:       pageURL(baseURL, data.Links.WebUI),
		BodyHTML:  data.Body.Storage.Value,
		Version:   data.Version.Number,
		UpdatedAt: parseTimestamp(data.Version.CreatedAt),
		CreatedAt: parseTimestamp(data.CreatedAt),
	}
	return page, nil
}

// parsePageV1 maps a v1 CQL search result onto Page.
func parsePageV1(raw json.RawMessage, spaceKey, baseURL string) (*Page, error) {
	var data struct {
		ID    json.Number `json:"id"`
		Title string      `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
		History struct {
			CreatedDate string `json:"createdDate"`
			LastUpdated struct {
				When string `json:"when"`
			} `json:"lastUpdated"`
		} `json:"history"`
		Space struct {
			Key string `json:"key"`
		} `json:"space"`
		Links struct {
			WebUI string `json:"webui"`
		} `json:"_links"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode search result: %w", err)
	}
	if data.ID.String() == "" {
		return nil, fmt.Errorf("search result has no id")
	}

	key := data.Space.Key
	if key == "" {
		key = spaceKey
	}
	page := &Page{
		PageID:    data.ID.String(),
		SpaceKey:  key,
		Title:     data.Title,
		URL:       pageURL(baseURL, data.Links.WebUI),
		BodyHTML:  data.Body.Storage.Value,
		Version:   data.Version.Number,
		UpdatedAt: parseTimestamp(data.History.LastUpdated.When),
		CreatedAt: parseTimestamp(data.History.CreatedDate),
	}
	return page, nil
}

func pageURL(baseURL, webui string) string {
	if webui == "" {
		return ""
	}
	// The base URL already carries the /wiki segment; webui paths
	// from the API start with /spaces/...
	return baseURL + webui
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
