package models

// ChunkHit is one nearest-neighbour result before page grouping.
// Score is 1 - cosine_distance, higher is more similar.
type ChunkHit struct {
	ChunkID     string  `json:"chunk_id"`
	PageID      string  `json:"page_id"`
	SpaceKey    string  `json:"space_key"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	HeadingPath *string `json:"heading_path"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

// PageHit is a page-grouped search result: the best chunk score for the
// page plus up to three snippet previews.
type PageHit struct {
	PageID     string   `json:"page_id"`
	SpaceKey   string   `json:"space_key"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Score      float64  `json:"score"`
	Snippets   []string `json:"snippets"`
	ChunkCount int      `json:"chunk_count"`
}

// PageContent is a full-body fetch result; BodyText is clipped with a
// visible marker when the stored body exceeds the response budget.
type PageContent struct {
	PageID    string `json:"page_id"`
	SpaceKey  string `json:"space_key"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	BodyText  string `json:"body_text"`
	Truncated bool   `json:"truncated"`
}

// LinkedPage is one internal link target discovered by graph expansion.
type LinkedPage struct {
	PageID   string   `json:"page_id"`
	SpaceKey string   `json:"space_key"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	LinkType LinkType `json:"link_type"`
}

type SearchRequest struct {
	Query    string `json:"query" binding:"required"`
	TopK     int    `json:"top_k"`
	MaxPages int    `json:"max_pages"`
}

type FetchPagesRequest struct {
	PageIDs []string `json:"page_ids" binding:"required"`
}

type ExpandRequest struct {
	PageIDs []string `json:"page_ids" binding:"required"`
	Limit   int      `json:"limit"`
}

type SyncRequest struct {
	Full bool `json:"full"`
}

// SyncStats is the per-run statistics record returned by the orchestrator.
type SyncStats struct {
	SpacesSynced  int      `json:"spaces_synced"`
	PagesSynced   int      `json:"pages_synced"`
	PagesSkipped  int      `json:"pages_skipped"`
	ChunksCreated int      `json:"chunks_created"`
	LinksCreated  int      `json:"links_created"`
	Errors        []string `json:"errors"`
}

// CorpusStats summarizes the ingested corpus for the stats endpoint.
type CorpusStats struct {
	TotalPages     int64 `json:"total_pages"`
	TotalChunks    int64 `json:"total_chunks"`
	EmbeddedChunks int64 `json:"embedded_chunks"`
	TotalLinks     int64 `json:"total_links"`
	TotalSpaces    int64 `json:"total_spaces"`
}

// SyncStatus is the read-back of the persisted sync state.
type SyncStatus struct {
	LastRunAt      *string `json:"last_run_at"`
	LastRunSuccess bool    `json:"last_run_success"`
	LastError      *string `json:"last_error"`
	PagesSynced    int     `json:"pages_synced"`
	ChunksCreated  int     `json:"chunks_created"`
	SpacesSynced   int     `json:"spaces_synced"`
	Running        bool    `json:"running"`
}
