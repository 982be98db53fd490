package services

import (
	"context"
	"errors"

	"github.com/confluence-qa/models"
)

// ErrSyncRunning is returned when a sync run is requested while another
// one is still in flight.
var ErrSyncRunning = errors.New("sync already running")

var (
	ErrPageNotFound    = errors.New("page not found")
	ErrSessionNotFound = errors.New("session not found")
)

// PageStore persists the ingested corpus and serves similarity queries.
type PageStore interface {
	// GetPageVersion returns the stored version of a page, or found=false
	// when the page has never been ingested.
	GetPageVersion(ctx context.Context, pageID string) (version int, found bool, err error)

	// SavePage writes a page together with its chunks and outgoing links
	// in one transaction: old chunks and links are replaced, never mixed
	// with new ones. A page whose version is not newer than the stored
	// one is skipped untouched.
	SavePage(ctx context.Context, page *models.Page, chunks []models.Chunk, links []models.PageLink) (models.UpsertResult, error)

	// VectorSearch returns the topK nearest chunks to the query
	// embedding by cosine similarity, best first.
	VectorSearch(ctx context.Context, embedding []float32, topK int) ([]models.ChunkHit, error)

	// FetchPages returns the stored pages for the given ids. Unknown ids
	// are silently absent from the result.
	FetchPages(ctx context.Context, pageIDs []string) ([]models.Page, error)

	// LinkedPages returns ingested pages that the given pages link to,
	// excluding the source pages themselves.
	LinkedPages(ctx context.Context, pageIDs []string, limit int) ([]models.LinkedPage, error)

	// GetPageDetail returns one page with its chunks and outgoing links
	// preloaded.
	GetPageDetail(ctx context.Context, pageID string) (*models.Page, error)

	ListPages(ctx context.Context, filter models.PageListFilter) ([]models.Page, int64, error)
	SpacesWithCounts(ctx context.Context) ([]models.SpaceCount, error)
	Stats(ctx context.Context) (*models.CorpusStats, error)

	// SyncState returns the singleton sync state row, creating it on
	// first use.
	SyncState(ctx context.Context) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
}

// SyncService orchestrates ingestion runs against the upstream wiki.
type SyncService interface {
	// RunFull ingests every page of every space.
	RunFull(ctx context.Context) (*models.SyncStats, error)

	// RunIncremental ingests pages modified since the last successful
	// run. Falls back to a full run when no watermark exists yet.
	RunIncremental(ctx context.Context) (*models.SyncStats, error)

	// Trigger starts a run in the background. Returns false when a run
	// is already in flight.
	Trigger(full bool) bool

	Status(ctx context.Context) (*models.SyncStatus, error)

	// StartScheduler begins periodic incremental runs until ctx is
	// cancelled.
	StartScheduler(ctx context.Context)
}

// RetrievalService answers questions against the ingested corpus.
type RetrievalService interface {
	// Search embeds the query, finds the nearest chunks, and groups them
	// into page-level results sorted by best chunk score.
	Search(ctx context.Context, req models.SearchRequest) ([]models.PageHit, error)

	// FetchPages returns full page bodies, clipped to the response
	// budget.
	FetchPages(ctx context.Context, pageIDs []string) ([]models.PageContent, error)

	// Expand walks the link graph one hop out from the given pages.
	Expand(ctx context.Context, pageIDs []string, limit int) ([]models.LinkedPage, error)
}

// EmbeddingCacheService caches query embeddings so repeated searches skip
// the embedding API.
type EmbeddingCacheService interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, bool)
	SetEmbedding(ctx context.Context, query string, embedding []float32) error
	Close() error
}

// SessionService manages chat sessions and their message history.
type SessionService interface {
	CreateSession(ctx context.Context, title string) (*models.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, limit int) ([]models.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AddMessage(ctx context.Context, message *models.ChatMessage) error
	GetMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	AddFeedback(ctx context.Context, feedback *models.MessageFeedback) error
}

// SettingsService stores operator-editable settings such as the assistant
// instructions.
type SettingsService interface {
	GetInstructions(ctx context.Context) (string, error)
	SetInstructions(ctx context.Context, text string) error
	ResetInstructions(ctx context.Context) error
}

// UsageService accumulates token and cost counters across requests.
type UsageService interface {
	RecordUsage(ctx context.Context, promptTokens, completionTokens int, costMicroUSD int64) error

	// RecordRequests adds to the cumulative wiki and database request
	// counters.
	RecordRequests(ctx context.Context, wikiRequests, dbRequests int64) error

	GetUsage(ctx context.Context) (*models.UsageStats, error)
}
