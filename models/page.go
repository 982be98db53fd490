package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type LinkType string

const (
	LinkTypeInternal   LinkType = "internal"
	LinkTypeExternal   LinkType = "external"
	LinkTypeAttachment LinkType = "attachment"
)

// Page is one wiki page, keyed by the upstream content id. body_text holds
// the normalized plain text; the raw storage-format HTML is never persisted.
type Page struct {
	PageID   string `json:"page_id" gorm:"type:varchar(64);primaryKey"`
	SpaceKey string `json:"space_key" gorm:"type:varchar(64);not null;index"`
	Title    string `json:"title" gorm:"type:varchar(512);not null"`
	URL      string `json:"url" gorm:"not null"`

	BodyText string `json:"body_text"`

	// Version is assigned upstream and only ever moves forward; an ingest
	// with version <= the stored one is skipped.
	Version   int        `json:"version" gorm:"default:1"`
	UpdatedAt *time.Time `json:"updated_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	SyncedAt  time.Time `json:"synced_at" gorm:"not null;default:now()"`

	Chunks        []Chunk    `json:"chunks,omitempty" gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE"`
	OutgoingLinks []PageLink `json:"outgoing_links,omitempty" gorm:"foreignKey:FromPageID;constraint:OnDelete:CASCADE"`
}

func (Page) TableName() string {
	return "pages"
}

// Chunk is a token-bounded slice of a page body. Chunks of a page form a
// contiguous chunk_index sequence from 0 and are replaced as a set whenever
// the page is reingested.
type Chunk struct {
	ChunkID uuid.UUID `json:"chunk_id" gorm:"type:uuid;primaryKey"`
	PageID  string    `json:"page_id" gorm:"type:varchar(64);not null;index"`

	SpaceKey    string  `json:"space_key" gorm:"type:varchar(64);not null"`
	HeadingPath *string `json:"heading_path"`
	ChunkIndex  int     `json:"chunk_index" gorm:"not null"`

	Text       string `json:"text" gorm:"not null"`
	TokenCount int    `json:"token_count"`

	// Dimension is fixed per deployment; the column type is rewritten to
	// vector(N) by the store migration before AutoMigrate runs.
	Embedding pgvector.Vector `json:"-" gorm:"type:vector(1536)"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// PageLink is a directed edge of the page graph. to_page_id is only set for
// internal links whose target id could be resolved from the URL.
type PageLink struct {
	ID         int64   `json:"id" gorm:"primaryKey;autoIncrement"`
	FromPageID string  `json:"from_page_id" gorm:"type:varchar(64);not null;index"`
	ToPageID   *string `json:"to_page_id" gorm:"type:varchar(64);index"`

	ToURL    string   `json:"to_url" gorm:"not null"`
	LinkText string   `json:"link_text"`
	LinkType LinkType `json:"link_type" gorm:"type:varchar(32);default:'internal'"`
}

func (PageLink) TableName() string {
	return "page_links"
}

// SyncState is a singleton row (id=1). last_run_at is the watermark for
// incremental discovery and advances only after a successful run commits.
type SyncState struct {
	ID int `json:"id" gorm:"primaryKey;default:1"`

	LastRunAt      *time.Time `json:"last_run_at"`
	LastRunSuccess bool       `json:"last_run_success" gorm:"default:false"`
	LastError      *string    `json:"last_error"`

	PagesSynced   int `json:"pages_synced" gorm:"default:0"`
	ChunksCreated int `json:"chunks_created" gorm:"default:0"`
	SpacesSynced  int `json:"spaces_synced" gorm:"default:0"`
}

func (SyncState) TableName() string {
	return "sync_state"
}

// UpsertResult tells the orchestrator what a page upsert actually did.
type UpsertResult string

const (
	UpsertCreated UpsertResult = "created"
	UpsertUpdated UpsertResult = "updated"
	UpsertSkipped UpsertResult = "skipped"
)

// SpaceCount is one row of the spaces-with-counts listing.
type SpaceCount struct {
	SpaceKey  string `json:"space_key"`
	PageCount int64  `json:"page_count"`
}

// PageListFilter narrows the administrative page listing.
type PageListFilter struct {
	SpaceKey string `json:"space_key"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}
