package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

// pageStoreImpl persists pages, chunks, and links in Postgres and runs
// similarity queries through pgvector.
type pageStoreImpl struct {
	db *gorm.DB
}

func NewPageStore(db *gorm.DB) services.PageStore {
	return &pageStoreImpl{db: db}
}

// MigrateSchema installs the pgvector extension, creates the tables, and
// pins the embedding column to the configured dimension. The ANN index is
// created up front so search stays fast as the corpus grows.
func MigrateSchema(db *gorm.DB, dimensions int) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to install pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Page{},
		&models.Chunk{},
		&models.PageLink{},
		&models.SyncState{},
		&models.ChatSession{},
		&models.ChatMessage{},
		&models.UsageStats{},
		&models.AppSetting{},
		&models.MessageFeedback{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// The model tags declare vector(1536); rewrite to the deployed
	// dimension when a different embedding model is configured.
	alter := fmt.Sprintf("ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)", dimensions)
	if err := db.Exec(alter).Error; err != nil {
		return fmt.Errorf("failed to set embedding dimension: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_chunks_embedding
		ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`
	if err := db.Exec(index).Error; err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	return nil
}

func (s *pageStoreImpl) GetPageVersion(ctx context.Context, pageID string) (int, bool, error) {
	var page models.Page
	err := s.db.WithContext(ctx).Select("version").Where("page_id = ?", pageID).First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up page %s: %w", pageID, err)
	}
	return page.Version, true, nil
}

func (s *pageStoreImpl) SavePage(ctx context.Context, page *models.Page, chunks []models.Chunk, links []models.PageLink) (models.UpsertResult, error) {
	result := models.UpsertSkipped

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Page
		err := tx.Select("page_id", "version").Where("page_id = ?", page.PageID).First(&existing).Error
		switch {
		case err == nil:
			if existing.Version >= page.Version {
				result = models.UpsertSkipped
				return nil
			}
			result = models.UpsertUpdated
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = models.UpsertCreated
		default:
			return fmt.Errorf("failed to look up page %s: %w", page.PageID, err)
		}

		page.SyncedAt = time.Now().UTC()

		if result == models.UpsertCreated {
			if err := tx.Create(page).Error; err != nil {
				return fmt.Errorf("failed to create page %s: %w", page.PageID, err)
			}
		} else {
			updates := map[string]any{
				"space_key":  page.SpaceKey,
				"title":      page.Title,
				"url":        page.URL,
				"body_text":  page.BodyText,
				"version":    page.Version,
				"updated_at": page.UpdatedAt,
				"synced_at":  page.SyncedAt,
			}
			if err := tx.Model(&models.Page{}).Where("page_id = ?", page.PageID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update page %s: %w", page.PageID, err)
			}
		}

		// Replace chunks and links as a set.
		if err := tx.Where("page_id = ?", page.PageID).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete old chunks: %w", err)
		}
		if err := tx.Where("from_page_id = ?", page.PageID).Delete(&models.PageLink{}).Error; err != nil {
			return fmt.Errorf("failed to delete old links: %w", err)
		}

		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		if len(links) > 0 {
			if err := tx.CreateInBatches(links, 200).Error; err != nil {
				return fmt.Errorf("failed to insert links: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.UpsertSkipped, err
	}
	return result, nil
}

func (s *pageStoreImpl) VectorSearch(ctx context.Context, embedding []float32, topK int) ([]models.ChunkHit, error) {
	vec := pgvector.NewVector(embedding)

	var hits []models.ChunkHit
	query := `
		SELECT
			c.chunk_id::text AS chunk_id,
			c.page_id,
			c.space_key,
			c.heading_path,
			c.text,
			p.title,
			p.url,
			1 - (c.embedding <=> ?) AS score
		FROM chunks c
		JOIN pages p ON c.page_id = p.page_id
		WHERE c.embedding IS NOT NULL
		ORDER BY c.embedding <=> ?
		LIMIT ?`

	if err := s.db.WithContext(ctx).Raw(query, vec, vec, topK).Scan(&hits).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

func (s *pageStoreImpl) FetchPages(ctx context.Context, pageIDs []string) ([]models.Page, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}

	var pages []models.Page
	if err := s.db.WithContext(ctx).Where("page_id IN ?", pageIDs).Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pages: %w", err)
	}
	return pages, nil
}

func (s *pageStoreImpl) LinkedPages(ctx context.Context, pageIDs []string, limit int) ([]models.LinkedPage, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}

	var linked []models.LinkedPage
	query := `
		SELECT DISTINCT
			pl.to_page_id AS page_id,
			p.space_key,
			p.title,
			p.url,
			pl.link_type
		FROM page_links pl
		JOIN pages p ON pl.to_page_id = p.page_id
		WHERE pl.from_page_id = ANY(?)
		  AND pl.to_page_id IS NOT NULL
		  AND NOT (pl.to_page_id = ANY(?))
		LIMIT ?`

	ids := pq.Array(pageIDs)
	if err := s.db.WithContext(ctx).Raw(query, ids, ids, limit).Scan(&linked).Error; err != nil {
		return nil, fmt.Errorf("failed to expand links: %w", err)
	}
	return linked, nil
}

func (s *pageStoreImpl) GetPageDetail(ctx context.Context, pageID string) (*models.Page, error) {
	var page models.Page
	err := s.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB {
			// Embeddings are large and useless to API consumers.
			return db.Select("chunk_id", "page_id", "space_key", "heading_path", "chunk_index", "text", "token_count", "created_at").
				Order("chunk_index ASC")
		}).
		Preload("OutgoingLinks").
		Where("page_id = ?", pageID).
		First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load page %s: %w", pageID, err)
	}
	return &page, nil
}

func (s *pageStoreImpl) ListPages(ctx context.Context, filter models.PageListFilter) ([]models.Page, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Page{})
	if filter.SpaceKey != "" {
		query = query.Where("space_key = ?", filter.SpaceKey)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count pages: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var pages []models.Page
	err := query.
		Select("page_id", "space_key", "title", "url", "version", "updated_at", "synced_at").
		Order("synced_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&pages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, total, nil
}

func (s *pageStoreImpl) SpacesWithCounts(ctx context.Context) ([]models.SpaceCount, error) {
	var spaces []models.SpaceCount
	err := s.db.WithContext(ctx).
		Model(&models.Page{}).
		Select("space_key, COUNT(*) AS page_count").
		Group("space_key").
		Order("space_key").
		Scan(&spaces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	return spaces, nil
}

func (s *pageStoreImpl) Stats(ctx context.Context) (*models.CorpusStats, error) {
	db := s.db.WithContext(ctx)
	stats := &models.CorpusStats{}

	if err := db.Model(&models.Page{}).Count(&stats.TotalPages).Error; err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	if err := db.Model(&models.Chunk{}).Count(&stats.TotalChunks).Error; err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := db.Model(&models.Chunk{}).Where("embedding IS NOT NULL").Count(&stats.EmbeddedChunks).Error; err != nil {
		return nil, fmt.Errorf("failed to count embedded chunks: %w", err)
	}
	if err := db.Model(&models.PageLink{}).Count(&stats.TotalLinks).Error; err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}
	if err := db.Model(&models.Page{}).Distinct("space_key").Count(&stats.TotalSpaces).Error; err != nil {
		return nil, fmt.Errorf("failed to count spaces: %w", err)
	}
	return stats, nil
}

func (s *pageStoreImpl) SyncState(ctx context.Context) (*models.SyncState, error) {
	return models.GetOrCreateSyncState(s.db.WithContext(ctx))
}

func (s *pageStoreImpl) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if err := s.db.WithContext(ctx).Save(state).Error; err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
