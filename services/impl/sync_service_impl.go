package impl

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/confluence-qa/confluence"
	"github.com/confluence-qa/ingest"
	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

const maxLinkTextLen = 500

// wikiClient is the slice of the Confluence client the orchestrator uses.
type wikiClient interface {
	EachSpace(ctx context.Context, fn func(confluence.Space) error) error
	EachPage(ctx context.Context, spaceKey string, updatedSince *time.Time, fn func(confluence.Page) error) error
	EachUpdatedPage(ctx context.Context, since time.Time, fn func(confluence.Page) error) error
	RequestCount() int64
}

// syncServiceImpl pulls pages from the wiki, runs them through the ingest
// pipeline, and persists the result. At most one run is in flight at a
// time.
type syncServiceImpl struct {
	client     wikiClient
	store      services.PageStore
	normalizer *ingest.Normalizer
	chunker    *ingest.Chunker
	embedder   ingest.Embedder
	usage      services.UsageService
	interval   time.Duration

	running atomic.Bool
}

func NewSyncService(
	client *confluence.Client,
	store services.PageStore,
	normalizer *ingest.Normalizer,
	chunker *ingest.Chunker,
	embedder ingest.Embedder,
	usage services.UsageService,
	intervalMinutes int,
) services.SyncService {
	return &syncServiceImpl{
		client:     client,
		store:      store,
		normalizer: normalizer,
		chunker:    chunker,
		embedder:   embedder,
		usage:      usage,
		interval:   time.Duration(intervalMinutes) * time.Minute,
	}
}

func (s *syncServiceImpl) RunFull(ctx context.Context) (*models.SyncStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, services.ErrSyncRunning
	}
	defer s.running.Store(false)

	before := s.client.RequestCount()
	defer func() { s.recordWikiRequests(ctx, s.client.RequestCount()-before) }()

	return s.runFull(ctx)
}

func (s *syncServiceImpl) RunIncremental(ctx context.Context) (*models.SyncStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, services.ErrSyncRunning
	}
	defer s.running.Store(false)

	before := s.client.RequestCount()
	defer func() { s.recordWikiRequests(ctx, s.client.RequestCount()-before) }()

	state, err := s.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}
	if state.LastRunAt == nil {
		log.Printf("sync: no previous run, falling back to full sync")
		return s.runFull(ctx)
	}
	return s.runIncremental(ctx, *state.LastRunAt)
}

func (s *syncServiceImpl) Trigger(full bool) bool {
	if s.running.Load() {
		return false
	}

	go func() {
		var err error
		if full {
			_, err = s.RunFull(context.Background())
		} else {
			_, err = s.RunIncremental(context.Background())
		}
		if err != nil && err != services.ErrSyncRunning {
			log.Printf("sync: background run failed: %v", err)
		}
	}()
	return true
}

func (s *syncServiceImpl) recordWikiRequests(ctx context.Context, n int64) {
	if s.usage == nil || n <= 0 {
		return
	}
	if err := s.usage.RecordRequests(ctx, n, 0); err != nil {
		log.Printf("sync: failed to record wiki request count: %v", err)
	}
}

func (s *syncServiceImpl) Status(ctx context.Context) (*models.SyncStatus, error) {
	state, err := s.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}

	status := &models.SyncStatus{
		LastRunSuccess: state.LastRunSuccess,
		LastError:      state.LastError,
		PagesSynced:    state.PagesSynced,
		ChunksCreated:  state.ChunksCreated,
		SpacesSynced:   state.SpacesSynced,
		Running:        s.running.Load(),
	}
	if state.LastRunAt != nil {
		formatted := state.LastRunAt.UTC().Format(time.RFC3339)
		status.LastRunAt = &formatted
	}
	return status, nil
}

// StartScheduler runs incremental syncs every interval until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (s *syncServiceImpl) StartScheduler(ctx context.Context) {
	if s.interval <= 0 {
		log.Printf("sync: scheduler disabled")
		return
	}

	log.Printf("sync: scheduler started (interval %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("sync: scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunIncremental(ctx); err != nil && err != services.ErrSyncRunning {
				log.Printf("sync: scheduled run failed: %v", err)
			}
		}
	}
}

func (s *syncServiceImpl) runFull(ctx context.Context) (*models.SyncStats, error) {
	log.Printf("sync: full sync starting")
	startedAt := time.Now().UTC()
	stats := &models.SyncStats{Errors: []string{}}

	err := s.client.EachSpace(ctx, func(space confluence.Space) error {
		if err := s.syncSpace(ctx, space.Key, stats); err != nil {
			msg := fmt.Sprintf("space %s: %v", space.Key, err)
			log.Printf("sync: %s", msg)
			stats.Errors = append(stats.Errors, msg)
			return nil
		}
		stats.SpacesSynced++
		return nil
	})
	if err != nil {
		s.commitState(ctx, startedAt, stats, false, err.Error())
		return stats, fmt.Errorf("full sync failed: %w", err)
	}

	s.commitState(ctx, startedAt, stats, true, "")
	log.Printf("sync: full sync done in %s (%d pages, %d chunks, %d errors)",
		time.Since(startedAt).Round(time.Second), stats.PagesSynced, stats.ChunksCreated, len(stats.Errors))
	return stats, nil
}

func (s *syncServiceImpl) runIncremental(ctx context.Context, since time.Time) (*models.SyncStats, error) {
	log.Printf("sync: incremental sync starting (since %s)", since.Format(time.RFC3339))
	startedAt := time.Now().UTC()
	stats := &models.SyncStats{Errors: []string{}}

	err := s.client.EachUpdatedPage(ctx, since, func(page confluence.Page) error {
		if err := s.processPage(ctx, page, stats); err != nil {
			msg := fmt.Sprintf("page %s: %v", page.PageID, err)
			log.Printf("sync: %s", msg)
			stats.Errors = append(stats.Errors, msg)
		}
		return nil
	})
	if err != nil {
		s.commitState(ctx, startedAt, stats, false, err.Error())
		return stats, fmt.Errorf("incremental sync failed: %w", err)
	}

	s.commitState(ctx, startedAt, stats, true, "")
	log.Printf("sync: incremental sync done in %s (%d pages, %d skipped, %d errors)",
		time.Since(startedAt).Round(time.Second), stats.PagesSynced, stats.PagesSkipped, len(stats.Errors))
	return stats, nil
}

func (s *syncServiceImpl) syncSpace(ctx context.Context, spaceKey string, stats *models.SyncStats) error {
	log.Printf("sync: space %s", spaceKey)

	return s.client.EachPage(ctx, spaceKey, nil, func(page confluence.Page) error {
		if err := s.processPage(ctx, page, stats); err != nil {
			msg := fmt.Sprintf("page %s: %v", page.PageID, err)
			log.Printf("sync: %s", msg)
			stats.Errors = append(stats.Errors, msg)
		}
		return nil
	})
}

// processPage runs one page through the pipeline: normalize, extract
// links, chunk, embed, and store atomically. Pages whose version did not
// advance are skipped before any embedding cost is paid.
func (s *syncServiceImpl) processPage(ctx context.Context, page confluence.Page, stats *models.SyncStats) error {
	storedVersion, found, err := s.store.GetPageVersion(ctx, page.PageID)
	if err != nil {
		return err
	}
	if found && storedVersion >= page.Version {
		stats.PagesSkipped++
		return nil
	}

	bodyText := s.normalizer.ToText(page.BodyHTML)

	links := s.buildLinks(page)
	chunks, err := s.buildChunks(ctx, page, bodyText)
	if err != nil {
		return err
	}

	record := &models.Page{
		PageID:    page.PageID,
		SpaceKey:  page.SpaceKey,
		Title:     page.Title,
		URL:       page.URL,
		BodyText:  bodyText,
		Version:   page.Version,
		UpdatedAt: page.UpdatedAt,
	}

	result, err := s.store.SavePage(ctx, record, chunks, links)
	if err != nil {
		return err
	}

	switch result {
	case models.UpsertSkipped:
		stats.PagesSkipped++
	default:
		stats.PagesSynced++
		stats.ChunksCreated += len(chunks)
		stats.LinksCreated += len(links)
	}
	return nil
}

func (s *syncServiceImpl) buildLinks(page confluence.Page) []models.PageLink {
	parsed := s.normalizer.ExtractLinks(page.BodyHTML, page.PageID)

	links := make([]models.PageLink, 0, len(parsed))
	for _, link := range parsed {
		text := link.Text
		if len(text) > maxLinkTextLen {
			text = text[:maxLinkTextLen]
			for len(text) > 0 && !utf8.ValidString(text) {
				text = text[:len(text)-1]
			}
		}

		var toPageID *string
		if link.PageID != "" {
			id := link.PageID
			toPageID = &id
		}

		links = append(links, models.PageLink{
			FromPageID: page.PageID,
			ToPageID:   toPageID,
			ToURL:      link.URL,
			LinkText:   text,
			LinkType:   link.LinkType,
		})
	}
	return links
}

func (s *syncServiceImpl) buildChunks(ctx context.Context, page confluence.Page, bodyText string) ([]models.Chunk, error) {
	textChunks := s.chunker.Chunk(bodyText)
	if len(textChunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(textChunks))
	for i, chunk := range textChunks {
		texts[i] = chunk.Text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	chunks := make([]models.Chunk, len(textChunks))
	for i, chunk := range textChunks {
		var headingPath *string
		if chunk.HeadingPath != "" {
			path := chunk.HeadingPath
			headingPath = &path
		}

		chunks[i] = models.Chunk{
			ChunkID:     uuid.New(),
			PageID:      page.PageID,
			SpaceKey:    page.SpaceKey,
			HeadingPath: headingPath,
			ChunkIndex:  chunk.ChunkIndex,
			Text:        chunk.Text,
			TokenCount:  chunk.TokenCount,
			Embedding:   pgvector.NewVector(embeddings[i]),
		}
	}
	return chunks, nil
}

// commitState persists the run outcome. The watermark only advances on
// success, and it records the run start, so pages modified while the run
// was in flight are picked up again next time.
func (s *syncServiceImpl) commitState(ctx context.Context, startedAt time.Time, stats *models.SyncStats, success bool, errMsg string) {
	state, err := s.store.SyncState(ctx)
	if err != nil {
		log.Printf("sync: failed to load sync state: %v", err)
		return
	}

	state.LastRunSuccess = success
	if success {
		state.LastRunAt = &startedAt
		state.LastError = nil
	} else {
		msg := errMsg
		state.LastError = &msg
	}
	state.PagesSynced = stats.PagesSynced
	state.ChunksCreated = stats.ChunksCreated
	state.SpacesSynced = stats.SpacesSynced

	if err := s.store.SaveSyncState(ctx, state); err != nil {
		log.Printf("sync: failed to save sync state: %v", err)
	}
}
