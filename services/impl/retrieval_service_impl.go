package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"unicode/utf8"

	"github.com/confluence-qa/config"
	"github.com/confluence-qa/ingest"
	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

const (
	maxSnippetsPerPage = 3
	snippetLen         = 300

	// bodyClipLen bounds a single page body in fetch responses.
	bodyClipLen   = 3000
	truncationTag = "\n\n[content truncated]"

	maxFetchPages      = 10
	defaultExpandLimit = 20
)

// retrievalServiceImpl answers search, fetch, and link-expansion queries
// against the ingested corpus.
type retrievalServiceImpl struct {
	store    services.PageStore
	embedder ingest.Embedder
	cache    services.EmbeddingCacheService

	topK     int
	maxPages int
	minScore float64
}

func NewRetrievalService(
	store services.PageStore,
	embedder ingest.Embedder,
	cache services.EmbeddingCacheService,
	cfg *config.SearchConfig,
) services.RetrievalService {
	return &retrievalServiceImpl{
		store:    store,
		embedder: embedder,
		cache:    cache,
		topK:     cfg.TopK,
		maxPages: cfg.MaxPages,
		minScore: cfg.MinScore,
	}
}

func (s *retrievalServiceImpl) Search(ctx context.Context, req models.SearchRequest) ([]models.PageHit, error) {
	topK := req.TopK
	if topK <= 0 || topK > 100 {
		topK = s.topK
	}
	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > 50 {
		maxPages = s.maxPages
	}

	embedding, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.VectorSearch(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, hit := range hits {
		if hit.Score >= s.minScore {
			kept = append(kept, hit)
		}
	}

	return groupByPage(kept, maxPages), nil
}

// embedQuery returns the query embedding, from cache when possible.
func (s *retrievalServiceImpl) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.cache != nil {
		if embedding, ok := s.cache.GetEmbedding(ctx, query); ok {
			return embedding, nil
		}
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, query, embedding); err != nil {
			log.Printf("retrieval: embedding cache write failed: %v", err)
		}
	}
	return embedding, nil
}

// groupByPage collapses chunk hits onto their pages. Each page keeps its
// best chunk score and up to three snippet previews, in chunk-score order.
func groupByPage(hits []models.ChunkHit, maxPages int) []models.PageHit {
	byPage := make(map[string]*models.PageHit)
	var order []string

	for _, hit := range hits {
		page, ok := byPage[hit.PageID]
		if !ok {
			byPage[hit.PageID] = &models.PageHit{
				PageID:     hit.PageID,
				SpaceKey:   hit.SpaceKey,
				Title:      hit.Title,
				URL:        hit.URL,
				Score:      hit.Score,
				Snippets:   []string{clip(hit.Text, snippetLen)},
				ChunkCount: 1,
			}
			order = append(order, hit.PageID)
			continue
		}

		if len(page.Snippets) < maxSnippetsPerPage {
			page.Snippets = append(page.Snippets, clip(hit.Text, snippetLen))
		}
		page.ChunkCount++
		if hit.Score > page.Score {
			page.Score = hit.Score
		}
	}

	pages := make([]models.PageHit, 0, len(byPage))
	for _, pageID := range order {
		pages = append(pages, *byPage[pageID])
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Score > pages[j].Score
	})

	if len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return pages
}

func (s *retrievalServiceImpl) FetchPages(ctx context.Context, pageIDs []string) ([]models.PageContent, error) {
	if len(pageIDs) > maxFetchPages {
		pageIDs = pageIDs[:maxFetchPages]
	}

	pages, err := s.store.FetchPages(ctx, pageIDs)
	if err != nil {
		return nil, err
	}

	contents := make([]models.PageContent, len(pages))
	for i, page := range pages {
		body := page.BodyText
		truncated := false
		if len(body) > bodyClipLen {
			body = clip(body, bodyClipLen) + truncationTag
			truncated = true
		}

		contents[i] = models.PageContent{
			PageID:    page.PageID,
			SpaceKey:  page.SpaceKey,
			Title:     page.Title,
			URL:       page.URL,
			BodyText:  body,
			Truncated: truncated,
		}
	}
	return contents, nil
}

func (s *retrievalServiceImpl) Expand(ctx context.Context, pageIDs []string, limit int) ([]models.LinkedPage, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = defaultExpandLimit
	}
	return s.store.LinkedPages(ctx, pageIDs, limit)
}

// clip cuts text at max bytes without splitting a rune.
func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
