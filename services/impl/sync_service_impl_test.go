package impl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confluence-qa/config"
	"github.com/confluence-qa/confluence"
	"github.com/confluence-qa/ingest"
	"github.com/confluence-qa/models"
	"github.com/confluence-qa/services"
)

// wordTokenizer counts whitespace-separated words as tokens.
type wordTokenizer struct {
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: make(map[string]int)}
}

func (t *wordTokenizer) Encode(text string) []int {
	var tokens []int
	for _, word := range strings.Fields(text) {
		id, ok := t.ids[word]
		if !ok {
			id = len(t.words)
			t.ids[word] = id
			t.words = append(t.words, word)
		}
		tokens = append(tokens, id)
	}
	return tokens
}

func (t *wordTokenizer) Decode(tokens []int) string {
	words := make([]string, len(tokens))
	for i, id := range tokens {
		words[i] = t.words[id]
	}
	return strings.Join(words, " ")
}

// fakeWiki serves canned spaces and pages.
type fakeWiki struct {
	spaces       []confluence.Space
	pagesBySpace map[string][]confluence.Page
	updatedPages []confluence.Page
	spacesErr    error

	updatedSince *time.Time
}

func (f *fakeWiki) EachSpace(_ context.Context, fn func(confluence.Space) error) error {
	if f.spacesErr != nil {
		return f.spacesErr
	}
	for _, s := range f.spaces {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeWiki) EachPage(_ context.Context, spaceKey string, _ *time.Time, fn func(confluence.Page) error) error {
	for _, p := range f.pagesBySpace[spaceKey] {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeWiki) EachUpdatedPage(_ context.Context, since time.Time, fn func(confluence.Page) error) error {
	f.updatedSince = &since
	for _, p := range f.updatedPages {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeWiki) RequestCount() int64 { return 0 }

// fakePageStore keeps everything in maps.
type fakePageStore struct {
	pages  map[string]*models.Page
	chunks map[string][]models.Chunk
	links  map[string][]models.PageLink
	state  models.SyncState

	failPageIDs map[string]bool
}

func newFakePageStore() *fakePageStore {
	return &fakePageStore{
		pages:       make(map[string]*models.Page),
		chunks:      make(map[string][]models.Chunk),
		links:       make(map[string][]models.PageLink),
		state:       models.SyncState{ID: 1},
		failPageIDs: make(map[string]bool),
	}
}

func (f *fakePageStore) GetPageVersion(_ context.Context, pageID string) (int, bool, error) {
	page, ok := f.pages[pageID]
	if !ok {
		return 0, false, nil
	}
	return page.Version, true, nil
}

func (f *fakePageStore) SavePage(_ context.Context, page *models.Page, chunks []models.Chunk, links []models.PageLink) (models.UpsertResult, error) {
	if f.failPageIDs[page.PageID] {
		return models.UpsertSkipped, errors.New("storage failure")
	}

	result := models.UpsertCreated
	if existing, ok := f.pages[page.PageID]; ok {
		if existing.Version >= page.Version {
			return models.UpsertSkipped, nil
		}
		result = models.UpsertUpdated
	}

	f.pages[page.PageID] = page
	f.chunks[page.PageID] = chunks
	f.links[page.PageID] = links
	return result, nil
}

func (f *fakePageStore) VectorSearch(context.Context, []float32, int) ([]models.ChunkHit, error) {
	return nil, nil
}

func (f *fakePageStore) FetchPages(_ context.Context, pageIDs []string) ([]models.Page, error) {
	var pages []models.Page
	for _, id := range pageIDs {
		if page, ok := f.pages[id]; ok {
			pages = append(pages, *page)
		}
	}
	return pages, nil
}

func (f *fakePageStore) LinkedPages(context.Context, []string, int) ([]models.LinkedPage, error) {
	return nil, nil
}

func (f *fakePageStore) GetPageDetail(_ context.Context, pageID string) (*models.Page, error) {
	page, ok := f.pages[pageID]
	if !ok {
		return nil, services.ErrPageNotFound
	}
	return page, nil
}

func (f *fakePageStore) ListPages(context.Context, models.PageListFilter) ([]models.Page, int64, error) {
	return nil, 0, nil
}

func (f *fakePageStore) SpacesWithCounts(context.Context) ([]models.SpaceCount, error) {
	return nil, nil
}

func (f *fakePageStore) Stats(context.Context) (*models.CorpusStats, error) {
	return &models.CorpusStats{}, nil
}

func (f *fakePageStore) SyncState(context.Context) (*models.SyncState, error) {
	state := f.state
	return &state, nil
}

func (f *fakePageStore) SaveSyncState(_ context.Context, state *models.SyncState) error {
	f.state = *state
	return nil
}

// fakeEmbedder returns deterministic 3-dim vectors.
type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func newTestSyncService(wiki *fakeWiki, store *fakePageStore, embedder *fakeEmbedder) *syncServiceImpl {
	return &syncServiceImpl{
		client:     wiki,
		store:      store,
		normalizer: ingest.NewNormalizer("https://example.atlassian.net/wiki"),
		chunker: ingest.NewChunker(&config.ChunkingConfig{
			TargetTokens:  50,
			MinTokens:     2,
			MaxTokens:     80,
			OverlapTokens: 5,
		}, newWordTokenizer()),
		embedder: embedder,
		interval: time.Minute,
	}
}

func wikiPage(id, spaceKey, title, body string, version int) confluence.Page {
	updated := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return confluence.Page{
		PageID:    id,
		SpaceKey:  spaceKey,
		Title:     title,
		URL:       "https://example.atlassian.net/wiki/spaces/" + spaceKey + "/pages/" + id,
		BodyHTML:  body,
		Version:   version,
		UpdatedAt: &updated,
	}
}

func TestFullSyncIngestsAllSpaces(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}, {Key: "OPS"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide", "<h1>Guide</h1><p>engineering content here</p>", 1)},
			"OPS": {wikiPage("2", "OPS", "Runbook", "<p>operations content here</p>", 1)},
		},
	}
	store := newFakePageStore()
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.SpacesSynced)
	assert.Equal(t, 2, stats.PagesSynced)
	assert.Empty(t, stats.Errors)

	require.Contains(t, store.pages, "1")
	assert.Contains(t, store.pages["1"].BodyText, "# Guide")
	assert.NotEmpty(t, store.chunks["1"])

	assert.True(t, store.state.LastRunSuccess)
	assert.NotNil(t, store.state.LastRunAt)
}

func TestProcessPageSkipsUnchangedVersion(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide", "<p>same old content</p>", 3)},
		},
	}
	store := newFakePageStore()
	store.pages["1"] = &models.Page{PageID: "1", Version: 3}
	embedder := &fakeEmbedder{}
	svc := newTestSyncService(wiki, store, embedder)

	stats, err := svc.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, stats.PagesSynced)
	assert.Equal(t, 1, stats.PagesSkipped)
	// Unchanged pages never pay the embedding cost.
	assert.Empty(t, embedder.batches)
}

func TestProcessPageUpdatesNewerVersion(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide v2", "<p>fresh content here</p>", 2)},
		},
	}
	store := newFakePageStore()
	store.pages["1"] = &models.Page{PageID: "1", Version: 1, Title: "Guide v1"}
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesSynced)
	assert.Equal(t, "Guide v2", store.pages["1"].Title)
	assert.Equal(t, 2, store.pages["1"].Version)
}

func TestPerPageErrorDoesNotAbortRun(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {
				wikiPage("1", "ENG", "Broken", "<p>will fail to store</p>", 1),
				wikiPage("2", "ENG", "Fine", "<p>will store fine</p>", 1),
			},
		},
	}
	store := newFakePageStore()
	store.failPageIDs["1"] = true
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesSynced)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "page 1")
	assert.Contains(t, store.pages, "2")

	// A run with page-level errors still completes and advances the
	// watermark.
	assert.True(t, store.state.LastRunSuccess)
	assert.NotNil(t, store.state.LastRunAt)
}

func TestFullSyncFailureKeepsWatermark(t *testing.T) {
	wiki := &fakeWiki{spacesErr: errors.New("upstream down")}
	store := newFakePageStore()
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	_, err := svc.RunFull(context.Background())

	require.Error(t, err)
	assert.False(t, store.state.LastRunSuccess)
	require.NotNil(t, store.state.LastError)
	assert.Contains(t, *store.state.LastError, "upstream down")
	assert.Nil(t, store.state.LastRunAt)
}

func TestWatermarkIsRunStartTime(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide", "<p>content</p>", 1)},
		},
	}
	store := newFakePageStore()
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	before := time.Now().UTC()
	_, err := svc.RunFull(context.Background())
	after := time.Now().UTC()

	require.NoError(t, err)
	require.NotNil(t, store.state.LastRunAt)
	assert.False(t, store.state.LastRunAt.Before(before))
	assert.False(t, store.state.LastRunAt.After(after))
}

func TestIncrementalFallsBackToFullWithoutWatermark(t *testing.T) {
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide", "<p>content</p>", 1)},
		},
	}
	store := newFakePageStore()
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunIncremental(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.SpacesSynced)
	assert.Nil(t, wiki.updatedSince)
}

func TestIncrementalUsesWatermark(t *testing.T) {
	watermark := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	wiki := &fakeWiki{
		updatedPages: []confluence.Page{
			wikiPage("5", "ENG", "Changed", "<p>recently changed content</p>", 4),
		},
	}
	store := newFakePageStore()
	store.state.LastRunAt = &watermark
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunIncremental(context.Background())

	require.NoError(t, err)
	require.NotNil(t, wiki.updatedSince)
	assert.Equal(t, watermark, *wiki.updatedSince)
	assert.Equal(t, 1, stats.PagesSynced)
}

func TestRunFullRejectsConcurrentRun(t *testing.T) {
	svc := newTestSyncService(&fakeWiki{}, newFakePageStore(), &fakeEmbedder{})
	svc.running.Store(true)

	_, err := svc.RunFull(context.Background())
	assert.ErrorIs(t, err, services.ErrSyncRunning)

	_, err = svc.RunIncremental(context.Background())
	assert.ErrorIs(t, err, services.ErrSyncRunning)

	assert.False(t, svc.Trigger(true))
}

func TestProcessPageStoresChunksAndLinks(t *testing.T) {
	body := `<h1>Guide</h1><p>See <a href="/wiki/spaces/OPS/pages/99/Runbook">the runbook</a> for details.</p>`
	wiki := &fakeWiki{
		spaces: []confluence.Space{{Key: "ENG"}},
		pagesBySpace: map[string][]confluence.Page{
			"ENG": {wikiPage("1", "ENG", "Guide", body, 1)},
		},
	}
	store := newFakePageStore()
	svc := newTestSyncService(wiki, store, &fakeEmbedder{})

	stats, err := svc.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.LinksCreated)

	links := store.links["1"]
	require.Len(t, links, 1)
	assert.Equal(t, "1", links[0].FromPageID)
	require.NotNil(t, links[0].ToPageID)
	assert.Equal(t, "99", *links[0].ToPageID)
	assert.Equal(t, models.LinkTypeInternal, links[0].LinkType)

	chunks := store.chunks["1"]
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, "1", chunk.PageID)
		assert.NotEqual(t, uuid.Nil, chunk.ChunkID)
		assert.Len(t, chunk.Embedding.Slice(), 3)
	}
	require.NotNil(t, chunks[0].HeadingPath)
	assert.Equal(t, "Guide", *chunks[0].HeadingPath)
}

func TestStatusReflectsState(t *testing.T) {
	store := newFakePageStore()
	watermark := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store.state.LastRunAt = &watermark
	store.state.LastRunSuccess = true
	store.state.PagesSynced = 7

	svc := newTestSyncService(&fakeWiki{}, store, &fakeEmbedder{})
	status, err := svc.Status(context.Background())

	require.NoError(t, err)
	require.NotNil(t, status.LastRunAt)
	assert.Equal(t, "2026-08-20T12:00:00Z", *status.LastRunAt)
	assert.True(t, status.LastRunSuccess)
	assert.Equal(t, 7, status.PagesSynced)
	assert.False(t, status.Running)
}
