package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confluence-qa/config"
)

// stubEmbeddingsAPI fakes the OpenAI embeddings endpoint. Each call pops
// the next scripted response.
type stubEmbeddingsAPI struct {
	calls     [][]string
	responses []stubResponse
}

type stubResponse struct {
	err  error
	dims int
}

func (s *stubEmbeddingsAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req := conv.Convert()
	texts := req.Input.([]string)
	s.calls = append(s.calls, texts)

	script := stubResponse{dims: 3}
	if len(s.responses) > 0 {
		script = s.responses[0]
		s.responses = s.responses[1:]
	}
	if script.err != nil {
		return openai.EmbeddingResponse{}, script.err
	}

	data := make([]openai.Embedding, len(texts))
	for i := range texts {
		vector := make([]float32, script.dims)
		vector[0] = float32(i + 1)
		data[i] = openai.Embedding{Index: i, Embedding: vector}
	}
	return openai.EmbeddingResponse{Data: data}, nil
}

func newStubEmbedder(api *stubEmbeddingsAPI) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		api:        api,
		model:      "text-embedding-3-small",
		dimensions: 3,
		maxRetries: 3,
		retryDelay: time.Millisecond,
	}
}

func TestNewOpenAIEmbedderConfiguresClient(t *testing.T) {
	e := NewOpenAIEmbedder(&config.OpenAIConfig{
		APIKey:         "sk-test",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        30,
		MaxRetries:     5,
	}, 1536)

	require.NotNil(t, e.api)
	assert.Equal(t, "text-embedding-3-small", e.model)
	assert.Equal(t, 1536, e.Dimension())
	assert.Equal(t, 5, e.maxRetries)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	api := &stubEmbeddingsAPI{}
	e := newStubEmbedder(api)

	vectors, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta", "gamma"})

	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestEmbedBatchBlankTextsGetZeroVectors(t *testing.T) {
	api := &stubEmbeddingsAPI{}
	e := newStubEmbedder(api)

	vectors, err := e.EmbedBatch(context.Background(), []string{"alpha", "", "   ", "beta"})

	require.NoError(t, err)
	require.Len(t, vectors, 4)

	// Blank positions are zero vectors of the right dimension.
	assert.Equal(t, []float32{0, 0, 0}, vectors[1])
	assert.Equal(t, []float32{0, 0, 0}, vectors[2])

	// Only the non-blank texts reached the API, and alignment held.
	require.Len(t, api.calls, 1)
	assert.Equal(t, []string{"alpha", "beta"}, api.calls[0])
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[3][0])
}

func TestEmbedBatchAllBlankSkipsAPI(t *testing.T) {
	api := &stubEmbeddingsAPI{}
	e := newStubEmbedder(api)

	vectors, err := e.EmbedBatch(context.Background(), []string{"", "  "})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Empty(t, api.calls)
}

func TestEmbedBatchSplitsLargeInput(t *testing.T) {
	api := &stubEmbeddingsAPI{}
	e := newStubEmbedder(api)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = "text"
	}

	vectors, err := e.EmbedBatch(context.Background(), texts)

	require.NoError(t, err)
	assert.Len(t, vectors, 150)
	require.Len(t, api.calls, 2)
	assert.Len(t, api.calls[0], 100)
	assert.Len(t, api.calls[1], 50)
}

func TestEmbedRetriesRateLimit(t *testing.T) {
	api := &stubEmbeddingsAPI{
		responses: []stubResponse{
			{err: &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}},
			{dims: 3},
		},
	}
	e := newStubEmbedder(api)

	vector, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Len(t, api.calls, 2)
}

func TestEmbedRetriesServerError(t *testing.T) {
	api := &stubEmbeddingsAPI{
		responses: []stubResponse{
			{err: &openai.APIError{HTTPStatusCode: 503, Message: "service unavailable"}},
			{err: &openai.APIError{HTTPStatusCode: 502, Message: "bad gateway"}},
			{dims: 3},
		},
	}
	e := newStubEmbedder(api)

	_, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, api.calls, 3)
}

func TestEmbedFailsFastOnAuthError(t *testing.T) {
	api := &stubEmbeddingsAPI{
		responses: []stubResponse{
			{err: &openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}},
		},
	}
	e := newStubEmbedder(api)

	_, err := e.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Len(t, api.calls, 1)
}

func TestEmbedExhaustsRetries(t *testing.T) {
	api := &stubEmbeddingsAPI{
		responses: []stubResponse{
			{err: &openai.APIError{HTTPStatusCode: 500, Message: "boom"}},
			{err: &openai.APIError{HTTPStatusCode: 500, Message: "boom"}},
			{err: &openai.APIError{HTTPStatusCode: 500, Message: "boom"}},
		},
	}
	e := newStubEmbedder(api)

	_, err := e.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, api.calls, 3)
}

func TestEmbedBlankReturnsZeroVector(t *testing.T) {
	api := &stubEmbeddingsAPI{}
	e := newStubEmbedder(api)

	vector, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, vector)
	assert.Empty(t, api.calls)
}
