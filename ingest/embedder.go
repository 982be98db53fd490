package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/confluence-qa/config"
)

// Batches above this size start tripping the API's input limits.
const maxBatchSize = 100

// Embedder converts text into dense vectors. Blank inputs map to zero
// vectors so chunk positions stay aligned.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// embeddingsAPI is the slice of the OpenAI client the embedder needs.
type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder embeds text through the OpenAI embeddings endpoint with
// batching and retry on transient failures.
type OpenAIEmbedder struct {
	api        embeddingsAPI
	model      string
	dimensions int
	maxRetries int
	retryDelay time.Duration
}

func NewOpenAIEmbedder(cfg *config.OpenAIConfig, dimensions int) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}

	return &OpenAIEmbedder{
		api:        openai.NewClientWithConfig(clientConfig),
		model:      cfg.EmbeddingModel,
		dimensions: dimensions,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
	}
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimensions
}

// Embed embeds a single text. Blank text returns a zero vector without
// calling the API.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return e.zeroVector(), nil
	}

	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts preserving order: vectors[i] always belongs to
// texts[i]. Blank texts get zero vectors and never reach the API.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	validTexts := make([]string, 0, len(texts))
	validIndices := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			validTexts = append(validTexts, text)
			validIndices = append(validIndices, i)
		}
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = e.zeroVector()
	}
	if len(validTexts) == 0 {
		return vectors, nil
	}

	for start := 0; start < len(validTexts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(validTexts) {
			end = len(validTexts)
		}

		batch, err := e.embedWithRetry(ctx, validTexts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vector := range batch {
			vectors[validIndices[start+i]] = vector
		}
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err == nil {
			vectors := make([][]float32, len(texts))
			for _, item := range resp.Data {
				if item.Index < 0 || item.Index >= len(texts) {
					return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
				}
				vectors[item.Index] = item.Embedding
			}
			for i, vector := range vectors {
				if vector == nil {
					return nil, fmt.Errorf("embedding response missing vector for input %d", i)
				}
			}
			return vectors, nil
		}

		if !isRetryableEmbedError(err) {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}

		lastErr = err
		delay := e.retryDelay * time.Duration(1<<uint(attempt))
		log.Printf("ingest: embedding attempt %d/%d failed, retrying in %s: %v",
			attempt+1, e.maxRetries, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *OpenAIEmbedder) zeroVector() []float32 {
	return make([]float32, e.dimensions)
}

// isRetryableEmbedError treats rate limits and upstream 5xx as
// transient. Anything else (auth, bad request) fails fast.
func isRetryableEmbedError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "rate_limit", "timeout", "service unavailable", "bad gateway"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
