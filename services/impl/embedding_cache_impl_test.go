package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confluence-qa/config"
)

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *embeddingCacheImpl) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewEmbeddingCacheWithRedis(client, "text-embedding-3-small", time.Minute).(*embeddingCacheImpl)
	return mr, cache
}

func TestEmbeddingCacheRedisRoundTrip(t *testing.T) {
	_, cache := newRedisCache(t)
	ctx := context.Background()

	embedding := []float32{0.1, 0.2, 0.3}
	require.NoError(t, cache.SetEmbedding(ctx, "how do I deploy", embedding))

	got, ok := cache.GetEmbedding(ctx, "how do I deploy")
	require.True(t, ok)
	assert.Equal(t, embedding, got)
}

func TestEmbeddingCacheMiss(t *testing.T) {
	_, cache := newRedisCache(t)

	_, ok := cache.GetEmbedding(context.Background(), "never seen")
	assert.False(t, ok)
}

func TestEmbeddingCacheExpiry(t *testing.T) {
	mr, cache := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetEmbedding(ctx, "query", []float32{1}))
	mr.FastForward(2 * time.Minute)

	_, ok := cache.GetEmbedding(ctx, "query")
	assert.False(t, ok)
}

func TestEmbeddingCacheDistinctQueries(t *testing.T) {
	_, cache := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetEmbedding(ctx, "query a", []float32{1}))
	require.NoError(t, cache.SetEmbedding(ctx, "query b", []float32{2}))

	a, ok := cache.GetEmbedding(ctx, "query a")
	require.True(t, ok)
	b, ok := cache.GetEmbedding(ctx, "query b")
	require.True(t, ok)
	assert.NotEqual(t, a, b)
}

func TestEmbeddingCacheMemoryFallback(t *testing.T) {
	cache := NewEmbeddingCache(&config.RedisConfig{
		EnableEmbedCache: true,
		EmbedCacheTTL:    60,
		// No host: in-memory mode.
	}, "text-embedding-3-small")
	ctx := context.Background()

	require.NoError(t, cache.SetEmbedding(ctx, "query", []float32{0.5}))

	got, ok := cache.GetEmbedding(ctx, "query")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5}, got)
}

func TestEmbeddingCacheMemoryExpiry(t *testing.T) {
	cache := &embeddingCacheImpl{
		memCache: make(map[string]embedCacheEntry),
		ttl:      -time.Second,
		enabled:  true,
	}
	ctx := context.Background()

	require.NoError(t, cache.SetEmbedding(ctx, "query", []float32{1}))

	_, ok := cache.GetEmbedding(ctx, "query")
	assert.False(t, ok)
}

func TestEmbeddingCacheDisabled(t *testing.T) {
	cache := NewEmbeddingCache(&config.RedisConfig{EnableEmbedCache: false}, "text-embedding-3-small")
	ctx := context.Background()

	require.NoError(t, cache.SetEmbedding(ctx, "query", []float32{1}))

	_, ok := cache.GetEmbedding(ctx, "query")
	assert.False(t, ok)
}
