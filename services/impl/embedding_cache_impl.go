package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/confluence-qa/config"
	"github.com/confluence-qa/services"
)

const embedCacheKeyPrefix = "embed"

// embeddingCacheImpl caches query embeddings in Redis, falling back to an
// in-memory map when Redis is unreachable. Keys are hashes of the query
// text so arbitrary input never leaks into key space.
type embeddingCacheImpl struct {
	memCache map[string]embedCacheEntry
	mu       sync.RWMutex

	redis    *redis.Client
	model    string
	ttl      time.Duration
	enabled  bool
	useRedis bool
}

type embedCacheEntry struct {
	embedding []float32
	expiresAt time.Time
}

// NewEmbeddingCache builds the query-embedding cache. A missing Redis
// host or a failed ping silently degrades to the in-memory cache.
func NewEmbeddingCache(cfg *config.RedisConfig, model string) services.EmbeddingCacheService {
	if cfg == nil || !cfg.EnableEmbedCache {
		return &embeddingCacheImpl{enabled: false}
	}

	svc := &embeddingCacheImpl{
		memCache: make(map[string]embedCacheEntry),
		model:    model,
		ttl:      time.Duration(cfg.EmbedCacheTTL) * time.Second,
		enabled:  true,
	}

	if cfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err == nil {
			svc.redis = client
			svc.useRedis = true
		} else {
			log.Printf("cache: redis unavailable, using in-memory cache: %v", err)
		}
	}

	return svc
}

// NewEmbeddingCacheWithRedis wires the cache to an existing Redis client.
func NewEmbeddingCacheWithRedis(client *redis.Client, model string, ttl time.Duration) services.EmbeddingCacheService {
	return &embeddingCacheImpl{
		memCache: make(map[string]embedCacheEntry),
		redis:    client,
		model:    model,
		ttl:      ttl,
		enabled:  true,
		useRedis: client != nil,
	}
}

func (s *embeddingCacheImpl) GetEmbedding(ctx context.Context, query string) ([]float32, bool) {
	if !s.enabled {
		return nil, false
	}

	key := s.cacheKey(query)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err == nil {
			var embedding []float32
			if err := json.Unmarshal(data, &embedding); err == nil {
				return embedding, true
			}
		}
		return nil, false
	}

	s.mu.RLock()
	entry, ok := s.memCache[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.embedding, true
}

func (s *embeddingCacheImpl) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	if !s.enabled {
		return nil
	}

	key := s.cacheKey(query)

	if s.useRedis && s.redis != nil {
		data, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	s.memCache[key] = embedCacheEntry{
		embedding: embedding,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return nil
}

func (s *embeddingCacheImpl) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Keys carry the model name so a model switch never serves vectors of the
// wrong dimension.
func (s *embeddingCacheImpl) cacheKey(query string) string {
	hash := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s:%s:%s", embedCacheKeyPrefix, s.model, hex.EncodeToString(hash[:]))
}
