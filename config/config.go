package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Confluence ConfluenceConfig `json:"confluence"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Sync       SyncConfig       `json:"sync"`
	Chunking   ChunkingConfig   `json:"chunking"`
	Search     SearchConfig     `json:"search"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	IdleTimeout    int      `json:"idle_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	URL          string `json:"url"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// ConfluenceConfig holds credentials and tuning for the upstream wiki API.
type ConfluenceConfig struct {
	BaseURL    string `json:"base_url"`
	Email      string `json:"email"`
	APIToken   string `json:"api_token"`
	Timeout    int    `json:"timeout"`
	MaxRetries int    `json:"max_retries"`
}

// OpenAIConfig holds the embedding API credentials and model selection.
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	EmbeddingModel string `json:"embedding_model"`
	Timeout        int    `json:"timeout"`
	MaxRetries     int    `json:"max_retries"`
}

type SyncConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
}

type ChunkingConfig struct {
	TargetTokens  int `json:"target_tokens"`
	MinTokens     int `json:"min_tokens"`
	MaxTokens     int `json:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
}

type SearchConfig struct {
	TopK     int     `json:"top_k"`
	MaxPages int     `json:"max_pages"`
	MinScore float64 `json:"min_score"`
}

// RedisConfig holds configuration for the query-embedding cache.
type RedisConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	EmbedCacheTTL    int    `json:"embed_cache_ttl"` // seconds
	EnableEmbedCache bool   `json:"enable_embed_cache"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

func LoadConfig() (*Config, error) {
	// Optional .env file; real environment variables win over file entries.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Confluence: ConfluenceConfig{
			BaseURL:    strings.TrimRight(getEnv("CONFLUENCE_BASE_URL", ""), "/"),
			Email:      getEnv("CONFLUENCE_EMAIL", ""),
			APIToken:   getEnv("CONFLUENCE_API_TOKEN", ""),
			Timeout:    getEnvAsInt("CONFLUENCE_TIMEOUT", 30),
			MaxRetries: getEnvAsInt("CONFLUENCE_MAX_RETRIES", 3),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:        getEnvAsInt("OPENAI_TIMEOUT", 60),
			MaxRetries:     getEnvAsInt("OPENAI_MAX_RETRIES", 3),
		},
		Sync: SyncConfig{
			IntervalMinutes: getEnvAsInt("SYNC_INTERVAL_MINUTES", 60),
		},
		Chunking: ChunkingConfig{
			TargetTokens:  getEnvAsInt("CHUNK_TARGET_TOKENS", 750),
			MinTokens:     getEnvAsInt("CHUNK_MIN_TOKENS", 100),
			MaxTokens:     getEnvAsInt("CHUNK_MAX_TOKENS", 1000),
			OverlapTokens: getEnvAsInt("CHUNK_OVERLAP_TOKENS", 100),
		},
		Search: SearchConfig{
			TopK:     getEnvAsInt("SEARCH_TOP_K", 30),
			MaxPages: getEnvAsInt("SEARCH_MAX_PAGES", 12),
			MinScore: getEnvAsFloat("SEARCH_MIN_SCORE", 0.3),
		},
		Redis: RedisConfig{
			Host:             getEnv("REDIS_HOST", ""),
			Port:             getEnvAsInt("REDIS_PORT", 6379),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getEnvAsInt("REDIS_DB", 0),
			EmbedCacheTTL:    getEnvAsInt("REDIS_EMBED_CACHE_TTL", 1800),
			EnableEmbedCache: getEnvAsBool("REDIS_ENABLE_EMBED_CACHE", true),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// EmbeddingDimensions derives the vector dimension from the model name:
// text-embedding-3-small and ada models are 1536, 3-large is 3072.
func (c *Config) EmbeddingDimensions() int {
	if strings.Contains(c.OpenAI.EmbeddingModel, "small") || strings.Contains(c.OpenAI.EmbeddingModel, "ada") {
		return 1536
	}
	return 3072
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.URL == "" {
		return fmt.Errorf("database URL is required (DATABASE_URL)")
	}

	if config.Confluence.BaseURL == "" {
		return fmt.Errorf("wiki base URL is required (CONFLUENCE_BASE_URL)")
	}

	if config.Confluence.Email == "" || config.Confluence.APIToken == "" {
		return fmt.Errorf("wiki credentials are required (CONFLUENCE_EMAIL, CONFLUENCE_API_TOKEN)")
	}

	if config.OpenAI.APIKey == "" {
		return fmt.Errorf("embedding API key is required (OPENAI_API_KEY)")
	}

	if config.Chunking.MinTokens <= 0 || config.Chunking.MaxTokens < config.Chunking.TargetTokens {
		return fmt.Errorf("invalid chunking limits (min=%d target=%d max=%d)",
			config.Chunking.MinTokens, config.Chunking.TargetTokens, config.Chunking.MaxTokens)
	}

	if config.Chunking.OverlapTokens >= config.Chunking.TargetTokens {
		return fmt.Errorf("chunk overlap must be smaller than the target size")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
