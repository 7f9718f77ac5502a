package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chatforge/ragpipe/internal/pkg/logutil"
	"github.com/chatforge/ragpipe/internal/repo"
)

type Config struct {
	Port        int                 `json:"port"`
	JWTSecret   string              `json:"jwt_secret"`
	JWTTTLHours int                 `json:"jwt_ttl_hours"`
	LogConfig   logutil.Config      `json:"log_config"`
	Database    repo.DatabaseConfig `json:"database"`
	AI          AIConfig            `json:"ai"`
	Pipeline    PipelineConfig      `json:"pipeline"`
	Retrieval   RetrievalConfig     `json:"retrieval"`
	Cache       CacheConfig         `json:"cache"`
	RateLimit   RateLimitConfig     `json:"rate_limit"`
	FileStore   FileStoreConfig     `json:"file_store"`
	Jobs        JobsConfig          `json:"jobs"`
}

// ProviderConfig configures one generation or embedding backend. Args is
// passed to the provider factory untouched.
type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Args     interface{} `json:"args"`
}

type AIConfig struct {
	// Providers are tried in order; the first healthy one serves.
	Generators []ProviderConfig `json:"generators"`
	Embedders  []ProviderConfig `json:"embedders"`
	// Dims is the embedding dimensionality the vector collections are created
	// with. Changing it requires reprocessing every document.
	Dims int `json:"dims"`
	// EmbedCacheSize > 0 wraps the embedder with an in-process LRU.
	EmbedCacheSize   int     `json:"embed_cache_size"`
	EmbedBatchSize   int     `json:"embed_batch_size"`
	EmbedParallelism int     `json:"embed_parallelism"`
	EmbedRatePerSec  float64 `json:"embed_rate_per_sec"`
}

type PipelineConfig struct {
	MaxConcurrent   int   `json:"max_concurrent"`
	MaxBodySize     int64 `json:"max_body_size"`
	ChunkMaxTokens  int   `json:"chunk_max_tokens"`
	ChunkOverlap    int   `json:"chunk_overlap"`
	StuckCutoffMins int   `json:"stuck_cutoff_mins"`
	PromptBudget    int   `json:"prompt_budget"`
	ConvoWindow     int   `json:"convo_window"`
	ConvoCacheSize  int   `json:"convo_cache_size"`
}

type RetrievalConfig struct {
	TopK      int     `json:"top_k"`
	Threshold float32 `json:"threshold"`
	// AnswerTimeoutSecs bounds one whole answer cycle, cache hits excluded.
	AnswerTimeoutSecs int `json:"answer_timeout_secs"`
}

type CacheConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
	L1Size     int `json:"l1_size"`
}

type RateLimitRule struct {
	Limit          int `json:"limit"`
	WindowSeconds  int `json:"window_seconds"`
	Burst          int `json:"burst"`
	BurstWindowSec int `json:"burst_window_seconds"`
}

type RateLimitConfig struct {
	Default RateLimitRule            `json:"default"`
	Rules   map[string]RateLimitRule `json:"rules"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Args interface{} `json:"args"`
}

type JobsConfig struct {
	CacheCleanupSpec   string `json:"cache_cleanup_spec"`
	IngestRecoverySpec string `json:"ingest_recovery_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if len(c.AI.Generators) == 0 {
		return fmt.Errorf("ai.generators is required")
	}
	if len(c.AI.Embedders) == 0 {
		return fmt.Errorf("ai.embedders is required")
	}
	if c.AI.Dims == 0 {
		return fmt.Errorf("ai.dims is required")
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.FileStore.Type == "" {
		return fmt.Errorf("file_store.type is required")
	}
	if c.Jobs.CacheCleanupSpec == "" {
		c.Jobs.CacheCleanupSpec = "*/10 * * * *"
	}
	if c.Jobs.IngestRecoverySpec == "" {
		c.Jobs.IngestRecoverySpec = "*/5 * * * *"
	}
	return nil
}

func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (r RateLimitRule) BurstWindow() time.Duration {
	return time.Duration(r.BurstWindowSec) * time.Second
}
