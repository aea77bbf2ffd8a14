// Package config provides configuration management for the trip context engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Product defaults. These are starting points, not mandates: every one of them
// is a field on Config and may be overridden via the settings file or
// TRIPMESH_* environment variables.
const (
	// DefaultHTTPPort is the default port for the engine's HTTP surface.
	DefaultHTTPPort = 38800

	// DefaultWorkers is the number of concurrent batch workers.
	DefaultWorkers = 4

	// DefaultBatchSize is the provider-imposed cap on texts per embedding call.
	DefaultBatchSize = 100

	// DefaultMaxAttempts is the retry ceiling for a single job.
	DefaultMaxAttempts = 3

	// DefaultMinSimilarity is the similarity threshold below which results
	// are excluded from context bundles entirely.
	DefaultMinSimilarity = 0.6

	// DefaultTopK is the number of items returned in a context bundle.
	DefaultTopK = 12

	// DefaultSweepIntervalHours is the cadence of the reconciliation sweep.
	DefaultSweepIntervalHours = 24

	// DefaultQueryTimeoutMs bounds the synchronous query-time embedding call.
	DefaultQueryTimeoutMs = 5000

	// DefaultDrainIntervalMs is how often an idle worker re-polls the queue.
	DefaultDrainIntervalMs = 250

	// DefaultCapturePollIntervalMs is the source change-polling cadence.
	DefaultCapturePollIntervalMs = 2000

	// DefaultBaseBackoffMs is the initial retry delay; it doubles per attempt.
	DefaultBaseBackoffMs = 1000

	// DefaultMaxBackoffMs caps the retry delay.
	DefaultMaxBackoffMs = 60000

	// DefaultMaxBundleTokens bounds the context bundle by token count
	// (0 disables the token budget).
	DefaultMaxBundleTokens = 2000

	// DefaultRateLimitRPS is the shared HTTP rate limit in requests/second.
	DefaultRateLimitRPS = 50

	// DefaultRateLimitBurst is the HTTP rate limit burst capacity.
	DefaultRateLimitBurst = 100
)

// EmbeddingConfig holds settings for the external embedding provider.
type EmbeddingConfig struct {
	// BaseURL of an OpenAI-compatible embeddings API.
	BaseURL string `json:"base_url"`
	// APIKey for the provider. Usually supplied via TRIPMESH_EMBEDDING_API_KEY.
	APIKey string `json:"api_key"`
	// Model name, e.g. "text-embedding-3-small".
	Model string `json:"model"`
	// Dimensions of the vectors the model produces. A mismatch between this
	// and what the provider returns is a fatal configuration error.
	Dimensions int `json:"dimensions"`
}

// Config holds the engine configuration.
type Config struct {
	// HTTP surface
	HTTPPort int `json:"http_port"`

	// Storage
	DataDir       string `json:"data_dir"`
	SourceDBPath  string `json:"source_db_path"`
	VectorBackend string `json:"vector_backend"` // "chromem" or "pgvector"
	ChromemPath   string `json:"chromem_path"`   // empty = in-memory
	PostgresDSN   string `json:"postgres_dsn"`

	// Ingestion pipeline
	Workers               int `json:"workers"`
	BatchSize             int `json:"batch_size"`
	MaxAttempts           int `json:"max_attempts"`
	BaseBackoffMs         int `json:"base_backoff_ms"`
	MaxBackoffMs          int `json:"max_backoff_ms"`
	DrainIntervalMs       int `json:"drain_interval_ms"`
	CapturePollIntervalMs int `json:"capture_poll_interval_ms"`

	// Reconciliation
	SweepIntervalHours int `json:"sweep_interval_hours"`

	// Query resolution
	MinSimilarity   float64 `json:"min_similarity"`
	TopK            int     `json:"top_k"`
	QueryTimeoutMs  int     `json:"query_timeout_ms"`
	MaxBundleTokens int     `json:"max_bundle_tokens"`

	// HTTP rate limiting (requests per second across all clients; 0 disables)
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding"`
}

// DataDirDefault returns the default data directory (~/.tripmesh-engine).
func DataDirDefault() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tripmesh-engine")
}

// SettingsPath returns the settings file path inside a data dir.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "settings.json")
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := DataDirDefault()
	return &Config{
		HTTPPort:              DefaultHTTPPort,
		DataDir:               dataDir,
		SourceDBPath:          filepath.Join(dataDir, "source.db"),
		VectorBackend:         "chromem",
		ChromemPath:           filepath.Join(dataDir, "vectors"),
		Workers:               DefaultWorkers,
		BatchSize:             DefaultBatchSize,
		MaxAttempts:           DefaultMaxAttempts,
		BaseBackoffMs:         DefaultBaseBackoffMs,
		MaxBackoffMs:          DefaultMaxBackoffMs,
		DrainIntervalMs:       DefaultDrainIntervalMs,
		CapturePollIntervalMs: DefaultCapturePollIntervalMs,
		SweepIntervalHours:    DefaultSweepIntervalHours,
		MinSimilarity:         DefaultMinSimilarity,
		TopK:                  DefaultTopK,
		QueryTimeoutMs:        DefaultQueryTimeoutMs,
		MaxBundleTokens:       DefaultMaxBundleTokens,
		RateLimitRPS:          DefaultRateLimitRPS,
		RateLimitBurst:        DefaultRateLimitBurst,
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
	}
}

// Load reads configuration from the settings file in dataDir (if present),
// merges it over defaults and applies environment overrides. A missing file
// is not an error; a malformed file is, since silently ignoring it would hide
// an operator mistake.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.SourceDBPath = filepath.Join(dataDir, "source.db")
		cfg.ChromemPath = filepath.Join(dataDir, "vectors")
	}

	data, err := os.ReadFile(SettingsPath(cfg.DataDir))
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from TRIPMESH_* environment variables.
func (c *Config) applyEnv() {
	envStr("TRIPMESH_POSTGRES_DSN", &c.PostgresDSN)
	envStr("TRIPMESH_VECTOR_BACKEND", &c.VectorBackend)
	envStr("TRIPMESH_SOURCE_DB_PATH", &c.SourceDBPath)
	envStr("TRIPMESH_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envStr("TRIPMESH_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envStr("TRIPMESH_EMBEDDING_MODEL", &c.Embedding.Model)
	envInt("TRIPMESH_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	envInt("TRIPMESH_HTTP_PORT", &c.HTTPPort)
	envInt("TRIPMESH_WORKERS", &c.Workers)
	envInt("TRIPMESH_BATCH_SIZE", &c.BatchSize)
	envInt("TRIPMESH_MAX_ATTEMPTS", &c.MaxAttempts)
	envInt("TRIPMESH_SWEEP_INTERVAL_HOURS", &c.SweepIntervalHours)
	envInt("TRIPMESH_TOP_K", &c.TopK)
	envFloat("TRIPMESH_MIN_SIMILARITY", &c.MinSimilarity)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("config: min_similarity must be in [0,1], got %f", c.MinSimilarity)
	}
	if c.VectorBackend != "chromem" && c.VectorBackend != "pgvector" {
		return fmt.Errorf("config: unknown vector_backend %q", c.VectorBackend)
	}
	if c.VectorBackend == "pgvector" && c.PostgresDSN == "" {
		return fmt.Errorf("config: postgres_dsn is required for the pgvector backend")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// QueryTimeout returns the query-time embedding timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// SweepInterval returns the reconciliation cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// DrainInterval returns the idle worker re-poll interval as a duration.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalMs) * time.Millisecond
}

// CapturePollInterval returns the source polling cadence as a duration.
func (c *Config) CapturePollInterval() time.Duration {
	return time.Duration(c.CapturePollIntervalMs) * time.Millisecond
}

// BaseBackoff returns the initial retry delay as a duration.
func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay cap as a duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o750)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			*dst = f
		}
	}
}
