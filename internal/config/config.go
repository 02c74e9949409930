// Package config loads biomcp's runtime configuration: the tunables
// (chunker, limiter, breaker, job retry, search cache, readiness,
// watermark) plus the ambient settings every process needs (store
// DSNs, the HTTP/MCP transport address, log level).
//
// Layering precedence is hardcoded defaults, then config file, then
// environment. It is built on viper instead of a
// hand-rolled YAML merge: defaults are registered with SetDefault, a
// YAML file is optional, and every key is also overridable via a
// BIOMCP_-prefixed environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ChunkerConfig holds the chunker.* options (consumed by
// internal/chunker.Options).
type ChunkerConfig struct {
	TargetTokens  int    `mapstructure:"target_tokens"`
	HardMaxTokens int    `mapstructure:"hard_max_tokens"`
	OverlapTokens int    `mapstructure:"overlap_tokens"`
	Version       string `mapstructure:"version"`
}

// LimiterConfig holds the limiter.* options (consumed by
// internal/limiter.Config).
type LimiterConfig struct {
	Global  int            `mapstructure:"global"`
	PerTool map[string]int `mapstructure:"per_tool"`
}

// BreakerConfig holds the breaker.* options. They are loaded and
// decoded here; no other package reads them.
type BreakerConfig struct {
	ErrorThreshold int `mapstructure:"error_threshold"`
	WindowSeconds  int `mapstructure:"window_seconds"`
}

// JobConfig holds the job.* options. Validate requires at least one
// backoff step; the job worker in internal/jobs takes its retry schedule
// from internal/errors.JobRetryConfig, not from these values.
type JobConfig struct {
	RetryBackoff []time.Duration `mapstructure:"retry_backoff"`
}

// SearchConfig holds the search.* options (consumed by
// internal/retrieval.Config).
type SearchConfig struct {
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
	CacheCapacity   int  `mapstructure:"cache_capacity"`
	CacheEnabled    bool `mapstructure:"cache_enabled"`
}

// ReadyConfig holds the ready.* options. They are loaded and decoded
// here; internal/ready.Orchestrator does not read them.
type ReadyConfig struct {
	ProbeTimeoutMS int `mapstructure:"probe_timeout_ms"`
	CacheTTLMS     int `mapstructure:"cache_ttl_ms"`
}

// WatermarkConfig holds the watermark.* options (consumed by
// internal/watermark.Store.Window).
type WatermarkConfig struct {
	DefaultOverlapDays int `mapstructure:"default_overlap_days"`
}

// StoreConfig is ambient: it names the concrete backends and connection
// strings for the three persistent stores (documents table, chunk
// vector store, jobs/watermarks). The stores themselves are external
// collaborators; biomcp still needs to know where to find them.
type StoreConfig struct {
	// MetadataDriver selects the Document/Chunk/watermark metadata
	// store: "sqlite" (embedded, default) or "postgres".
	MetadataDriver string `mapstructure:"metadata_driver"`
	MetadataDSN    string `mapstructure:"metadata_dsn"`

	// VectorBackend selects the chunk vector index: "hnsw" (embedded,
	// dev/test) or "qdrant" (production).
	VectorBackend    string `mapstructure:"vector_backend"`
	VectorDSN        string `mapstructure:"vector_dsn"`
	VectorCollection string `mapstructure:"vector_collection"`
	VectorDimensions int    `mapstructure:"vector_dimensions"`
	VectorMetric     string `mapstructure:"vector_metric"`
	VectorPath       string `mapstructure:"vector_path"` // HNSWStore snapshot path

	// LexicalBackend selects the BM25 branch: "bleve" (default) or
	// "sqlite_fts".
	LexicalBackend string `mapstructure:"lexical_backend"`
	LexicalPath    string `mapstructure:"lexical_path"`

	// JobsDriver selects the durable job queue backend: "sqlite"
	// (embedded, default, single process) or "postgres" (a worker fleet
	// sharing one queue). JobsDBPath is the sqlite file path; JobsDSN is
	// the Postgres connection string.
	JobsDriver string `mapstructure:"jobs_driver"`
	JobsDBPath string `mapstructure:"jobs_db_path"`
	JobsDSN    string `mapstructure:"jobs_dsn"`
}

// ServerConfig is ambient: the HTTP invoke/job/health surface's listen
// address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig is ambient: structured-log verbosity and destination.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Config is the fully merged, effective configuration for one biomcp
// process.
type Config struct {
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Job       JobConfig       `mapstructure:"job"`
	Search    SearchConfig    `mapstructure:"search"`
	Ready     ReadyConfig     `mapstructure:"ready"`
	Watermark WatermarkConfig `mapstructure:"watermark"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// envPrefix is the prefix every environment override uses, e.g.
// BIOMCP_LIMITER_GLOBAL=500.
const envPrefix = "biomcp"

// setDefaults registers every documented default on v, so a Config
// built with no file and no environment overrides still matches the
// defaults in configs/default.example.yaml.
func setDefaults(v *viper.Viper) {
	v.SetDefault("chunker.target_tokens", 300)
	v.SetDefault("chunker.hard_max_tokens", 450)
	v.SetDefault("chunker.overlap_tokens", 50)
	v.SetDefault("chunker.version", "v1")

	v.SetDefault("limiter.global", 200)
	v.SetDefault("limiter.per_tool", map[string]any{
		"search": 50,
		"sync":   8,
		"get":    100,
	})

	v.SetDefault("breaker.error_threshold", 5)
	v.SetDefault("breaker.window_seconds", 30)

	v.SetDefault("job.retry_backoff", []string{"5s", "15s", "45s"})

	v.SetDefault("search.cache_ttl_seconds", 300)
	v.SetDefault("search.cache_capacity", 1000)
	v.SetDefault("search.cache_enabled", false)

	v.SetDefault("ready.probe_timeout_ms", 5000)
	v.SetDefault("ready.cache_ttl_ms", 5000)

	v.SetDefault("watermark.default_overlap_days", 1)

	v.SetDefault("store.metadata_driver", "sqlite")
	v.SetDefault("store.metadata_dsn", "biomcp.db")
	v.SetDefault("store.vector_backend", "hnsw")
	v.SetDefault("store.vector_dsn", "")
	v.SetDefault("store.vector_collection", "biomcp_chunks")
	v.SetDefault("store.vector_dimensions", 768)
	v.SetDefault("store.vector_metric", "cosine")
	v.SetDefault("store.vector_path", "biomcp_vectors.bin")
	v.SetDefault("store.lexical_backend", "bleve")
	v.SetDefault("store.lexical_path", "biomcp_bm25")
	v.SetDefault("store.jobs_driver", "sqlite")
	v.SetDefault("store.jobs_db_path", "biomcp_jobs.db")
	v.SetDefault("store.jobs_dsn", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Default returns the configuration with every default applied
// and nothing else: no file, no environment.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

// Load reads biomcp's defaults, optionally overlays a YAML file at
// path (skipped if path is "" or the file does not exist; a missing
// config file is not an error), and finally overlays
// BIOMCP_-prefixed environment
// variables, e.g. BIOMCP_LIMITER_PER_TOOL_SEARCH, BIOMCP_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would make runtime invariants
// unsatisfiable (e.g. a chunker hard max below the target).
func (c *Config) Validate() error {
	if c.Chunker.HardMaxTokens < c.Chunker.TargetTokens {
		return fmt.Errorf("config: chunker.hard_max_tokens (%d) must be >= chunker.target_tokens (%d)",
			c.Chunker.HardMaxTokens, c.Chunker.TargetTokens)
	}
	if c.Watermark.DefaultOverlapDays < 0 || c.Watermark.DefaultOverlapDays > 30 {
		return fmt.Errorf("config: watermark.default_overlap_days must be in [0,30], got %d", c.Watermark.DefaultOverlapDays)
	}
	if c.Limiter.Global <= 0 {
		return fmt.Errorf("config: limiter.global must be > 0, got %d", c.Limiter.Global)
	}
	if len(c.Job.RetryBackoff) == 0 {
		return fmt.Errorf("config: job.retry_backoff must list at least one backoff step")
	}
	return nil
}
