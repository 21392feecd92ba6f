package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the kpdex configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Query     QueryConfig     `yaml:"query"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Recommend RecommendConfig `yaml:"recommend"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds redis connection settings. Addrs may be empty when no
// component needs redis.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"` // openai, hashing
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	Cache               bool   `yaml:"cache"`
	Bigrams             bool   `yaml:"bigrams"` // hashing provider only
	TimeoutSec          int    `yaml:"timeout_sec"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Dimensions     int    `yaml:"dimensions"` // 0 = embedding.dimensions
	Metric         string `yaml:"metric"`     // cosine, l2
	Mode           string `yaml:"mode"`       // exact, ivf
	NList          int    `yaml:"nlist"`
	MaxProbes      int    `yaml:"max_probes"`
	TrainThreshold int    `yaml:"train_threshold"`
	ScanBatch      int    `yaml:"scan_batch"`
	Workers        int    `yaml:"workers"`
	Seed           uint64 `yaml:"seed"`
	// RecallTarget is the minimum top-1 agreement with exact search in ivf
	// mode; serve raises the probe cap until it is met. 0 disables the check.
	RecallTarget       float64 `yaml:"recall_target"`
	CalibrationQueries int     `yaml:"calibration_queries"`
}

// QueryConfig holds hybrid query settings.
type QueryConfig struct {
	DefaultPageSize int    `yaml:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size"`
	Oversample      int    `yaml:"oversample"`
	MaxK            int    `yaml:"max_k"`
	MaxWidenRounds  int    `yaml:"max_widen_rounds"`
	Order           string `yaml:"order"` // id, recency
	TimeoutMs       int    `yaml:"timeout_ms"`
}

// ClassifyConfig holds classification settings.
type ClassifyConfig struct {
	Threshold  *float64 `yaml:"threshold"` // 0 returns every category
	MaxLabels  int     `yaml:"max_labels"`
	KeepSets   int     `yaml:"keep_sets"`
	Attribute  string  `yaml:"attribute"` // attribute centroids are trained from
	MinMembers int     `yaml:"min_members"`
}

// RecommendConfig holds recommendation settings.
type RecommendConfig struct {
	Decay        float64 `yaml:"decay"`
	DefaultLimit int     `yaml:"default_limit"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
	ChunkSize    int `yaml:"chunk_size"`
	Concurrency  int `yaml:"concurrency"`
	Retries      int `yaml:"retries"`
}

// MetadataConfig selects the metadata store.
type MetadataConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, redis
	DSN    string `yaml:"dsn"`    // sqlite file path
}

// SnapshotConfig selects where index snapshots and category sets are kept.
type SnapshotConfig struct {
	Driver      string   `yaml:"driver"` // none, fs, redis, s3
	Dir         string   `yaml:"dir"`
	KeyPrefix   string   `yaml:"key_prefix"`
	Keep        int      `yaml:"keep"`
	IntervalSec int      `yaml:"interval_sec"` // 0 disables periodic snapshots
	S3          S3Config `yaml:"s3"`
}

// S3Config holds object storage settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// QueryTimeout returns the per-request query timeout.
func (c QueryConfig) QueryTimeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// RecommendTimeout returns the per-request recommendation timeout.
func (c RecommendConfig) RecommendTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first; it never overrides
// variables already set.
func Load(env string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hashing"
	}
	if c.Embedding.Dimensions <= 0 && c.Embedding.Provider == "hashing" {
		c.Embedding.Dimensions = 256
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Index.Dimensions <= 0 {
		c.Index.Dimensions = c.Embedding.Dimensions
	}
	if c.Index.Metric == "" {
		c.Index.Metric = "cosine"
	}
	if c.Index.Mode == "" {
		c.Index.Mode = "exact"
	}
	if c.Index.CalibrationQueries <= 0 {
		c.Index.CalibrationQueries = 200
	}
	if c.Query.DefaultPageSize <= 0 {
		c.Query.DefaultPageSize = 20
	}
	if c.Query.MaxPageSize <= 0 {
		c.Query.MaxPageSize = 100
	}
	if c.Query.Order == "" {
		c.Query.Order = "id"
	}
	if c.Query.TimeoutMs <= 0 {
		c.Query.TimeoutMs = 2000
	}
	if c.Classify.Threshold == nil {
		t := 0.75
		c.Classify.Threshold = &t
	}
	if c.Classify.Attribute == "" {
		c.Classify.Attribute = "domain"
	}
	if c.Classify.MinMembers <= 0 {
		c.Classify.MinMembers = 1
	}
	if c.Recommend.TimeoutMs <= 0 {
		c.Recommend.TimeoutMs = 2000
	}
	if c.Metadata.Driver == "" {
		c.Metadata.Driver = "memory"
	}
	if c.Snapshot.Driver == "" {
		c.Snapshot.Driver = "none"
	}
	if c.Snapshot.KeyPrefix == "" {
		c.Snapshot.KeyPrefix = "kpdex:"
	}
	if c.Snapshot.Keep <= 0 {
		c.Snapshot.Keep = 3
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Embedding.Provider {
	case "hashing":
	case "openai":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for the openai provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be \"openai\" or \"hashing\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Index.Dimensions != c.Embedding.Dimensions {
		return fmt.Errorf("index.dimensions (%d) must match embedding.dimensions (%d)",
			c.Index.Dimensions, c.Embedding.Dimensions)
	}
	if c.Query.DefaultPageSize > c.Query.MaxPageSize {
		return fmt.Errorf("query.default_page_size must not exceed query.max_page_size")
	}
	if t := c.Classify.Threshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("classify.threshold must be in [0,1], got %v", *t)
	}
	if c.Index.RecallTarget < 0 || c.Index.RecallTarget > 1 {
		return fmt.Errorf("index.recall_target must be in [0,1], got %v", c.Index.RecallTarget)
	}
	if c.Recommend.Decay < 0 || c.Recommend.Decay > 1 {
		return fmt.Errorf("recommend.decay must be in (0,1], got %v", c.Recommend.Decay)
	}

	needsRedis := c.Embedding.Cache
	switch c.Metadata.Driver {
	case "memory":
	case "sqlite":
		if c.Metadata.DSN == "" {
			return fmt.Errorf("metadata.dsn is required for the sqlite driver")
		}
	case "redis":
		needsRedis = true
	default:
		return fmt.Errorf("metadata.driver must be memory, sqlite or redis, got %q", c.Metadata.Driver)
	}
	switch c.Snapshot.Driver {
	case "none":
	case "fs":
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot.dir is required for the fs driver")
		}
	case "redis":
		needsRedis = true
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			return fmt.Errorf("snapshot.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("snapshot.driver must be none, fs, redis or s3, got %q", c.Snapshot.Driver)
	}
	if needsRedis && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required when redis is used")
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to redis.
func (c *Config) NeedsRedis() bool {
	return c.Embedding.Cache || c.Metadata.Driver == "redis" || c.Snapshot.Driver == "redis"
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
