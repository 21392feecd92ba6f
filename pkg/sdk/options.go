package kpdex

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	metadata   string // "memory", "sqlite" or "redis"
	sqlitePath string
	addrs      []string
	password   string

	embedder Embedder
	bigrams  bool

	dimensions int
	ivf        bool
	nlist      int
	maxProbes  int

	snapshotDir string
	keep        int

	maxBatchSize int
	threshold    *float64
	maxLabels    int
	decay        float64

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis keeps document metadata in Redis.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.metadata = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithSQLite keeps document metadata in a SQLite file.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.metadata = "sqlite"
		c.sqlitePath = path
	})
}

// WithEmbedder sets the text embedding provider.
// Defaults to the local hashing embedder.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithHashingBigrams adds word bigram features to the default hashing embedder.
func WithHashingBigrams() Option {
	return optionFunc(func(c *clientConfig) {
		c.bigrams = true
	})
}

// WithDimensions sets the vector dimension. It must match the embedder.
// Default: 256.
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.dimensions = dim
	})
}

// WithIVF switches the index to approximate inverted-list search.
// nlist 0 picks sqrt(N) lists; maxProbes 0 probes until the result is exact.
func WithIVF(nlist, maxProbes int) Option {
	return optionFunc(func(c *clientConfig) {
		c.ivf = true
		c.nlist = nlist
		c.maxProbes = maxProbes
	})
}

// WithSnapshotDir persists index snapshots and category sets in dir and
// restores the newest valid ones on New. keep bounds retained snapshots (0 keeps all).
func WithSnapshotDir(dir string, keep int) Option {
	return optionFunc(func(c *clientConfig) {
		c.snapshotDir = dir
		c.keep = keep
	})
}

// WithMaxBatchSize sets the maximum number of documents per Upsert call.
// Default: 1000.
func WithMaxBatchSize(size int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxBatchSize = size
	})
}

// WithClassification sets the minimum label confidence and the label cap.
func WithClassification(threshold float64, maxLabels int) Option {
	return optionFunc(func(c *clientConfig) {
		c.threshold = &threshold
		c.maxLabels = maxLabels
	})
}

// WithRecencyDecay sets the per-position weight decay applied to histories.
func WithRecencyDecay(decay float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.decay = decay
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
