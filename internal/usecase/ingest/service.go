// Package ingest loads knowledge products into the metadata store and the
// vector index. Scheduling ingestion is the caller's concern.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// Defaults for Config.
const (
	DefaultMaxBatchSize = 1000
	DefaultChunkSize    = 64
	DefaultConcurrency  = 4
	DefaultRetries      = 2
	DefaultRetryDelay   = 50 * time.Millisecond
)

// Config bounds a single ingestion call.
type Config struct {
	MaxBatchSize int
	// ChunkSize is the number of texts per embedding call.
	ChunkSize   int
	Concurrency int
	// Retries applies to store writes, which are idempotent.
	Retries    int
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Result reports the outcome for one document.
type Result struct {
	ID  string
	Err error
}

// OK reports whether the document was stored and indexed.
func (r Result) OK() bool { return r.Err == nil }

// Summary counts successes and failures.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// Service embeds and stores documents.
type Service struct {
	meta   MetadataWriter
	index  VectorIndex
	embed  Embedder
	cfg    Config
	logger *zap.Logger
}

// New creates an ingestion service.
func New(meta MetadataWriter, idx VectorIndex, embed Embedder, cfg Config, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{meta: meta, index: idx, embed: embed, cfg: cfg, logger: logger}
}

// Upsert embeds docs, writes their metadata, then applies all vectors to the
// index as one batch. Metadata is written first so an indexed vector always
// has metadata. Failures are reported per document; a store failure fails
// every document that reached it.
func (s *Service) Upsert(ctx context.Context, docs []domdoc.Document) []Result {
	results := make([]Result, len(docs))
	for i := range docs {
		results[i].ID = docs[i].ID()
	}
	if len(docs) > s.cfg.MaxBatchSize {
		return failAll(results, nil, domain.Invalidf("batch size exceeds %d", s.cfg.MaxBatchSize))
	}

	seen := make(map[string]int, len(docs))
	for i := range docs {
		if j, ok := seen[docs[i].ID()]; ok {
			results[j].Err = domain.Invalidf("duplicate id %q in batch", docs[i].ID())
		}
		seen[docs[i].ID()] = i
	}

	vecs := s.vectorize(ctx, docs, results)

	valid := make([]int, 0, len(docs))
	for i := range docs {
		if results[i].Err == nil {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 {
		return results
	}

	batchDocs := make([]domdoc.Document, len(valid))
	for n, i := range valid {
		batchDocs[n] = docs[i]
	}
	if err := s.withRetry(ctx, "metadata.put_many", func(ctx context.Context) error {
		return s.meta.PutMany(ctx, batchDocs)
	}); err != nil {
		return failAll(results, valid, fmt.Errorf("write metadata: %w", err))
	}

	b := new(index.Batch)
	for _, i := range valid {
		b.Put(docs[i].ID(), vecs[i])
	}
	if err := s.withRetry(ctx, "index.apply", func(ctx context.Context) error {
		return s.index.Apply(ctx, b)
	}); err != nil {
		return failAll(results, valid, fmt.Errorf("apply index batch: %w", err))
	}

	ok, failed := Summary(results)
	s.logger.Info("Documents ingested", zap.Int("ok", ok), zap.Int("failed", failed))
	return results
}

// Delete removes ids from the index first, then from the metadata store.
// Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, ids []string) []Result {
	results := make([]Result, len(ids))
	for i, id := range ids {
		results[i].ID = id
	}
	if len(ids) > s.cfg.MaxBatchSize {
		return failAll(results, nil, domain.Invalidf("batch size exceeds %d", s.cfg.MaxBatchSize))
	}

	b := new(index.Batch)
	for _, id := range ids {
		b.Delete(id)
	}
	if err := s.withRetry(ctx, "index.apply", func(ctx context.Context) error {
		return s.index.Apply(ctx, b)
	}); err != nil {
		return failAll(results, nil, fmt.Errorf("apply index batch: %w", err))
	}

	for i, id := range ids {
		err := s.withRetry(ctx, "metadata.delete", func(ctx context.Context) error {
			return s.meta.Delete(ctx, id)
		})
		if err != nil {
			results[i].Err = fmt.Errorf("delete metadata: %w", err)
		}
	}
	return results
}

// vectorize embeds the texts of still-valid docs in chunks, running up to
// Concurrency embedding calls at once. Failures are recorded in results.
func (s *Service) vectorize(ctx context.Context, docs []domdoc.Document, results []Result) [][]float32 {
	vecs := make([][]float32, len(docs))
	pending := make([]int, 0, len(docs))
	for i := range docs {
		if results[i].Err == nil {
			pending = append(pending, i)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(pending); start += s.cfg.ChunkSize {
		chunk := pending[start:min(start+s.cfg.ChunkSize, len(pending))]
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for n, i := range chunk {
				texts[n] = docs[i].EmbeddingText()
			}
			res, err := s.embed.BatchEmbed(gctx, texts)
			if err == nil && len(res.Embeddings) != len(chunk) {
				err = fmt.Errorf("%w: expected %d embeddings, got %d",
					domain.ErrEmbeddingUnavailable, len(chunk), len(res.Embeddings))
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, i := range chunk {
					results[i].Err = fmt.Errorf("vectorize: %w", err)
				}
				if ctxErr := domain.FromContext(gctx); ctxErr != nil {
					return ctxErr
				}
				return nil
			}
			for n, i := range chunk {
				results[i].Err = s.checkVector(res.Embeddings[n])
				vecs[i] = res.Embeddings[n]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, i := range pending {
			if results[i].Err == nil && vecs[i] == nil {
				results[i].Err = fmt.Errorf("vectorize: %w", err)
			}
		}
	}
	return vecs
}

func (s *Service) checkVector(vec []float32) error {
	if err := vector.Validate(vec, s.index.Dimensions()); err != nil {
		return fmt.Errorf("vectorize: %w", err)
	}
	if vector.IsZero(vec) {
		return domain.Invalidf("document text embeds to a zero vector")
	}
	return nil
}

// withRetry retries fn with exponential backoff. Input errors, corruption and
// cancellation are returned immediately.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(uint64(s.cfg.Retries), retry.NewExponential(s.cfg.RetryDelay))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if domain.IsInputError(err) || errors.Is(err, domain.ErrIndexCorruption) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("Retrying store write", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctxErr := domain.FromContext(ctx); ctxErr != nil && !errors.Is(err, domain.ErrTimeout) {
			return ctxErr
		}
		return err
	}
	return nil
}

// failAll sets err on the results at idx, or on all results when idx is nil.
func failAll(results []Result, idx []int, err error) []Result {
	if idx == nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}
	for _, i := range idx {
		results[i].Err = err
	}
	return results
}
