// Package index is the in-memory vector index. Readers search an immutable
// generation without locks; writers are serialized and publish a new
// generation per mutation batch.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

// Index maps document identifiers to vectors and answers k-NN queries.
type Index struct {
	opts   Options
	store  SnapshotStore
	logger *zap.Logger

	mu  sync.Mutex // serializes writers
	gen atomic.Pointer[generation]

	// probes is the effective IVF probe cap; 0 means unbounded.
	probes atomic.Int64

	// guarded by mu: the snapshot last saved or installed, and the
	// generation seq it holds
	synced    string
	syncedSeq uint64
}

// New creates an empty index. store may be nil, disabling Save and Recover.
func New(opts Options, store SnapshotStore, logger *zap.Logger) (*Index, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{opts: opts, store: store, logger: logger}
	idx.gen.Store(emptyGeneration())
	idx.probes.Store(int64(opts.MaxProbes))
	return idx, nil
}

// Options returns the effective options.
func (i *Index) Options() Options { return i.opts }

// Dimensions returns the fixed vector dimension.
func (i *Index) Dimensions() int { return i.opts.Dimensions }

// Metric returns the distance metric.
func (i *Index) Metric() vector.Metric { return i.opts.Metric }

// Len returns the number of vectors in the current generation.
func (i *Index) Len() int { return len(i.gen.Load().ids) }

// Probes returns the effective IVF probe cap, 0 when unbounded. It starts at
// MaxProbes and is raised by Calibrate.
func (i *Index) Probes() int { return int(i.probes.Load()) }

// Generation describes the current generation.
func (i *Index) Generation() Info { return i.gen.Load().info() }

// View pins the current generation for a sequence of consistent reads.
func (i *Index) View() *View { return &View{idx: i, g: i.gen.Load()} }

// Get returns a copy of the stored vector (unit length under cosine).
func (i *Index) Get(id string) ([]float32, error) {
	v, ok := i.View().Get(id)
	if !ok {
		return nil, domain.NewOpError("index.get", id, domain.ErrNotFound)
	}
	return v, nil
}

// Insert stores or replaces the vector for id.
func (i *Index) Insert(ctx context.Context, id string, vec []float32) error {
	return i.Apply(ctx, new(Batch).Put(id, vec))
}

// Remove deletes id. Removing an absent id is a no-op.
func (i *Index) Remove(ctx context.Context, id string) error {
	return i.Apply(ctx, new(Batch).Delete(id))
}

// Apply validates every operation, then publishes one new generation. Nothing
// is applied if any operation is invalid. Re-applying the same batch is safe.
func (i *Index) Apply(ctx context.Context, b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	puts := make(map[string][]float32, len(b.ops))
	deletes := make(map[string]struct{})
	for _, o := range b.ops {
		if err := validateID(o.id); err != nil {
			return domain.NewOpError("index.apply", o.id, err)
		}
		if o.delete {
			delete(puts, o.id)
			deletes[o.id] = struct{}{}
			continue
		}
		prepared, err := i.prepare(o.vec)
		if err != nil {
			return domain.NewOpError("index.insert", o.id, err)
		}
		delete(deletes, o.id)
		puts[o.id] = prepared
	}
	if err := domain.FromContext(ctx); err != nil {
		return domain.NewOpError("index.apply", "", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	cur := i.gen.Load()
	if cur.bad.Load() {
		return domain.NewOpError("index.apply", "", fmt.Errorf("%w: current generation is corrupt", domain.ErrIndexCorruption))
	}
	dropUnchanged(cur, puts, deletes)
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	next := cur.next(puts, deletes)
	if i.needsTraining(next) {
		if err := i.train(ctx, next); err != nil {
			// the new vectors stay reachable through the previous quantizer
			i.logger.Warn("IVF training failed, keeping previous quantizer", zap.Error(err))
		}
	}
	i.publish(next)
	return nil
}

// dropUnchanged removes no-op puts (same vector) and deletes of absent ids.
func dropUnchanged(g *generation, puts map[string][]float32, deletes map[string]struct{}) {
	for id, v := range puts {
		if old, ok := g.vectors[id]; ok && slices.Equal(old, v) {
			delete(puts, id)
		}
	}
	for id := range deletes {
		if _, ok := g.vectors[id]; !ok {
			delete(deletes, id)
		}
	}
}

// Retrain rebuilds the coarse quantizer from the current contents.
func (i *Index) Retrain(ctx context.Context) error {
	if i.opts.Mode != ModeIVF {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	cur := i.gen.Load()
	next := cur.next(nil, nil)
	if err := i.train(ctx, next); err != nil {
		return domain.NewOpError("index.retrain", "", err)
	}
	i.publish(next)
	return nil
}

func (i *Index) publish(g *generation) {
	i.gen.Store(g)
	metrics.IndexVectors.Set(float64(len(g.ids)))
	metrics.IndexGenerationsTotal.Inc()
}

func (i *Index) needsTraining(g *generation) bool {
	if i.opts.Mode != ModeIVF || len(g.ids) < i.opts.TrainThreshold {
		return false
	}
	if g.ivf == nil {
		return true
	}
	return len(g.ids) >= 2*g.ivf.trainedSize
}

// train installs a fresh quantizer on g, which must not yet be published.
func (i *Index) train(ctx context.Context, g *generation) error {
	if len(g.ids) == 0 {
		g.ivf = nil
		return nil
	}
	start := time.Now()
	vecs := make([][]float32, len(g.ids))
	for n, id := range g.ids {
		vecs[n] = g.vectors[id]
	}
	k := nlistFor(i.opts.NList, len(vecs))
	centroids, err := trainCentroids(ctx, vecs, k, i.opts.Seed)
	if err != nil {
		metrics.IndexTrainingsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("train centroids: %w", err)
	}
	g.ivf = &ivfState{lists: assign(centroids, g.ids, g.vectors), trainedSize: len(g.ids)}
	metrics.IndexTrainingsTotal.WithLabelValues("ok").Inc()
	i.logger.Info("IVF quantizer trained",
		zap.Int("vectors", len(g.ids)),
		zap.Int("lists", len(centroids)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// prepare validates and normalizes an input vector for storage or search.
func (i *Index) prepare(v []float32) ([]float32, error) {
	if err := vector.Validate(v, i.opts.Dimensions); err != nil {
		return nil, err
	}
	out, ok := i.opts.Metric.Prepare(v)
	if !ok {
		return nil, domain.Invalidf("zero vector has no direction under %s", i.opts.Metric)
	}
	return out, nil
}

func validateID(id string) error {
	if id == "" {
		return domain.Invalidf("identifier is required")
	}
	if len(id) > MaxIDLength {
		return domain.Invalidf("identifier too long (max %d)", MaxIDLength)
	}
	return nil
}

// Search returns the k nearest neighbors of q, closest first, ties broken by
// ascending id. k larger than the index returns everything.
func (i *Index) Search(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	return i.View().Search(ctx, q, k)
}

// SearchExact always performs a linear scan, regardless of mode.
func (i *Index) SearchExact(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	return i.View().SearchExact(ctx, q, k)
}

// handleCorruption marks g bad and, if g is still current, falls back to the
// newest valid snapshot.
func (i *Index) handleCorruption(ctx context.Context, g *generation, cause error) {
	if g.bad.Swap(true) {
		return
	}
	metrics.IndexCorruptionsTotal.Inc()
	i.logger.Error("Index generation corrupt",
		zap.String("generation", g.id.String()),
		zap.Uint64("seq", g.seq),
		zap.Error(cause),
	)
	if i.store == nil {
		i.logger.Error("No snapshot store configured, index stays unavailable until reloaded")
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoverTimeout)
	defer cancel()
	if _, err := i.recoverFrom(rctx, g); err != nil && !errors.Is(err, errSuperseded) {
		i.logger.Error("Index recovery failed", zap.Error(err))
	}
}
