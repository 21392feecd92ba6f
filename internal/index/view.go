package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

// View is a read handle on one generation. Every read through the same View
// observes the same contents.
type View struct {
	idx *Index
	g   *generation
}

// Info describes the pinned generation.
func (v *View) Info() Info { return v.g.info() }

// Len returns the number of vectors.
func (v *View) Len() int { return len(v.g.ids) }

// IDs returns the sorted identifiers. Callers must not modify the slice.
func (v *View) IDs() []string { return v.g.ids }

// Has reports whether id has a vector.
func (v *View) Has(id string) bool {
	_, ok := v.g.vectors[id]
	return ok
}

// Get returns a copy of the vector for id.
func (v *View) Get(id string) ([]float32, bool) {
	vec, ok := v.g.vectors[id]
	if !ok {
		return nil, false
	}
	return cloneVec(vec), true
}

// Range calls fn for every vector in id order, checking ctx every scan batch.
// fn must not retain or modify vec.
func (v *View) Range(ctx context.Context, fn func(id string, vec []float32) error) error {
	batch := v.idx.opts.ScanBatch
	for n, id := range v.g.ids {
		if n%batch == 0 {
			if err := domain.FromContext(ctx); err != nil {
				return err
			}
		}
		if err := fn(id, v.g.vectors[id]); err != nil {
			return err
		}
	}
	return nil
}

// Search runs a k-NN query in the index's configured mode.
func (v *View) Search(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	return v.search(ctx, q, k, v.idx.opts.Mode == ModeIVF, v.idx.Probes())
}

// SearchExact runs a k-NN query by linear scan.
func (v *View) SearchExact(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	return v.search(ctx, q, k, false, 0)
}

func (v *View) search(ctx context.Context, q []float32, k int, approximate bool, probes int) ([]Neighbor, error) {
	const op = "index.search"
	if k <= 0 {
		return nil, domain.NewOpError(op, "", domain.Invalidf("k must be positive, got %d", k))
	}
	prepared, err := v.idx.prepare(q)
	if err != nil {
		return nil, domain.NewOpError(op, "", err)
	}
	if err = domain.FromContext(ctx); err != nil {
		return nil, domain.NewOpError(op, "", err)
	}
	if v.g.bad.Load() {
		return nil, domain.NewOpError(op, "", fmt.Errorf("%w: generation %s", domain.ErrIndexCorruption, v.g.id))
	}
	if len(v.g.ids) == 0 {
		return []Neighbor{}, nil
	}
	k = min(k, len(v.g.ids))

	start := time.Now()
	mode := string(ModeExact)
	var res []Neighbor
	if approximate && v.g.ivf != nil {
		mode = string(ModeIVF)
		res, err = v.scanIVF(ctx, prepared, k, probes)
	} else {
		res, err = v.scanExact(ctx, prepared, k)
	}
	metrics.IndexSearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrIndexCorruption) {
			v.idx.handleCorruption(ctx, v.g, err)
		}
		return nil, domain.NewOpError(op, "", err)
	}

	metric := v.idx.opts.Metric
	for n := range res {
		res[n].Score = metric.Similarity(res[n].Distance)
	}
	return res, nil
}

// scanIDs offers every id to t, checking ctx each scan batch. A stored vector
// of the wrong dimension is an invariant violation.
func (v *View) scanIDs(ctx context.Context, q []float32, ids []string, t *topK, seen *int) error {
	batch := v.idx.opts.ScanBatch
	dim := v.idx.opts.Dimensions
	metric := v.idx.opts.Metric
	for _, id := range ids {
		if *seen%batch == 0 {
			if err := domain.FromContext(ctx); err != nil {
				return err
			}
		}
		*seen++
		vec := v.g.vectors[id]
		if len(vec) != dim {
			return fmt.Errorf("%w: vector %q has %d dimensions, index has %d",
				domain.ErrIndexCorruption, id, len(vec), dim)
		}
		t.offer(id, metric.Distance(q, vec))
	}
	return nil
}

func (v *View) scanExact(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	ids := v.g.ids
	workers := v.idx.opts.Workers
	if len(ids) < parallelThreshold || workers <= 1 {
		t := newTopK(k)
		seen := 0
		if err := v.scanIDs(ctx, q, ids, t, &seen); err != nil {
			return nil, err
		}
		return t.sorted(), nil
	}

	chunk := (len(ids) + workers - 1) / workers
	parts := make([]*topK, 0, workers)
	eg, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]
		t := newTopK(k)
		parts = append(parts, t)
		eg.Go(func() error {
			seen := 0
			return v.scanIDs(gctx, q, part, t, &seen)
		})
	}
	if err := eg.Wait(); err != nil {
		// a sibling's failure cancels gctx; report the caller's own deadline as such
		if ctxErr := domain.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	out := newTopK(k)
	for _, t := range parts {
		out.merge(t)
	}
	return out.sorted(), nil
}

// geomSlack absorbs float rounding between the bound and member distances.
const geomSlack = 1e-6

func (v *View) scanIVF(ctx context.Context, q []float32, k, maxProbes int) ([]Neighbor, error) {
	t := newTopK(k)
	seen, probed := 0, 0
	for _, p := range v.g.ivf.probeOrder(q) {
		// bounds are Euclidean in storage space, so compare against the
		// current kth neighbor measured the same way
		if t.full() && euclid(q, v.g.vectors[t.worstID()])+geomSlack < p.bound {
			break
		}
		if maxProbes > 0 && probed >= maxProbes && t.full() {
			break
		}
		if err := v.scanIDs(ctx, q, v.g.ivf.lists[p.list].ids, t, &seen); err != nil {
			return nil, err
		}
		probed++
	}
	metrics.IndexProbedListsTotal.Add(float64(probed))
	return t.sorted(), nil
}
