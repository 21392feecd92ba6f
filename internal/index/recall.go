package index

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/metrics"
)

// DefaultRecallNoise is the relative perturbation applied to sampled query
// vectors, as a fraction of the source vector's norm.
const DefaultRecallNoise = 1.0

// Recall is the agreement of approximate search with exact search.
type Recall struct {
	// AtK is the mean fraction of the exact top-k also returned.
	AtK float64
	// Top1 is the fraction of queries whose first result matches exact search.
	Top1 float64
}

// RecallReport is the outcome of Calibrate.
type RecallReport struct {
	Queries int
	K       int
	Target  float64
	// ConfiguredProbes and Configured describe search under Options.MaxProbes.
	ConfiguredProbes int
	Configured       Recall
	// Probes and Achieved describe the installed probe cap; 0 probes means unbounded.
	Probes   int
	Achieved Recall
}

// Met reports whether the configured probe cap alone reaches the target.
func (r RecallReport) Met() bool { return r.Target <= 0 || r.Configured.Top1 >= r.Target }

// SampleQueries draws n query vectors by perturbing randomly chosen indexed
// vectors with Gaussian noise of relative magnitude noise. Sampling is
// deterministic for a given seed and generation.
func (i *Index) SampleQueries(n int, noise float64) [][]float32 {
	v := i.View()
	ids := v.g.ids
	if n <= 0 || len(ids) == 0 {
		return nil
	}
	if noise < 0 {
		noise = DefaultRecallNoise
	}
	rng := rand.New(rand.NewPCG(i.opts.Seed, i.opts.Seed^0x9e3779b97f4a7c15))
	scale := noise / math.Sqrt(float64(i.opts.Dimensions))
	out := make([][]float32, n)
	for j := range out {
		src := v.g.vectors[ids[rng.IntN(len(ids))]]
		norm := math.Sqrt(dot(src, src))
		q := make([]float32, len(src))
		for d := range src {
			q[d] = src[d] + float32(rng.NormFloat64()*scale*norm)
		}
		out[j] = q
	}
	return out
}

// MeasureRecall returns the mean fraction of the exact top-k that search
// under the effective probe cap also returns, over the given queries.
func (i *Index) MeasureRecall(ctx context.Context, queries [][]float32, k int) (float64, error) {
	r, err := i.View().measure(ctx, queries, k, i.Probes())
	return r.AtK, err
}

// Calibrate measures IVF search under the configured probe cap and, when it
// falls short of RecallTarget, doubles the cap until the target is reached
// or every list is probed. The resulting cap is installed for later
// searches. Outside IVF mode, or without a target, it only measures.
func (i *Index) Calibrate(ctx context.Context, queries [][]float32, k int) (RecallReport, error) {
	v := i.View()
	rep := RecallReport{
		Queries:          len(queries),
		K:                k,
		Target:           i.opts.RecallTarget,
		ConfiguredProbes: i.opts.MaxProbes,
	}
	m, err := v.measure(ctx, queries, k, rep.ConfiguredProbes)
	if err != nil {
		return rep, err
	}
	rep.Configured = m
	rep.Probes, rep.Achieved = rep.ConfiguredProbes, m

	if i.opts.Mode == ModeIVF && v.g.ivf != nil && rep.Probes > 0 && !rep.Met() {
		lists := len(v.g.ivf.lists)
		p := rep.Probes
		for m.Top1 < rep.Target && p != 0 {
			p *= 2
			if p >= lists {
				p = 0
			}
			if m, err = v.measure(ctx, queries, k, p); err != nil {
				return rep, err
			}
		}
		rep.Probes, rep.Achieved = p, m
	}

	i.probes.Store(int64(rep.Probes))
	metrics.IndexEffectiveProbes.Set(float64(rep.Probes))
	metrics.IndexRecallTop1.Set(rep.Achieved.Top1)
	fields := []zap.Field{
		zap.Int("queries", rep.Queries),
		zap.Float64("target", rep.Target),
		zap.Int("configured_probes", rep.ConfiguredProbes),
		zap.Float64("configured_top1", rep.Configured.Top1),
		zap.Int("probes", rep.Probes),
		zap.Float64("top1", rep.Achieved.Top1),
	}
	if rep.Met() {
		i.logger.Info("IVF recall calibrated", fields...)
	} else {
		i.logger.Warn("Configured max_probes misses the recall target, probe cap raised", fields...)
	}
	return rep, nil
}

func (v *View) measure(ctx context.Context, queries [][]float32, k, probes int) (Recall, error) {
	if len(queries) == 0 {
		return Recall{AtK: 1, Top1: 1}, nil
	}
	var atK, top1 float64
	for n, q := range queries {
		exact, err := v.search(ctx, q, k, false, 0)
		if err != nil {
			return Recall{}, fmt.Errorf("query %d exact: %w", n, err)
		}
		approx, err := v.search(ctx, q, k, true, probes)
		if err != nil {
			return Recall{}, fmt.Errorf("query %d: %w", n, err)
		}
		if len(exact) == 0 {
			atK++
			top1++
			continue
		}
		if len(approx) > 0 && approx[0].ID == exact[0].ID {
			top1++
		}
		want := make(map[string]struct{}, len(exact))
		for _, e := range exact {
			want[e.ID] = struct{}{}
		}
		hit := 0
		for _, a := range approx {
			if _, ok := want[a.ID]; ok {
				hit++
			}
		}
		atK += float64(hit) / float64(len(exact))
	}
	total := float64(len(queries))
	return Recall{AtK: atK / total, Top1: top1 / total}, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
