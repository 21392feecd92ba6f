// Package recommend ranks unseen documents by similarity to a recency-weighted
// aggregate of a user's interaction history.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/history"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/index"
	"github.com/kailas-cloud/kpdex/internal/logger"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

const opRecommend = "recommend"

// Defaults for Config.
const (
	DefaultLimit   = 20
	MaxLimit       = 100
	MaxExclude     = 1000
	maxWidenRounds = 4
	maxLoggedIDs   = 10
)

// Config tunes recommendation scoring.
type Config struct {
	// Decay is the per-position recency factor in (0,1]. 1 weighs all history equally.
	Decay        float64
	DefaultLimit int
	Timeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.Decay == 0 {
		c.Decay = history.DefaultDecay
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
}

func (c *Config) validate() error {
	if c.Decay < 0 || c.Decay > 1 {
		return fmt.Errorf("recommend decay must be in (0,1], got %v", c.Decay)
	}
	if c.DefaultLimit > MaxLimit {
		return fmt.Errorf("recommend default limit must be <= %d, got %d", MaxLimit, c.DefaultLimit)
	}
	return nil
}

// Recommendation is a ranked document. Score is a similarity score and is
// only comparable with other recommendations.
type Recommendation struct {
	ID       string
	Score    float64
	Document domdoc.Document
}

// Service produces personalized recommendations.
type Service struct {
	index VectorIndex
	meta  MetadataReader
	cfg   Config
}

// New creates a recommendation service.
func New(idx VectorIndex, meta MetadataReader, cfg Config) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return &Service{index: idx, meta: meta, cfg: cfg}, nil
}

// Recommend returns up to limit documents most similar to the history
// aggregate, never including history or excluded ids. An empty history (or
// one whose ids are all unknown) yields an empty list, not an error. A
// non-positive limit uses the configured default.
func (s *Service) Recommend(
	ctx context.Context, h history.History, exclude []string, limit int,
) (recs []Recommendation, err error) {
	start := time.Now()
	defer func() { metrics.ObserveEngine(opRecommend, time.Since(start).Seconds(), err) }()

	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > MaxLimit {
		return nil, domain.NewOpError(opRecommend, "", domain.Invalidf("limit must be <= %d, got %d", MaxLimit, limit))
	}
	if len(exclude) > MaxExclude {
		return nil, domain.NewOpError(opRecommend, "", domain.Invalidf("too many excluded ids (max %d)", MaxExclude))
	}
	if h.IsEmpty() {
		return []Recommendation{}, nil
	}
	if s.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
	}
	if err := domain.FromContext(ctx); err != nil {
		return nil, domain.NewOpError(opRecommend, "", err)
	}

	view := s.index.View()
	agg, resolved := s.aggregate(ctx, view, h)
	if agg == nil {
		logger.FromContext(ctx).Info("No history vectors resolved, nothing to recommend",
			zap.Int("history", h.Len()), zap.Int("resolved", resolved))
		return []Recommendation{}, nil
	}

	skip := make(map[string]struct{}, len(exclude)+h.Len())
	for _, id := range exclude {
		skip[strings.TrimSpace(id)] = struct{}{}
	}
	for _, id := range h.IDs() {
		skip[id] = struct{}{}
	}

	n := view.Len()
	k := min(limit+len(exclude)+h.Len(), n)
	for round := 0; ; round++ {
		neighbors, err := view.Search(ctx, agg, k)
		if err != nil {
			return nil, wrapErr(ctx, "search neighbors", err)
		}
		recs, err = s.join(ctx, neighbors, skip, limit)
		if err != nil {
			return nil, err
		}
		if len(recs) >= limit || k >= n || round >= maxWidenRounds {
			break
		}
		k = min(2*k, n)
	}
	return recs, nil
}

// aggregate returns the recency-weighted mean of the resolvable history
// vectors, nil when none resolve or they cancel out.
func (s *Service) aggregate(ctx context.Context, view *index.View, h history.History) ([]float32, int) {
	weighted := h.RecencyWeights(s.cfg.Decay)
	vecs := make([][]float32, 0, len(weighted))
	weights := make([]float64, 0, len(weighted))
	var missing []string
	for _, w := range weighted {
		vec, ok := view.Get(w.ID)
		if !ok {
			missing = append(missing, w.ID)
			continue
		}
		vecs = append(vecs, vec)
		weights = append(weights, w.Weight)
	}
	logSkipped(ctx, "history ids not in the index", "history_missing", missing)

	agg := vector.WeightedMean(vecs, weights)
	if agg == nil || vector.IsZero(agg) {
		return nil, len(vecs)
	}
	return agg, len(vecs)
}

// join drops skipped ids and ids without metadata, keeping neighbor order.
func (s *Service) join(
	ctx context.Context, neighbors []index.Neighbor, skip map[string]struct{}, limit int,
) ([]Recommendation, error) {
	ids := make([]string, 0, len(neighbors))
	for _, nb := range neighbors {
		if _, ok := skip[nb.ID]; !ok {
			ids = append(ids, nb.ID)
		}
	}
	if len(ids) == 0 {
		return []Recommendation{}, nil
	}
	docs, err := s.meta.GetMany(ctx, ids)
	if err != nil {
		return nil, wrapErr(ctx, "load metadata", err)
	}

	out := make([]Recommendation, 0, min(limit, len(ids)))
	var missing []string
	for _, nb := range neighbors {
		if len(out) == limit {
			break
		}
		if _, ok := skip[nb.ID]; ok {
			continue
		}
		doc, ok := docs[nb.ID]
		if !ok {
			missing = append(missing, nb.ID)
			continue
		}
		out = append(out, Recommendation{ID: nb.ID, Score: nb.Score, Document: doc})
	}
	logSkipped(ctx, "indexed ids without metadata", "missing_metadata", missing)
	return out, nil
}

func logSkipped(ctx context.Context, msg, reason string, ids []string) {
	if len(ids) == 0 {
		return
	}
	metrics.DegradedInputTotal.WithLabelValues(opRecommend, reason).Add(float64(len(ids)))
	logger.FromContext(ctx).Warn("Skipping "+msg,
		zap.String("operation", opRecommend),
		zap.Int("count", len(ids)),
		zap.Strings("ids", ids[:min(len(ids), maxLoggedIDs)]),
	)
}

func wrapErr(ctx context.Context, what string, err error) error {
	if ctxErr := domain.FromContext(ctx); ctxErr != nil && !errors.Is(err, domain.ErrTimeout) {
		return domain.NewOpError(opRecommend, "", ctxErr)
	}
	return domain.NewOpError(opRecommend, "", fmt.Errorf("%s: %w", what, err))
}
