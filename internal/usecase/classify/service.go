// Package classify assigns category labels to documents by similarity to
// category centroids.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/category"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

const opClassify = "classify"

// Defaults for Config.
const (
	DefaultThreshold = 0.75
	DefaultMaxLabels = 3
)

// Config tunes label selection.
type Config struct {
	// Threshold is the minimum confidence in [0,1] for a label to be returned.
	// Nil means DefaultThreshold; zero returns every category up to MaxLabels.
	Threshold *float64
	MaxLabels int
	// KeepSets bounds persisted category sets; 0 keeps all.
	KeepSets int
}

func (c *Config) applyDefaults() {
	if c.Threshold == nil {
		t := DefaultThreshold
		c.Threshold = &t
	}
	if c.MaxLabels <= 0 {
		c.MaxLabels = DefaultMaxLabels
	}
}

func (c *Config) validate() error {
	if t := *c.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("classify threshold must be in [0,1], got %v", t)
	}
	return nil
}

// Label is a category with the confidence it applies.
type Label struct {
	Category   string
	Confidence float64
}

// Result is the outcome of classifying one vector. No labels means the
// document is uncategorized, which is not an error.
type Result struct {
	Labels     []Label
	SetVersion string
}

// Uncategorized reports whether no category reached the threshold.
func (r Result) Uncategorized() bool { return len(r.Labels) == 0 }

// Service classifies vectors against the current category set.
type Service struct {
	index  VectorIndex
	meta   MetadataReader
	store  SetStore
	cfg    Config
	set    atomic.Pointer[category.Set]
	logger *zap.Logger

	mu     sync.Mutex
	synced string // newest persisted set name saved, loaded or seen
}

// New creates a classification service. store may be nil when category sets
// are not persisted.
func New(idx VectorIndex, meta MetadataReader, store SetStore, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return &Service{index: idx, meta: meta, store: store, cfg: cfg, logger: logger}, nil
}

// Categories returns the active category set, nil before one is installed.
func (s *Service) Categories() *category.Set { return s.set.Load() }

// SetCategories atomically replaces the active category set. In-flight
// classifications keep using the set they started with.
func (s *Service) SetCategories(set *category.Set) error {
	if set == nil {
		return domain.Invalidf("category set is nil")
	}
	if set.Len() > 0 && set.Dimensions() != s.index.Dimensions() {
		return fmt.Errorf("%w: category set has %d dimensions, index has %d",
			domain.ErrDimensionMismatch, set.Dimensions(), s.index.Dimensions())
	}
	prev := s.set.Swap(set)
	fields := []zap.Field{zap.String("version", set.Version()), zap.Int("categories", set.Len())}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Version()))
	}
	s.logger.Info("Category set installed", fields...)
	return nil
}

// Classify labels a vector. Labels are sorted by confidence descending, ties
// by category label, and capped at MaxLabels.
func (s *Service) Classify(ctx context.Context, vec []float32) (res Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveEngine(opClassify, time.Since(start).Seconds(), err) }()

	set := s.set.Load()
	if err := domain.FromContext(ctx); err != nil {
		return Result{}, domain.NewOpError(opClassify, "", err)
	}
	dim := s.index.Dimensions()
	if set != nil && set.Len() > 0 {
		dim = set.Dimensions()
	}
	if err := vector.Validate(vec, dim); err != nil {
		return Result{}, domain.NewOpError(opClassify, "", err)
	}
	q, ok := vector.Normalized(vec)
	if !ok {
		return Result{}, domain.NewOpError(opClassify, "", domain.Invalidf("cannot classify a zero vector"))
	}
	res = Result{Labels: s.score(q, set)}
	if set != nil {
		res.SetVersion = set.Version()
	}
	if res.Uncategorized() {
		metrics.ClassifyLabelsTotal.WithLabelValues("uncategorized").Inc()
	} else {
		metrics.ClassifyLabelsTotal.WithLabelValues("labeled").Inc()
	}
	return res, nil
}

// ClassifyDocument labels an indexed document. An unknown id is ErrNotFound.
func (s *Service) ClassifyDocument(ctx context.Context, id string) (Result, error) {
	vec, ok := s.index.View().Get(id)
	if !ok {
		return Result{}, domain.NewOpError(opClassify, id, domain.ErrNotFound)
	}
	res, err := s.Classify(ctx, vec)
	if err != nil {
		var opErr *domain.OpError
		if errors.As(err, &opErr) {
			opErr.ID = id
		}
		return Result{}, err
	}
	return res, nil
}

// score computes per-category confidence (1+cos)/2 for a unit vector q and
// applies threshold and cap.
func (s *Service) score(q []float32, set *category.Set) []Label {
	if set == nil {
		return nil
	}
	var labels []Label
	for _, c := range set.Categories() {
		cos := vector.Dot(q, c.Centroid())
		conf := math.Max(0, math.Min(1, (1+cos)/2))
		if conf >= *s.cfg.Threshold {
			labels = append(labels, Label{Category: c.Label(), Confidence: conf})
		}
	}
	slices.SortFunc(labels, func(a, b Label) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return strings.Compare(a.Category, b.Category)
	})
	if len(labels) > s.cfg.MaxLabels {
		labels = labels[:s.cfg.MaxLabels]
	}
	return labels
}
