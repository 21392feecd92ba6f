package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/category"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/index"
)

// SetPrefix namespaces category sets within a snapshot store.
const SetPrefix = "categories-"

const ctxCheckEvery = 1024

// TrainCentroids builds a category set with one category per distinct value
// of attr. Each centroid is the mean of its members' indexed vectors; values
// with fewer than minMembers indexed documents are dropped. The set is
// returned, not installed. An empty version gets a generated one.
func (s *Service) TrainCentroids(
	ctx context.Context, attr domdoc.Attribute, version string, minMembers int,
) (*category.Set, error) {
	const op = "classify.train"
	if !attr.IsFilterable() {
		return nil, domain.NewOpError(op, "", domain.Invalidf("cannot train categories from attribute %q", attr))
	}
	if version == "" {
		version = uuid.NewString()
	}
	minMembers = max(1, minMembers)

	docs, err := s.meta.Match(ctx, predicate.Predicate{})
	if err != nil {
		return nil, domain.NewOpError(op, "", fmt.Errorf("list documents: %w", err))
	}

	type group struct {
		label string
		vecs  [][]float32
	}
	view := s.index.View()
	groups := make(map[string]*group)
	missing := 0
	for n := range docs {
		if n%ctxCheckEvery == 0 {
			if err := domain.FromContext(ctx); err != nil {
				return nil, domain.NewOpError(op, "", err)
			}
		}
		raw := strings.TrimSpace(docs[n].Get(attr))
		key := domdoc.NormalizeText(raw)
		if key == "" {
			continue
		}
		vec, ok := view.Get(docs[n].ID())
		if !ok {
			missing++
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{label: raw}
			groups[key] = g
		}
		g.vecs = append(g.vecs, vec)
	}
	if missing > 0 {
		s.logger.Warn("Documents without vectors skipped during training",
			zap.String("attribute", string(attr)), zap.Int("count", missing))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	cats := make([]category.Category, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		if len(g.vecs) < minMembers {
			continue
		}
		weights := make([]float64, len(g.vecs))
		for i := range weights {
			weights[i] = 1
		}
		c, err := category.New(g.label, vector.WeightedMean(g.vecs, weights), len(g.vecs))
		if err != nil {
			s.logger.Warn("Skipping degenerate category", zap.String("label", g.label), zap.Error(err))
			continue
		}
		cats = append(cats, c)
	}

	set, err := category.NewSet(version, cats)
	if err != nil {
		return nil, domain.NewOpError(op, "", err)
	}
	s.logger.Info("Category centroids trained",
		zap.String("attribute", string(attr)),
		zap.String("version", version),
		zap.Int("categories", set.Len()),
		zap.Int("documents", len(docs)),
	)
	return set, nil
}

// CorpusReport summarizes a corpus classification pass.
type CorpusReport struct {
	SetVersion    string
	Documents     int
	Labeled       int
	Uncategorized int
	PerLabel      map[string]int
}

// ClassifyCorpus classifies every vector of the current index generation
// against the active set, calling fn (when non-nil) per document in id order.
func (s *Service) ClassifyCorpus(
	ctx context.Context, fn func(id string, res Result) error,
) (CorpusReport, error) {
	const op = "classify.corpus"
	set := s.set.Load()
	rep := CorpusReport{PerLabel: make(map[string]int)}
	if set != nil {
		rep.SetVersion = set.Version()
	}

	err := s.index.View().Range(ctx, func(id string, vec []float32) error {
		var labels []Label
		if q, ok := vector.Normalized(vec); ok {
			labels = s.score(q, set)
		}
		rep.Documents++
		if len(labels) == 0 {
			rep.Uncategorized++
		} else {
			rep.Labeled++
			for _, l := range labels {
				rep.PerLabel[l.Category]++
			}
		}
		if fn != nil {
			return fn(id, Result{Labels: labels, SetVersion: rep.SetVersion})
		}
		return nil
	})
	if err != nil {
		return CorpusReport{}, domain.NewOpError(op, "", err)
	}
	s.logger.Info("Corpus classified",
		zap.String("version", rep.SetVersion),
		zap.Int("documents", rep.Documents),
		zap.Int("labeled", rep.Labeled),
		zap.Int("uncategorized", rep.Uncategorized),
	)
	return rep, nil
}

// SaveCategories persists the active category set and returns its name.
func (s *Service) SaveCategories(ctx context.Context) (string, error) {
	const op = "classify.save"
	if s.store == nil {
		return "", domain.NewOpError(op, "", errors.New("no category store configured"))
	}
	set := s.set.Load()
	if set == nil {
		return "", domain.NewOpError(op, "", domain.Invalidf("no category set installed"))
	}
	data, err := json.Marshal(set)
	if err != nil {
		return "", domain.NewOpError(op, "", fmt.Errorf("encode category set: %w", err))
	}
	name := index.SnapshotName(SetPrefix, time.Now().UTC(), safeName(set.Version()))
	if err := s.store.Save(ctx, name, data); err != nil {
		return "", domain.NewOpError(op, name, err)
	}
	if s.cfg.KeepSets > 0 {
		if err := s.store.Prune(ctx, SetPrefix, s.cfg.KeepSets); err != nil {
			s.logger.Warn("Failed to prune category sets", zap.Error(err))
		}
	}
	s.markSynced(name)
	s.logger.Info("Category set saved", zap.String("name", name), zap.String("version", set.Version()))
	return name, nil
}

// LoadCategories installs the newest persisted category set that decodes and
// matches the index dimensions, skipping corrupt ones.
func (s *Service) LoadCategories(ctx context.Context) (string, error) {
	const op = "classify.load"
	if s.store == nil {
		return "", domain.NewOpError(op, "", errors.New("no category store configured"))
	}
	names, err := s.store.List(ctx, SetPrefix)
	if err != nil {
		return "", domain.NewOpError(op, "", fmt.Errorf("list category sets: %w", err))
	}
	for _, name := range names {
		data, err := s.store.Load(ctx, name)
		if err != nil {
			if ctxErr := domain.FromContext(ctx); ctxErr != nil {
				return "", domain.NewOpError(op, name, ctxErr)
			}
			s.logger.Warn("Skipping unreadable category set", zap.String("name", name), zap.Error(err))
			continue
		}
		set, err := category.Decode(data)
		if err != nil {
			s.logger.Warn("Skipping corrupt category set", zap.String("name", name), zap.Error(err))
			continue
		}
		if err := s.SetCategories(set); err != nil {
			s.logger.Warn("Skipping incompatible category set", zap.String("name", name), zap.Error(err))
			continue
		}
		s.markSynced(names[0])
		return name, nil
	}
	return "", domain.NewOpError(op, "", fmt.Errorf("no usable category set: %w", domain.ErrNotFound))
}

// RefreshCategories installs the newest persisted category set when one was
// saved after the last set this service saved or loaded, picking up sets
// trained by other processes. It returns the installed name, or "" when the
// active set is current.
func (s *Service) RefreshCategories(ctx context.Context) (string, error) {
	const op = "classify.refresh"
	if s.store == nil {
		return "", domain.NewOpError(op, "", errors.New("no category store configured"))
	}
	names, err := s.store.List(ctx, SetPrefix)
	if err != nil {
		return "", domain.NewOpError(op, "", fmt.Errorf("list category sets: %w", err))
	}
	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()
	if len(names) == 0 || names[0] <= synced {
		return "", nil
	}
	name, err := s.LoadCategories(ctx)
	// unusable newer sets are not retried every refresh
	s.markSynced(names[0])
	if err != nil {
		return "", err
	}
	return name, nil
}

func (s *Service) markSynced(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name > s.synced {
		s.synced = name
	}
}

func safeName(version string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, version)
}
