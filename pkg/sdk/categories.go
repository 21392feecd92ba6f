package kpdex

import (
	"context"
	"time"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
)

// CategoryService trains category centroids and classifies documents.
type CategoryService struct {
	svc     classifyUseCase
	embed   domain.Embedder
	persist bool
	obs     *observer
}

// CategoryInfo describes one trained category.
type CategoryInfo struct {
	Label   string
	Members int
}

// Train builds one category per distinct value of attribute from the indexed
// documents and installs the set. Values with fewer than minMembers
// documents are dropped. The set is persisted when snapshots are configured.
func (s *CategoryService) Train(
	ctx context.Context, attribute string, minMembers int,
) (cats []CategoryInfo, err error) {
	start := time.Now()
	defer func() { s.obs.observe("train_categories", start, err) }()

	set, err := s.svc.TrainCentroids(ctx, domdoc.Attribute(attribute), "", minMembers)
	if err != nil {
		return nil, err
	}
	if err = s.svc.SetCategories(set); err != nil {
		return nil, err
	}
	if s.persist {
		if _, err = s.svc.SaveCategories(ctx); err != nil {
			return nil, err
		}
	}

	for _, c := range set.Categories() {
		cats = append(cats, CategoryInfo{Label: c.Label(), Members: c.Members()})
	}
	return cats, nil
}

// Version returns the active category set version, "" before training.
func (s *CategoryService) Version() string {
	if set := s.svc.Categories(); set != nil {
		return set.Version()
	}
	return ""
}

// ClassifyDocument labels an indexed document.
func (s *CategoryService) ClassifyDocument(ctx context.Context, id string) (c Classification, err error) {
	start := time.Now()
	defer func() { s.obs.observe("classify", start, err) }()

	r, err := s.svc.ClassifyDocument(ctx, id)
	if err != nil {
		return Classification{}, err
	}
	return classificationFromDomain(r), nil
}

// ClassifyText embeds text and labels it.
func (s *CategoryService) ClassifyText(ctx context.Context, text string) (c Classification, err error) {
	start := time.Now()
	defer func() { s.obs.observe("classify", start, err) }()

	emb, err := s.embed.Embed(ctx, text)
	if err != nil {
		return Classification{}, err
	}
	r, err := s.svc.Classify(ctx, emb.Embedding)
	if err != nil {
		return Classification{}, err
	}
	return classificationFromDomain(r), nil
}

// ClassifyVector labels a precomputed embedding.
func (s *CategoryService) ClassifyVector(ctx context.Context, vec []float32) (c Classification, err error) {
	start := time.Now()
	defer func() { s.obs.observe("classify", start, err) }()

	r, err := s.svc.Classify(ctx, vec)
	if err != nil {
		return Classification{}, err
	}
	return classificationFromDomain(r), nil
}
