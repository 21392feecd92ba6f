package kpdex

import (
	"context"

	"github.com/kailas-cloud/kpdex/internal/domain/category"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/history"
	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/kpdex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/kpdex/internal/usecase/ingest"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
)

// --- searchUseCase mock ---

type mockSearchUC struct {
	queryFn func(ctx context.Context, req request.Request) (result.Page, error)
}

func (m *mockSearchUC) Query(ctx context.Context, req request.Request) (result.Page, error) {
	return m.queryFn(ctx, req)
}

// --- ingestUseCase mock ---

type mockIngestUC struct {
	upsertFn func(ctx context.Context, docs []domdoc.Document) []ingestuc.Result
	deleteFn func(ctx context.Context, ids []string) []ingestuc.Result
}

func (m *mockIngestUC) Upsert(ctx context.Context, docs []domdoc.Document) []ingestuc.Result {
	return m.upsertFn(ctx, docs)
}

func (m *mockIngestUC) Delete(ctx context.Context, ids []string) []ingestuc.Result {
	return m.deleteFn(ctx, ids)
}

// --- metadataReader mock ---

type mockMeta struct {
	getFn   func(ctx context.Context, id string) (domdoc.Document, error)
	countFn func(ctx context.Context) (int, error)
}

func (m *mockMeta) Get(ctx context.Context, id string) (domdoc.Document, error) {
	return m.getFn(ctx, id)
}

func (m *mockMeta) Count(ctx context.Context) (int, error) {
	return m.countFn(ctx)
}

// --- classifyUseCase mock ---

type mockClassifyUC struct {
	classifyFn    func(ctx context.Context, vec []float32) (classifyuc.Result, error)
	classifyDocFn func(ctx context.Context, id string) (classifyuc.Result, error)
	trainFn       func(ctx context.Context, attr domdoc.Attribute, version string, minMembers int) (*category.Set, error)
	setFn         func(set *category.Set) error
	saveFn        func(ctx context.Context) (string, error)
	current       *category.Set
}

func (m *mockClassifyUC) Classify(ctx context.Context, vec []float32) (classifyuc.Result, error) {
	return m.classifyFn(ctx, vec)
}

func (m *mockClassifyUC) ClassifyDocument(ctx context.Context, id string) (classifyuc.Result, error) {
	return m.classifyDocFn(ctx, id)
}

func (m *mockClassifyUC) TrainCentroids(
	ctx context.Context, attr domdoc.Attribute, version string, minMembers int,
) (*category.Set, error) {
	return m.trainFn(ctx, attr, version, minMembers)
}

func (m *mockClassifyUC) SetCategories(set *category.Set) error {
	if m.setFn != nil {
		if err := m.setFn(set); err != nil {
			return err
		}
	}
	m.current = set
	return nil
}

func (m *mockClassifyUC) SaveCategories(ctx context.Context) (string, error) {
	return m.saveFn(ctx)
}

func (m *mockClassifyUC) Categories() *category.Set { return m.current }

// --- recommendUseCase mock ---

type mockRecommendUC struct {
	recommendFn func(ctx context.Context, h history.History, exclude []string, limit int) ([]recommenduc.Recommendation, error)
}

func (m *mockRecommendUC) Recommend(
	ctx context.Context, h history.History, exclude []string, limit int,
) ([]recommenduc.Recommendation, error) {
	return m.recommendFn(ctx, h, exclude, limit)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(_ context.Context) healthuc.Report { return m.report }
