package kpdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	dbRedis "github.com/kailas-cloud/kpdex/internal/db/redis"
	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/category"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/history"
	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
	"github.com/kailas-cloud/kpdex/internal/domain/search/result"
	"github.com/kailas-cloud/kpdex/internal/index"
	documentrepo "github.com/kailas-cloud/kpdex/internal/repository/document"
	"github.com/kailas-cloud/kpdex/internal/repository/memory"
	"github.com/kailas-cloud/kpdex/internal/repository/sqlite"
	"github.com/kailas-cloud/kpdex/internal/snapshot"
	"github.com/kailas-cloud/kpdex/internal/transport/hashing"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/kpdex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/kpdex/internal/usecase/ingest"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
	searchuc "github.com/kailas-cloud/kpdex/internal/usecase/search"
)

const (
	defaultDimensions       = 256
	defaultReadinessTimeout = 10 * time.Second
)

// Internal interfaces, swapped for mocks in tests.
type searchUseCase interface {
	Query(ctx context.Context, req request.Request) (result.Page, error)
}

type ingestUseCase interface {
	Upsert(ctx context.Context, docs []domdoc.Document) []ingestuc.Result
	Delete(ctx context.Context, ids []string) []ingestuc.Result
}

type metadataReader interface {
	Get(ctx context.Context, id string) (domdoc.Document, error)
	Count(ctx context.Context) (int, error)
}

type classifyUseCase interface {
	Classify(ctx context.Context, vec []float32) (classifyuc.Result, error)
	ClassifyDocument(ctx context.Context, id string) (classifyuc.Result, error)
	TrainCentroids(ctx context.Context, attr domdoc.Attribute, version string, minMembers int) (*category.Set, error)
	SetCategories(set *category.Set) error
	SaveCategories(ctx context.Context) (string, error)
	Categories() *category.Set
}

type recommendUseCase interface {
	Recommend(ctx context.Context, h history.History, exclude []string, limit int) ([]recommenduc.Recommendation, error)
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

type vectorIndex interface {
	Save(ctx context.Context) (string, error)
	Len() int
}

// Client is the kpdex SDK entry point. It is safe for concurrent use.
type Client struct {
	closers     []func()
	persistent  bool
	index       vectorIndex
	meta        metadataReader
	docEmbed    domain.Embedder
	searchSvc   searchUseCase
	ingestSvc   ingestUseCase
	classifySvc classifyUseCase
	recSvc      recommendUseCase
	healthSvc   healthUseCase
	obs         *observer
}

// New creates an engine. With WithSnapshotDir the newest valid index
// snapshot and category set are restored. The provided context is used for
// connection and restore.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{metadata: "memory", dimensions: defaultDimensions}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.dimensions <= 0 {
		return nil, errors.New("kpdex: dimensions must be positive")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	c := &Client{obs: obs}
	if err := c.wire(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) wire(ctx context.Context, cfg *clientConfig) error {
	logger := zap.NewNop()

	type metadataStore interface {
		ingestuc.MetadataWriter
		searchuc.MetadataReader
		recommenduc.MetadataReader
		metadataReader
	}
	var (
		meta   metadataStore
		pinger healthuc.DBPinger
	)
	switch cfg.metadata {
	case "memory":
		meta = memory.NewStore()
	case "sqlite":
		s, err := sqlite.Open(cfg.sqlitePath)
		if err != nil {
			return fmt.Errorf("kpdex: %w", err)
		}
		c.closers = append(c.closers, func() { _ = s.Close() })
		meta, pinger = s, s
	case "redis":
		kv, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
		if err != nil {
			return fmt.Errorf("kpdex: create redis store: %w", err)
		}
		c.closers = append(c.closers, kv.Close)
		if err := kv.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			return fmt.Errorf("kpdex: database not ready: %w", err)
		}
		meta, pinger = documentrepo.New(kv), kv
	default:
		return fmt.Errorf("kpdex: unknown metadata store %q", cfg.metadata)
	}

	var store index.SnapshotStore
	if cfg.snapshotDir != "" {
		fs, err := snapshot.NewFSStore(cfg.snapshotDir)
		if err != nil {
			return fmt.Errorf("kpdex: %w", err)
		}
		store = fs
		c.persistent = true
	}

	mode := index.ModeExact
	if cfg.ivf {
		mode = index.ModeIVF
	}
	idx, err := index.New(index.Options{
		Dimensions:    cfg.dimensions,
		Mode:          mode,
		NList:         cfg.nlist,
		MaxProbes:     cfg.maxProbes,
		KeepSnapshots: cfg.keep,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("kpdex: create index: %w", err)
	}

	var emb interface {
		domain.Embedder
		domain.BatchEmbedder
		domain.HealthChecker
	}
	if cfg.embedder != nil {
		emb = &embedderAdapter{inner: cfg.embedder}
	} else {
		emb = hashing.NewEmbedder(cfg.dimensions, cfg.bigrams)
	}

	searchSvc, err := searchuc.New(meta, idx, emb, searchuc.Config{})
	if err != nil {
		return err
	}
	// Pass nil interface (not typed nil pointer!) when sets are not persisted.
	var sets classifyuc.SetStore
	if store != nil {
		sets = store
	}
	classifySvc, err := classifyuc.New(idx, meta, sets, classifyuc.Config{
		Threshold: cfg.threshold,
		MaxLabels: cfg.maxLabels,
		KeepSets:  cfg.keep,
	}, logger)
	if err != nil {
		return err
	}
	recSvc, err := recommenduc.New(idx, meta, recommenduc.Config{Decay: cfg.decay})
	if err != nil {
		return err
	}

	c.index = idx
	c.meta = meta
	c.docEmbed = emb
	c.searchSvc = searchSvc
	c.classifySvc = classifySvc
	c.recSvc = recSvc
	c.ingestSvc = ingestuc.New(meta, idx, emb, ingestuc.Config{MaxBatchSize: cfg.maxBatchSize}, logger)
	c.healthSvc = healthuc.New(pinger, emb, idx, logger)

	if store == nil {
		return nil
	}
	names, err := store.List(ctx, index.SnapshotPrefix)
	if err != nil {
		return fmt.Errorf("kpdex: list snapshots: %w", err)
	}
	if len(names) > 0 {
		if _, err := idx.Recover(ctx); err != nil {
			return fmt.Errorf("kpdex: restore index: %w", err)
		}
	}
	if _, err := classifySvc.LoadCategories(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("kpdex: restore categories: %w", err)
	}
	return nil
}

// Close releases all resources. It does not save a snapshot; call Save first.
func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Save writes an index snapshot and returns its name.
// It fails unless WithSnapshotDir was given.
func (c *Client) Save(ctx context.Context) (name string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("save", start, err) }()

	if !c.persistent {
		return "", errors.New("kpdex: snapshots not configured (use WithSnapshotDir)")
	}
	return c.index.Save(ctx)
}

// Len returns the number of indexed documents.
func (c *Client) Len() int { return c.index.Len() }

// Documents returns the document service.
func (c *Client) Documents() *DocumentService {
	return &DocumentService{ingest: c.ingestSvc, meta: c.meta, obs: c.obs}
}

// Search starts a filtered semantic query.
func (c *Client) Search() *SearchBuilder {
	return &SearchBuilder{svc: c.searchSvc, obs: c.obs}
}

// Categories returns the classification service.
func (c *Client) Categories() *CategoryService {
	return &CategoryService{svc: c.classifySvc, embed: c.docEmbed, persist: c.persistent, obs: c.obs}
}

// Recommend suggests up to limit documents similar to a consumption history
// (most recent first). History and excluded ids are never returned.
// limit 0 uses the default.
func (c *Client) Recommend(
	ctx context.Context, items []HistoryItem, exclude []string, limit int,
) (recs []Recommendation, err error) {
	start := time.Now()
	defer func() { c.obs.observe("recommend", start, err) }()

	hist := make([]history.Item, len(items))
	for i, it := range items {
		hist[i] = history.Item{ID: it.ID, Weight: it.Weight}
	}
	h, err := history.New(hist)
	if err != nil {
		return nil, err
	}
	out, err := c.recSvc.Recommend(ctx, h, exclude, limit)
	if err != nil {
		return nil, err
	}
	return recommendationsFromDomain(out), nil
}
