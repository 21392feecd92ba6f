package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/config"
	dbRedis "github.com/kailas-cloud/kpdex/internal/db/redis"
	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
	"github.com/kailas-cloud/kpdex/internal/index"
	logpkg "github.com/kailas-cloud/kpdex/internal/logger"
	"github.com/kailas-cloud/kpdex/internal/metrics"
	documentrepo "github.com/kailas-cloud/kpdex/internal/repository/document"
	"github.com/kailas-cloud/kpdex/internal/repository/embcache"
	"github.com/kailas-cloud/kpdex/internal/repository/memory"
	"github.com/kailas-cloud/kpdex/internal/repository/sqlite"
	"github.com/kailas-cloud/kpdex/internal/snapshot"
	"github.com/kailas-cloud/kpdex/internal/transport/hashing"
	openaiEmb "github.com/kailas-cloud/kpdex/internal/transport/openai"
	classifyuc "github.com/kailas-cloud/kpdex/internal/usecase/classify"
	embeddinguc "github.com/kailas-cloud/kpdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/kpdex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/kpdex/internal/usecase/ingest"
	recommenduc "github.com/kailas-cloud/kpdex/internal/usecase/recommend"
	searchuc "github.com/kailas-cloud/kpdex/internal/usecase/search"
)

// metadataStore is what the composition root needs from any metadata driver.
type metadataStore interface {
	PutMany(ctx context.Context, docs []domdoc.Document) error
	GetMany(ctx context.Context, ids []string) (map[string]domdoc.Document, error)
	Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// embedder is the full decorator chain contract.
type embedder interface {
	domain.Embedder
	domain.BatchEmbedder
	domain.HealthChecker
}

// app is the wired object graph shared by all subcommands.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger

	kv        *dbRedis.Store
	meta      metadataStore
	metaPing  healthuc.DBPinger
	snapshots index.SnapshotStore
	index     *index.Index

	docEmbedder   embedder
	queryEmbedder embedder

	search    *searchuc.Service
	classify  *classifyuc.Service
	recommend *recommenduc.Service
	ingest    *ingestuc.Service
	health    *healthuc.Service

	closers []func()
}

func loadConfig(flags *globalFlags) (string, config.Config, error) {
	env := flags.env
	if env == "" {
		env = config.GetEnv()
	}
	var (
		cfg config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return "", config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return env, cfg, nil
}

// newApp loads configuration and wires every component.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	env, cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{env: env, cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterEngineMetrics()
	metrics.RegisterIndexMetrics()

	if cfg.NeedsRedis() {
		kv, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return fmt.Errorf("create redis store: %w", err)
		}
		a.kv = kv
		a.closers = append(a.closers, kv.Close)
		if err := kv.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
		a.logger.Info("Connected to redis", zap.Strings("addrs", cfg.Database.Addrs))
	}

	if err := a.wireMetadata(); err != nil {
		return err
	}
	if err := a.wireSnapshots(); err != nil {
		return err
	}

	idx, err := index.New(index.Options{
		Dimensions:     cfg.Index.Dimensions,
		Metric:         vector.Metric(cfg.Index.Metric),
		Mode:           index.Mode(cfg.Index.Mode),
		NList:          cfg.Index.NList,
		MaxProbes:      cfg.Index.MaxProbes,
		TrainThreshold: cfg.Index.TrainThreshold,
		ScanBatch:      cfg.Index.ScanBatch,
		Workers:        cfg.Index.Workers,
		Seed:           cfg.Index.Seed,
		KeepSnapshots:  cfg.Snapshot.Keep,
		RecallTarget:   cfg.Index.RecallTarget,
	}, a.snapshots, a.logger)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	a.index = idx

	a.docEmbedder = a.buildEmbedder(cfg.Embedding.DocumentInstruction)
	a.queryEmbedder = a.buildEmbedder(cfg.Embedding.QueryInstruction)
	a.logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", a.kv != nil && cfg.Embedding.Cache),
	)

	a.search, err = searchuc.New(a.meta, idx, a.queryEmbedder, searchuc.Config{
		Oversample:     cfg.Query.Oversample,
		MaxK:           cfg.Query.MaxK,
		MaxWidenRounds: cfg.Query.MaxWidenRounds,
		Order:          searchuc.Order(cfg.Query.Order),
		Timeout:        cfg.Query.QueryTimeout(),
	})
	if err != nil {
		return fmt.Errorf("create search service: %w", err)
	}

	// Pass nil interface (not typed nil pointer!) when category sets are not persisted.
	var sets classifyuc.SetStore
	if a.snapshots != nil {
		sets = a.snapshots
	}
	a.classify, err = classifyuc.New(idx, a.meta, sets, classifyuc.Config{
		Threshold: cfg.Classify.Threshold,
		MaxLabels: cfg.Classify.MaxLabels,
		KeepSets:  cfg.Classify.KeepSets,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create classify service: %w", err)
	}

	a.recommend, err = recommenduc.New(idx, a.meta, recommenduc.Config{
		Decay:        cfg.Recommend.Decay,
		DefaultLimit: cfg.Recommend.DefaultLimit,
		Timeout:      cfg.Recommend.RecommendTimeout(),
	})
	if err != nil {
		return fmt.Errorf("create recommend service: %w", err)
	}

	a.ingest = ingestuc.New(a.meta, idx, a.docEmbedder, ingestuc.Config{
		MaxBatchSize: cfg.Ingest.MaxBatchSize,
		ChunkSize:    cfg.Ingest.ChunkSize,
		Concurrency:  cfg.Ingest.Concurrency,
		Retries:      cfg.Ingest.Retries,
	}, a.logger)

	a.health = healthuc.New(a.metaPing, a.docEmbedder, idx, a.logger)
	return nil
}

func (a *app) wireMetadata() error {
	switch a.cfg.Metadata.Driver {
	case "memory":
		a.meta = memory.NewStore()
		a.logger.Warn("Using the in-memory metadata store; documents are lost on restart")
	case "sqlite":
		s, err := sqlite.Open(a.cfg.Metadata.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite metadata store: %w", err)
		}
		a.meta, a.metaPing = s, s
		a.closers = append(a.closers, func() { _ = s.Close() })
	case "redis":
		a.meta, a.metaPing = documentrepo.New(a.kv), a.kv
	default:
		return fmt.Errorf("unknown metadata driver %q", a.cfg.Metadata.Driver)
	}
	return nil
}

func (a *app) wireSnapshots() error {
	sc := a.cfg.Snapshot
	switch sc.Driver {
	case "none":
	case "fs":
		s, err := snapshot.NewFSStore(sc.Dir)
		if err != nil {
			return err
		}
		a.snapshots = s
	case "redis":
		a.snapshots = snapshot.NewRedisStore(a.kv, sc.KeyPrefix)
	case "s3":
		client := snapshot.NewS3Client(snapshot.S3Config{
			Endpoint:  sc.S3.Endpoint,
			Region:    sc.S3.Region,
			AccessKey: sc.S3.AccessKey,
			SecretKey: sc.S3.SecretKey,
			Bucket:    sc.S3.Bucket,
			Prefix:    sc.S3.Prefix,
			PathStyle: sc.S3.PathStyle,
		})
		s, err := snapshot.NewS3Store(client, sc.S3.Bucket, sc.S3.Prefix)
		if err != nil {
			return err
		}
		a.snapshots = s
	default:
		return fmt.Errorf("unknown snapshot driver %q", sc.Driver)
	}
	return nil
}

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented -> Instruction
func (a *app) buildEmbedder(instruction string) embedder {
	ec := a.cfg.Embedding

	var base domain.Embedder
	switch ec.Provider {
	case "openai":
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			Provider:   ec.Provider,
			Timeout:    time.Duration(ec.TimeoutSec) * time.Second,
			Logger:     a.logger,
		})
	default:
		base = hashing.NewEmbedder(ec.Dimensions, ec.Bigrams)
	}

	model := ec.Model
	if model == "" {
		model = ec.Provider
	}
	if ec.Cache && a.kv != nil {
		base = embcache.New(base, a.kv, model, metrics.EmbeddingCacheTotal, a.logger)
	}

	var out embedder = embeddinguc.NewInstrumentedEmbedder(base, ec.Provider, model, ec.Dimensions, a.logger)

	// Instruction prefix (outermost, so the cache key includes the instruction)
	if instruction != "" {
		out = domain.NewInstructionEmbedder(out, instruction)
	}
	return out
}

// restore installs the newest valid index snapshot and category set, if any.
func (a *app) restore(ctx context.Context) error {
	if a.snapshots == nil {
		a.logger.Info("Snapshots disabled, starting with an empty index")
		return nil
	}
	names, err := a.snapshots.List(ctx, index.SnapshotPrefix)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(names) == 0 {
		a.logger.Info("No index snapshot found, starting with an empty index")
	} else if _, err := a.index.Recover(ctx); err != nil {
		return fmt.Errorf("restore index: %w", err)
	}

	if _, err := a.classify.LoadCategories(ctx); err != nil {
		a.logger.Info("No category set restored", zap.Error(err))
	}
	return nil
}

// calibrate raises the IVF probe cap until the configured recall target is
// met on queries sampled from the current generation.
func (a *app) calibrate(ctx context.Context) {
	if a.cfg.Index.RecallTarget <= 0 || a.index.Options().Mode != index.ModeIVF || a.index.Len() == 0 {
		return
	}
	queries := a.index.SampleQueries(a.cfg.Index.CalibrationQueries, index.DefaultRecallNoise)
	if _, err := a.index.Calibrate(ctx, queries, 1); err != nil {
		a.logger.Warn("Recall calibration failed", zap.Error(err))
	}
}

// Close releases connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
