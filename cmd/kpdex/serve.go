package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain/search/request"
	chiTransport "github.com/kailas-cloud/kpdex/internal/transport/chi"
	"github.com/kailas-cloud/kpdex/internal/version"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger
	logger.Info("Starting kpdex",
		zap.String("env", a.env),
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.Int("port", cfg.HTTP.Port),
		zap.String("metadata", cfg.Metadata.Driver),
		zap.String("snapshots", cfg.Snapshot.Driver),
	)

	if err := a.restore(ctx); err != nil {
		return err
	}
	a.calibrate(ctx)
	info := a.index.Generation()
	logger.Info("Index ready",
		zap.Uint64("seq", info.Seq),
		zap.Int("vectors", info.Len),
		zap.Bool("trained", info.Trained),
		zap.Int("probes", a.index.Probes()),
	)

	server := chiTransport.NewServer(
		a.search, a.recommend, a.classify, a.docEmbedder, a.health,
		request.Limits{Default: cfg.Query.DefaultPageSize, Max: cfg.Query.MaxPageSize},
		logger,
	)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	if a.snapshots != nil && cfg.Snapshot.IntervalSec > 0 {
		go a.syncLoop(syncCtx, time.Duration(cfg.Snapshot.IntervalSec)*time.Second)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	stopSync()

	logger.Info("Server stopped gracefully")
	return nil
}

// syncLoop installs index snapshots and category sets that other processes
// (kpdex ingest, kpdex categories train) save to the shared store.
func (a *app) syncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sync(ctx)
		}
	}
}

// sync runs one refresh of the index and the category set.
func (a *app) sync(ctx context.Context) {
	name, err := a.index.Refresh(ctx)
	switch {
	case err != nil:
		a.logger.Warn("Index refresh failed", zap.Error(err))
	case name != "":
		a.calibrate(ctx)
	}

	if name, err := a.classify.RefreshCategories(ctx); err != nil {
		a.logger.Warn("Category set refresh failed", zap.Error(err))
	} else if name != "" {
		a.logger.Info("Category set refreshed", zap.String("name", name))
	}
}
