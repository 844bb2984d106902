package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/timmy/clipsearch/internal/api"
	"github.com/timmy/clipsearch/internal/api/handler"
	"github.com/timmy/clipsearch/internal/api/middleware"
	"github.com/timmy/clipsearch/internal/bootstrap"
	"github.com/timmy/clipsearch/internal/config"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/service"
)

// resumeLimit bounds how many interrupted ingestions are resumed at startup.
const resumeLimit = 1000

// remoteBuilder runs manual builds in-process but routes trigger hints to the
// standalone indexer.
type remoteBuilder struct {
	*service.IndexBuilder
	notifier service.BuildNotifier
}

func (b remoteBuilder) Notify(ctx context.Context, name string) {
	b.notifier.Notify(ctx, name)
}

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.NewFromEnv(logger.LoadFromEnvFor("clipsearch-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Open(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize dependencies")
	}
	defer app.Close()

	embedder := app.Embedder()
	builder := app.Builder()

	// Without an indexer the trigger loop runs here
	var notifier service.BuildNotifier = builder
	var adminBuilder handler.Builder = builder
	if cfg.Services.IndexerURL != "" {
		notifier = service.NewRemoteNotifier(cfg.Services.IndexerURL, cfg.Services.Timeout)
		adminBuilder = remoteBuilder{IndexBuilder: builder, notifier: notifier}
	} else {
		go func() {
			if err := builder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.WithError(err).Error("Index builder stopped")
			}
		}()
	}

	searchService := app.SearchService(embedder)
	ingestService := app.IngestService(embedder, notifier)

	var ready atomic.Bool
	router := api.SetupRouter(&api.Dependencies{
		Registry: app.Registry,
		Search:   searchService,
		Ingest:   ingestService,
		Builder:  adminBuilder,
		Media:    app.Media,
		Frames:   app.Frames,
		Metadata: app.Metadata,
		Records:  app.Records,
		Audits:   app.Audits,
		Catalog:  app.Catalog,
		Storage:  app.Storage,
		Ready:    &ready,
		Ping:     app.Ping,
		Logger:   appLogger,
	}, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})

	// Snapshot ingestions a previous process left in processing before
	// accepting uploads of our own.
	interrupted, err := ingestService.Pending(ctx, domain.MediaStatusProcessing, resumeLimit)
	if err != nil {
		appLogger.WithError(err).Warn("Failed to list interrupted ingestions")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	warmSnapshots(ctx, app)
	ready.Store(true)

	if len(interrupted) > 0 {
		go ingestService.ReingestIDs(ctx, interrupted)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ready.Store(false)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()
	ingestService.Wait()

	appLogger.Info("Server exited")
}

// warmSnapshots loads the active snapshot of every index so the first queries
// do not pay for artifact downloads. Failures only delay that cost.
func warmSnapshots(ctx context.Context, app *bootstrap.App) {
	if app.Config.Index.Backend != "memory" {
		return
	}
	for _, name := range app.Registry.Names() {
		idx, err := app.Catalog.GetActive(ctx, name)
		if err != nil {
			continue
		}
		start := time.Now()
		snap, err := app.Cache.Get(ctx, idx)
		if err != nil {
			app.Logger.WithField(logger.FieldIndexName, name).WithError(err).Warn("Failed to preload snapshot")
			continue
		}
		logger.With(logger.Fields{
			logger.FieldIndexName:    name,
			logger.FieldIndexVersion: idx.Version,
		}).WithDuration(time.Since(start).Milliseconds()).WithCount(snap.Len()).Info(ctx, "Snapshot preloaded")
	}
}
