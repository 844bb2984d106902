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
	"github.com/timmy/clipsearch/internal/api/middleware"
	"github.com/timmy/clipsearch/internal/bootstrap"
	"github.com/timmy/clipsearch/internal/config"
	"github.com/timmy/clipsearch/internal/logger"
)

// The indexer owns the build trigger loop. The API process reaches it through
// POST /indexes/:name/build when services.indexer_url is set.
func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnvFor("clipsearch-indexer"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

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

	builder := app.Builder()

	var ready atomic.Bool
	router := api.SetupIndexerRouter(app.Registry, app.Catalog, builder, &ready, appLogger, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{AllowAllOrigins: true},
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Starting indexer server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := builder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.WithError(err).Error("Index builder stopped")
		}
	}()
	ready.Store(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down indexer...")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// A running build is cancelled and recorded as failed; the active version keeps serving.
	cancel()
	<-done
	appLogger.Info("Indexer exited")
}
