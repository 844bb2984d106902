// Package bootstrap wires configuration into the repositories and services
// shared by the api, indexer and clipctl binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/timmy/clipsearch/internal/config"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/service"
	"github.com/timmy/clipsearch/internal/storage"
	"github.com/timmy/clipsearch/internal/vecindex"
	"gorm.io/gorm"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *gorm.DB

	Registry *service.ModelRegistry
	Media    *repository.MediaRepository
	Frames   *repository.FrameRepository
	Metadata *repository.FrameMetadataRepository
	Records  *repository.EmbeddingRepository
	Catalog  *repository.IndexRepository
	Audits   *repository.SearchQueryRepository
	Storage  storage.ObjectStorage
	Cache    *vecindex.Cache
	Qdrant   *repository.QdrantRepository // nil unless qdrant.enabled
}

// Open connects the database, object store and optional Qdrant mirror.
// Parameters:
//   - ctx: context for startup checks.
//   - cfg: loaded configuration.
//   - log: process logger.
// Returns:
//   - *App: wired dependencies; call Close when done.
//   - error: non-nil if any backend cannot be reached or configured.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	registry, err := service.NewModelRegistry(cfg.ModelSpecs())
	if err != nil {
		return nil, err
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize storage (supports MinIO, R2, S3 and in-memory)
	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
	}

	app := &App{
		Config:   cfg,
		Logger:   log,
		DB:       db,
		Registry: registry,
		Media:    repository.NewMediaRepository(db),
		Frames:   repository.NewFrameRepository(db),
		Metadata: repository.NewFrameMetadataRepository(db),
		Records:  repository.NewEmbeddingRepository(db, cfg.ModelSpecs(), cfg.Index.PageSize),
		Catalog:  repository.NewIndexRepository(db, cfg.Index.BuildStaleAfter),
		Audits:   repository.NewSearchQueryRepository(db),
		Storage:  objectStorage,
		Cache:    vecindex.NewCache(vecindex.StorageLoader(objectStorage), 0),
	}

	if cfg.Qdrant.Enabled {
		app.Qdrant, err = repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			APIKey:           cfg.Qdrant.APIKey,
			UseTLS:           cfg.Qdrant.UseTLS,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
		})
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
		}
	}

	log.WithFields(logger.Fields{
		"database": cfg.Database.Driver,
		"storage":  cfg.Storage.Type,
		"backend":  cfg.Index.Backend,
		"models":   registry.Names(),
	}).Info("Dependencies initialized")
	return app, nil
}

// Close releases the database and Qdrant connections.
func (a *App) Close() {
	if a.Qdrant != nil {
		if err := a.Qdrant.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Qdrant connection")
		}
	}
	closeDB(a.DB)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return repository.Ping(ctx, a.DB)
}

// Builder creates the index builder. Builds mirror into Qdrant when it is enabled.
func (a *App) Builder() *service.IndexBuilder {
	return service.NewIndexBuilder(a.Registry, a.Records, a.Catalog, a.Storage, a.Cache, a.Qdrant, a.Logger,
		service.BuilderConfig{
			CountThreshold: a.Config.Index.CountThreshold,
			MaxStaleness:   a.Config.Index.MaxStaleness,
			CheckInterval:  a.Config.Index.CheckInterval,
		})
}

// Searcher returns the per-index nearest-neighbor backend selected by index.backend.
func (a *App) Searcher() service.Searcher {
	if a.Config.Index.Backend == "qdrant" && a.Qdrant != nil {
		return service.NewQdrantSearcher(a.Qdrant)
	}
	return service.NewSnapshotSearcher(a.Cache, a.Config.Search.MaxConcurrent)
}

// Embedder returns the client of the embedding service.
func (a *App) Embedder() *service.EmbedderClient {
	return service.NewEmbedderClient(a.Config.Services.EmbedderURL, a.Config.Services.Timeout)
}

// SearchService creates the query pipeline: embedding, resolution and hydration.
func (a *App) SearchService(embedder service.Embedder) *service.SearchService {
	weights, err := a.Config.SearchWeights()
	if err != nil {
		// Validate already rejected unknown modalities.
		a.Logger.WithError(err).Warn("Ignoring search weights")
	}
	resolver := service.NewQueryResolver(a.Registry, a.Catalog, a.Searcher(), a.Media, a.Frames, a.Metadata, a.Audits, a.Logger,
		service.ResolverConfig{
			CandidateMultiplier: a.Config.Search.CandidateMultiplier,
			Timeout:             a.Config.Search.Timeout,
			AuditTimeout:        a.Config.Search.AuditTimeout,
			Weights:             weights,
		})
	return service.NewSearchService(a.Registry, embedder, resolver, a.Storage, a.Logger, service.SearchConfig{
		DefaultTopK: a.Config.Search.DefaultTopK,
		MaxTopK:     a.Config.Search.MaxTopK,
		Timeout:     a.Config.Search.Timeout,
	})
}

// IngestService creates the media pipeline. notifier receives a build hint
// for every index that got new records.
func (a *App) IngestService(embedder service.Embedder, notifier service.BuildNotifier) *service.IngestService {
	extractor := service.NewMediaProcessorClient(a.Config.Services.MediaProcessorURL, a.Config.Services.Timeout)
	return service.NewIngestService(a.Registry, a.Media, a.Frames, a.Metadata, a.Records, a.Storage,
		embedder, extractor, notifier, a.Logger, &service.IngestConfig{
			Workers:      a.Config.Ingest.Workers,
			EmbedRetries: a.Config.Ingest.RetryCount,
		})
}
