package api

import (
	"context"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/api/handler"
	"github.com/timmy/clipsearch/internal/api/middleware"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/service"
	"github.com/timmy/clipsearch/internal/storage"
)

// Dependencies are the services and repositories the API routes serve.
type Dependencies struct {
	Registry *service.ModelRegistry
	Search   handler.Searcher
	Ingest   *service.IngestService
	Builder  handler.Builder

	Media    *repository.MediaRepository
	Frames   *repository.FrameRepository
	Metadata *repository.FrameMetadataRepository
	Records  *repository.EmbeddingRepository
	Audits   *repository.SearchQueryRepository
	Catalog  *repository.IndexRepository
	Storage  storage.ObjectStorage

	Ready  *atomic.Bool
	Ping   func(ctx context.Context) error
	Logger *logger.Logger
}

// RouterConfig holds the HTTP-level settings of a router.
type RouterConfig struct {
	Mode        string
	CORS        middleware.CORSConfig
	MaxUploadMB int
}

func newEngine(cfg RouterConfig, component string) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	if cfg.MaxUploadMB > 0 {
		r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20
	}

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(component))
	r.Use(middleware.CORS(cfg.CORS))
	return r
}

// SetupRouter configures the Gin router with all API routes.
func SetupRouter(deps *Dependencies, cfg RouterConfig) *gin.Engine {
	r := newEngine(cfg, "api")
	maxUpload := int64(cfg.MaxUploadMB) << 20

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.Ready, deps.Ping)
	searchHandler := handler.NewSearchHandler(deps.Search, maxUpload)
	uploadHandler := handler.NewUploadHandler(deps.Ingest, maxUpload)
	catalogHandler := handler.NewCatalogHandler(deps.Media, deps.Frames, deps.Metadata,
		deps.Records, deps.Audits, deps.Storage, deps.Ingest)
	adminHandler := handler.NewAdminHandler(deps.Registry, deps.Catalog, deps.Builder, deps.Ingest, deps.Logger)

	r.GET("/health", healthHandler.Health)

	// The public contract lives at the root; /api/v1 mirrors it.
	for _, g := range []*gin.RouterGroup{r.Group(""), r.Group("/api/v1")} {
		registerRoutes(g, searchHandler, uploadHandler, catalogHandler, adminHandler)
	}

	return r
}

func registerRoutes(
	g *gin.RouterGroup,
	searchHandler *handler.SearchHandler,
	uploadHandler *handler.UploadHandler,
	catalogHandler *handler.CatalogHandler,
	adminHandler *handler.AdminHandler,
) {
	// Search
	g.POST("/search/text", searchHandler.TextSearch)
	g.POST("/search/image", searchHandler.ImageSearch)
	g.POST("/search/video", searchHandler.VideoSearch)
	g.POST("/search/multimodal", searchHandler.MultimodalSearch)

	// Upload
	g.POST("/upload/image", uploadHandler.UploadImage)
	g.POST("/upload/video", uploadHandler.UploadVideo)

	// Media and frames
	g.GET("/media", catalogHandler.ListMedia)
	g.GET("/media/:id", catalogHandler.GetMedia)
	g.GET("/media/:id/frames", catalogHandler.ListMediaFrames)
	g.POST("/media/:id/ingest", catalogHandler.RetryIngest)
	g.GET("/frames", catalogHandler.ListFrames)
	g.GET("/frames/:id", catalogHandler.GetFrame)
	g.GET("/frames/:id/metadata", catalogHandler.GetFrameMetadata)
	g.GET("/frames/:id/embeddings", catalogHandler.ListFrameEmbeddings)
	g.GET("/frame_metadata", catalogHandler.ListFrameMetadata)
	g.GET("/frame_metadata/:id", catalogHandler.GetFrameMetadataByID)
	g.GET("/embeddings", catalogHandler.ListEmbeddings)
	g.GET("/embeddings/:id", catalogHandler.GetEmbedding)

	// Search audit
	g.GET("/search_queries", catalogHandler.ListSearchQueries)
	g.GET("/search_queries/:id", catalogHandler.GetSearchQuery)
	g.POST("/search_queries/:id/click", catalogHandler.ClickSearchQuery)

	// Indexes
	g.GET("/indexes", adminHandler.ListIndexes)
	g.GET("/indexes/:name", adminHandler.GetIndex)
	g.POST("/indexes/:name/build", adminHandler.TriggerBuild)

	// Admin
	g.POST("/admin/reingest", adminHandler.TriggerReingest)
	g.GET("/admin/reingest/status", adminHandler.GetReingestStatus)
}

// SetupIndexerRouter configures the router of the standalone indexer process.
func SetupIndexerRouter(
	registry *service.ModelRegistry,
	catalog *repository.IndexRepository,
	builder handler.Builder,
	ready *atomic.Bool,
	log *logger.Logger,
	cfg RouterConfig,
) *gin.Engine {
	r := newEngine(cfg, "indexer")

	healthHandler := handler.NewHealthHandler(ready, nil)
	adminHandler := handler.NewAdminHandler(registry, catalog, builder, nil, log)

	r.GET("/health", healthHandler.Health)
	r.GET("/indexes", adminHandler.ListIndexes)
	r.GET("/indexes/:name", adminHandler.GetIndex)
	r.POST("/indexes/:name/build", adminHandler.TriggerBuild)
	return r
}
