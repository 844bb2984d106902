package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/service"
)

// Builder is the index build surface the admin endpoints drive.
type Builder interface {
	Build(ctx context.Context, name string, mode service.BuildMode) (*domain.Index, error)
	Notify(ctx context.Context, name string)
}

// Reingester re-runs ingestion for media stuck in a status.
type Reingester interface {
	Reingest(ctx context.Context, status domain.MediaStatus, limit int) (*service.IngestStats, error)
}

// AdminHandler handles index administration and bulk re-ingestion.
type AdminHandler struct {
	registry *service.ModelRegistry
	catalog  *repository.IndexRepository
	builder  Builder
	ingest   Reingester
	logger   *logger.Logger

	// Re-ingest job state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - registry: declared models; each names one index.
//   - catalog: index catalog.
//   - builder: in-process builder, or a notifier-backed one in API-only deployments.
//   - ingest: re-ingestion service; nil disables the re-ingest endpoints.
//   - log: logger instance.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(
	registry *service.ModelRegistry,
	catalog *repository.IndexRepository,
	builder Builder,
	ingest Reingester,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		catalog:  catalog,
		builder:  builder,
		ingest:   ingest,
		logger:   log,
	}
}

// log returns a logger from Gin context if available, otherwise returns the default logger
func (h *AdminHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// IndexSummary is the state of one index name.
type IndexSummary struct {
	Name   string        `json:"name"`
	Model  string        `json:"model"`
	Active *domain.Index `json:"active"`
	Latest *domain.Index `json:"latest"`
}

// BuildRequest selects the build mode. An empty mode only wakes the trigger loop.
type BuildRequest struct {
	Mode string `json:"mode"`
}

// ListIndexes returns the active and latest version of every declared index.
func (h *AdminHandler) ListIndexes(c *gin.Context) {
	ctx := c.Request.Context()
	summaries := make([]IndexSummary, 0, len(h.registry.Names()))
	for _, spec := range h.registry.Specs() {
		versions, err := h.catalog.ListVersions(ctx, spec.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		summaries = append(summaries, summarize(spec.Name, versions))
	}
	c.JSON(http.StatusOK, gin.H{"items": summaries})
}

// GetIndex returns every version of one index, newest first.
func (h *AdminHandler) GetIndex(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.registry.Get(name); !ok {
		respondError(c, errUnknownIndex(name))
		return
	}
	versions, err := h.catalog.ListVersions(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	summary := summarize(name, versions)
	c.JSON(http.StatusOK, gin.H{
		"name":     name,
		"active":   summary.Active,
		"versions": versions,
	})
}

// TriggerBuild starts a build of one index.
// Without a mode the trigger loop is woken and 202 returned; with a mode the
// build runs synchronously and the activated version is returned.
func (h *AdminHandler) TriggerBuild(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	if _, ok := h.registry.Get(name); !ok {
		respondError(c, errUnknownIndex(name))
		return
	}

	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, err.Error())
		return
	}

	if req.Mode == "" {
		h.builder.Notify(ctx, name)
		c.JSON(http.StatusAccepted, gin.H{"message": "build scheduled", "name": name})
		return
	}

	mode, err := service.ParseBuildMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}

	h.log(c).WithFields(logger.Fields{
		logger.FieldIndexName: name,
		"mode":                string(mode),
	}).Info("Build requested")

	idx, err := h.builder.Build(ctx, name, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, idx)
}

func summarize(name string, versions []domain.Index) IndexSummary {
	s := IndexSummary{Name: name, Model: name}
	for i := range versions {
		v := versions[i]
		if s.Latest == nil {
			s.Latest = &v
		}
		if s.Active == nil && v.Status == domain.IndexStatusReady {
			s.Active = &v
		}
	}
	return s
}

func errUnknownIndex(name string) error {
	return fmt.Errorf("index %s is not declared: %w", name, domain.ErrNotFound)
}

// ReingestRequest represents the re-ingest API request.
type ReingestRequest struct {
	Status string `json:"status" binding:"required,oneof=error processing"`
	Limit  int    `json:"limit" binding:"required,min=1,max=10000"`
}

// ReingestStatusResponse represents the re-ingest job status.
type ReingestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
}

// TriggerReingest starts a background re-ingest of media in the requested status.
func (h *AdminHandler) TriggerReingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req ReingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid re-ingest request: client_ip=%s, error=%v", c.ClientIP(), err)
		respondBadRequest(c, err.Error())
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Re-ingest request rejected: already running, client_ip=%s", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: ErrorBody{
			Kind:    "job_already_running",
			Message: "re-ingest is already running",
		}})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	// Run on a detached context so the job outlives the request
	jobCtx := logger.Detach(ctx)
	go func() {
		startTime := time.Now()
		stats, err := h.ingest.Reingest(jobCtx, domain.MediaStatus(req.Status), req.Limit)
		duration := time.Since(startTime)

		h.mu.Lock()
		h.isRunning = false
		h.currentStats = stats
		h.lastRunTime = time.Now()
		if err != nil {
			h.lastRunStatus = "failed: " + err.Error()
		} else {
			h.lastRunStatus = "completed"
		}
		h.mu.Unlock()

		entry := logger.With(logger.Fields{
			"media_status": req.Status,
			"limit":        req.Limit,
		}).WithDuration(duration.Milliseconds())
		if err != nil {
			entry.Error(jobCtx, "Re-ingest failed: %v", err)
			return
		}
		entry.Info(jobCtx, "Re-ingest completed: processed=%d, failed=%d", stats.ProcessedItems, stats.FailedItems)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "re-ingest started"})
}

// GetReingestStatus returns the state of the re-ingest job.
func (h *AdminHandler) GetReingestStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := ReingestStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
