package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CatalogHandler serves read access to media, frames, vector records and the
// search audit log, plus the click and re-ingest actions.
type CatalogHandler struct {
	mediaRepo *repository.MediaRepository
	frameRepo *repository.FrameRepository
	metaRepo  *repository.FrameMetadataRepository
	records   *repository.EmbeddingRepository
	audits    *repository.SearchQueryRepository
	storage   storage.ObjectStorage
	ingest    Uploader
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(
	mediaRepo *repository.MediaRepository,
	frameRepo *repository.FrameRepository,
	metaRepo *repository.FrameMetadataRepository,
	records *repository.EmbeddingRepository,
	audits *repository.SearchQueryRepository,
	objectStorage storage.ObjectStorage,
	ingest Uploader,
) *CatalogHandler {
	return &CatalogHandler{
		mediaRepo: mediaRepo,
		frameRepo: frameRepo,
		metaRepo:  metaRepo,
		records:   records,
		audits:    audits,
		storage:   objectStorage,
		ingest:    ingest,
	}
}

// MediaView is a media row with its public URL.
type MediaView struct {
	domain.Media
	URL string `json:"url"`
}

// FrameView is a frame row with its public URL.
type FrameView struct {
	domain.Frame
	URL string `json:"url"`
}

// ListResponse is the envelope of paged listings.
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit < 1 {
		return 0, 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("offset must be a non-negative integer")
	}
	return limit, offset, nil
}

// listPage answers a paged listing of repo rows matching filters, mapping each row through view.
func listPage[T, V any](c *gin.Context, repo *repository.Repository[T], filters map[string]interface{}, view func(T) V) {
	ctx := c.Request.Context()
	limit, offset, err := pageParams(c)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	items, err := repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset, Filters: filters})
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := repo.Count(ctx, filters)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]V, len(items))
	for i, item := range items {
		views[i] = view(item)
	}
	c.JSON(http.StatusOK, ListResponse[V]{Items: views, Total: total, Limit: limit, Offset: offset})
}

func identity[T any](v T) T { return v }

// queryFilters copies the named query parameters that are present into a filter map.
func queryFilters(c *gin.Context, params ...string) map[string]interface{} {
	filters := map[string]interface{}{}
	for _, p := range params {
		if v := c.Query(p); v != "" {
			filters[p] = v
		}
	}
	return filters
}

// ListMedia lists media, newest first. Optional filters: status, media_type.
func (h *CatalogHandler) ListMedia(c *gin.Context) {
	filters := queryFilters(c, "status", "media_type")
	if mediaType, ok := filters["media_type"]; ok && !domain.MediaType(mediaType.(string)).Valid() {
		respondBadRequest(c, fmt.Sprintf("unknown media_type %s", mediaType))
		return
	}
	listPage(c, h.mediaRepo.Repository, filters, func(m domain.Media) MediaView {
		return MediaView{Media: m, URL: h.storage.GetURL(m.StorageKey)}
	})
}

// GetMedia returns one media item.
func (h *CatalogHandler) GetMedia(c *gin.Context) {
	m, err := h.mediaRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MediaView{Media: *m, URL: h.storage.GetURL(m.StorageKey)})
}

// ListFrames lists frames, newest first. Superseded frames are left out unless
// include_superseded=true. Optional filter: media_id.
func (h *CatalogHandler) ListFrames(c *gin.Context) {
	filters := queryFilters(c, "media_id")
	if c.Query("include_superseded") != "true" {
		filters["superseded"] = false
	}
	listPage(c, h.frameRepo.Repository, filters, func(f domain.Frame) FrameView {
		return FrameView{Frame: f, URL: h.storage.GetURL(f.StorageKey)}
	})
}

// ListMediaFrames lists the live frames of a media item; include_superseded=true adds earlier generations.
func (h *CatalogHandler) ListMediaFrames(c *gin.Context) {
	ctx := c.Request.Context()
	mediaID := c.Param("id")
	if _, err := h.mediaRepo.GetByID(ctx, mediaID); err != nil {
		respondError(c, err)
		return
	}
	includeSuperseded := c.Query("include_superseded") == "true"

	frames, err := h.frameRepo.ListByMedia(ctx, mediaID, includeSuperseded)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]FrameView, len(frames))
	for i, f := range frames {
		views[i] = FrameView{Frame: f, URL: h.storage.GetURL(f.StorageKey)}
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

// GetFrame returns one frame.
func (h *CatalogHandler) GetFrame(c *gin.Context) {
	f, err := h.frameRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, FrameView{Frame: *f, URL: h.storage.GetURL(f.StorageKey)})
}

// GetFrameMetadata returns the descriptive metadata of one frame.
func (h *CatalogHandler) GetFrameMetadata(c *gin.Context) {
	meta, err := h.metaRepo.GetByFrameID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ListFrameMetadata lists frame metadata, newest first. Optional filter: frame_id.
func (h *CatalogHandler) ListFrameMetadata(c *gin.Context) {
	listPage(c, h.metaRepo.Repository, queryFilters(c, "frame_id"), identity[domain.FrameMetadata])
}

// GetFrameMetadataByID returns one frame metadata row by its own id.
func (h *CatalogHandler) GetFrameMetadataByID(c *gin.Context) {
	meta, err := h.metaRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// ListEmbeddings lists vector records without their vectors, newest first.
// Optional filters: model_name, frame_id.
func (h *CatalogHandler) ListEmbeddings(c *gin.Context) {
	listPage(c, h.records.Repository, queryFilters(c, "model_name", "frame_id"), func(e domain.Embedding) domain.Embedding {
		e.Vector = nil
		return e
	})
}

// ListFrameEmbeddings lists every vector record of a frame, superseded ones included.
func (h *CatalogHandler) ListFrameEmbeddings(c *gin.Context) {
	records, err := h.records.ListByFrame(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range records {
		records[i].Vector = nil
	}
	c.JSON(http.StatusOK, gin.H{"items": records})
}

// GetEmbedding returns one vector record including its vector.
func (h *CatalogHandler) GetEmbedding(c *gin.Context) {
	e, err := h.records.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ListSearchQueries lists audited searches, newest first. Optional filter: query_type.
func (h *CatalogHandler) ListSearchQueries(c *gin.Context) {
	listPage(c, h.audits.Repository, queryFilters(c, "query_type"), identity[domain.SearchQuery])
}

// GetSearchQuery returns one audited search.
func (h *CatalogHandler) GetSearchQuery(c *gin.Context) {
	q, err := h.audits.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// ClickSearchQuery records that the top result of a search was opened.
func (h *CatalogHandler) ClickSearchQuery(c *gin.Context) {
	if err := h.audits.MarkClicked(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryIngest re-runs ingestion of a media item in the background.
func (h *CatalogHandler) RetryIngest(c *gin.Context) {
	ctx := c.Request.Context()
	m, err := h.mediaRepo.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	logger.CtxInfo(ctx, "Re-ingest requested: media_id=%s, status=%s", m.ID, m.Status)
	h.ingest.IngestAsync(ctx, m.ID)
	c.JSON(http.StatusAccepted, gin.H{"message": "ingestion started", "media_id": m.ID})
}
