package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/service"
)

// Uploader is the ingestion surface the handlers need.
type Uploader interface {
	Upload(ctx context.Context, req *service.UploadRequest) (*service.UploadResult, error)
	IngestAsync(ctx context.Context, mediaID string)
}

// UploadHandler handles media uploads.
type UploadHandler struct {
	ingest    Uploader
	maxUpload int64
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(ingest Uploader, maxUpload int64) *UploadHandler {
	return &UploadHandler{ingest: ingest, maxUpload: maxUpload}
}

// UploadResponse is returned once an asset is stored.
type UploadResponse struct {
	Message string `json:"message"`
	FileURL string `json:"file_url"`
	MediaID string `json:"media_id"`
}

// UploadImage accepts a multipart "image_query" (or "file") field and starts ingestion.
func (h *UploadHandler) UploadImage(c *gin.Context) {
	h.upload(c, domain.MediaTypeImage, "image_query")
}

// UploadVideo accepts a multipart "video_query" (or "file") field and starts ingestion.
// An optional duration_seconds form field is stored until extraction reports one.
func (h *UploadHandler) UploadVideo(c *gin.Context) {
	h.upload(c, domain.MediaTypeVideo, "video_query")
}

func (h *UploadHandler) upload(c *gin.Context, mediaType domain.MediaType, field string) {
	ctx := c.Request.Context()

	if raw := c.PostForm("media_type"); raw != "" && domain.MediaType(raw) != mediaType {
		respondBadRequest(c, "media_type "+raw+" does not match the "+string(mediaType)+" upload route")
		return
	}

	fh, err := c.FormFile(field)
	if err != nil {
		fh, err = c.FormFile("file")
	}
	if err != nil {
		respondBadRequest(c, field+" is required")
		return
	}
	data, err := readFormFile(fh, h.maxUpload)
	if err != nil {
		respondBadRequest(c, "invalid file: "+err.Error())
		return
	}

	fileName := fh.Filename
	if name := strings.TrimSpace(c.PostForm("filename")); name != "" {
		fileName = name
	}
	req := &service.UploadRequest{
		MediaType:   mediaType,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		SourceURL:   c.PostForm("source_url"),
		FileName:    fileName,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	if raw := c.PostForm("duration_seconds"); raw != "" && mediaType == domain.MediaTypeVideo {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil || d < 0 {
			respondBadRequest(c, "duration_seconds must be a non-negative number")
			return
		}
		req.DurationSeconds = &d
	}

	result, err := h.ingest.Upload(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.CtxInfo(ctx, "Upload accepted: media_id=%s, media_type=%s, size=%d",
		result.Media.ID, mediaType, len(data))
	c.JSON(http.StatusCreated, UploadResponse{
		Message: "upload accepted, ingestion started",
		FileURL: result.URL,
		MediaID: result.Media.ID,
	})
}
