package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/service"
)

// Searcher is the search surface the handlers need.
type Searcher interface {
	Search(ctx context.Context, req *service.SearchRequest) (*service.SearchResponse, error)
	DefaultTopK() int
}

// SearchHandler handles search endpoints.
type SearchHandler struct {
	searchService Searcher
	maxUpload     int64
}

// NewSearchHandler creates a new search handler.
// maxUpload bounds the size of one uploaded query file in bytes.
func NewSearchHandler(searchService Searcher, maxUpload int64) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		maxUpload:     maxUpload,
	}
}

// TextSearchRequest represents the text search request body.
type TextSearchRequest struct {
	Query     string `json:"query" binding:"required"`
	TopK      *int   `json:"top_k"`
	MediaType string `json:"media_type"`
}

// TextSearch handles text-based clip search.
// @Summary Search clips by text
// @Accept json
// @Produce json
// @Param request body TextSearchRequest true "Search request"
// @Success 200 {object} service.SearchResponse
// @Router /api/v1/search/text [post]
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req TextSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondBadRequest(c, "query must not be blank")
		return
	}
	topK, ok := h.topK(req.TopK)
	if !ok {
		respondBadRequest(c, "top_k must be positive")
		return
	}

	h.search(c, &service.SearchRequest{
		Payloads:  []service.Payload{{Modality: domain.ModalityText, Text: req.Query}},
		TopK:      topK,
		MediaType: req.MediaType,
	})
}

// ImageSearch handles search by an uploaded image (multipart field image_query).
func (h *SearchHandler) ImageSearch(c *gin.Context) {
	h.fileSearch(c, domain.ModalityImage, "image_query")
}

// VideoSearch handles search by an uploaded video (multipart field video_query).
func (h *SearchHandler) VideoSearch(c *gin.Context) {
	h.fileSearch(c, domain.ModalityVideo, "video_query")
}

func (h *SearchHandler) fileSearch(c *gin.Context, modality domain.Modality, field string) {
	topK, err := h.formTopK(c)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	payload, found, err := h.filePayload(c, modality, field)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if !found {
		respondBadRequest(c, field+" file is required")
		return
	}

	h.search(c, &service.SearchRequest{
		Payloads:  []service.Payload{payload},
		TopK:      topK,
		MediaType: c.PostForm("media_type"),
	})
}

// MultimodalSearch handles search over any combination of the text query,
// image_query and video_query fields. The optional weights field is a JSON
// object of modality to weight.
func (h *SearchHandler) MultimodalSearch(c *gin.Context) {
	topK, err := h.formTopK(c)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	var payloads []service.Payload
	if text := strings.TrimSpace(c.PostForm("query")); text != "" {
		payloads = append(payloads, service.Payload{Modality: domain.ModalityText, Text: text})
	}
	for _, f := range []struct {
		modality domain.Modality
		field    string
	}{
		{domain.ModalityImage, "image_query"},
		{domain.ModalityVideo, "video_query"},
	} {
		payload, found, err := h.filePayload(c, f.modality, f.field)
		if err != nil {
			respondBadRequest(c, err.Error())
			return
		}
		if found {
			payloads = append(payloads, payload)
		}
	}
	if len(payloads) == 0 {
		respondBadRequest(c, "at least one of query, image_query, video_query is required")
		return
	}

	weights, err := parseWeights(c.PostForm("weights"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	h.search(c, &service.SearchRequest{
		Payloads:  payloads,
		TopK:      topK,
		MediaType: c.PostForm("media_type"),
		Weights:   weights,
	})
}

func (h *SearchHandler) search(c *gin.Context, req *service.SearchRequest) {
	ctx := c.Request.Context()
	resp, err := h.searchService.Search(ctx, req)
	if err != nil {
		logger.CtxWarn(ctx, "Search failed: payloads=%d, kind=%s, error=%v",
			len(req.Payloads), domain.ErrorKind(err), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// topK resolves an optional top_k: omitted means the default, anything below 1 is invalid.
func (h *SearchHandler) topK(v *int) (int, bool) {
	if v == nil {
		return h.searchService.DefaultTopK(), true
	}
	return *v, *v > 0
}

func (h *SearchHandler) formTopK(c *gin.Context) (int, error) {
	raw, ok := c.GetPostForm("top_k")
	if !ok || raw == "" {
		return h.searchService.DefaultTopK(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("top_k must be a positive integer")
	}
	return n, nil
}

// filePayload reads an optional multipart file field.
func (h *SearchHandler) filePayload(c *gin.Context, modality domain.Modality, field string) (service.Payload, bool, error) {
	fh, err := c.FormFile(field)
	if err == http.ErrMissingFile {
		return service.Payload{}, false, nil
	}
	if err != nil {
		return service.Payload{}, false, fmt.Errorf("invalid %s: %v", field, err)
	}
	data, err := readFormFile(fh, h.maxUpload)
	if err != nil {
		return service.Payload{}, false, fmt.Errorf("invalid %s: %v", field, err)
	}
	return service.Payload{
		Modality:    modality,
		Data:        data,
		ContentType: fh.Header.Get("Content-Type"),
	}, true, nil
}

func parseWeights(raw string) (map[domain.Modality]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var in map[string]float64
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("weights must be a JSON object: %v", err)
	}
	out := make(map[domain.Modality]float64, len(in))
	for k, w := range in {
		m, err := domain.ParseModality(k)
		if err != nil {
			return nil, err
		}
		if w < 0 {
			return nil, fmt.Errorf("weight of %s must not be negative", k)
		}
		out[m] = w
	}
	return out, nil
}

// readFormFile reads an uploaded file, refusing anything over limit bytes.
func readFormFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if limit > 0 && fh.Size > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}
	return data, nil
}
