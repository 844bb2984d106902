package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/storage"
	"golang.org/x/sync/errgroup"
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultTopK int
	MaxTopK     int
	Timeout     time.Duration // bounds the embedding stage
}

// SearchService embeds raw query payloads and resolves them.
type SearchService struct {
	registry *ModelRegistry
	embedder Embedder
	resolver *QueryResolver
	storage  storage.ObjectStorage
	logger   *logger.Logger
	cfg      SearchConfig
}

// NewSearchService creates a new search service.
// Parameters:
//   - registry: model routing per modality.
//   - embedder: embedding client for query payloads.
//   - resolver: query resolver over the active indexes.
//   - objectStorage: object storage client for URL generation.
//   - log: logger instance.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	registry *ModelRegistry,
	embedder Embedder,
	resolver *QueryResolver,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg SearchConfig,
) *SearchService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = cfg.DefaultTopK
	}
	return &SearchService{
		registry: registry,
		embedder: embedder,
		resolver: resolver,
		storage:  objectStorage,
		logger:   log,
		cfg:      cfg,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// DefaultTopK returns the result count used when a request omits top_k.
func (s *SearchService) DefaultTopK() int {
	return s.cfg.DefaultTopK
}

// SearchRequest represents a search over one or more raw payloads.
type SearchRequest struct {
	Payloads  []Payload
	TopK      int
	MediaType string
	Weights   map[domain.Modality]float64
}

// SearchResult represents a single search result.
type SearchResult struct {
	ClipID         string                `json:"clip_id"`
	MediaID        string                `json:"media_id"`
	Similarity     float64               `json:"similarity"`
	Score          float64               `json:"score"`
	MediaType      domain.MediaType      `json:"media_type"`
	Title          string                `json:"title"`
	Description    string                `json:"description,omitempty"`
	ThumbnailURL   string                `json:"thumbnail_url"`
	ClipPreviewURL string                `json:"clip_preview_url"`
	Timestamp      float64               `json:"timestamp"`
	Modalities     []domain.Modality     `json:"modalities"`
	Metadata       *domain.FrameMetadata `json:"metadata,omitempty"`
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Query    string                     `json:"query"`
	TopK     int                        `json:"top_k"`
	Results  []SearchResult             `json:"results"`
	SearchID string                     `json:"search_id"`
	Dropped  map[domain.Modality]string `json:"dropped,omitempty"`
}

// Search embeds every payload concurrently and resolves the resulting query.
// A payload the embedder fails on is dropped like a failing index; the call
// fails only when no payload could be embedded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: search request parameters.
//
// Returns:
//   - *SearchResponse: ranked results with URLs.
//   - error: wraps one of the domain error kinds.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	if len(req.Payloads) == 0 {
		return nil, fmt.Errorf("%w: no modality payload", domain.ErrInvalidQuery)
	}
	if req.TopK > s.cfg.MaxTopK {
		req.TopK = s.cfg.MaxTopK
	}

	var text string
	for _, p := range req.Payloads {
		if p.Modality == domain.ModalityText {
			text = p.Text
		}
		if p.Text == "" && len(p.Data) == 0 {
			return nil, fmt.Errorf("%w: empty %s payload", domain.ErrInvalidQuery, p.Modality)
		}
	}
	q := &Query{
		TopK:      req.TopK,
		MediaType: domain.MediaType(req.MediaType),
		Weights:   req.Weights,
		Text:      text,
		Inputs:    make([]domain.ModalityVector, len(req.Payloads)),
	}
	for i, p := range req.Payloads {
		q.Inputs[i].Modality = p.Modality
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	dropped, err := s.embedAll(ctx, req.Payloads, q)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	for m, reason := range dropped {
		res.Dropped[m] = reason
	}

	resp := &SearchResponse{
		Query:    text,
		TopK:     req.TopK,
		SearchID: res.SearchID,
		Results:  make([]SearchResult, len(res.Results)),
	}
	if len(res.Dropped) > 0 {
		resp.Dropped = res.Dropped
	}
	for i, r := range res.Results {
		resp.Results[i] = s.toResult(r)
	}
	return resp, nil
}

// embedAll fills q.Inputs with vectors and removes the inputs whose payload
// could not be embedded, returning their failure reasons.
func (s *SearchService) embedAll(ctx context.Context, payloads []Payload, q *Query) (map[domain.Modality]string, error) {
	ectx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	errs := make([]error, len(payloads))
	var g errgroup.Group
	for i, p := range payloads {
		g.Go(func() error {
			spec, ok := s.registry.ForModality(p.Modality)
			if !ok {
				errs[i] = fmt.Errorf("%w: no model serves %s", domain.ErrIndexUnavailable, p.Modality)
				return nil
			}
			vec, err := s.embedder.Embed(ectx, spec.Name, p)
			if err != nil {
				errs[i] = err
				return nil
			}
			q.Inputs[i].Vector = vec
			return nil
		})
	}
	_ = g.Wait()

	if ectx.Err() != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: embedding exceeded %s", domain.ErrTimeout, s.cfg.Timeout)
	}

	dropped := make(map[domain.Modality]string)
	kept := q.Inputs[:0]
	var failures []error
	for i, in := range q.Inputs {
		if errs[i] != nil {
			errs[i] = classifyEmbedError(errs[i])
			dropped[in.Modality] = errs[i].Error()
			s.log(ctx).WithField("modality", string(in.Modality)).WithError(errs[i]).Warn("Failed to embed query payload")
			failures = append(failures, errs[i])
			continue
		}
		kept = append(kept, in)
	}
	q.Inputs = kept
	if len(kept) == 0 {
		return nil, embedFailure(failures)
	}
	return dropped, nil
}

func (s *SearchService) toResult(r ResolvedFrame) SearchResult {
	out := SearchResult{
		ClipID:         r.Frame.ID,
		MediaID:        r.Media.ID,
		Similarity:     r.Similarity,
		Score:          r.Score,
		MediaType:      r.Media.MediaType,
		Title:          r.Media.Title,
		Description:    r.Media.Description,
		ThumbnailURL:   s.storage.GetURL(r.Frame.StorageKey),
		ClipPreviewURL: s.storage.GetURL(r.Media.StorageKey),
		Timestamp:      r.Frame.TimestampSeconds,
		Modalities:     r.Modalities,
		Metadata:       r.Metadata,
	}
	if r.Media.MediaType == domain.MediaTypeVideo {
		out.ClipPreviewURL = fmt.Sprintf("%s#t=%.3f", out.ClipPreviewURL, r.Frame.TimestampSeconds)
	}
	return out
}

// embedFailure reports a query none of whose payloads could be embedded. It
// keeps the error kind when every payload failed the same way and falls back
// to ErrIndexUnavailable otherwise.
func embedFailure(failures []error) error {
	kind := domain.ErrorKind(failures[0])
	for _, err := range failures[1:] {
		if domain.ErrorKind(err) != kind {
			return fmt.Errorf("%w: failed to embed query: %w", domain.ErrIndexUnavailable, errors.Join(failures...))
		}
	}
	if len(failures) == 1 {
		return fmt.Errorf("failed to embed query: %w", failures[0])
	}
	return fmt.Errorf("failed to embed query: %w", errors.Join(failures...))
}
