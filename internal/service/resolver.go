package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Query is a resolved-ready multimodal query: one embedding per supplied modality.
type Query struct {
	Inputs    []domain.ModalityVector
	TopK      int
	MediaType domain.MediaType // empty matches every media type
	Weights   map[domain.Modality]float64
	Text      string // raw text, recorded in the audit row only
}

// ResolverConfig holds query resolution policy.
type ResolverConfig struct {
	CandidateMultiplier int
	Timeout             time.Duration
	AuditTimeout        time.Duration
	Weights             map[domain.Modality]float64
}

// ResolvedFrame is one hydrated entry of the ranked result list.
type ResolvedFrame struct {
	Frame      domain.Frame
	Media      domain.Media
	Metadata   *domain.FrameMetadata
	Score      float64
	Similarity float64
	Modalities []domain.Modality
}

// Resolution is the outcome of a query.
type Resolution struct {
	SearchID string
	Results  []ResolvedFrame
	// Dropped lists the modalities whose contribution failed, with the reason.
	Dropped map[domain.Modality]string
}

// QueryResolver resolves multimodal queries against the active indexes.
type QueryResolver struct {
	registry *ModelRegistry
	catalog  *repository.IndexRepository
	searcher Searcher
	media    *repository.MediaRepository
	frames   *repository.FrameRepository
	metadata *repository.FrameMetadataRepository
	audits   *repository.SearchQueryRepository
	logger   *logger.Logger
	cfg      ResolverConfig
}

// NewQueryResolver creates a new query resolver.
// Parameters:
//   - registry: model routing per modality.
//   - catalog: index catalog used to find active versions.
//   - searcher: nearest-neighbour backend.
//   - mediaRepo, frameRepo, metadataRepo: hydration sources.
//   - auditRepo: search audit store.
//   - log: logger instance.
//   - cfg: resolution policy.
//
// Returns:
//   - *QueryResolver: initialized resolver.
func NewQueryResolver(
	registry *ModelRegistry,
	catalog *repository.IndexRepository,
	searcher Searcher,
	mediaRepo *repository.MediaRepository,
	frameRepo *repository.FrameRepository,
	metadataRepo *repository.FrameMetadataRepository,
	auditRepo *repository.SearchQueryRepository,
	log *logger.Logger,
	cfg ResolverConfig,
) *QueryResolver {
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 4
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 5 * time.Second
	}
	return &QueryResolver{
		registry: registry,
		catalog:  catalog,
		searcher: searcher,
		media:    mediaRepo,
		frames:   frameRepo,
		metadata: metadataRepo,
		audits:   auditRepo,
		logger:   log,
		cfg:      cfg,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (r *QueryResolver) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// Validate rejects empty or malformed queries.
func (q *Query) Validate() error {
	if len(q.Inputs) == 0 {
		return fmt.Errorf("%w: no modality payload", domain.ErrInvalidQuery)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidQuery, q.TopK)
	}
	if q.MediaType != "" && !q.MediaType.Valid() {
		return fmt.Errorf("%w: unknown media type %q", domain.ErrInvalidQuery, q.MediaType)
	}
	seen := make(map[domain.Modality]bool, len(q.Inputs))
	for _, in := range q.Inputs {
		if _, err := domain.ParseModality(string(in.Modality)); err != nil {
			return err
		}
		if seen[in.Modality] {
			return fmt.Errorf("%w: modality %s supplied twice", domain.ErrInvalidQuery, in.Modality)
		}
		seen[in.Modality] = true
	}
	return nil
}

// Type returns the audit query type: the single modality, or "multimodal".
func (q *Query) Type() string {
	if len(q.Inputs) == 1 {
		return string(q.Inputs[0].Modality)
	}
	return "multimodal"
}

type contribution struct {
	list CandidateList
	err  error
}

// Resolve searches every supplied modality in parallel and fuses the results.
// A failing modality only drops its own contribution; the call fails with
// domain.ErrIndexUnavailable when none succeeds and with domain.ErrTimeout
// when the per-request deadline elapses.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: query to resolve.
//
// Returns:
//   - *Resolution: ranked, hydrated frames.
//   - error: wraps one of the domain error kinds.
func (r *QueryResolver) Resolve(ctx context.Context, q *Query) (*Resolution, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	searchID := uuid.New().String()
	ctx = logger.SetSearchID(ctx, searchID)

	sctx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	width := r.cfg.CandidateMultiplier * q.TopK
	contribs := make([]contribution, len(q.Inputs))
	var g errgroup.Group
	for i, in := range q.Inputs {
		g.Go(func() error {
			list, err := r.searchModality(sctx, in, width)
			list.Weight = r.weight(q, in.Modality)
			contribs[i] = contribution{list: list, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := sctx.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: resolution exceeded %s", domain.ErrTimeout, r.cfg.Timeout)
	}

	res := &Resolution{SearchID: searchID, Dropped: make(map[domain.Modality]string)}
	var lists []CandidateList
	var failures []string
	allDims := true
	for i, c := range contribs {
		m := q.Inputs[i].Modality
		if c.err != nil {
			res.Dropped[m] = c.err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", m, c.err))
			allDims = allDims && errors.Is(c.err, domain.ErrDimensionMismatch)
			r.log(ctx).WithField("modality", string(m)).WithError(c.err).Warn("Modality contribution dropped")
			continue
		}
		lists = append(lists, c.list)
	}
	if len(lists) == 0 {
		if allDims {
			return nil, fmt.Errorf("%w: %s", domain.ErrDimensionMismatch, strings.Join(failures, "; "))
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrIndexUnavailable, strings.Join(failures, "; "))
	}

	fused := Fuse(lists)
	results, err := r.hydrate(sctx, fused, q)
	if err != nil {
		if sctx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: hydration exceeded %s", domain.ErrTimeout, r.cfg.Timeout)
		}
		return nil, err
	}
	res.Results = results

	latency := time.Since(start).Milliseconds()
	logger.With(logger.Fields{
		"query_type":      q.Type(),
		logger.FieldCount: len(results),
		"top_k":           q.TopK,
	}).WithDuration(latency).Info(ctx, "Query resolved")

	r.audit(ctx, searchID, q, results, latency)
	return res, nil
}

func (r *QueryResolver) weight(q *Query, m domain.Modality) float64 {
	if w, ok := q.Weights[m]; ok && w > 0 {
		return w
	}
	if w, ok := r.cfg.Weights[m]; ok && w > 0 {
		return w
	}
	return 1
}

func (r *QueryResolver) searchModality(ctx context.Context, in domain.ModalityVector, width int) (CandidateList, error) {
	list := CandidateList{Modality: in.Modality}

	spec, ok := r.registry.ForModality(in.Modality)
	if !ok {
		return list, fmt.Errorf("%w: no model serves %s", domain.ErrIndexUnavailable, in.Modality)
	}
	if len(in.Vector) != spec.Dimensions {
		return list, fmt.Errorf("%w: model %s expects %d dimensions, got %d",
			domain.ErrDimensionMismatch, spec.Name, spec.Dimensions, len(in.Vector))
	}
	active, err := r.catalog.GetActive(ctx, spec.Name)
	if errors.Is(err, domain.ErrNotFound) {
		return list, fmt.Errorf("%w: no ready index %s", domain.ErrIndexUnavailable, spec.Name)
	}
	if err != nil {
		return list, err
	}

	candidates, err := r.searcher.Search(ctx, active, in.Vector, width)
	if err != nil {
		return list, err
	}
	list.Candidates = candidates
	return list, nil
}

// hydrate walks the fused order and keeps the first TopK frames that are
// still live and match the media type filter.
func (r *QueryResolver) hydrate(ctx context.Context, fused []Fused, q *Query) ([]ResolvedFrame, error) {
	if len(fused) == 0 {
		return []ResolvedFrame{}, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.FrameID
	}

	frames, err := r.frames.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Frame, len(frames))
	mediaIDs := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Superseded {
			continue
		}
		byID[f.ID] = f
		mediaIDs = append(mediaIDs, f.MediaID)
	}
	media, err := r.media.GetByIDsMap(ctx, mediaIDs)
	if err != nil {
		return nil, err
	}

	results := make([]ResolvedFrame, 0, q.TopK)
	for _, f := range fused {
		frame, ok := byID[f.FrameID]
		if !ok {
			continue
		}
		m, ok := media[frame.MediaID]
		if !ok || (q.MediaType != "" && m.MediaType != q.MediaType) {
			continue
		}
		results = append(results, ResolvedFrame{
			Frame:      frame,
			Media:      m,
			Score:      f.Score,
			Similarity: 1 - f.Score,
			Modalities: f.Modalities,
		})
		if len(results) == q.TopK {
			break
		}
	}

	kept := make([]string, len(results))
	for i := range results {
		kept[i] = results[i].Frame.ID
	}
	metas, err := r.metadata.GetByFrameIDs(ctx, kept)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if meta, ok := metas[results[i].Frame.ID]; ok {
			results[i].Metadata = &meta
		}
	}
	return results, nil
}

// audit writes the search record in the background; it never fails the query.
func (r *QueryResolver) audit(ctx context.Context, searchID string, q *Query, results []ResolvedFrame, latencyMs int64) {
	record := &domain.SearchQuery{
		ID:          searchID,
		QueryType:   q.Type(),
		QueryText:   q.Text,
		LatencyMs:   latencyMs,
		TopKResults: make(domain.RankedFrames, len(results)),
	}
	for i, res := range results {
		record.TopKResults[i] = domain.RankedFrame{FrameID: res.Frame.ID, Score: res.Score}
	}
	if len(results) > 0 {
		record.TopResultFrameID = results[0].Frame.ID
	}

	actx, cancel := context.WithTimeout(logger.Detach(ctx), r.cfg.AuditTimeout)
	go func() {
		defer cancel()
		if err := r.audits.Create(actx, record); err != nil {
			r.log(actx).WithError(err).Warn("Failed to record search query")
		}
	}()
}
