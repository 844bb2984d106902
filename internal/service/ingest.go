package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/storage"
	_ "golang.org/x/image/webp"
)

// IngestService coordinates the media pipeline: upload, frame extraction,
// frame replacement, and per-frame embedding.
type IngestService struct {
	registry  *ModelRegistry
	mediaRepo *repository.MediaRepository
	frameRepo *repository.FrameRepository
	metaRepo  *repository.FrameMetadataRepository
	records   *repository.EmbeddingRepository
	storage   storage.ObjectStorage
	embedder  Embedder
	extractor FrameExtractor
	notifier  BuildNotifier
	logger    *logger.Logger
	workers   int
	retries   int

	locks      sync.Map // media id -> *sync.Mutex
	background sync.WaitGroup
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers int
	// EmbedRetries is how often a failed embedder call is retried per frame and model.
	EmbedRetries int
}

// NewIngestService creates a new ingest service
func NewIngestService(
	registry *ModelRegistry,
	mediaRepo *repository.MediaRepository,
	frameRepo *repository.FrameRepository,
	metaRepo *repository.FrameMetadataRepository,
	records *repository.EmbeddingRepository,
	objectStorage storage.ObjectStorage,
	embedder Embedder,
	extractor FrameExtractor,
	notifier BuildNotifier,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &IngestService{
		registry:  registry,
		mediaRepo: mediaRepo,
		frameRepo: frameRepo,
		metaRepo:  metaRepo,
		records:   records,
		storage:   objectStorage,
		embedder:  embedder,
		extractor: extractor,
		notifier:  notifier,
		logger:    log,
		workers:   workers,
		retries:   max(cfg.EmbedRetries, 0),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	FailedItems    int64     `json:"failed_items"`
	SkippedItems   int64     `json:"skipped_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// UploadRequest carries an uploaded asset and its descriptive fields.
type UploadRequest struct {
	MediaType       domain.MediaType
	Title           string
	Description     string
	FileName        string
	ContentType     string
	SourceURL       string
	DurationSeconds *float64
	Data            []byte
}

// UploadResult is returned once the asset is stored and the media row exists.
type UploadResult struct {
	Media *domain.Media
	URL   string
}

// Upload stores the asset, creates the media row in processing status and
// starts ingestion in the background.
// Parameters:
//   - ctx: request context; ingestion continues after it ends.
//   - req: uploaded asset and fields.
//
// Returns:
//   - *UploadResult: the created media and its public URL.
//   - error: wraps domain.ErrInvalidQuery for unusable input.
func (s *IngestService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	result, err := s.store(ctx, req)
	if err != nil {
		return nil, err
	}
	s.IngestAsync(ctx, result.Media.ID)
	return result, nil
}

// store uploads the asset and creates its media row in processing status.
func (s *IngestService) store(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if !req.MediaType.Valid() {
		return nil, fmt.Errorf("%w: unknown media type %q", domain.ErrInvalidQuery, req.MediaType)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidQuery)
	}

	mediaID := uuid.New().String()
	fileName := cleanFileName(req.FileName, req.MediaType)
	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = getContentType(strings.TrimPrefix(path.Ext(fileName), "."))
	}
	storageKey := fmt.Sprintf("media/%s/%s", mediaID, fileName)

	ctx = logger.SetMediaID(ctx, mediaID)
	if err := s.storage.Upload(ctx, storageKey, bytes.NewReader(req.Data), int64(len(req.Data)), contentType); err != nil {
		return nil, fmt.Errorf("failed to upload to storage: %w", err)
	}

	title := req.Title
	if title == "" {
		title = fileName
	}
	media := &domain.Media{
		ID:              mediaID,
		Title:           title,
		Description:     req.Description,
		SourceURL:       req.SourceURL,
		MediaType:       req.MediaType,
		FileName:        fileName,
		ContentType:     contentType,
		DurationSeconds: req.DurationSeconds,
		StorageKey:      storageKey,
		Status:          domain.MediaStatusProcessing,
	}
	if err := s.mediaRepo.Create(ctx, media); err != nil {
		// Rollback: the asset is unreachable without its row
		if delErr := s.storage.Delete(ctx, storageKey); delErr != nil {
			s.log(ctx).WithFields(logger.Fields{
				"storage_key": storageKey,
			}).WithError(delErr).Error("Failed to rollback storage upload")
		}
		return nil, fmt.Errorf("failed to save media: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		"media_type": string(req.MediaType),
		"size":       len(req.Data),
	}).Info("Media uploaded")

	return &UploadResult{Media: media, URL: s.storage.GetURL(storageKey)}, nil
}

// IngestAsync runs Ingest in the background on a context detached from ctx.
func (s *IngestService) IngestAsync(ctx context.Context, mediaID string) {
	bctx := logger.Detach(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.Ingest(bctx, mediaID); err != nil {
			s.log(bctx).WithError(err).Warn("Background ingestion failed")
		}
	}()
}

// Wait blocks until every background ingestion has returned.
func (s *IngestService) Wait() {
	s.background.Wait()
}

func (s *IngestService) lock(mediaID string) func() {
	mu, _ := s.locks.LoadOrStore(mediaID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Ingest (re)builds the frames and embeddings of a media item. Running it
// again supersedes the previous frame generation, so it is idempotent per id.
// The media ends completed, or error when any stage or any frame embedding
// failed; frames are kept either way.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - mediaID: media to ingest.
//
// Returns:
//   - error: non-nil if the media ended in error status.
func (s *IngestService) Ingest(ctx context.Context, mediaID string) error {
	unlock := s.lock(mediaID)
	defer unlock()

	ctx = logger.SetMediaID(ctx, mediaID)
	start := time.Now()

	media, err := s.mediaRepo.GetByID(ctx, mediaID)
	if err != nil {
		return err
	}
	if err := s.mediaRepo.UpdateStatus(ctx, mediaID, domain.MediaStatusProcessing, ""); err != nil {
		return err
	}

	embedded, err := s.ingest(ctx, media)
	for _, name := range embedded {
		s.notifier.Notify(ctx, name)
	}
	if err != nil {
		sctx, cancel := context.WithTimeout(logger.Detach(ctx), failTimeout)
		defer cancel()
		if uerr := s.mediaRepo.UpdateStatus(sctx, mediaID, domain.MediaStatusError, err.Error()); uerr != nil {
			s.log(ctx).WithError(uerr).Error("Failed to mark media failed")
		}
		s.log(ctx).WithError(err).Error("Ingestion failed")
		return fmt.Errorf("ingestion of media %s failed: %w", mediaID, err)
	}

	if err := s.mediaRepo.UpdateStatus(ctx, mediaID, domain.MediaStatusCompleted, ""); err != nil {
		return err
	}
	logger.With(logger.Fields{
		logger.FieldStatus: string(domain.MediaStatusCompleted),
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Ingestion completed")
	return nil
}

// ingest runs the pipeline stages and returns the models that received records.
func (s *IngestService) ingest(ctx context.Context, media *domain.Media) ([]string, error) {
	frames, features, assets, err := s.extract(ctx, media)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted")
	}

	generation, err := s.frameRepo.ReplaceGeneration(ctx, media.ID, frames)
	if err != nil {
		return nil, err
	}

	for i, f := range features {
		if f == nil {
			continue
		}
		meta := &domain.FrameMetadata{
			ID:               uuid.New().String(),
			FrameID:          frames[i].ID,
			SceneDescription: f.SceneDescription,
			DetectedObjects:  f.DetectedObjects,
			DetectedText:     f.DetectedText,
			ColorPalette:     f.ColorPalette,
		}
		if err := s.metaRepo.Upsert(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to store frame metadata: %w", err)
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		"generation":      generation,
		logger.FieldCount: len(frames),
	}).Info("Frames replaced")

	return s.embedFrames(ctx, frames, assets)
}

// extract returns the frames of media, their optional features, and any
// frame bytes already in memory keyed by storage key.
func (s *IngestService) extract(ctx context.Context, media *domain.Media) ([]domain.Frame, []*FrameFeatures, map[string][]byte, error) {
	switch media.MediaType {
	case domain.MediaTypeImage:
		data, err := storage.GetBytes(ctx, s.storage, media.StorageKey)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read image: %w", err)
		}
		if _, _, err := getImageDimensions(data); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to decode image: %w", err)
		}
		frame := domain.Frame{FrameNumber: 0, TimestampSeconds: 0, StorageKey: media.StorageKey}
		return []domain.Frame{frame}, []*FrameFeatures{nil}, map[string][]byte{media.StorageKey: data}, nil

	case domain.MediaTypeVideo:
		if s.extractor == nil {
			return nil, nil, nil, fmt.Errorf("no media processor configured")
		}
		ext, err := s.extractor.ExtractFrames(ctx, media.ID, media.StorageKey, s.storage.GetURL(media.StorageKey))
		if err != nil {
			return nil, nil, nil, err
		}
		if ext.DurationSeconds > 0 && media.DurationSeconds == nil {
			if err := s.mediaRepo.SetDuration(ctx, media.ID, ext.DurationSeconds); err != nil {
				s.log(ctx).WithError(err).Warn("Failed to record media duration")
			}
		}
		frames := make([]domain.Frame, len(ext.Frames))
		features := make([]*FrameFeatures, len(ext.Frames))
		for i, f := range ext.Frames {
			frames[i] = domain.Frame{
				FrameNumber:      f.FrameNumber,
				TimestampSeconds: f.TimestampSeconds,
				StorageKey:       f.StorageKey,
			}
			features[i] = f.Metadata
		}
		return frames, features, map[string][]byte{}, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: unknown media type %q", domain.ErrInvalidQuery, media.MediaType)
}

type embedResult struct {
	frameID string
	models  []string
	err     error
}

// embedFrames embeds every frame with every frame model on a worker pool.
func (s *IngestService) embedFrames(ctx context.Context, frames []domain.Frame, assets map[string][]byte) ([]string, error) {
	models := s.registry.FrameModels()
	if len(models) == 0 {
		return nil, nil
	}

	framesChan := make(chan domain.Frame, s.workers*2)
	resultsChan := make(chan *embedResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range framesChan {
				resultsChan <- s.embedFrame(ctx, frame, assets, models)
			}
		}()
	}

	var failed atomic.Int64
	var firstErr error
	received := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			for _, name := range result.models {
				received[name] = true
			}
			if result.err != nil {
				if failed.Add(1) == 1 {
					firstErr = result.err
				}
				s.log(ctx).WithFields(logger.Fields{
					"frame_id": result.frameID,
				}).WithError(result.err).Error("Failed to embed frame")
			}
		}
		close(done)
	}()

	for _, frame := range frames {
		framesChan <- frame
	}
	close(framesChan)
	wg.Wait()
	close(resultsChan)
	<-done

	var names []string
	for _, spec := range models {
		if received[spec.Name] {
			names = append(names, spec.Name)
		}
	}
	if n := failed.Load(); n > 0 {
		return names, fmt.Errorf("%d of %d frames failed to embed: %w", n, len(frames), firstErr)
	}
	return names, nil
}

func (s *IngestService) embedFrame(ctx context.Context, frame domain.Frame, assets map[string][]byte, models []domain.ModelSpec) *embedResult {
	result := &embedResult{frameID: frame.ID}
	if err := ctx.Err(); err != nil {
		result.err = err
		return result
	}

	data, ok := assets[frame.StorageKey]
	if !ok {
		var err error
		data, err = storage.GetBytes(ctx, s.storage, frame.StorageKey)
		if err != nil {
			result.err = fmt.Errorf("failed to read frame: %w", err)
			return result
		}
	}
	payload := Payload{
		Modality:    domain.ModalityImage,
		Data:        data,
		ContentType: getContentType(strings.TrimPrefix(path.Ext(frame.StorageKey), ".")),
	}

	var errs []error
	for _, spec := range models {
		vec, err := s.embed(ctx, spec.Name, payload)
		if err == nil {
			_, err = s.records.Put(ctx, frame.ID, spec.Name, vec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", spec.Name, err))
			continue
		}
		result.models = append(result.models, spec.Name)
	}
	result.err = errors.Join(errs...)
	return result
}

// embed calls the embedder, retrying transient failures up to s.retries times.
func (s *IngestService) embed(ctx context.Context, model string, payload Payload) ([]float32, error) {
	var vec []float32
	b := retry.WithMaxRetries(uint64(s.retries), retry.WithJitter(50*time.Millisecond, retry.NewExponential(200*time.Millisecond)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := s.embedder.Embed(ctx, model, payload)
		if err != nil {
			if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrInvalidQuery) {
				return err
			}
			return retry.RetryableError(err)
		}
		vec = v
		return nil
	})
	return vec, err
}

// Reingest re-runs ingestion for media in the given status, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: error to retry failures, processing to resume interrupted runs.
//   - limit: maximum number of media to process.
//
// Returns:
//   - *IngestStats: counts of the run.
//   - error: non-nil if the listing fails.
func (s *IngestService) Reingest(ctx context.Context, status domain.MediaStatus, limit int) (*IngestStats, error) {
	ids, err := s.Pending(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	return s.ReingestIDs(ctx, ids), nil
}

// Pending returns the ids of up to limit media in status, oldest first.
// Taking this snapshot before a process accepts uploads keeps a startup
// resume away from media the process ingests itself.
func (s *IngestService) Pending(ctx context.Context, status domain.MediaStatus, limit int) ([]string, error) {
	media, err := s.mediaRepo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s media: %w", status, err)
	}
	ids := make([]string, len(media))
	for i, m := range media {
		ids[i] = m.ID
	}
	return ids, nil
}

// ReingestIDs runs ingestion for each listed media in order.
func (s *IngestService) ReingestIDs(ctx context.Context, ids []string) *IngestStats {
	stats := &IngestStats{
		StartTime:  time.Now(),
		TotalItems: int64(len(ids)),
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := s.Ingest(ctx, id); err != nil {
			stats.FailedItems++
			continue
		}
		stats.ProcessedItems++
	}

	stats.EndTime = time.Now()
	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Reingestion completed")
	return stats
}

func cleanFileName(name string, mediaType domain.MediaType) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == "_" {
		if mediaType == domain.MediaTypeVideo {
			return "original.mp4"
		}
		return "original.jpg"
	}
	return name
}

func getImageDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}

func getContentType(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
