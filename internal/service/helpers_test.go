package service

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/clipsearch/internal/config"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/storage"
	"github.com/timmy/clipsearch/internal/vecindex"
	"gorm.io/gorm"
)

var testModels = []domain.ModelSpec{
	{Name: "clip-v1", Dimensions: 3, Modalities: []domain.Modality{domain.ModalityText, domain.ModalityImage}, EmbedFrames: true},
	{Name: "motion-v1", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityVideo}, EmbedFrames: true},
}

// fakeEmbedder returns registered vectors, or a deterministic one derived from the payload.
type fakeEmbedder struct {
	mu      sync.Mutex
	dims    map[string]int
	vectors map[string][]float32
	fail    map[string]error
	calls   int
}

func newFakeEmbedder(models []domain.ModelSpec) *fakeEmbedder {
	f := &fakeEmbedder{
		dims:    make(map[string]int),
		vectors: make(map[string][]float32),
		fail:    make(map[string]error),
	}
	for _, m := range models {
		f.dims[m.Name] = m.Dimensions
	}
	return f
}

func payloadKey(p Payload) string {
	if p.Text != "" {
		return p.Text
	}
	return string(p.Data)
}

func (f *fakeEmbedder) set(model, key string, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[model+"|"+key] = v
}

func (f *fakeEmbedder) failOn(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, key)
		return
	}
	f.fail[key] = err
}

func (f *fakeEmbedder) Embed(ctx context.Context, model string, p Payload) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := payloadKey(p)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	if v, ok := f.vectors[model+"|"+key]; ok {
		return v, nil
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	seed := h.Sum32()
	v := make([]float32, f.dims[model])
	for i := range v {
		v[i] = float32((seed>>(4*i))&0xf) + 1
	}
	return v, nil
}

type fakeExtractor struct {
	extraction *Extraction
	err        error
}

func (f *fakeExtractor) ExtractFrames(ctx context.Context, mediaID, storageKey, url string) (*Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.extraction, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	names []string
}

func (n *recordingNotifier) Notify(ctx context.Context, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, name)
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.names...)
}

type harness struct {
	db        *gorm.DB
	registry  *ModelRegistry
	media     *repository.MediaRepository
	frames    *repository.FrameRepository
	metas     *repository.FrameMetadataRepository
	records   *repository.EmbeddingRepository
	catalog   *repository.IndexRepository
	audits    *repository.SearchQueryRepository
	store     *storage.MemoryStorage
	cache     *vecindex.Cache
	builder   *IndexBuilder
	embedder  *fakeEmbedder
	extractor *fakeExtractor
	notifier  *recordingNotifier
	ingest    *IngestService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns: 1,
		AutoMigrate:  true,
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	registry, err := NewModelRegistry(testModels)
	if err != nil {
		t.Fatalf("NewModelRegistry: %v", err)
	}

	h := &harness{
		db:        db,
		registry:  registry,
		media:     repository.NewMediaRepository(db),
		frames:    repository.NewFrameRepository(db),
		metas:     repository.NewFrameMetadataRepository(db),
		records:   repository.NewEmbeddingRepository(db, testModels, 2),
		catalog:   repository.NewIndexRepository(db, time.Hour),
		audits:    repository.NewSearchQueryRepository(db),
		store:     storage.NewMemoryStorage("localhost:9000", "test"),
		embedder:  newFakeEmbedder(testModels),
		extractor: &fakeExtractor{},
		notifier:  &recordingNotifier{},
	}
	h.cache = vecindex.NewCache(vecindex.StorageLoader(h.store), time.Minute)
	h.builder = NewIndexBuilder(h.registry, h.records, h.catalog, h.store, h.cache, nil, logger.GetDefault(), BuilderConfig{
		CountThreshold: 2,
		CheckInterval:  time.Hour,
	})
	h.ingest = NewIngestService(h.registry, h.media, h.frames, h.metas, h.records, h.store,
		h.embedder, h.extractor, h.notifier, logger.GetDefault(), &IngestConfig{Workers: 3})
	return h
}

func (h *harness) resolver(searcher Searcher, cfg ResolverConfig) *QueryResolver {
	if searcher == nil {
		searcher = NewSnapshotSearcher(h.cache, 4)
	}
	return NewQueryResolver(h.registry, h.catalog, searcher, h.media, h.frames, h.metas, h.audits, logger.GetDefault(), cfg)
}

// seedMedia creates a completed media item with one frame per vector and a
// clip-v1 record for each, returning the frame ids.
func (h *harness) seedMedia(t *testing.T, mediaType domain.MediaType, vectors ...[]float32) (string, []string) {
	t.Helper()
	ctx := context.Background()
	mediaID := uuid.New().String()
	if err := h.media.Create(ctx, &domain.Media{
		ID:         mediaID,
		Title:      "seed " + string(mediaType),
		MediaType:  mediaType,
		StorageKey: "media/" + mediaID + "/original",
		Status:     domain.MediaStatusCompleted,
	}); err != nil {
		t.Fatalf("create media: %v", err)
	}

	frames := make([]domain.Frame, len(vectors))
	for i := range vectors {
		frames[i] = domain.Frame{
			FrameNumber:      i,
			TimestampSeconds: float64(i),
			StorageKey:       fmt.Sprintf("frames/%s/%d.png", mediaID, i),
		}
	}
	if _, err := h.frames.ReplaceGeneration(ctx, mediaID, frames); err != nil {
		t.Fatalf("ReplaceGeneration: %v", err)
	}
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
		if _, err := h.records.Put(ctx, f.ID, "clip-v1", vectors[i]); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return mediaID, ids
}

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
