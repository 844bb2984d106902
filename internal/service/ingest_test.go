package service

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"slices"
	"testing"

	"github.com/timmy/clipsearch/internal/domain"
)

func TestUploadImageIngestsInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := pngBytes(t, color.RGBA{R: 255, A: 255})

	res, err := h.ingest.Upload(ctx, &UploadRequest{
		MediaType:   domain.MediaTypeImage,
		Title:       "red",
		FileName:    "../red square.png",
		ContentType: "image/png",
		Data:        data,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Media.Status != domain.MediaStatusProcessing {
		t.Errorf("status at upload = %s", res.Media.Status)
	}
	wantKey := "media/" + res.Media.ID + "/red_square.png"
	if res.Media.StorageKey != wantKey || res.URL != h.store.GetURL(wantKey) {
		t.Errorf("stored at %s (%s), want %s", res.Media.StorageKey, res.URL, wantKey)
	}

	h.ingest.Wait()

	media, err := h.media.GetByID(ctx, res.Media.ID)
	if err != nil || media.Status != domain.MediaStatusCompleted {
		t.Fatalf("media = %+v, %v", media, err)
	}
	frames, err := h.frames.ListByMedia(ctx, media.ID, false)
	if err != nil || len(frames) != 1 || frames[0].TimestampSeconds != 0 || frames[0].StorageKey != wantKey {
		t.Fatalf("frames = %+v, %v", frames, err)
	}
	records, err := h.records.ListByFrame(ctx, frames[0].ID)
	if err != nil || len(records) != 2 {
		t.Fatalf("records = %d, %v; want one per frame model", len(records), err)
	}
	notified := h.notifier.notified()
	slices.Sort(notified)
	if !slices.Equal(notified, []string{"clip-v1", "motion-v1"}) {
		t.Errorf("notified = %v", notified)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"unknown media type", UploadRequest{MediaType: "audio", Data: []byte("x")}},
		{"empty body", UploadRequest{MediaType: domain.MediaTypeImage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.ingest.Upload(context.Background(), &tt.req); !errors.Is(err, domain.ErrInvalidQuery) {
				t.Fatalf("Upload() = %v, want ErrInvalidQuery", err)
			}
		})
	}
	if keys := h.store.Keys(); len(keys) != 0 {
		t.Errorf("rejected uploads stored objects: %v", keys)
	}
}

func (h *harness) createMedia(t *testing.T, mediaType domain.MediaType, key string, data []byte) *domain.Media {
	t.Helper()
	ctx := context.Background()
	if err := h.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	m := &domain.Media{
		ID:         "media-" + key,
		MediaType:  mediaType,
		StorageKey: key,
		Status:     domain.MediaStatusProcessing,
	}
	if err := h.media.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return m
}

func TestIngestVideoStoresFramesAndMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	media := h.createMedia(t, domain.MediaTypeVideo, "clip.mp4", []byte("not decoded"))

	for i, c := range []color.RGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}} {
		data := pngBytes(t, c)
		key := "frames/clip/" + string(rune('0'+i)) + ".png"
		h.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png")
	}
	h.extractor.extraction = &Extraction{
		DurationSeconds: 3,
		Frames: []ExtractedFrame{
			{FrameNumber: 0, TimestampSeconds: 0, StorageKey: "frames/clip/0.png", Metadata: &FrameFeatures{SceneDescription: "red", DetectedObjects: []string{"wall"}}},
			{FrameNumber: 1, TimestampSeconds: 1, StorageKey: "frames/clip/1.png"},
			{FrameNumber: 2, TimestampSeconds: 2, StorageKey: "frames/clip/2.png"},
		},
	}

	if err := h.ingest.Ingest(ctx, media.ID); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	got, _ := h.media.GetByID(ctx, media.ID)
	if got.Status != domain.MediaStatusCompleted || got.DurationSeconds == nil || *got.DurationSeconds != 3 {
		t.Fatalf("media = %+v", got)
	}
	frames, err := h.frames.ListByMedia(ctx, media.ID, false)
	if err != nil || len(frames) != 3 {
		t.Fatalf("frames = %d, %v", len(frames), err)
	}
	meta, err := h.metas.GetByFrameID(ctx, frames[0].ID)
	if err != nil || meta.SceneDescription != "red" || len(meta.DetectedObjects) != 1 {
		t.Fatalf("metadata = %+v, %v", meta, err)
	}
	if _, err := h.metas.GetByFrameID(ctx, frames[1].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("frame without features has metadata: %v", err)
	}
	count, _ := h.records.CountSince(ctx, "clip-v1", 0)
	if count != 3 {
		t.Errorf("clip-v1 records = %d, want 3", count)
	}
}

func TestReingestKeepsOneLiveGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	media := h.createMedia(t, domain.MediaTypeImage, "one.png", pngBytes(t, color.RGBA{R: 9, A: 255}))

	for i := 0; i < 2; i++ {
		if err := h.ingest.Ingest(ctx, media.ID); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	live, _ := h.frames.ListByMedia(ctx, media.ID, false)
	all, _ := h.frames.ListByMedia(ctx, media.ID, true)
	if len(live) != 1 || live[0].Generation != 2 || len(all) != 2 {
		t.Fatalf("live = %+v, all = %d", live, len(all))
	}

	var liveRecords int
	for rec, err := range h.records.ListSince(ctx, "clip-v1", 0) {
		if err != nil {
			t.Fatalf("ListSince: %v", err)
		}
		if rec.Live() {
			liveRecords++
			if rec.FrameID != live[0].ID {
				t.Errorf("live record belongs to superseded frame %s", rec.FrameID)
			}
		}
	}
	if liveRecords != 1 {
		t.Errorf("live clip-v1 records = %d, want 1", liveRecords)
	}
}

func TestIngestEmbeddingFailureKeepsFrames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := pngBytes(t, color.RGBA{G: 7, A: 255})
	media := h.createMedia(t, domain.MediaTypeImage, "fail.png", data)
	h.embedder.failOn(string(data), errors.New("embedder down"))

	if err := h.ingest.Ingest(ctx, media.ID); err == nil {
		t.Fatal("Ingest succeeded with failing embedder")
	}
	got, _ := h.media.GetByID(ctx, media.ID)
	if got.Status != domain.MediaStatusError || got.ErrorMessage == "" {
		t.Fatalf("media = %+v", got)
	}
	frames, _ := h.frames.ListByMedia(ctx, media.ID, false)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 kept", len(frames))
	}

	h.embedder.failOn(string(data), nil)
	stats, err := h.ingest.Reingest(ctx, domain.MediaStatusError, 10)
	if err != nil {
		t.Fatalf("Reingest: %v", err)
	}
	if stats.TotalItems != 1 || stats.ProcessedItems != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got, _ = h.media.GetByID(ctx, media.ID)
	if got.Status != domain.MediaStatusCompleted {
		t.Fatalf("status after retry = %s", got.Status)
	}
}

func TestResumeSnapshotSkipsLaterUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.createMedia(t, domain.MediaTypeImage, "stale.png", pngBytes(t, color.RGBA{B: 9, A: 255}))

	pending, err := h.ingest.Pending(ctx, domain.MediaStatusProcessing, 10)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != stale.ID {
		t.Fatalf("pending = %v, want [%s]", pending, stale.ID)
	}

	fresh, err := h.ingest.Upload(ctx, &UploadRequest{
		MediaType: domain.MediaTypeImage,
		FileName:  "fresh.png",
		Data:      pngBytes(t, color.RGBA{R: 9, A: 255}),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	stats := h.ingest.ReingestIDs(ctx, pending)
	h.ingest.Wait()
	if stats.TotalItems != 1 || stats.ProcessedItems != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, id := range []string{stale.ID, fresh.Media.ID} {
		frames, err := h.frames.ListByMedia(ctx, id, true)
		if err != nil || len(frames) != 1 || frames[0].Generation != 1 {
			t.Errorf("media %s frames = %+v, %v; want one generation", id, frames, err)
		}
	}
}

func TestIngestRejectsUndecodableImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	media := h.createMedia(t, domain.MediaTypeImage, "junk.png", []byte("definitely not an image"))

	if err := h.ingest.Ingest(ctx, media.ID); err == nil {
		t.Fatal("Ingest accepted an undecodable image")
	}
	got, _ := h.media.GetByID(ctx, media.ID)
	if got.Status != domain.MediaStatusError {
		t.Fatalf("status = %s", got.Status)
	}
	if frames, _ := h.frames.ListByMedia(ctx, media.ID, true); len(frames) != 0 {
		t.Errorf("frames = %d, want none", len(frames))
	}
}

func TestIngestUnknownMedia(t *testing.T) {
	h := newHarness(t)
	if err := h.ingest.Ingest(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Ingest() = %v, want ErrNotFound", err)
	}
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		in   string
		typ  domain.MediaType
		want string
	}{
		{"cat.png", domain.MediaTypeImage, "cat.png"},
		{"../../etc/passwd", domain.MediaTypeImage, "passwd"},
		{`C:\videos\my clip.mp4`, domain.MediaTypeVideo, "my_clip.mp4"},
		{"", domain.MediaTypeVideo, "original.mp4"},
		{"", domain.MediaTypeImage, "original.jpg"},
	}
	for _, tt := range tests {
		if got := cleanFileName(tt.in, tt.typ); got != tt.want {
			t.Errorf("cleanFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type flakyEmbedder struct {
	failures int
	err      error
	calls    int
}

func (f *flakyEmbedder) Embed(ctx context.Context, model string, p Payload) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func TestEmbedRetries(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		failures  int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"no retries", 0, 1, errors.New("503"), true, 1},
		{"recovers", 2, 2, errors.New("503"), false, 3},
		{"exhausted", 1, 5, errors.New("503"), true, 2},
		{"dimension mismatch is final", 3, 5, domain.ErrDimensionMismatch, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &flakyEmbedder{failures: tt.failures, err: tt.err}
			s := &IngestService{embedder: emb, retries: tt.retries}
			vec, err := s.embed(context.Background(), "clip", Payload{Modality: domain.ModalityImage, Data: []byte{1}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("embed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(vec) != 3 {
				t.Errorf("vec = %v", vec)
			}
			if emb.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", emb.calls, tt.wantCalls)
			}
		})
	}
}
