package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
)

func TestEmbedderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case req.Model == "slow":
			time.Sleep(300 * time.Millisecond)
			json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1}})
		case req.Model == "picky":
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"detail": "cannot decode image"})
		case req.Model == "broken":
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"detail": "model not loaded"})
		case req.Modality == "image" && string(req.Data) == "png-bytes":
			json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0, 1}})
		case req.Modality == "text" && req.Text != "":
			json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1, 0, 0}})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{}})
		}
	}))
	defer srv.Close()

	c := NewEmbedderClient(srv.URL+"/", 100*time.Millisecond)
	ctx := context.Background()

	// A listener closed right away gives a refused connection.
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	unreachable := NewEmbedderClient(closed.URL, time.Second)

	text := Payload{Modality: domain.ModalityText, Text: "x"}
	tests := []struct {
		name     string
		client   *EmbedderClient
		model    string
		payload  Payload
		wantLen  int
		wantKind string
	}{
		{"text", c, "clip-v1", Payload{Modality: domain.ModalityText, Text: "hello"}, 3, ""},
		{"image bytes", c, "clip-v1", Payload{Modality: domain.ModalityImage, Data: []byte("png-bytes"), ContentType: "image/png"}, 2, ""},
		{"service error", c, "broken", text, 0, "index_unavailable"},
		{"rejected payload", c, "picky", text, 0, "invalid_query"},
		{"empty embedding", c, "clip-v1", Payload{Modality: domain.ModalityVideo, Data: []byte("?")}, 0, "index_unavailable"},
		{"client timeout", c, "slow", text, 0, "timeout"},
		{"connection refused", unreachable, "clip-v1", text, 0, "index_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.client.Embed(ctx, tt.model, tt.payload)
			if (err != nil) != (tt.wantKind != "") {
				t.Fatalf("Embed() err = %v, want kind %q", err, tt.wantKind)
			}
			if err != nil && domain.ErrorKind(err) != tt.wantKind {
				t.Fatalf("Embed() kind = %s (%v), want %s", domain.ErrorKind(err), err, tt.wantKind)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestMediaProcessorClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req extractRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.MediaID == "bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"detail": "unsupported codec"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"duration_seconds": 2.5,
			"frames": []map[string]interface{}{
				{"frame_number": 0, "timestamp_seconds": 0, "storage_key": "frames/" + req.MediaID + "/0.jpg"},
				{"frame_number": 1, "timestamp_seconds": 1.5, "storage_key": "frames/" + req.MediaID + "/1.jpg",
					"metadata": map[string]interface{}{"scene_description": "beach"}},
			},
		})
	}))
	defer srv.Close()

	c := NewMediaProcessorClient(srv.URL, 5*time.Second)
	ext, err := c.ExtractFrames(context.Background(), "m1", "media/m1/a.mp4", "http://x/a.mp4")
	if err != nil {
		t.Fatalf("ExtractFrames: %v", err)
	}
	if ext.DurationSeconds != 2.5 || len(ext.Frames) != 2 {
		t.Fatalf("extraction = %+v", ext)
	}
	if ext.Frames[1].Metadata == nil || ext.Frames[1].Metadata.SceneDescription != "beach" || ext.Frames[0].Metadata != nil {
		t.Errorf("metadata = %+v / %+v", ext.Frames[0].Metadata, ext.Frames[1].Metadata)
	}

	if _, err := c.ExtractFrames(context.Background(), "bad", "k", "u"); err == nil {
		t.Fatal("ExtractFrames accepted an error response")
	}
}

func TestRemoteNotifierPostsBuildRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/indexes/clip-v1/build" &&
			r.Header.Get("X-Request-ID") == "req-42" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := logger.SetRequestID(context.Background(), "req-42")
	NewRemoteNotifier(srv.URL, time.Second).Notify(ctx, "clip-v1")
	if hits.Load() != 1 {
		t.Fatalf("indexer hit %d times, want 1", hits.Load())
	}
}
