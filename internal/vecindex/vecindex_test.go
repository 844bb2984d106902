package vecindex

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/storage"
)

func testEntries() []Entry {
	return []Entry{
		{RecordID: "r1", FrameID: "f1", Vector: []float32{1, 0, 0}},
		{RecordID: "r2", FrameID: "f2", Vector: []float32{0, 1, 0}},
		{RecordID: "r3", FrameID: "f3", Vector: []float32{0.9, 0.1, 0}},
		{RecordID: "r4", FrameID: "f4", Vector: []float32{0, 0, 0}},
	}
}

func TestSnapshotSearch(t *testing.T) {
	s, err := NewSnapshot("clip-v1", 1, 3, testEntries())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	tests := []struct {
		name  string
		query []float32
		k     int
		want  []string
	}{
		{"exact match first", []float32{1, 0, 0}, 2, []string{"f1", "f3"}},
		{"scale invariant", []float32{0, 5, 0}, 1, []string{"f2"}},
		{"zero vector last", []float32{1, 1, 0}, 4, []string{"f3", "f1", "f2", "f4"}},
		{"k larger than index", []float32{0, 1, 0}, 10, []string{"f2", "f3", "f1", "f4"}},
		{"k zero", []float32{1, 0, 0}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(tt.query, tt.k)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d matches, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].FrameID != tt.want[i] {
					t.Fatalf("match %d = %s, want %s (%+v)", i, got[i].FrameID, tt.want[i], got)
				}
			}
		})
	}
}

func TestSnapshotRoundTripDistanceZero(t *testing.T) {
	entries := make([]Entry, 0, 50)
	for i := 0; i < 50; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(math.Sin(float64(i*8 + j)))
		}
		entries = append(entries, Entry{RecordID: string(rune('A' + i)), FrameID: string(rune('a' + i)), Vector: v})
	}
	s, err := NewSnapshot("clip-v1", 1, 8, entries)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	for _, e := range entries {
		got, err := s.Search(e.Vector, 1)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got[0].RecordID != e.RecordID || got[0].Distance > 1e-6 {
			t.Fatalf("query for %s returned %+v", e.RecordID, got[0])
		}
	}
}

func TestSnapshotTiesAreDeterministic(t *testing.T) {
	s, err := NewSnapshot("clip-v1", 1, 2, []Entry{
		{RecordID: "r9", FrameID: "fb", Vector: []float32{1, 0}},
		{RecordID: "r1", FrameID: "fa", Vector: []float32{2, 0}},
		{RecordID: "r2", FrameID: "fa", Vector: []float32{3, 0}},
	})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	got, _ := s.Search([]float32{1, 0}, 3)
	want := []string{"r1", "r2", "r9"}
	for i := range want {
		if got[i].RecordID != want[i] {
			t.Fatalf("order = %+v, want records %v", got, want)
		}
	}
}

func TestSnapshotDimensionMismatch(t *testing.T) {
	if _, err := NewSnapshot("clip-v1", 1, 2, testEntries()); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("NewSnapshot = %v, want ErrDimensionMismatch", err)
	}
	s, _ := NewSnapshot("clip-v1", 1, 3, testEntries())
	if _, err := s.Search([]float32{1, 0}, 1); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("Search = %v, want ErrDimensionMismatch", err)
	}
}

func TestSnapshotEntriesDrop(t *testing.T) {
	s, _ := NewSnapshot("clip-v1", 1, 3, testEntries())
	kept := s.Entries(map[string]bool{"r2": true, "r4": true})
	if len(kept) != 2 || kept[0].RecordID != "r1" || kept[1].RecordID != "r3" {
		t.Fatalf("Entries = %+v", kept)
	}
}

func TestArtifactSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage("localhost:9000", "clips")
	s, _ := NewSnapshot("clip-v1", 3, 3, testEntries())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	art, err := Save(ctx, store, s, "clip-v1", 42, at)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if art.ArtifactKey != "indexes/clip-v1/v3/vectors.msgpack" || art.MappingKey != "indexes/clip-v1/v3/mapping.json" {
		t.Fatalf("keys = %s, %s", art.ArtifactKey, art.MappingKey)
	}

	idx := &domain.Index{
		Name: "clip-v1", Version: 3, ArtifactKey: art.ArtifactKey, MappingKey: art.MappingKey,
		VectorCount: art.VectorCount, Dimensions: art.Dimensions,
	}
	loaded, err := Load(ctx, store, idx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 4 || loaded.Version != 3 {
		t.Fatalf("loaded %d vectors v%d", loaded.Len(), loaded.Version)
	}
	got, _ := loaded.Search([]float32{0.9, 0.1, 0}, 1)
	if got[0].RecordID != "r3" || got[0].Distance > 1e-6 {
		t.Fatalf("loaded search = %+v", got)
	}

	vectors, _ := storage.GetBytes(ctx, store, art.ArtifactKey)
	mapping, _ := storage.GetBytes(ctx, store, art.MappingKey)
	_, m, err := Decode(vectors, mapping)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Cursor != 42 || !m.SnapshotAt.Equal(at) || m.Model != "clip-v1" {
		t.Fatalf("mapping = %+v", m)
	}

	idx.VectorCount = 5
	if _, err := Load(ctx, store, idx); err == nil {
		t.Fatal("Load should reject an artifact that disagrees with the catalog")
	}
}

func TestCacheIsMonotonicAndSharesLoads(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	cache := NewCache(func(ctx context.Context, idx *domain.Index) (*Snapshot, error) {
		loads.Add(1)
		<-release
		return NewSnapshot(idx.Name, idx.Version, 3, testEntries())
	}, time.Second)
	ctx := context.Background()
	v2 := &domain.Index{Name: "clip-v1", Version: 2}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := cache.Get(ctx, v2)
			if err != nil || s.Version != 2 {
				t.Errorf("Get = %v, %v", s, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}

	older, _ := NewSnapshot("clip-v1", 1, 3, testEntries())
	if got := cache.Put(older); got.Version != 2 {
		t.Fatalf("Put(older) left version %d", got.Version)
	}
	s, err := cache.Get(ctx, &domain.Index{Name: "clip-v1", Version: 1})
	if err != nil || s.Version != 2 {
		t.Fatalf("Get(v1) = %v, %v; want cached v2", s, err)
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("stale Get triggered a load")
	}
}

func TestCacheGetHonorsCallerContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	cache := NewCache(func(ctx context.Context, idx *domain.Index) (*Snapshot, error) {
		<-block
		return nil, errors.New("unreachable")
	}, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := cache.Get(ctx, &domain.Index{Name: "clip-v1", Version: 1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get = %v, want deadline exceeded", err)
	}
}
