package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timmy/clipsearch/internal/domain"
)

func TestAdapterLoadsManifest(t *testing.T) {
	base := t.TempDir()
	files := filepath.Join(base, FilesDir)
	if err := os.MkdirAll(files, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.png", "b.mp4", "c.bin"} {
		if err := os.WriteFile(filepath.Join(files, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lines := []string{
		`{"id":"2","filename":"b.mp4","title":"Clip","source_url":"https://example.com/b"}`,
		`{"id":"1","filename":"a.png","media_type":"image"}`,
		`not json`,
		`{"id":"3","filename":"missing.png"}`,
		`{"id":"4","filename":"c.bin"}`,
		``,
	}
	if err := os.WriteFile(filepath.Join(base, FileName), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAdapter(base)
	items, next, err := a.FetchBatch(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if next != "" || len(items) != 2 {
		t.Fatalf("items = %+v, next %q", items, next)
	}
	if items[0].SourceID != "1" || items[1].MediaType != domain.MediaTypeVideo || items[1].Title != "Clip" {
		t.Errorf("items = %+v", items)
	}
	if a.Skipped() != 3 {
		t.Errorf("Skipped() = %d, want 3", a.Skipped())
	}
}

func TestAdapterMissingManifest(t *testing.T) {
	if _, _, err := NewAdapter(t.TempDir()).FetchBatch(context.Background(), "", 1); err == nil {
		t.Fatal("expected error for a directory without manifest")
	}
}
