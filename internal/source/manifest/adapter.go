// Package manifest imports media listed in a JSON Lines manifest.
package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/source"
)

const (
	// FileName is the JSONL manifest file name.
	FileName = "manifest.jsonl"
	// FilesDir is the directory holding the listed files.
	FilesDir = "files"
)

// Entry represents one line of manifest.jsonl.
type Entry struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type"` // inferred from the extension when empty
	Title       string `json:"title"`
	Description string `json:"description"`
	SourceURL   string `json:"source_url"`
}

// Adapter implements source.Source for a manifest directory.
type Adapter struct {
	basePath string
	items    []source.Item
	skipped  int
	loaded   bool
}

// NewAdapter creates a new manifest adapter.
// Parameters:
//   - basePath: directory containing manifest.jsonl and files/.
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(basePath string) *Adapter {
	return &Adapter{basePath: basePath}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "manifest:" + filepath.Base(a.basePath)
}

// FetchBatch fetches a batch of items listed in the manifest.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load manifest items: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.items, cursor, limit)
}

// Skipped returns how many manifest lines were malformed or missing their file.
func (a *Adapter) Skipped() int {
	return a.skipped
}

// loadItems loads all items from the manifest file
func (a *Adapter) loadItems() error {
	manifestPath := filepath.Join(a.basePath, FileName)
	filesPath := filepath.Join(a.basePath, FilesDir)

	file, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.Item{}
	a.skipped = 0

	// Read line by line (JSON Lines format)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || entry.ID == "" || entry.Filename == "" {
			a.skipped++
			continue
		}

		mediaType := domain.MediaType(entry.MediaType)
		if mediaType == "" {
			mediaType, _ = source.MediaTypeOf(entry.Filename)
		}
		if !mediaType.Valid() {
			a.skipped++
			continue
		}

		localPath := filepath.Join(filesPath, filepath.Base(entry.Filename))
		if _, err := os.Stat(localPath); err != nil {
			a.skipped++
			continue
		}

		a.items = append(a.items, source.Item{
			SourceID:    entry.ID,
			LocalPath:   localPath,
			MediaType:   mediaType,
			Title:       entry.Title,
			Description: entry.Description,
			SourceURL:   entry.SourceURL,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}
