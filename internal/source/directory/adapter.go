// Package directory imports every image and video file below a directory.
package directory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/clipsearch/internal/source"
)

// Adapter implements source.Source over a directory tree.
type Adapter struct {
	root   string
	items  []source.Item // Cached items
	loaded bool
}

// NewAdapter creates a new directory adapter.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return "dir:" + filepath.Base(a.root)
}

// FetchBatch fetches a batch of items
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load items: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.items, cursor, limit)
}

// loadItems walks the tree and loads every media file
func (a *Adapter) loadItems() error {
	if _, err := os.Stat(a.root); err != nil {
		return fmt.Errorf("directory %s: %w", a.root, err)
	}

	a.items = []source.Item{}
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != a.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		mediaType, ok := source.MediaTypeOf(name)
		if !ok {
			return nil
		}

		relPath, _ := filepath.Rel(a.root, path)
		album := filepath.Base(filepath.Dir(path))
		if filepath.Dir(path) == filepath.Clean(a.root) {
			album = ""
		}

		a.items = append(a.items, source.Item{
			SourceID:    filepath.ToSlash(relPath),
			LocalPath:   path,
			MediaType:   mediaType,
			Title:       titleOf(name),
			Description: album,
			SourceURL:   "file://" + filepath.ToSlash(path),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort items by source ID for consistent ordering
	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}

// titleOf derives a title from a file name: "beach_day-2.mp4" -> "beach day 2".
func titleOf(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
