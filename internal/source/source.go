// Package source enumerates media files for bulk import.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/clipsearch/internal/domain"
)

// Item is one importable media file.
type Item struct {
	SourceID    string // Unique ID within the source
	LocalPath   string
	MediaType   domain.MediaType
	Title       string
	Description string
	SourceURL   string // Original location; used to skip items imported before
}

// Source defines the interface for media import sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}

// MediaTypeOf infers the media type from a file extension.
func MediaTypeOf(name string) (domain.MediaType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return domain.MediaTypeImage, true
	case ".mp4", ".webm", ".mov":
		return domain.MediaTypeVideo, true
	}
	return "", false
}

// Page slices items by an index cursor.
func Page(items []Item, cursor string, limit int) ([]Item, string, error) {
	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if startIndex >= len(items) {
		return []Item{}, "", nil
	}

	endIndex := startIndex + limit
	if limit <= 0 || endIndex > len(items) {
		endIndex = len(items)
	}

	nextCursor := ""
	if endIndex < len(items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return items[startIndex:endIndex], nextCursor, nil
}
