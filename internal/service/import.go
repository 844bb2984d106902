package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/source"
)

const importBatchSize = 50

// ImportOptions controls a bulk import.
type ImportOptions struct {
	// Force imports items whose source URL is already present.
	Force bool
}

type importResult struct {
	sourceID string
	skipped  bool
	err      error
}

// ImportFromSource uploads and ingests up to limit items of src with the
// worker pool. Each item is fully ingested before its worker takes the next.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: media source to enumerate.
//   - limit: maximum number of items to fetch.
//   - opts: import options; nil uses defaults.
//
// Returns:
//   - *IngestStats: counts of the run.
//   - error: always nil; per-item failures are counted and logged.
func (s *IngestService) ImportFromSource(ctx context.Context, src source.Source, limit int, opts *ImportOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	stats := &IngestStats{
		StartTime: time.Now(),
	}

	s.log(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
		"force":  opts.Force,
	}).Info("Starting import")

	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan importResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemsChan {
				resultsChan <- s.importItem(ctx, item, opts)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.skipped {
				atomic.AddInt64(&stats.SkippedItems, 1)
			} else if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithFields(logger.Fields{
					"source_id": result.sourceID,
				}).WithError(result.err).Error("Failed to import item")
			}
		}
		close(done)
	}()

	cursor := ""
	totalFetched := 0
fetch:
	for ctx.Err() == nil && totalFetched < limit {
		batchLimit := min(importBatchSize, limit-totalFetched)
		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			s.log(ctx).WithError(err).Error("Failed to fetch batch")
			break
		}
		if len(items) == 0 {
			break
		}
		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	logger.With(logger.Fields{
		"source":    src.GetSourceID(),
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Import completed")
	return stats, nil
}

func (s *IngestService) importItem(ctx context.Context, item source.Item, opts *ImportOptions) importResult {
	result := importResult{sourceID: item.SourceID}

	if item.SourceURL != "" && !opts.Force {
		n, err := s.mediaRepo.Count(ctx, map[string]interface{}{"source_url": item.SourceURL})
		if err != nil {
			result.err = err
			return result
		}
		if n > 0 {
			result.skipped = true
			return result
		}
	}

	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		result.err = fmt.Errorf("failed to read %s: %w", item.LocalPath, err)
		return result
	}

	uploaded, err := s.store(ctx, &UploadRequest{
		MediaType:   item.MediaType,
		Title:       item.Title,
		Description: item.Description,
		FileName:    filepath.Base(item.LocalPath),
		SourceURL:   item.SourceURL,
		Data:        data,
	})
	if err != nil {
		result.err = err
		return result
	}
	result.err = s.Ingest(ctx, uploaded.Media.ID)
	return result
}
