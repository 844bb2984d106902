package service

import (
	"context"
	"fmt"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/vecindex"
	"golang.org/x/sync/semaphore"
)

// Searcher runs a nearest-neighbour query against one index version.
// Candidates come back in ascending distance order.
type Searcher interface {
	Search(ctx context.Context, idx *domain.Index, vector []float32, k int) ([]Candidate, error)
}

// SnapshotSearcher scans the in-memory snapshot of the index artifact.
// Scans are CPU bound, so at most maxConcurrent run at once.
type SnapshotSearcher struct {
	cache *vecindex.Cache
	slots *semaphore.Weighted
}

// NewSnapshotSearcher creates a searcher over cached snapshots.
func NewSnapshotSearcher(cache *vecindex.Cache, maxConcurrent int) *SnapshotSearcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &SnapshotSearcher{
		cache: cache,
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Search implements Searcher.
func (s *SnapshotSearcher) Search(ctx context.Context, idx *domain.Index, vector []float32, k int) ([]Candidate, error) {
	snap, err := s.cache.Get(ctx, idx)
	if err != nil {
		return nil, err
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	matches, err := snap.Search(vector, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(matches))
	for i, m := range matches {
		out[i] = Candidate{FrameID: m.FrameID, RecordID: m.RecordID, Distance: m.Distance}
	}
	return out, nil
}

// QdrantSearcher queries the Qdrant collection mirroring the index version.
type QdrantSearcher struct {
	repo *repository.QdrantRepository
}

// NewQdrantSearcher creates a searcher over mirrored collections.
func NewQdrantSearcher(repo *repository.QdrantRepository) *QdrantSearcher {
	return &QdrantSearcher{repo: repo}
}

// Search implements Searcher.
func (s *QdrantSearcher) Search(ctx context.Context, idx *domain.Index, vector []float32, k int) ([]Candidate, error) {
	if len(vector) != idx.Dimensions {
		return nil, fmt.Errorf("%w: index %s has %d dimensions, query %d",
			domain.ErrDimensionMismatch, idx.Name, idx.Dimensions, len(vector))
	}
	results, err := s.repo.Search(ctx, s.repo.CollectionName(idx.Name, idx.Version), vector, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{FrameID: r.FrameID, RecordID: r.RecordID, Distance: r.Distance}
	}
	return out, nil
}
