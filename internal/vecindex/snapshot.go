// Package vecindex holds immutable, exact nearest-neighbor snapshots of one
// index version, their persisted artifact format, and a per-name snapshot cache.
//
// A Snapshot is never modified after construction. Serving a newer version
// means building a new Snapshot and swapping the cache pointer.
package vecindex

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/timmy/clipsearch/internal/domain"
)

// Entry is one vector record folded into a snapshot.
type Entry struct {
	RecordID string
	FrameID  string
	Vector   []float32
}

// Match is a single search result.
type Match struct {
	RecordID string
	FrameID  string

	// Distance is cosine distance in [0, 2]; lower is closer.
	Distance float32
}

// Snapshot is an exact cosine index over a fixed set of entries.
// It is safe for concurrent use.
type Snapshot struct {
	Name       string
	Version    int
	Dimensions int

	records []string
	frames  []string
	vectors []float32 // len(records) * Dimensions, row-major
	norms   []float64
}

// NewSnapshot builds a snapshot. Every vector must have dims elements.
func NewSnapshot(name string, version, dims int, entries []Entry) (*Snapshot, error) {
	s := &Snapshot{
		Name:       name,
		Version:    version,
		Dimensions: dims,
		records:    make([]string, 0, len(entries)),
		frames:     make([]string, 0, len(entries)),
		vectors:    make([]float32, 0, len(entries)*dims),
		norms:      make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		if err := s.add(e.RecordID, e.FrameID, e.Vector); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Snapshot) add(recordID, frameID string, vector []float32) error {
	if len(vector) != s.Dimensions {
		return fmt.Errorf("%w: record %s has %d dimensions, index %s has %d",
			domain.ErrDimensionMismatch, recordID, len(vector), s.Name, s.Dimensions)
	}
	s.records = append(s.records, recordID)
	s.frames = append(s.frames, frameID)
	s.vectors = append(s.vectors, vector...)
	s.norms = append(s.norms, norm(vector))
	return nil
}

// Len returns the number of vectors in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Entries returns every entry in insertion order, skipping record ids in drop.
// Vectors alias the snapshot's storage and must not be modified.
func (s *Snapshot) Entries(drop map[string]bool) []Entry {
	out := make([]Entry, 0, len(s.records))
	for i, id := range s.records {
		if drop[id] {
			continue
		}
		out = append(out, Entry{RecordID: id, FrameID: s.frames[i], Vector: s.row(i)})
	}
	return out
}

func (s *Snapshot) row(i int) []float32 {
	return s.vectors[i*s.Dimensions : (i+1)*s.Dimensions : (i+1)*s.Dimensions]
}

// Search returns up to k matches ordered by ascending distance. Equal distances
// are ordered by frame id, then record id, so results are deterministic.
func (s *Snapshot) Search(query []float32, k int) ([]Match, error) {
	if len(query) != s.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %s has %d",
			domain.ErrDimensionMismatch, len(query), s.Name, s.Dimensions)
	}
	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}

	qnorm := norm(query)
	matches := make([]Match, len(s.records))
	for i := range s.records {
		matches[i] = Match{
			RecordID: s.records[i],
			FrameID:  s.frames[i],
			Distance: cosineDistance(query, qnorm, s.row(i), s.norms[i]),
		}
	}

	slices.SortFunc(matches, compareMatches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func compareMatches(a, b Match) int {
	switch {
	case a.Distance < b.Distance:
		return -1
	case a.Distance > b.Distance:
		return 1
	}
	if c := strings.Compare(a.FrameID, b.FrameID); c != 0 {
		return c
	}
	return strings.Compare(a.RecordID, b.RecordID)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance returns 1 - cos(a, b) clamped to [0, 2].
// A zero vector has no direction and is at maximum distance.
func cosineDistance(a []float32, normA float64, b []float32, normB float64) float32 {
	if normA == 0 || normB == 0 {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	similarity := dot / (normA * normB)
	// Clamp to [-1, 1] to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return float32(1 - similarity)
}

// CosineDistance computes the cosine distance between two vectors of equal length.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}
	return cosineDistance(a, norm(a), b, norm(b))
}
