package service

import (
	"cmp"
	"math"
	"slices"

	"github.com/timmy/clipsearch/internal/domain"
)

// Candidate is one nearest-neighbour hit of a single modality.
type Candidate struct {
	FrameID  string
	RecordID string
	Distance float32
}

// CandidateList is the ascending-distance hit list one modality contributed.
type CandidateList struct {
	Modality   domain.Modality
	Weight     float64
	Candidates []Candidate
}

// Fused is one frame after fusion. Score is in [0,1] for multimodal queries
// and the raw cosine distance for single-modality ones; lower is better.
type Fused struct {
	FrameID     string
	Score       float64
	MinDistance float32
	Modalities  []domain.Modality
}

// Fuse merges per-modality candidate lists into one ranked list.
//
// Each list is min-max normalized to [0,1] (a list whose distances are all
// equal normalizes to 0) and a frame's score is the weighted average of the
// normalized distances of the modalities it appears in, so absence from a
// list is not penalized. With a single list the raw distances are kept.
// Ties fall back to the lower raw minimum distance, then the lower frame id,
// which makes the order total.
func Fuse(lists []CandidateList) []Fused {
	type acc struct {
		weighted float64
		weights  float64
		min      float32
		mods     []domain.Modality
	}

	single := len(lists) == 1
	byFrame := make(map[string]*acc)
	for _, list := range lists {
		best := dedupe(list.Candidates)
		if len(best) == 0 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, d := range best {
			lo = math.Min(lo, float64(d))
			hi = math.Max(hi, float64(d))
		}
		w := list.Weight
		if w <= 0 {
			w = 1
		}
		for frameID, d := range best {
			score := float64(d)
			if !single {
				score = normalize(score, lo, hi)
			}
			a, ok := byFrame[frameID]
			if !ok {
				a = &acc{min: d}
				byFrame[frameID] = a
			}
			a.weighted += w * score
			a.weights += w
			if d < a.min {
				a.min = d
			}
			a.mods = append(a.mods, list.Modality)
		}
	}

	out := make([]Fused, 0, len(byFrame))
	for frameID, a := range byFrame {
		out = append(out, Fused{
			FrameID:     frameID,
			Score:       a.weighted / a.weights,
			MinDistance: a.min,
			Modalities:  a.mods,
		})
	}
	slices.SortFunc(out, compareFused)
	return out
}

// dedupe keeps the smallest distance per frame; a frame can own several
// records in one index while an older generation is still folded in.
func dedupe(candidates []Candidate) map[string]float32 {
	best := make(map[string]float32, len(candidates))
	for _, c := range candidates {
		if d, ok := best[c.FrameID]; !ok || c.Distance < d {
			best[c.FrameID] = c.Distance
		}
	}
	return best
}

func normalize(d, lo, hi float64) float64 {
	if hi-lo <= 0 {
		return 0
	}
	return (d - lo) / (hi - lo)
}

func compareFused(a, b Fused) int {
	if c := cmp.Compare(a.Score, b.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.MinDistance, b.MinDistance); c != 0 {
		return c
	}
	return cmp.Compare(a.FrameID, b.FrameID)
}
