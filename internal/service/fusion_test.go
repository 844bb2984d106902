package service

import (
	"math"
	"reflect"
	"testing"

	"github.com/timmy/clipsearch/internal/domain"
)

func list(m domain.Modality, weight float64, pairs ...interface{}) CandidateList {
	l := CandidateList{Modality: m, Weight: weight}
	for i := 0; i < len(pairs); i += 2 {
		l.Candidates = append(l.Candidates, Candidate{
			FrameID:  pairs[i].(string),
			Distance: float32(pairs[i+1].(float64)),
		})
	}
	return l
}

func frameOrder(fused []Fused) []string {
	out := make([]string, len(fused))
	for i, f := range fused {
		out[i] = f.FrameID
	}
	return out
}

func TestFuse(t *testing.T) {
	tests := []struct {
		name   string
		lists  []CandidateList
		want   []string
		scores []float64
	}{
		{
			name:   "single modality keeps raw distances",
			lists:  []CandidateList{list(domain.ModalityText, 1, "f2", 0.4, "f1", 0.1)},
			want:   []string{"f1", "f2"},
			scores: []float64{0.1, 0.4},
		},
		{
			name: "absent modality is not penalized",
			lists: []CandidateList{
				list(domain.ModalityText, 1, "f1", 0.1, "f2", 0.3, "f3", 0.5),
				list(domain.ModalityImage, 1, "f2", 0.2, "f4", 0.4),
			},
			// f3 and f4 both normalize to 1; f4 has the lower raw distance.
			want:   []string{"f1", "f2", "f4", "f3"},
			scores: []float64{0, 0.25, 1, 1},
		},
		{
			name: "all-equal list normalizes to zero",
			lists: []CandidateList{
				list(domain.ModalityText, 1, "f1", 0.3, "f2", 0.3),
				list(domain.ModalityImage, 1, "f3", 0.1, "f4", 0.9),
			},
			want:   []string{"f3", "f1", "f2", "f4"},
			scores: []float64{0, 0, 0, 1},
		},
		{
			name: "weights shift the order",
			lists: []CandidateList{
				list(domain.ModalityText, 1, "f1", 0.1, "f2", 0.5),
				list(domain.ModalityImage, 3, "f1", 0.9, "f2", 0.1),
			},
			want:   []string{"f2", "f1"},
			scores: []float64{0.25, 0.75},
		},
		{
			name: "duplicate frame keeps its best distance",
			lists: []CandidateList{
				list(domain.ModalityText, 1, "f1", 0.2, "f2", 0.3, "f1", 0.6),
			},
			want:   []string{"f1", "f2"},
			scores: []float64{0.2, 0.3},
		},
		{
			name:  "no candidates",
			lists: []CandidateList{list(domain.ModalityText, 1), list(domain.ModalityImage, 1)},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.lists)
			if order := frameOrder(got); !reflect.DeepEqual(order, tt.want) {
				t.Fatalf("order = %v, want %v", order, tt.want)
			}
			for i, want := range tt.scores {
				if math.Abs(got[i].Score-want) > 1e-6 {
					t.Errorf("score of %s = %f, want %f", got[i].FrameID, got[i].Score, want)
				}
			}
		})
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	a := list(domain.ModalityText, 1, "f3", 0.2, "f1", 0.2, "f2", 0.2, "f4", 0.7)
	b := list(domain.ModalityVideo, 1, "f2", 0.1, "f5", 0.1, "f1", 0.8)
	first := Fuse([]CandidateList{a, b})

	reversed := func(l CandidateList) CandidateList {
		out := l
		out.Candidates = make([]Candidate, len(l.Candidates))
		for i, c := range l.Candidates {
			out.Candidates[len(l.Candidates)-1-i] = c
		}
		return out
	}
	for i := 0; i < 20; i++ {
		got := Fuse([]CandidateList{reversed(a), reversed(b)})
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs:\n got %+v\nwant %+v", i, got, first)
		}
	}
}

func TestFuseRecordsContributingModalities(t *testing.T) {
	got := Fuse([]CandidateList{
		list(domain.ModalityText, 1, "f1", 0.1, "f2", 0.2),
		list(domain.ModalityImage, 1, "f1", 0.3, "f3", 0.4),
	})
	mods := make(map[string][]domain.Modality)
	for _, f := range got {
		mods[f.FrameID] = f.Modalities
	}
	if !reflect.DeepEqual(mods["f1"], []domain.Modality{domain.ModalityText, domain.ModalityImage}) {
		t.Errorf("f1 modalities = %v", mods["f1"])
	}
	if !reflect.DeepEqual(mods["f3"], []domain.Modality{domain.ModalityImage}) {
		t.Errorf("f3 modalities = %v", mods["f3"])
	}
}
