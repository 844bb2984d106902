package domain

import "fmt"

// Modality is the closed set of query payload kinds.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// Modalities lists every supported modality in a stable order.
var Modalities = []Modality{ModalityText, ModalityImage, ModalityVideo}

// ParseModality converts s into a Modality.
func ParseModality(s string) (Modality, error) {
	switch m := Modality(s); m {
	case ModalityText, ModalityImage, ModalityVideo:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown modality %q", ErrInvalidQuery, s)
}

// ModalityVector is one supplied query variant: a modality tag and the embedding
// the external embedder produced for its payload.
type ModalityVector struct {
	Modality Modality
	Vector   []float32
}

// ModelSpec declares an embedding model and the vector space it produces.
type ModelSpec struct {
	Name        string
	Dimensions  int
	Modalities  []Modality
	EmbedFrames bool
}

// Supports reports whether the model embeds payloads of modality m.
func (s ModelSpec) Supports(m Modality) bool {
	for _, x := range s.Modalities {
		if x == m {
			return true
		}
	}
	return false
}
