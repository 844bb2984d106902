package service

import (
	"reflect"
	"testing"

	"github.com/timmy/clipsearch/internal/domain"
)

func TestNewModelRegistry(t *testing.T) {
	tests := []struct {
		name    string
		specs   []domain.ModelSpec
		wantErr bool
	}{
		{"valid", testModels, false},
		{"empty", nil, true},
		{"duplicate name", []domain.ModelSpec{
			{Name: "a", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityText}},
			{Name: "a", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityImage}},
		}, true},
		{"modality claimed twice", []domain.ModelSpec{
			{Name: "a", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityText}},
			{Name: "b", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityText}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModelRegistry(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModelRegistryRouting(t *testing.T) {
	r, err := NewModelRegistry([]domain.ModelSpec{
		{Name: "clip-v1", Dimensions: 3, Modalities: []domain.Modality{domain.ModalityText, domain.ModalityImage}, EmbedFrames: true},
		{Name: "caption-v1", Dimensions: 4, Modalities: nil, EmbedFrames: true},
		{Name: "motion-v1", Dimensions: 2, Modalities: []domain.Modality{domain.ModalityVideo}},
	})
	if err != nil {
		t.Fatalf("NewModelRegistry: %v", err)
	}

	for m, want := range map[domain.Modality]string{
		domain.ModalityText:  "clip-v1",
		domain.ModalityImage: "clip-v1",
		domain.ModalityVideo: "motion-v1",
	} {
		spec, ok := r.ForModality(m)
		if !ok || spec.Name != want {
			t.Errorf("ForModality(%s) = %q, %v; want %q", m, spec.Name, ok, want)
		}
	}

	var frameModels []string
	for _, s := range r.FrameModels() {
		frameModels = append(frameModels, s.Name)
	}
	if !reflect.DeepEqual(frameModels, []string{"clip-v1", "caption-v1"}) {
		t.Errorf("FrameModels = %v", frameModels)
	}
	if !reflect.DeepEqual(r.Names(), []string{"clip-v1", "caption-v1", "motion-v1"}) {
		t.Errorf("Names = %v", r.Names())
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) reported ok")
	}
}
