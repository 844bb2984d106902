package service

import (
	"fmt"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
)

// ModelRegistry holds the declared embedding models. Each modality is routed to
// exactly one model, and each model owns the index of the same name.
type ModelRegistry struct {
	specs      map[string]domain.ModelSpec
	order      []string
	byModality map[domain.Modality]string
}

// NewModelRegistry creates a registry, rejecting a modality claimed by two models.
func NewModelRegistry(specs []domain.ModelSpec) (*ModelRegistry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}

	r := &ModelRegistry{
		specs:      make(map[string]domain.ModelSpec, len(specs)),
		byModality: make(map[domain.Modality]string),
	}
	for _, spec := range specs {
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("model %q declared twice", spec.Name)
		}
		for _, m := range spec.Modalities {
			if owner, taken := r.byModality[m]; taken {
				return nil, fmt.Errorf("modality %s served by both %s and %s", m, owner, spec.Name)
			}
			r.byModality[m] = spec.Name
		}
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)

		logger.Info("Registered model: name=%s, dim=%d, modalities=%v, embed_frames=%v",
			spec.Name, spec.Dimensions, spec.Modalities, spec.EmbedFrames)
	}
	return r, nil
}

// Get returns the model declared under name.
func (r *ModelRegistry) Get(name string) (domain.ModelSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// ForModality returns the model whose index answers queries of modality m.
func (r *ModelRegistry) ForModality(m domain.Modality) (domain.ModelSpec, bool) {
	name, ok := r.byModality[m]
	if !ok {
		return domain.ModelSpec{}, false
	}
	return r.specs[name], true
}

// FrameModels returns the models every ingested frame is embedded with.
func (r *ModelRegistry) FrameModels() []domain.ModelSpec {
	var out []domain.ModelSpec
	for _, name := range r.order {
		if spec := r.specs[name]; spec.EmbedFrames {
			out = append(out, spec)
		}
	}
	return out
}

// Specs returns every model in declaration order.
func (r *ModelRegistry) Specs() []domain.ModelSpec {
	out := make([]domain.ModelSpec, len(r.order))
	for i, name := range r.order {
		out[i] = r.specs[name]
	}
	return out
}

// Names returns every model name in declaration order.
func (r *ModelRegistry) Names() []string {
	return append([]string(nil), r.order...)
}
