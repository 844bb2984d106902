package config

import (
	"fmt"

	"github.com/timmy/clipsearch/internal/domain"
)

// ModelConfig declares one embedding model served by the embedder service.
// Each model owns exactly one vector space and therefore one index name.
type ModelConfig struct {
	Name        string   `mapstructure:"name"`         // Model name, also the name of its index
	Dimensions  int      `mapstructure:"dimensions"`   // Embedding vector dimensions
	Modalities  []string `mapstructure:"modalities"`   // Query modalities routed to this model
	EmbedFrames bool     `mapstructure:"embed_frames"` // Whether ingestion embeds every frame with this model
}

// DefaultModels returns the single shared text/image space used when no models are configured.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{
			Name:        "clip-v1",
			Dimensions:  512,
			Modalities:  []string{"text", "image", "video"},
			EmbedFrames: true,
		},
	}
}

// Validate checks that the model configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *ModelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("model config: name is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("model %q: dimensions must be positive", c.Name)
	}
	if len(c.Modalities) == 0 && !c.EmbedFrames {
		return fmt.Errorf("model %q: serves no modality and embeds no frames", c.Name)
	}
	for _, m := range c.Modalities {
		if _, err := domain.ParseModality(m); err != nil {
			return fmt.Errorf("model %q: %w", c.Name, err)
		}
	}
	return nil
}

// Spec converts the configuration into the domain model declaration.
func (c *ModelConfig) Spec() domain.ModelSpec {
	spec := domain.ModelSpec{
		Name:        c.Name,
		Dimensions:  c.Dimensions,
		EmbedFrames: c.EmbedFrames,
	}
	for _, m := range c.Modalities {
		spec.Modalities = append(spec.Modalities, domain.Modality(m))
	}
	return spec
}

// ModelSpecs converts every configured model.
func (c *Config) ModelSpecs() []domain.ModelSpec {
	specs := make([]domain.ModelSpec, len(c.Models))
	for i := range c.Models {
		specs[i] = c.Models[i].Spec()
	}
	return specs
}

// SearchWeights converts search.weights into per-modality fusion weights.
func (c *Config) SearchWeights() (map[domain.Modality]float64, error) {
	out := make(map[domain.Modality]float64, len(c.Search.Weights))
	for k, w := range c.Search.Weights {
		m, err := domain.ParseModality(k)
		if err != nil {
			return nil, fmt.Errorf("search.weights: %w", err)
		}
		out[m] = w
	}
	return out, nil
}
