package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.CandidateMultiplier != 4 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Index.Backend != "memory" || cfg.Index.CountThreshold != 256 || cfg.Index.MaxStaleness != 2*time.Minute {
		t.Errorf("index = %+v", cfg.Index)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Name != "clip-v1" {
		t.Errorf("models = %+v", cfg.Models)
	}
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
search:
  default_top_k: 8
  weights:
    text: 2
    video: 0.5
index:
  count_threshold: 10
  max_staleness: 30s
models:
  - name: clip-v1
    dimensions: 512
    modalities: [text, image]
    embed_frames: true
  - name: motion-v1
    dimensions: 256
    modalities: [video]
    embed_frames: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.DefaultTopK != 8 || cfg.Index.CountThreshold != 10 || cfg.Index.MaxStaleness != 30*time.Second {
		t.Errorf("cfg = %+v %+v", cfg.Search, cfg.Index)
	}
	specs := cfg.ModelSpecs()
	if len(specs) != 2 || !specs[1].Supports(domain.ModalityVideo) || specs[1].Dimensions != 256 {
		t.Errorf("specs = %+v", specs)
	}
	weights, err := cfg.SearchWeights()
	if err != nil || weights[domain.ModalityText] != 2 || weights[domain.ModalityVideo] != 0.5 {
		t.Errorf("weights = %v, %v", weights, err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Search: SearchConfig{DefaultTopK: 5, CandidateMultiplier: 4},
			Index:  IndexConfig{Backend: "memory"},
			Models: DefaultModels(),
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero multiplier", func(c *Config) { c.Search.CandidateMultiplier = 0 }},
		{"zero top_k", func(c *Config) { c.Search.DefaultTopK = 0 }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }},
		{"qdrant backend disabled", func(c *Config) { c.Index.Backend = "qdrant" }},
		{"duplicate model", func(c *Config) { c.Models = append(c.Models, c.Models[0]) }},
		{"model without dims", func(c *Config) { c.Models[0].Dimensions = 0 }},
		{"model with unknown modality", func(c *Config) { c.Models[0].Modalities = []string{"audio"} }},
		{"idle model", func(c *Config) { c.Models[0].Modalities = nil; c.Models[0].EmbedFrames = false }},
		{"unknown weight", func(c *Config) { c.Search.Weights = map[string]float64{"audio": 1} }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		cfg  DatabaseConfig
		want string
	}{
		{DatabaseConfig{Driver: "postgres", URL: "postgres://u@h/db"}, "postgres://u@h/db"},
		{DatabaseConfig{Driver: "sqlite"}, "file::memory:?cache=shared"},
		{DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"}, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"},
	}
	for _, tt := range tests {
		if got := tt.cfg.DSN(); got != tt.want {
			t.Errorf("DSN() = %q, want %q", got, tt.want)
		}
	}
}
