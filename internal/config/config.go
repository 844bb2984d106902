package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Services ServicesConfig `mapstructure:"services"`
	Models   []ModelConfig  `mapstructure:"models"`
	Index    IndexConfig    `mapstructure:"index"`
	Search   SearchConfig   `mapstructure:"search"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// MaxUploadMB bounds multipart bodies accepted by upload and search endpoints.
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	URL             string        `mapstructure:"url"`    // postgres DSN or URL
	Path            string        `mapstructure:"path"`   // sqlite file
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // minio, s3, r2, s3compatible, memory
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type QdrantConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	APIKey           string `mapstructure:"api_key"`
	UseTLS           bool   `mapstructure:"use_tls"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

type ServicesConfig struct {
	EmbedderURL       string        `mapstructure:"embedder_url"`
	IndexerURL        string        `mapstructure:"indexer_url"`
	MediaProcessorURL string        `mapstructure:"media_processor_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type IndexConfig struct {
	// CountThreshold triggers an incremental build once this many records are pending.
	CountThreshold int `mapstructure:"count_threshold"`
	// MaxStaleness triggers an incremental build for any pending records older than this.
	MaxStaleness    time.Duration `mapstructure:"max_staleness"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	BuildStaleAfter time.Duration `mapstructure:"build_stale_after"`
	PageSize        int           `mapstructure:"page_size"`
	// Backend selects where queries search: memory (artifact snapshots) or qdrant.
	Backend string `mapstructure:"backend"`
}

type SearchConfig struct {
	DefaultTopK         int                `mapstructure:"default_top_k"`
	MaxTopK             int                `mapstructure:"max_top_k"`
	CandidateMultiplier int                `mapstructure:"candidate_multiplier"`
	Timeout             time.Duration      `mapstructure:"timeout"`
	MaxConcurrent       int                `mapstructure:"max_concurrent"`
	Weights             map[string]float64 `mapstructure:"weights"`
	AuditTimeout        time.Duration      `mapstructure:"audit_timeout"`
}

type IngestConfig struct {
	Workers    int `mapstructure:"workers"`
	RetryCount int `mapstructure:"retry_count"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for endpoints and credentials
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.bucket", "MINIO_BUCKET_NAME")
	v.BindEnv("storage.use_ssl", "MINIO_USE_SSL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("services.embedder_url", "EMBEDDER_SERVICE")
	v.BindEnv("services.indexer_url", "INDEXER_SERVICE")
	v.BindEnv("services.media_processor_url", "MEDIA_PROCESSOR_SERVICE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/clipsearch.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "clipsearch")
	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection_prefix", "clipsearch")
	v.SetDefault("services.embedder_url", "http://localhost:8001")
	v.SetDefault("services.media_processor_url", "http://localhost:8002")
	v.SetDefault("services.timeout", 30*time.Second)
	v.SetDefault("index.count_threshold", 256)
	v.SetDefault("index.max_staleness", 2*time.Minute)
	v.SetDefault("index.check_interval", 10*time.Second)
	v.SetDefault("index.build_stale_after", 30*time.Minute)
	v.SetDefault("index.page_size", 1000)
	v.SetDefault("index.backend", "memory")
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.max_top_k", 100)
	v.SetDefault("search.candidate_multiplier", 4)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("search.max_concurrent", 8)
	v.SetDefault("search.audit_timeout", 5*time.Second)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.retry_count", 3)
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be >= 1")
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be positive")
	}
	switch c.Index.Backend {
	case "memory":
	case "qdrant":
		if !c.Qdrant.Enabled {
			return fmt.Errorf("index.backend qdrant requires qdrant.enabled")
		}
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	seen := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		if err := c.Models[i].Validate(); err != nil {
			return err
		}
		if seen[c.Models[i].Name] {
			return fmt.Errorf("model %q declared twice", c.Models[i].Name)
		}
		seen[c.Models[i].Name] = true
	}
	for modality := range c.Search.Weights {
		switch modality {
		case "text", "image", "video":
		default:
			return fmt.Errorf("search.weights: unknown modality %q", modality)
		}
	}
	return nil
}
