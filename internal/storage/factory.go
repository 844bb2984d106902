package storage

import (
	"fmt"
	"net"
	"strings"

	"github.com/timmy/clipsearch/internal/config"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
// Remote backends are wrapped with retries for transient failures.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	s3cfg := &S3Config{
		Type:      StorageType(strings.ToLower(cfg.Type)),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	}
	// Auto-detect storage type if not specified
	if s3cfg.Type == "" {
		s3cfg.Type = detectStorageType(cfg.Endpoint)
	}

	switch s3cfg.Type {
	case StorageTypeMemory:
		return NewMemoryStorage(normalizeEndpoint(cfg.Endpoint), cfg.Bucket), nil
	case StorageTypeMinIO:
		s, err := NewMinIOStorage(s3cfg)
		if err != nil {
			return nil, err
		}
		return WithRetry(s, defaultAttempts), nil
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		s, err := NewS3Storage(s3cfg)
		if err != nil {
			return nil, err
		}
		return WithRetry(s, defaultAttempts), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// detectStorageType infers the storage type from the endpoint's host.
func detectStorageType(endpoint string) StorageType {
	host := strings.ToLower(normalizeEndpoint(endpoint))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	switch {
	case strings.HasSuffix(host, ".r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.HasSuffix(host, ".amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
