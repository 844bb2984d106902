package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/timmy/clipsearch/internal/domain"
)

// ErrRejected marks a request the object store refused for good, such as
// bad credentials or a missing bucket. Retrying it cannot succeed.
var ErrRejected = errors.New("request rejected by object store")

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage.
	// A missing key yields an error wrapping domain.ErrNotFound.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureBucket creates the bucket if it doesn't exist
	EnsureBucket(ctx context.Context) error
}

// PutBytes uploads data under key.
func PutBytes(ctx context.Context, s ObjectStorage, key string, data []byte, contentType string) error {
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// GetBytes downloads the whole object stored under key.
func GetBytes(ctx context.Context, s ObjectStorage, key string) ([]byte, error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// objectURL derives the URL of an object: the public prefix when configured,
// otherwise {scheme}://{endpoint}/{bucket}/{key}.
func objectURL(publicURL string, useSSL bool, endpoint, bucket, key string) string {
	if publicURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(publicURL, "/"), key)
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, bucket, key)
}

// statusError classifies a failed op on key by the HTTP status the store
// answered with.
func statusError(op, key string, status int, err error) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("failed to %s object %s: %w: %w", op, key, domain.ErrNotFound, err)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("failed to %s object %s: %w", op, key, err)
	case status >= 400 && status < 500:
		return fmt.Errorf("failed to %s object %s: %w: %w", op, key, ErrRejected, err)
	}
	return fmt.Errorf("failed to %s object %s: %w", op, key, err)
}
