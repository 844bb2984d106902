package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/timmy/clipsearch/internal/domain"
)

// MemoryStorage keeps objects in process memory. It backs storage.type "memory"
// for single-node development and tests.
type MemoryStorage struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	types    map[string]string
	endpoint string
	bucket   string

	// failUploads makes every Upload return this error while set.
	failUploads error
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage(endpoint, bucket string) *MemoryStorage {
	return &MemoryStorage{
		objects:  make(map[string][]byte),
		types:    make(map[string]string),
		endpoint: endpoint,
		bucket:   bucket,
	}
}

// FailUploads makes subsequent uploads fail with err; nil restores normal behavior.
func (s *MemoryStorage) FailUploads(err error) {
	s.mu.Lock()
	s.failUploads = err
	s.mu.Unlock()
}

// EnsureBucket is a no-op.
func (s *MemoryStorage) EnsureBucket(ctx context.Context) error {
	return nil
}

// Upload stores a copy of the reader's content.
func (s *MemoryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUploads != nil {
		return fmt.Errorf("failed to upload object: %w", s.failUploads)
	}
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

// Download returns the object stored under key.
func (s *MemoryStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetURL returns the URL for accessing an object
func (s *MemoryStorage) GetURL(key string) string {
	return objectURL("", false, s.endpoint, s.bucket, key)
}

// Delete removes key; deleting a missing key is not an error.
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	delete(s.types, key)
	s.mu.Unlock()
	return nil
}

// Exists checks if an object exists
func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

// Keys returns the stored keys, used by tests and diagnostics.
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
