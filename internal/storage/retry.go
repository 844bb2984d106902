package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
)

const defaultAttempts = 3

// RetryingStorage retries transient failures of another ObjectStorage with
// Fibonacci backoff. Missing objects, rejected requests and cancelled
// contexts are not retried.
type RetryingStorage struct {
	ObjectStorage
	attempts uint64
	base     time.Duration
}

// WithRetry wraps s so each call is attempted up to attempts times.
func WithRetry(s ObjectStorage, attempts uint64) *RetryingStorage {
	if attempts == 0 {
		attempts = 1
	}
	return &RetryingStorage{ObjectStorage: s, attempts: attempts, base: 200 * time.Millisecond}
}

func (s *RetryingStorage) do(ctx context.Context, op string, task func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(s.attempts-1, retry.NewFibonacci(s.base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := task(ctx)
		if shouldRetry(err) {
			logger.CtxWarn(ctx, "Object storage %s failed, retrying: %v", op, err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, ErrRejected) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Upload retries only when the body can be rewound.
func (s *RetryingStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return s.ObjectStorage.Upload(ctx, key, reader, size, contentType)
	}
	return s.do(ctx, "upload", func(ctx context.Context) error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return s.ObjectStorage.Upload(ctx, key, reader, size, contentType)
	})
}

// Download retries opening the object; reading the body is the caller's concern.
func (s *RetryingStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := s.do(ctx, "download", func(ctx context.Context) error {
		var err error
		rc, err = s.ObjectStorage.Download(ctx, key)
		return err
	})
	return rc, err
}

// Delete deletes an object from storage
func (s *RetryingStorage) Delete(ctx context.Context, key string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.ObjectStorage.Delete(ctx, key)
	})
}

// Exists checks if an object exists
func (s *RetryingStorage) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = s.ObjectStorage.Exists(ctx, key)
		return err
	})
	return exists, err
}
