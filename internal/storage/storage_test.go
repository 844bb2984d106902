package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/minio/minio-go/v7"
	"github.com/timmy/clipsearch/internal/domain"
)

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		useSSL    bool
		want      string
	}{
		{"plain endpoint", "", false, "http://localhost:9000/clips/media/1/a.png"},
		{"ssl endpoint", "", true, "https://localhost:9000/clips/media/1/a.png"},
		{"public prefix", "https://cdn.example.com/", false, "https://cdn.example.com/media/1/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := objectURL(tt.publicURL, tt.useSSL, "localhost:9000", "clips", "media/1/a.png")
			if got != tt.want {
				t.Errorf("objectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://localhost:9000":          "localhost:9000",
		"https://s3.amazonaws.com/path/": "s3.amazonaws.com",
		"minio:9000":                     "minio:9000",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("localhost:9000", "clips")

	if err := PutBytes(ctx, s, "indexes/clip-v1/v1/vectors.msgpack", []byte("payload"), "application/msgpack"); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	got, err := GetBytes(ctx, s, "indexes/clip-v1/v1/vectors.msgpack")
	if err != nil || string(got) != "payload" {
		t.Fatalf("GetBytes = %q, %v", got, err)
	}
	if ok, _ := s.Exists(ctx, "indexes/clip-v1/v1/vectors.msgpack"); !ok {
		t.Fatal("Exists = false after upload")
	}
	if _, err := GetBytes(ctx, s, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetBytes(missing) = %v, want ErrNotFound", err)
	}

	s.FailUploads(errors.New("disk full"))
	if err := PutBytes(ctx, s, "other", []byte("x"), ""); err == nil {
		t.Fatal("upload should fail while FailUploads is set")
	}
	s.FailUploads(nil)
	if err := s.Delete(ctx, "indexes/clip-v1/v1/vectors.msgpack"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "indexes/clip-v1/v1/vectors.msgpack"); ok {
		t.Fatal("Exists = true after delete")
	}
}

// flakyStorage fails the first failures calls of Upload and Download,
// with failWith or a connection reset.
type flakyStorage struct {
	*MemoryStorage
	failures int
	calls    int
	failWith error
}

func (f *flakyStorage) failure() error {
	if f.failWith != nil {
		return f.failWith
	}
	return errors.New("connection reset")
}

func (f *flakyStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, ct string) error {
	f.calls++
	if f.calls <= f.failures {
		io.Copy(io.Discard, r)
		return f.failure()
	}
	return f.MemoryStorage.Upload(ctx, key, r, size, ct)
}

func (f *flakyStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failure()
	}
	return f.MemoryStorage.Download(ctx, key)
}

func TestRetryingStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("rewinds seekable uploads", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage("", ""), failures: 2}
		s := WithRetry(flaky, 3)
		s.base = time.Millisecond

		if err := s.Upload(ctx, "k", bytes.NewReader([]byte("abc")), 3, ""); err != nil {
			t.Fatalf("Upload: %v", err)
		}
		got, _ := GetBytes(ctx, flaky.MemoryStorage, "k")
		if string(got) != "abc" {
			t.Fatalf("stored %q, want full body after retries", got)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage("", ""), failures: 5}
		s := WithRetry(flaky, 3)
		s.base = time.Millisecond

		if err := s.Upload(ctx, "k", bytes.NewReader([]byte("abc")), 3, ""); err == nil {
			t.Fatal("Upload should fail")
		}
		if flaky.calls != 3 {
			t.Fatalf("calls = %d, want 3", flaky.calls)
		}
	})

	t.Run("non-seekable upload is attempted once", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage("", ""), failures: 1}
		s := WithRetry(flaky, 3)
		s.base = time.Millisecond

		if err := s.Upload(ctx, "k", io.MultiReader(strings.NewReader("abc")), 3, ""); err == nil {
			t.Fatal("Upload should fail without retry")
		}
		if flaky.calls != 1 {
			t.Fatalf("calls = %d, want 1", flaky.calls)
		}
	})

	t.Run("missing objects are not retried", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage("", "")}
		s := WithRetry(flaky, 3)
		s.base = time.Millisecond

		if _, err := s.Download(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Download = %v, want ErrNotFound", err)
		}
		if flaky.calls != 1 {
			t.Fatalf("calls = %d, want 1", flaky.calls)
		}
	})

	t.Run("rejected requests are not retried", func(t *testing.T) {
		denied := statusError("upload", "k", http.StatusForbidden, errors.New("access denied"))
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage("", ""), failures: 3, failWith: denied}
		s := WithRetry(flaky, 3)
		s.base = time.Millisecond

		if err := s.Upload(ctx, "k", bytes.NewReader([]byte("abc")), 3, ""); !errors.Is(err, ErrRejected) {
			t.Fatalf("Upload = %v, want ErrRejected", err)
		}
		if flaky.calls != 1 {
			t.Fatalf("calls = %d, want 1", flaky.calls)
		}
	})
}

func s3ResponseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("api error"),
		},
	}
}

func TestS3Error(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
		wantRejected bool
	}{
		{"no such key", &types.NoSuchKey{}, true, false},
		{"head not found", &types.NotFound{}, true, false},
		{"no such bucket", &types.NoSuchBucket{}, false, true},
		{"404 response", s3ResponseError(http.StatusNotFound), true, false},
		{"403 response", s3ResponseError(http.StatusForbidden), false, true},
		{"throttled", s3ResponseError(http.StatusTooManyRequests), false, false},
		{"server error", s3ResponseError(http.StatusServiceUnavailable), false, false},
		{"transport error", errors.New("dial tcp: connection refused"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s3Error("download", "frames/a.jpg", tt.err)
			if got := errors.Is(err, domain.ErrNotFound); got != tt.wantNotFound {
				t.Errorf("not found = %v, want %v (%v)", got, tt.wantNotFound, err)
			}
			if got := errors.Is(err, ErrRejected); got != tt.wantRejected {
				t.Errorf("rejected = %v, want %v (%v)", got, tt.wantRejected, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("%v does not wrap the SDK error", err)
			}
			if shouldRetry(err) == (tt.wantNotFound || tt.wantRejected) {
				t.Errorf("shouldRetry(%v) = %v", err, shouldRetry(err))
			}
		})
	}
}

func TestMinioError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
		wantRejected bool
	}{
		{"no such key", minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}, true, false},
		{"access denied", minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}, false, true},
		{"slow down", minio.ErrorResponse{StatusCode: http.StatusServiceUnavailable, Code: "SlowDown"}, false, false},
		{"no response", errors.New("connection reset"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := minioError("stat", "media/1.png", tt.err)
			if got := errors.Is(err, domain.ErrNotFound); got != tt.wantNotFound {
				t.Errorf("not found = %v, want %v (%v)", got, tt.wantNotFound, err)
			}
			if got := errors.Is(err, ErrRejected); got != tt.wantRejected {
				t.Errorf("rejected = %v, want %v (%v)", got, tt.wantRejected, err)
			}
		})
	}
}

func TestDetectStorageType(t *testing.T) {
	tests := map[string]StorageType{
		"https://acct.r2.cloudflarestorage.com":      StorageTypeR2,
		"s3.us-west-2.amazonaws.com":                 StorageTypeS3,
		"https://s3.amazonaws.com:443/bucket":        StorageTypeS3,
		"http://localhost:9000":                      StorageTypeS3Compatible,
		"https://amazonaws.com.attacker.example/":    StorageTypeS3Compatible,
		"http://minio:9000/r2.cloudflarestorage.com": StorageTypeS3Compatible,
	}
	for in, want := range tests {
		if got := detectStorageType(in); got != want {
			t.Errorf("detectStorageType(%q) = %q, want %q", in, got, want)
		}
	}
}
