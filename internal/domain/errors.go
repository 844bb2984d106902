package domain

import "errors"

// Error kinds surfaced at component boundaries. Lower layers wrap these with %w.
var (
	// ErrDimensionMismatch means a vector length disagrees with its model's dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrBuildAlreadyInProgress means another build holds the name; retry later.
	ErrBuildAlreadyInProgress = errors.New("build already in progress")

	// ErrIndexUnavailable means no ready index can serve a requested modality.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrTimeout means the request deadline elapsed before resolution finished.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidQuery means the query is empty or malformed.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNotFound means an id lookup found nothing.
	ErrNotFound = errors.New("not found")
)

// ErrorKind returns the stable wire name of err's kind, or "internal_error".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrBuildAlreadyInProgress):
		return "build_already_in_progress"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal_error"
}
