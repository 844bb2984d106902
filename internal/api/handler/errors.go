package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/api/middleware"
	"github.com/timmy/clipsearch/internal/domain"
)

// ErrorBody is the structured error payload of every failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody under "error".
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusOf maps an error kind onto its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBuildAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondError writes err as a structured response. Internal faults are
// logged with full context and answered with a generic message.
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	kind := domain.ErrorKind(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed with internal error")
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message}})
}

// respondBadRequest reports malformed input that never reached a service.
func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorBody{Kind: domain.ErrorKind(domain.ErrInvalidQuery), Message: message},
	})
}
