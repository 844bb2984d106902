package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	ready *atomic.Bool
	ping  func(ctx context.Context) error
}

// NewHealthHandler creates a new health handler.
// ready flips once startup finished; ping, when set, checks the database.
func NewHealthHandler(ready *atomic.Bool, ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ready: ready, ping: ping}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	if h.ready != nil && !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing..."})
		return
	}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
