package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/clipsearch/internal/logger"
)

// BuildNotifier is told when an index has new records.
type BuildNotifier interface {
	Notify(ctx context.Context, name string)
}

// RemoteNotifier forwards notifications to a standalone indexer process.
type RemoteNotifier struct {
	client *resty.Client
}

// NewRemoteNotifier creates a notifier for the indexer at baseURL.
func NewRemoteNotifier(baseURL string, timeout time.Duration) *RemoteNotifier {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &RemoteNotifier{client: client}
}

// Notify posts an untyped build request; the indexer applies its own trigger
// policy. Failures are logged since the indexer also polls on its own.
func (n *RemoteNotifier) Notify(ctx context.Context, name string) {
	req := n.client.R().SetContext(ctx).SetBody(map[string]string{})
	if id := logger.GetRequestID(ctx); id != "" {
		req.SetHeader("X-Request-ID", id)
	}
	resp, err := req.Post("/indexes/" + url.PathEscape(name) + "/build")
	if err != nil {
		logger.CtxWarn(ctx, "Failed to notify indexer: index=%s, err=%v", name, err)
		return
	}
	if resp.StatusCode() != http.StatusAccepted && resp.StatusCode() != http.StatusOK {
		logger.CtxWarn(ctx, "Indexer rejected notification: index=%s, status=%d", name, resp.StatusCode())
	}
}
