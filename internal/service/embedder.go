package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/clipsearch/internal/domain"
)

// Payload is a raw query or frame input handed to the embedder.
// Text is set for text payloads; Data and ContentType for image and video ones.
type Payload struct {
	Modality    domain.Modality
	Text        string
	Data        []byte
	ContentType string
}

// Embedder turns payloads into vectors of a named model.
type Embedder interface {
	Embed(ctx context.Context, model string, p Payload) ([]float32, error)
}

// EmbedderClient calls the external embedding service.
type EmbedderClient struct {
	client *resty.Client
}

// NewEmbedderClient creates a client for the embedder at baseURL.
func NewEmbedderClient(baseURL string, timeout time.Duration) *EmbedderClient {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &EmbedderClient{client: client}
}

// embed API request/response structures
type embedRequest struct {
	Model       string `json:"model"`
	Modality    string `json:"modality"`
	Text        string `json:"text,omitempty"`
	Data        []byte `json:"data,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Detail    string    `json:"detail,omitempty"`
}

// Embed generates the embedding of p with model.
func (c *EmbedderClient) Embed(ctx context.Context, model string, p Payload) ([]float32, error) {
	req := embedRequest{
		Model:       model,
		Modality:    string(p.Modality),
		Text:        p.Text,
		Data:        p.Data,
		ContentType: p.ContentType,
	}

	var resp embedResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/embed")

	if err != nil {
		return nil, classifyEmbedError(fmt.Errorf("failed to call embedder: %w", err))
	}

	if code := httpResp.StatusCode(); code != http.StatusOK {
		detail := resp.Detail
		if detail == "" {
			detail = fmt.Sprintf("status %d", code)
		}
		// 4xx means the embedder refused the payload itself.
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: embedder rejected payload: %s", domain.ErrInvalidQuery, detail)
		}
		return nil, fmt.Errorf("%w: embedder error: %s", domain.ErrIndexUnavailable, detail)
	}

	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no embedding", domain.ErrIndexUnavailable)
	}

	return resp.Embedding, nil
}

// classifyEmbedError gives an embedder failure a domain error kind.
// Errors that already carry one are returned unchanged; deadlines and network
// timeouts become ErrTimeout and anything else ErrIndexUnavailable.
func classifyEmbedError(err error) error {
	if err == nil || domain.ErrorKind(err) != "internal_error" {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
}
