package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ExtractedFrame is one frame sampled by the media processor. The frame image
// is already stored under StorageKey.
type ExtractedFrame struct {
	FrameNumber      int            `json:"frame_number"`
	TimestampSeconds float64        `json:"timestamp_seconds"`
	StorageKey       string         `json:"storage_key"`
	Metadata         *FrameFeatures `json:"metadata,omitempty"`
}

// FrameFeatures is the descriptive metadata the processor detected for a frame.
type FrameFeatures struct {
	SceneDescription string   `json:"scene_description,omitempty"`
	DetectedObjects  []string `json:"detected_objects,omitempty"`
	DetectedText     string   `json:"detected_text,omitempty"`
	ColorPalette     []string `json:"color_palette,omitempty"`
}

// Extraction is the processor's answer for one video.
type Extraction struct {
	DurationSeconds float64          `json:"duration_seconds"`
	Frames          []ExtractedFrame `json:"frames"`
}

// FrameExtractor decomposes a stored video into frames.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, mediaID, storageKey, url string) (*Extraction, error)
}

// MediaProcessorClient calls the external media processor service.
type MediaProcessorClient struct {
	client *resty.Client
}

// NewMediaProcessorClient creates a client for the processor at baseURL.
func NewMediaProcessorClient(baseURL string, timeout time.Duration) *MediaProcessorClient {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &MediaProcessorClient{client: client}
}

type extractRequest struct {
	MediaID    string `json:"media_id"`
	StorageKey string `json:"storage_key"`
	URL        string `json:"url"`
}

type extractResponse struct {
	Extraction
	Detail string `json:"detail,omitempty"`
}

// ExtractFrames asks the processor to sample frames of the video at storageKey.
func (c *MediaProcessorClient) ExtractFrames(ctx context.Context, mediaID, storageKey, url string) (*Extraction, error) {
	var resp extractResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(extractRequest{MediaID: mediaID, StorageKey: storageKey, URL: url}).
		SetResult(&resp).
		SetError(&resp).
		Post("/extract_frames")
	if err != nil {
		return nil, fmt.Errorf("failed to call media processor: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Detail != "" {
			return nil, fmt.Errorf("media processor error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("media processor error: status %d", httpResp.StatusCode())
	}
	return &resp.Extraction, nil
}
