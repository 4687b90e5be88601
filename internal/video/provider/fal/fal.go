// Package fal implements the provider contract against the fal.ai queue
// API. fal is a queue-style backend: submission is fire-and-forget and
// returns a request id, status reads report queue position, and a
// separate result fetch is required once a request completes.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/visiarch/visiarch-api/internal/config"
	"github.com/visiarch/visiarch-api/internal/video/provider"
)

// fal's parameter enumerations differ from Kling's; the two providers
// deliberately do not share validation logic.
var (
	supportedDurations    = []int{6, 10}
	supportedAspectRatios = map[string]bool{
		"16:9": true, "9:16": true, "1:1": true,
		"4:3": true, "3:4": true, "21:9": true,
	}
	supportedResolutions = map[string]bool{"540p": true, "720p": true, "1080p": true}
)

const (
	defaultAspectRatio = "16:9"
	defaultResolution  = "720p"
)

// Client talks to the fal.ai queue API.
type Client struct {
	cfg        config.FalConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Provider = (*Client)(nil)

// New creates a fal client from configuration.
func New(cfg config.FalConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		logger: logger.With("provider", provider.KindFal),
	}
}

// Kind returns the backend kind this client talks to.
func (c *Client) Kind() provider.Kind {
	return provider.KindFal
}

// CreateTask submits a render job to fal's queue and returns the
// vendor-issued request id without waiting for completion.
func (c *Client) CreateTask(
	ctx context.Context,
	req provider.CreateTaskRequest,
) (*provider.CreateTaskResult, error) {
	model, err := c.modelPath(req.JobType)
	if err != nil {
		return nil, err
	}

	switch req.JobType {
	case provider.JobTextToVideo:
		if req.Prompt == "" {
			return nil, provider.ErrMissingPrompt
		}
	case provider.JobImageToVideo:
		if req.ImageURL == "" {
			return nil, provider.ErrMissingImage
		}
	}

	payload := submitRequest{
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		DurationSeconds: c.coerceDuration(req.DurationSeconds),
		AspectRatio:     c.coerceAspectRatio(req.AspectRatio),
		Resolution:      c.coerceResolution(req.Resolution),
	}
	if req.JobType == provider.JobImageToVideo {
		payload.ImageURL = req.ImageURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fal submit request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fal submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("fal submit returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode fal submit response: %w", err)
	}
	if parsed.RequestID == "" {
		return nil, fmt.Errorf("fal submit response carried no request id: %s", raw)
	}

	logAttrs := []any{"request_id", parsed.RequestID, "job_type", req.JobType}
	if parsed.QueuePosition != nil {
		logAttrs = append(logAttrs, "queue_position", *parsed.QueuePosition)
	}
	c.logger.Info("fal request submitted", logAttrs...)

	return &provider.CreateTaskResult{
		TaskID: parsed.RequestID,
		Status: provider.StatusProcessing,
	}, nil
}

// CheckStatus reads the queue status for a request. A completed request
// requires a second call to fetch the result payload; a completed
// request without a resolvable video URL is an error, not a success.
func (c *Client) CheckStatus(
	ctx context.Context,
	taskID string,
	jobType provider.JobType,
) (*provider.StatusResult, error) {
	model, err := c.modelPath(jobType)
	if err != nil {
		return nil, err
	}

	var status statusResponse
	statusPath := fmt.Sprintf("/%s/requests/%s/status", model, taskID)
	if err := c.getJSON(ctx, statusPath, &status); err != nil {
		return nil, err
	}

	switch status.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		result := &provider.StatusResult{Status: provider.StatusProcessing}
		if status.QueuePosition != nil {
			result.Message = fmt.Sprintf("queued at position %d", *status.QueuePosition)
		}
		return result, nil

	case "COMPLETED":
		var payload resultResponse
		resultPath := fmt.Sprintf("/%s/requests/%s", model, taskID)
		if err := c.getJSON(ctx, resultPath, &payload); err != nil {
			return nil, fmt.Errorf("fal result fetch failed: %w", err)
		}

		urls := payload.videoURLs()
		if len(urls) == 0 {
			return nil, fmt.Errorf("fal request %s completed without a result video URL", taskID)
		}
		return &provider.StatusResult{
			Status:     provider.StatusSucceeded,
			ResultURLs: urls,
		}, nil

	case "FAILED", "ERROR":
		msg := status.Error
		if msg == "" {
			msg = "fal reported generation failure"
		}
		return &provider.StatusResult{
			Status:  provider.StatusFailed,
			Message: msg,
		}, nil

	default:
		return nil, fmt.Errorf("unexpected fal queue status: %q", status.Status)
	}
}

func (r resultResponse) videoURLs() []string {
	var urls []string
	if r.Video != nil && r.Video.URL != "" {
		urls = append(urls, r.Video.URL)
	}
	for _, v := range r.Videos {
		if v.URL != "" {
			urls = append(urls, v.URL)
		}
	}
	return urls
}

// getJSON issues an authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read fal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fal returned HTTP %d: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode fal response: %w", err)
	}
	return nil
}

// doRequest issues a single request against the fal API. The priority
// billing credential, when configured, takes the place of the default
// key so submissions land on the preferential quota.
func (c *Client) doRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build fal request: %w", err)
	}

	key := c.cfg.APIKey
	if c.cfg.PriorityKey != "" {
		key = c.cfg.PriorityKey
	}
	req.Header.Set("Authorization", "Key "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal request failed: %w", err)
	}
	return resp, nil
}

// modelPath resolves the configured model endpoint for a job type.
func (c *Client) modelPath(jobType provider.JobType) (string, error) {
	switch jobType {
	case provider.JobTextToVideo:
		return c.cfg.TextToVideoModel, nil
	case provider.JobImageToVideo:
		return c.cfg.ImageToVideoModel, nil
	default:
		return "", fmt.Errorf("unsupported job type: %q", jobType)
	}
}

func (c *Client) coerceDuration(seconds int) int {
	if seconds <= 0 {
		return supportedDurations[0]
	}
	best := supportedDurations[0]
	bestDiff := abs(seconds - best)
	for _, d := range supportedDurations[1:] {
		if diff := abs(seconds - d); diff < bestDiff {
			best, bestDiff = d, diff
		}
	}
	if best != seconds {
		c.logger.Warn("corrected unsupported duration",
			"requested", seconds,
			"using", best)
	}
	return best
}

func (c *Client) coerceAspectRatio(ratio string) string {
	if ratio == "" {
		return defaultAspectRatio
	}
	if supportedAspectRatios[ratio] {
		return ratio
	}
	c.logger.Warn("corrected unsupported aspect ratio",
		"requested", ratio,
		"using", defaultAspectRatio)
	return defaultAspectRatio
}

func (c *Client) coerceResolution(resolution string) string {
	if resolution == "" {
		return defaultResolution
	}
	if supportedResolutions[resolution] {
		return resolution
	}
	c.logger.Warn("corrected unsupported resolution",
		"requested", resolution,
		"using", defaultResolution)
	return defaultResolution
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
