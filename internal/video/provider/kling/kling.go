// Package kling implements the provider contract against the Kling
// video generation API. Kling is a polling-style backend: every request
// carries a short-lived signed bearer token, and task state is read
// from a per-task GET endpoint.
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/visiarch/visiarch-api/internal/config"
	"github.com/visiarch/visiarch-api/internal/video/provider"
)

// Kling's fixed parameter enumerations. Out-of-range request values are
// coerced to the nearest supported one and logged, never rejected.
var (
	supportedDurations    = []int{5, 10}
	supportedAspectRatios = map[string]bool{"16:9": true, "9:16": true, "1:1": true}
	supportedModes        = map[string]bool{"std": true, "pro": true}
)

const (
	defaultAspectRatio = "16:9"
	defaultMode        = "std"

	textToVideoPath  = "/v1/videos/text2video"
	imageToVideoPath = "/v1/videos/image2video"
)

// Client talks to the Kling API. It owns the cached bearer token, so a
// single Client must be shared process-wide (the provider factory
// guarantees this).
type Client struct {
	cfg        config.KlingConfig
	httpClient *http.Client
	logger     *slog.Logger

	// timeFunc is injectable for token cache tests.
	timeFunc func() time.Time

	tokens *tokenCache
}

var _ provider.Provider = (*Client)(nil)

// New creates a Kling client from configuration.
func New(cfg config.KlingConfig, logger *slog.Logger) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		logger:   logger.With("provider", provider.KindKling),
		timeFunc: time.Now,
	}
	c.tokens = newTokenCache(cfg, c.now)
	return c
}

func (c *Client) now() time.Time {
	return c.timeFunc()
}

// Kind returns the backend kind this client talks to.
func (c *Client) Kind() provider.Kind {
	return provider.KindKling
}

// CreateTask validates and submits a render job. Missing required
// fields fail synchronously; out-of-range parameters are coerced.
// Transient HTTP failures are retried with exponential backoff.
func (c *Client) CreateTask(
	ctx context.Context,
	req provider.CreateTaskRequest,
) (*provider.CreateTaskResult, error) {
	path, err := endpointPath(req.JobType)
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

	payload := createRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Mode:           c.coerceMode(req.Mode),
		Duration:       fmt.Sprintf("%d", c.coerceDuration(req.DurationSeconds)),
		AspectRatio:    c.coerceAspectRatio(req.AspectRatio),
	}
	if req.JobType == provider.JobImageToVideo {
		payload.Image = req.ImageURL
		payload.StaticMask = req.StaticMaskURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kling create request: %w", err)
	}

	var parsed apiResponse
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, attemptErr := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
		if attemptErr != nil {
			// Network-level failures are worth another attempt.
			return retry.RetryableError(attemptErr)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return retry.RetryableError(fmt.Errorf("failed to read kling response: %w", readErr))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(
				fmt.Errorf("kling create returned HTTP %d: %s", resp.StatusCode, raw),
			)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("kling create returned HTTP %d: %s", resp.StatusCode, raw)
		}

		if unmarshalErr := json.Unmarshal(raw, &parsed); unmarshalErr != nil {
			return fmt.Errorf("failed to decode kling create response: %w", unmarshalErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if parsed.Code != 0 {
		return nil, fmt.Errorf(
			"kling rejected create request: code=%d message=%q",
			parsed.Code, parsed.Message,
		)
	}

	status, err := mapTaskStatus(parsed.Data.TaskStatus)
	if err != nil {
		// A brand-new task with an unknown status label is still in flight.
		status = provider.StatusProcessing
	}

	c.logger.Info("kling task created",
		"task_id", parsed.Data.TaskID,
		"job_type", req.JobType,
		"request_id", parsed.RequestID)

	return &provider.CreateTaskResult{
		TaskID: parsed.Data.TaskID,
		Status: status,
	}, nil
}

// CheckStatus reads the task's current state from Kling's per-task GET
// endpoint and maps the vendor vocabulary onto the shared one.
func (c *Client) CheckStatus(
	ctx context.Context,
	taskID string,
	jobType provider.JobType,
) (*provider.StatusResult, error) {
	path, err := endpointPath(jobType)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path+"/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read kling status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kling status returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode kling status response: %w", err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf(
			"kling status check failed: code=%d message=%q",
			parsed.Code, parsed.Message,
		)
	}

	status, err := mapTaskStatus(parsed.Data.TaskStatus)
	if err != nil {
		return nil, err
	}

	result := &provider.StatusResult{
		Status:  status,
		Message: parsed.Data.TaskStatusMsg,
	}
	if parsed.Data.TaskResult != nil {
		for _, v := range parsed.Data.TaskResult.Videos {
			if v.URL != "" {
				result.ResultURLs = append(result.ResultURLs, v.URL)
			}
		}
	}

	return result, nil
}

// doRequest issues a single authenticated request against the Kling API.
func (c *Client) doRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
) (*http.Response, error) {
	token, err := c.tokens.bearerToken()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain kling bearer token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build kling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kling request failed: %w", err)
	}
	return resp, nil
}

// endpointPath returns the job-type-specific API path.
func endpointPath(jobType provider.JobType) (string, error) {
	switch jobType {
	case provider.JobTextToVideo:
		return textToVideoPath, nil
	case provider.JobImageToVideo:
		return imageToVideoPath, nil
	default:
		return "", fmt.Errorf("unsupported job type: %q", jobType)
	}
}

// mapTaskStatus converts Kling's native status labels to the shared
// vocabulary.
func mapTaskStatus(s string) (provider.TaskStatus, error) {
	switch s {
	case "submitted", "processing":
		return provider.StatusProcessing, nil
	case "succeed":
		return provider.StatusSucceeded, nil
	case "failed":
		return provider.StatusFailed, nil
	default:
		return "", fmt.Errorf("unexpected kling task status: %q", s)
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

func (c *Client) coerceMode(mode string) string {
	if mode == "" {
		return defaultMode
	}
	if supportedModes[mode] {
		return mode
	}
	c.logger.Warn("corrected unsupported mode",
		"requested", mode,
		"using", defaultMode)
	return defaultMode
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
