// Package api contains the HTTP handlers driving the video task queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/visiarch/visiarch-api/internal/api/shared"
	"github.com/visiarch/visiarch-api/internal/video/provider"
	"github.com/visiarch/visiarch-api/internal/video/queue"
)

// createTaskTimeout bounds the background create call to a provider.
const createTaskTimeout = 60 * time.Second

// CreateVideoRequest is the payload for starting a render job.
type CreateVideoRequest struct {
	CorrelationID   string `json:"correlation_id,omitempty"`
	Provider        string `json:"provider"`
	JobType         string `json:"job_type"`
	Prompt          string `json:"prompt,omitempty"`
	NegativePrompt  string `json:"negative_prompt,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	StaticMaskURL   string `json:"static_mask_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	Mode            string `json:"mode,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`

	// EstimatedMinutes overrides the per-provider progress heuristic.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
}

// VideoItemResponse mirrors a queue item for API consumers.
type VideoItemResponse struct {
	CorrelationID   string `json:"correlation_id"`
	TaskID          string `json:"task_id"`
	Provider        string `json:"provider"`
	JobType         string `json:"job_type"`
	State           string `json:"state"`
	ProgressPercent int    `json:"progress_percent"`
	Prompt          string `json:"prompt,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	ResultURL       string `json:"result_url,omitempty"`
	ErrorDetail     string `json:"error_detail,omitempty"`
	StartedAt       string `json:"started_at"`
}

// VideoHandler serves the video generation endpoints. It owns the
// enqueue-then-create reconciliation: the queue item exists (under a
// placeholder task id) before the provider call starts, and the real
// task id is swapped in once the call resolves.
type VideoHandler struct {
	queue     *queue.Queue
	providers provider.Source
	logger    *slog.Logger
}

// NewVideoHandler creates a VideoHandler with its dependencies.
func NewVideoHandler(q *queue.Queue, providers provider.Source, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{
		queue:     q,
		providers: providers,
		logger:    logger.With("handler", "video"),
	}
}

// CreateVideo enqueues a render job and kicks off the provider create
// call in the background, responding immediately with the placeholder item.
func (h *VideoHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := parseKind(req.Provider)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	jobType, err := parseJobType(req.JobType)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Required-field validation mirrors the providers' own rules so the
	// caller gets a synchronous 400 instead of a failed placeholder.
	if jobType == provider.JobTextToVideo && req.Prompt == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, provider.ErrMissingPrompt.Error())
		return
	}
	if jobType == provider.JobImageToVideo && req.ImageURL == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, provider.ErrMissingImage.Error())
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	item, err := h.queue.Enqueue(queue.EnqueueRequest{
		CorrelationID:     correlationID,
		Provider:          kind,
		JobType:           jobType,
		Prompt:            req.Prompt,
		ThumbnailURL:      req.ThumbnailURL,
		EstimatedDuration: estimatedDuration(kind, req.Mode, req.EstimatedMinutes),
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) {
			shared.RespondWithError(w, r, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	go h.createTask(correlationID, kind, provider.CreateTaskRequest{
		JobType:         jobType,
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		ImageURL:        req.ImageURL,
		StaticMaskURL:   req.StaticMaskURL,
		DurationSeconds: req.DurationSeconds,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		Mode:            req.Mode,
	})

	shared.RespondWithJSON(w, r, http.StatusAccepted, toItemResponse(item))
}

// createTask performs the provider create call for an already-enqueued
// placeholder. On success the backend task id replaces the placeholder;
// on failure the placeholder is removed so it is never polled.
func (h *VideoHandler) createTask(
	correlationID string,
	kind provider.Kind,
	req provider.CreateTaskRequest,
) {
	ctx, cancel := context.WithTimeout(context.Background(), createTaskTimeout)
	defer cancel()

	log := h.logger.With("correlation_id", correlationID, "provider", kind)

	p, err := h.providers.Get(kind)
	if err != nil {
		log.Error("provider lookup failed", "error", err)
		h.queue.Remove(correlationID)
		return
	}

	result, err := p.CreateTask(ctx, req)
	if err != nil {
		log.Error("create task failed", "error", err)
		h.queue.Remove(correlationID)
		return
	}

	h.queue.UpdateTaskID(correlationID, result.TaskID)
}

// GetVideo returns the current queue item, falling back to the cached
// result URL after the visibility window has removed the item.
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")

	if item, ok := h.queue.Get(correlationID); ok {
		shared.RespondWithJSON(w, r, http.StatusOK, toItemResponse(item))
		return
	}

	if url, ok := h.queue.CachedResult(correlationID); ok {
		shared.RespondWithJSON(w, r, http.StatusOK, VideoItemResponse{
			CorrelationID: correlationID,
			State:         string(queue.StateSucceeded),
			ResultURL:     url,
		})
		return
	}

	shared.RespondWithError(w, r, http.StatusNotFound, "video task not found")
}

// ListVideos returns a snapshot of all queue items.
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	items := h.queue.Snapshot()
	out := make([]VideoItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// DeleteVideo removes a queue item, typically a stuck placeholder.
func (h *VideoHandler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	h.queue.Remove(correlationID)
	w.WriteHeader(http.StatusNoContent)
}

func toItemResponse(item queue.Item) VideoItemResponse {
	return VideoItemResponse{
		CorrelationID:   item.CorrelationID,
		TaskID:          item.TaskID,
		Provider:        string(item.Provider),
		JobType:         string(item.JobType),
		State:           string(item.State),
		ProgressPercent: item.ProgressPercent,
		Prompt:          item.Prompt,
		ThumbnailURL:    item.ThumbnailURL,
		ResultURL:       item.ResultURL,
		ErrorDetail:     item.ErrorDetail,
		StartedAt:       item.StartedAt.UTC().Format(time.RFC3339),
	}
}

func parseKind(s string) (provider.Kind, error) {
	switch provider.Kind(s) {
	case provider.KindKling:
		return provider.KindKling, nil
	case provider.KindFal:
		return provider.KindFal, nil
	default:
		return "", errors.New("provider must be one of: kling, fal")
	}
}

func parseJobType(s string) (provider.JobType, error) {
	switch provider.JobType(s) {
	case provider.JobTextToVideo:
		return provider.JobTextToVideo, nil
	case provider.JobImageToVideo:
		return provider.JobImageToVideo, nil
	default:
		return "", errors.New("job_type must be one of: text_to_video, image_to_video")
	}
}

// estimatedDuration picks the progress heuristic for a job: an explicit
// caller estimate wins, otherwise a per-provider/mode default.
func estimatedDuration(kind provider.Kind, mode string, estimatedMinutes int) time.Duration {
	if estimatedMinutes > 0 {
		return time.Duration(estimatedMinutes) * time.Minute
	}
	switch {
	case kind == provider.KindKling && mode == "pro":
		return 12 * time.Minute
	case kind == provider.KindKling:
		return 8 * time.Minute
	default:
		return 6 * time.Minute
	}
}
