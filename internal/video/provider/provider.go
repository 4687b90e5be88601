// Package provider defines the contract between the video task queue and
// the generation backends, along with the factory that hands out one
// client instance per backend kind.
package provider

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies a video generation backend.
type Kind string

// Supported backend kinds.
const (
	KindKling Kind = "kling"
	KindFal   Kind = "fal"
)

// JobType identifies the generation mode of a render job.
type JobType string

// Supported job types.
const (
	JobTextToVideo  JobType = "text_to_video"
	JobImageToVideo JobType = "image_to_video"
)

// TaskStatus is the normalized status vocabulary shared by all backends.
// Each provider maps its native statuses onto these three values.
type TaskStatus string

// Normalized task statuses.
const (
	StatusProcessing TaskStatus = "processing"
	StatusSucceeded  TaskStatus = "succeeded"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CreateTaskRequest carries the parameters for a new render job.
// Providers coerce out-of-range values to their nearest supported ones
// rather than rejecting the request; only missing required fields
// (prompt for text-to-video, source image for image-to-video) fail.
type CreateTaskRequest struct {
	JobType        JobType
	Prompt         string
	NegativePrompt string

	// ImageURL is the source image for image-to-video jobs.
	ImageURL string

	// StaticMaskURL optionally constrains motion for image-to-video jobs
	// on backends that support masking.
	StaticMaskURL string

	DurationSeconds int
	AspectRatio     string

	// Resolution is only honored by backends that expose it (fal).
	Resolution string

	// Mode is only honored by backends that expose it (kling std/pro).
	Mode string
}

// CreateTaskResult is the backend's answer to a create call.
type CreateTaskResult struct {
	TaskID string
	Status TaskStatus
}

// StatusResult is the backend's answer to a status check.
type StatusResult struct {
	Status TaskStatus

	// ResultURLs holds the rendered video URLs once Status is succeeded.
	ResultURLs []string

	// Message carries human-readable detail: queue position while
	// processing, or the vendor's failure reason.
	Message string
}

// Provider is the two-method contract every backend client satisfies.
type Provider interface {
	// Kind returns the backend kind this client talks to.
	Kind() Kind

	// CreateTask submits a new render job and returns the backend task id.
	CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResult, error)

	// CheckStatus reads the backend's current status for a task,
	// normalized to the shared vocabulary.
	CheckStatus(ctx context.Context, taskID string, jobType JobType) (*StatusResult, error)
}

// Source resolves a Provider for a backend kind. The factory implements
// it; tests substitute fakes.
type Source interface {
	Get(kind Kind) (Provider, error)
}

// placeholderPrefix tags locally generated task ids issued before the
// backend has assigned a real one. Tagged ids must never reach a
// backend's status-check endpoint.
const placeholderPrefix = "local-"

// NewPlaceholderTaskID returns a fresh locally tagged task id.
func NewPlaceholderTaskID() string {
	return placeholderPrefix + uuid.New().String()
}

// IsPlaceholderTaskID reports whether id is a locally generated
// placeholder rather than a backend-assigned task id.
func IsPlaceholderTaskID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}
