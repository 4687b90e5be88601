package queue

import (
	"time"

	"github.com/visiarch/visiarch-api/internal/video/provider"
)

// State is the lifecycle state of a queue item. Transitions are
// monotonic: processing moves to exactly one of succeeded or failed,
// and nothing transitions out of a terminal state except removal.
type State string

// Item lifecycle states.
const (
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Item is one in-flight or recently terminal render job. The queue's
// driver loop is the only writer of item state; callers receive copies.
type Item struct {
	// CorrelationID is the caller-chosen stable identifier. It never
	// changes and keys all callbacks and lookups.
	CorrelationID string

	// TaskID starts as a locally tagged placeholder and is swapped for
	// the backend-assigned id once the create call resolves. Placeholder
	// ids are never sent to a backend status check.
	TaskID string

	Provider provider.Kind
	JobType  provider.JobType

	// Prompt and ThumbnailURL are display metadata carried for the UI.
	Prompt       string
	ThumbnailURL string

	// StartedAt anchors elapsed-time progress estimation.
	StartedAt time.Time

	// EstimatedDuration is a display heuristic, not a correctness input.
	EstimatedDuration time.Duration

	State State

	// ProgressPercent is derived from elapsed time and capped below 100
	// while processing; only a confirmed completion reaches 100.
	ProgressPercent int

	// ConsecutiveErrors counts back-to-back failed status checks. Any
	// successful check resets it; reaching the configured threshold
	// force-fails the item.
	ConsecutiveErrors int

	// ResultURL and ErrorDetail are populated only on terminal transition.
	ResultURL   string
	ErrorDetail string
}
