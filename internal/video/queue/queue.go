// Package queue implements the asynchronous video-generation task
// queue. A single ticker drives all polling: each tick recomputes
// progress estimates, dispatches a concurrency-capped batch of status
// checks through the providers, classifies terminal outcomes, and
// schedules delayed removal so the UI has a window to display results.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appconfig "github.com/visiarch/visiarch-api/internal/config"
	"github.com/visiarch/visiarch-api/internal/video/provider"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("video task queue is shut down")

// Callbacks are the caller-supplied notification hooks. All are
// optional; a panicking callback is recovered and never aborts the
// driver loop for other items.
type Callbacks struct {
	// OnSuccess fires exactly once when an item reaches succeeded.
	OnSuccess func(correlationID, resultURL string)

	// OnFailure fires exactly once when an item reaches failed, whether
	// the backend reported the failure or the retry limit was exhausted.
	OnFailure func(correlationID, errorMessage string)

	// OnProgress fires on every tick for each processing item.
	OnProgress func(correlationID string, percent int, etaSeconds int)
}

// Config holds tuning for the driver loop.
type Config struct {
	// TickInterval is the driver loop period.
	TickInterval time.Duration

	// MaxConcurrentChecks caps simultaneous in-flight status checks per batch.
	MaxConcurrentChecks int

	// MaxConsecutiveErrors force-fails an item when its consecutive
	// check-error count reaches this value.
	MaxConsecutiveErrors int

	// SuccessVisibility / FailureVisibility delay removal after a
	// terminal transition so the outcome stays queryable.
	SuccessVisibility time.Duration
	FailureVisibility time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         2 * time.Second,
		MaxConcurrentChecks:  5,
		MaxConsecutiveErrors: 10,
		SuccessVisibility:    30 * time.Second,
		FailureVisibility:    5 * time.Second,
	}
}

// ConfigFromApp converts the application-level queue settings.
func ConfigFromApp(cfg appconfig.QueueConfig) Config {
	return Config{
		TickInterval:         time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		MaxConcurrentChecks:  cfg.MaxConcurrentChecks,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		SuccessVisibility:    time.Duration(cfg.SuccessVisibilitySeconds) * time.Second,
		FailureVisibility:    time.Duration(cfg.FailureVisibilitySeconds) * time.Second,
	}
}

// EnqueueRequest carries everything needed to register a render job
// before its backend task exists.
type EnqueueRequest struct {
	CorrelationID     string
	Provider          provider.Kind
	JobType           provider.JobType
	Prompt            string
	ThumbnailURL      string
	EstimatedDuration time.Duration
}

// Queue owns the in-memory item collection and the driver loop. It is
// an explicit object with no ambient state; construct one per process
// boundary (or per test) and pass it by reference.
type Queue struct {
	providers provider.Source
	callbacks Callbacks
	cfg       Config
	logger    *slog.Logger

	// timeFunc is injectable for progress estimation tests.
	timeFunc func() time.Time

	mu            sync.Mutex
	items         map[string]*Item
	results       map[string]string
	removalTimers map[string]*time.Timer
	loopCancel    context.CancelFunc
	batchCancel   context.CancelFunc
	closed        bool

	wg sync.WaitGroup
}

// New creates a stopped queue. The driver loop starts with the first
// Enqueue and stops itself whenever the collection drains.
func New(providers provider.Source, cfg Config, callbacks Callbacks, logger *slog.Logger) *Queue {
	return &Queue{
		providers:     providers,
		callbacks:     callbacks,
		cfg:           cfg,
		logger:        logger.With("component", "video_task_queue"),
		timeFunc:      time.Now,
		items:         make(map[string]*Item),
		results:       make(map[string]string),
		removalTimers: make(map[string]*time.Timer),
	}
}

// Enqueue registers a new render job under a placeholder task id and
// returns immediately, letting the caller show a generating placeholder
// before any network call to the provider completes. An existing item
// with the same correlation id is replaced.
func (q *Queue) Enqueue(req EnqueueRequest) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Item{}, ErrQueueClosed
	}

	if _, exists := q.items[req.CorrelationID]; exists {
		q.logger.Warn("replacing existing queue item",
			"correlation_id", req.CorrelationID)
		q.cancelRemovalLocked(req.CorrelationID)
	}

	item := &Item{
		CorrelationID:     req.CorrelationID,
		TaskID:            provider.NewPlaceholderTaskID(),
		Provider:          req.Provider,
		JobType:           req.JobType,
		Prompt:            req.Prompt,
		ThumbnailURL:      req.ThumbnailURL,
		StartedAt:         q.timeFunc(),
		EstimatedDuration: req.EstimatedDuration,
		State:             StateProcessing,
	}
	q.items[req.CorrelationID] = item

	q.startLoopLocked()

	q.logger.Info("task enqueued",
		"correlation_id", req.CorrelationID,
		"provider", req.Provider,
		"job_type", req.JobType)

	return *item, nil
}

// UpdateTaskID swaps the placeholder for the backend-assigned task id
// once the caller's create call has resolved. Items are matched by
// correlation id, never by the old task id. Unknown ids are a no-op.
func (q *Queue) UpdateTaskID(correlationID, taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[correlationID]
	if !ok {
		q.logger.Debug("update for unknown correlation id ignored",
			"correlation_id", correlationID)
		return
	}

	item.TaskID = taskID
	q.logger.Info("task id assigned",
		"correlation_id", correlationID,
		"task_id", taskID)
}

// MarkCompleted transitions an item straight to succeeded, for
// providers whose create call returns a result synchronously.
func (q *Queue) MarkCompleted(correlationID, resultURL string) {
	q.mu.Lock()
	item, ok := q.aliveItemLocked(correlationID)
	if !ok {
		q.mu.Unlock()
		return
	}
	q.succeedLocked(item, resultURL)
	onSuccess := q.callbacks.OnSuccess
	q.mu.Unlock()

	q.invoke("on_success", func() {
		if onSuccess != nil {
			onSuccess(correlationID, resultURL)
		}
	})
}

// Remove deletes an item immediately. Callers use it when their create
// call fails, so a placeholder that will never get a real task id is
// not left polling forever.
func (q *Queue) Remove(correlationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancelRemovalLocked(correlationID)
	if _, ok := q.items[correlationID]; ok {
		delete(q.items, correlationID)
		q.logger.Info("task removed", "correlation_id", correlationID)
	}
}

// Get returns a copy of the item for the correlation id.
func (q *Queue) Get(correlationID string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[correlationID]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Snapshot returns copies of all current items.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// CachedResult returns the completed render URL for a correlation id,
// which outlives the item's visibility window.
func (q *Queue) CachedResult(correlationID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	url, ok := q.results[correlationID]
	return url, ok
}

// Shutdown stops the driver loop, cancels all outstanding status checks
// and pending removal timers, and waits for in-flight work to drain. No
// state mutation or callback fires after Shutdown returns.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	if q.loopCancel != nil {
		q.loopCancel()
		q.loopCancel = nil
	}
	if q.batchCancel != nil {
		q.batchCancel()
		q.batchCancel = nil
	}
	for id, timer := range q.removalTimers {
		timer.Stop()
		delete(q.removalTimers, id)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("video task queue shut down")
}

// startLoopLocked launches the driver loop if it is not already running.
func (q *Queue) startLoopLocked() {
	if q.loopCancel != nil || q.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.loopCancel = cancel

	q.wg.Add(1)
	go q.run(ctx)
}

// run is the driver loop. It exits when its context is cancelled,
// either by Shutdown or by a tick that found the collection empty.
func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	q.logger.Debug("driver loop started", "tick_interval", q.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("driver loop stopped")
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// checkTarget is the immutable slice of item state a status check needs.
type checkTarget struct {
	correlationID string
	taskID        string
	provider      provider.Kind
	jobType       provider.JobType
}

type progressUpdate struct {
	correlationID string
	percent       int
	etaSeconds    int
}

// tick performs one driver cycle: stop when idle, refresh progress
// estimates, then fan out status checks for items holding real task
// ids. Items still on placeholder ids are waiting on UpdateTaskID and
// skipped this cycle.
func (q *Queue) tick(loopCtx context.Context) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return
	}

	if len(q.items) == 0 {
		// No idle polling: stop the loop until the next Enqueue.
		if q.loopCancel != nil {
			q.loopCancel()
			q.loopCancel = nil
		}
		q.mu.Unlock()
		return
	}

	now := q.timeFunc()
	var updates []progressUpdate
	var targets []checkTarget

	for _, item := range q.items {
		if item.State != StateProcessing {
			continue
		}

		percent, eta := estimateProgress(now, item.StartedAt, item.EstimatedDuration)
		if percent > item.ProgressPercent {
			item.ProgressPercent = percent
		}
		updates = append(updates, progressUpdate{
			correlationID: item.CorrelationID,
			percent:       item.ProgressPercent,
			etaSeconds:    eta,
		})

		if provider.IsPlaceholderTaskID(item.TaskID) {
			continue
		}
		targets = append(targets, checkTarget{
			correlationID: item.CorrelationID,
			taskID:        item.TaskID,
			provider:      item.Provider,
			jobType:       item.JobType,
		})
	}

	// A batch that outlives its tick is cancelled before the next one
	// starts, so stale in-flight requests cannot pile up.
	if q.batchCancel != nil {
		q.batchCancel()
	}
	batchCtx, batchCancel := context.WithCancel(loopCtx)
	q.batchCancel = batchCancel

	onProgress := q.callbacks.OnProgress
	q.mu.Unlock()

	if onProgress != nil {
		for _, u := range updates {
			u := u
			q.invoke("on_progress", func() {
				onProgress(u.correlationID, u.percent, u.etaSeconds)
			})
		}
	}

	if len(targets) == 0 {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		g := new(errgroup.Group)
		g.SetLimit(q.cfg.MaxConcurrentChecks)
		for _, t := range targets {
			t := t
			g.Go(func() error {
				q.checkOne(batchCtx, t)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// checkOne runs a single provider status check and applies the outcome.
func (q *Queue) checkOne(ctx context.Context, t checkTarget) {
	p, err := q.providers.Get(t.provider)
	if err != nil {
		q.handleCheckError(t.correlationID, err)
		return
	}

	result, err := p.CheckStatus(ctx, t.taskID, t.jobType)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded or shut-down batch; not a task failure.
			return
		}
		q.handleCheckError(t.correlationID, err)
		return
	}

	q.applyStatus(t.correlationID, result)
}

// applyStatus folds a successful status response into item state. Any
// successful read resets the consecutive-error counter.
func (q *Queue) applyStatus(correlationID string, result *provider.StatusResult) {
	q.mu.Lock()

	item, ok := q.aliveItemLocked(correlationID)
	if !ok {
		q.mu.Unlock()
		return
	}

	item.ConsecutiveErrors = 0

	switch result.Status {
	case provider.StatusProcessing:
		// Still rendering; the next tick retries.
		q.mu.Unlock()
		return

	case provider.StatusSucceeded:
		if len(result.ResultURLs) == 0 {
			q.mu.Unlock()
			q.handleCheckError(correlationID,
				errors.New("backend reported success without a result URL"))
			return
		}
		resultURL := result.ResultURLs[0]
		q.succeedLocked(item, resultURL)
		onSuccess := q.callbacks.OnSuccess
		q.mu.Unlock()

		q.invoke("on_success", func() {
			if onSuccess != nil {
				onSuccess(correlationID, resultURL)
			}
		})

	case provider.StatusFailed:
		message := result.Message
		if message == "" {
			message = "video generation failed"
		}
		q.failLocked(item, message)
		onFailure := q.callbacks.OnFailure
		q.mu.Unlock()

		q.invoke("on_failure", func() {
			if onFailure != nil {
				onFailure(correlationID, message)
			}
		})

	default:
		q.mu.Unlock()
	}
}

// handleCheckError counts a transient check failure and force-fails the
// item once the consecutive-error threshold is reached.
func (q *Queue) handleCheckError(correlationID string, checkErr error) {
	q.mu.Lock()

	item, ok := q.aliveItemLocked(correlationID)
	if !ok {
		q.mu.Unlock()
		return
	}

	item.ConsecutiveErrors++
	q.logger.Debug("status check failed",
		"correlation_id", correlationID,
		"consecutive_errors", item.ConsecutiveErrors,
		"error", checkErr)

	if item.ConsecutiveErrors < q.cfg.MaxConsecutiveErrors {
		// Leave the item processing; the next tick retries.
		q.mu.Unlock()
		return
	}

	message := fmt.Sprintf(
		"giving up after %d consecutive status check failures: %v",
		item.ConsecutiveErrors, checkErr,
	)
	q.failLocked(item, message)
	onFailure := q.callbacks.OnFailure
	q.mu.Unlock()

	q.invoke("on_failure", func() {
		if onFailure != nil {
			onFailure(correlationID, message)
		}
	})
}

// aliveItemLocked applies the still-alive guard every asynchronous
// continuation must pass before mutating state: the queue is not shut
// down, the item still exists, and it has not already gone terminal.
func (q *Queue) aliveItemLocked(correlationID string) (*Item, bool) {
	if q.closed {
		return nil, false
	}
	item, ok := q.items[correlationID]
	if !ok || item.State != StateProcessing {
		return nil, false
	}
	return item, true
}

func (q *Queue) succeedLocked(item *Item, resultURL string) {
	item.State = StateSucceeded
	item.ResultURL = resultURL
	item.ProgressPercent = 100
	q.results[item.CorrelationID] = resultURL
	q.scheduleRemovalLocked(item.CorrelationID, q.cfg.SuccessVisibility)

	q.logger.Info("task succeeded",
		"correlation_id", item.CorrelationID,
		"task_id", item.TaskID)
}

func (q *Queue) failLocked(item *Item, message string) {
	item.State = StateFailed
	item.ErrorDetail = message
	q.scheduleRemovalLocked(item.CorrelationID, q.cfg.FailureVisibility)

	q.logger.Warn("task failed",
		"correlation_id", item.CorrelationID,
		"task_id", item.TaskID,
		"error", message)
}

// scheduleRemovalLocked arranges removal after the visibility window.
// The window also guarantees a terminal item is filtered out of every
// subsequent batch, so no terminal callback can fire twice.
func (q *Queue) scheduleRemovalLocked(correlationID string, after time.Duration) {
	q.cancelRemovalLocked(correlationID)

	q.removalTimers[correlationID] = time.AfterFunc(after, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.closed {
			return
		}
		delete(q.items, correlationID)
		delete(q.removalTimers, correlationID)
	})
}

func (q *Queue) cancelRemovalLocked(correlationID string) {
	if timer, ok := q.removalTimers[correlationID]; ok {
		timer.Stop()
		delete(q.removalTimers, correlationID)
	}
}

// invoke runs a callback, recovering panics so a misbehaving callback
// cannot abort the driver loop for other items.
func (q *Queue) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("callback panicked",
				"callback", name,
				"panic", r)
		}
	}()
	fn()
}

// estimateProgress derives a display percentage from elapsed time
// against the estimated duration, capped at 95: the last 5 points are
// reserved for confirmed completion so the bar never appears done
// before the result is known.
func estimateProgress(now, startedAt time.Time, estimated time.Duration) (percent, etaSeconds int) {
	if estimated <= 0 {
		estimated = 5 * time.Minute
	}

	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	percent = int(elapsed * 100 / estimated)
	if percent > 95 {
		percent = 95
	}

	remaining := estimated - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return percent, int(remaining / time.Second)
}
