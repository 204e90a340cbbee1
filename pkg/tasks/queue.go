// Package tasks provides the background persistence queue: a bounded queue
// with worker-side retry and a dead-letter record for tasks that exhaust
// their retries, so secondary persistence failures are never silently lost.
package tasks

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
)

// Task is one unit of background work.
type Task struct {
	// BookID attributes the task to a book for dead-letter records.
	BookID string
	// Operation names what the task does, e.g. "persist_characters".
	Operation string
	// Payload is a serialized description kept for the dead-letter record.
	Payload string
	// Run executes the work. A nil error means done; any error is retried.
	Run func(ctx context.Context) error
}

// DeadLetterSink receives tasks that exhausted their retries.
type DeadLetterSink interface {
	InsertDeadLetter(letter *persistence.DeadLetter) error
}

// Queue is a bounded background task queue with a single worker. Submission
// never blocks: a full queue returns an error to the caller instead of
// stalling the user-visible response.
type Queue struct {
	tasks    chan *Task
	cfg      config.RetryConfig
	sink     DeadLetterSink
	recorder metrics.Recorder
	logger   *logx.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewQueue creates a queue holding at most size pending tasks.
func NewQueue(size int, cfg config.RetryConfig, sink DeadLetterSink, recorder metrics.Recorder) *Queue {
	if size <= 0 {
		size = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Queue{
		tasks:    make(chan *Task, size),
		cfg:      cfg,
		sink:     sink,
		recorder: recorder,
		logger:   logx.NewLogger("tasks"),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. The worker runs until Stop is called or the
// context is canceled; queued tasks are drained before shutdown completes.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.worker(ctx)
	})
}

// Stop closes the queue and waits for the worker to drain remaining tasks.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
	})
}

// Submit enqueues a task. A full queue is reported to the caller rather than
// blocking; the caller decides whether to run inline or drop.
func (q *Queue) Submit(task *Task) error {
	if task == nil || task.Run == nil {
		return fmt.Errorf("task must have a Run function")
	}
	if task.Operation == "" {
		return fmt.Errorf("task must have an operation name")
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("task queue full (%d pending), rejecting %s", cap(q.tasks), task.Operation)
	}
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case task := <-q.tasks:
			q.process(ctx, task)
		case <-q.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case task := <-q.tasks:
					q.process(ctx, task)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, task *Task) {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		lastErr = task.Run(ctx)
		if lastErr == nil {
			return
		}

		q.logger.Warn("task %s failed (attempt %d/%d): %v",
			task.Operation, attempt, q.cfg.MaxAttempts, lastErr)

		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(q.backoff(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = q.cfg.MaxAttempts
		}
		if ctx.Err() != nil {
			break
		}
	}

	q.deadLetter(task, lastErr)
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(q.cfg.InitialDelay) * math.Pow(q.cfg.BackoffFactor, float64(attempt-1)))
	if q.cfg.MaxDelay > 0 && delay > q.cfg.MaxDelay {
		delay = q.cfg.MaxDelay
	}
	// rand.Int63n panics on a non-positive bound, so sub-4ns delays skip
	// the jitter entirely.
	if jitter := int64(delay) / 4; q.cfg.Jitter && jitter > 0 {
		//nolint:gosec // Jitter does not need cryptographic randomness
		delay += time.Duration(rand.Int63n(jitter))
	}
	if delay <= 0 {
		delay = q.cfg.InitialDelay
	}
	return delay
}

func (q *Queue) deadLetter(task *Task, cause error) {
	q.recorder.IncDeadLetter(task.Operation)

	if q.sink == nil {
		q.logger.Error("task %s exhausted retries with no dead-letter sink: %v", task.Operation, cause)
		return
	}

	letter := &persistence.DeadLetter{
		ID:        persistence.GenerateDeadLetterID(),
		BookID:    task.BookID,
		Operation: task.Operation,
		Payload:   task.Payload,
		LastError: fmt.Sprintf("%v", cause),
		Attempts:  q.cfg.MaxAttempts,
	}
	if err := q.sink.InsertDeadLetter(letter); err != nil {
		q.logger.Error("failed to record dead letter for %s: %v", task.Operation, err)
	}
}
