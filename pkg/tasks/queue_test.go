package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
)

type memorySink struct {
	mu      sync.Mutex
	letters []*persistence.DeadLetter
}

func (s *memorySink) InsertDeadLetter(letter *persistence.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.letters)
}

func fastRetry(maxAttempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestQueueRunsTask(t *testing.T) {
	queue := NewQueue(8, fastRetry(2), nil, nil)
	queue.Start(context.Background())

	var ran atomic.Bool
	require.NoError(t, queue.Submit(&Task{
		Operation: "persist_plan",
		Run: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	}))

	queue.Stop()
	assert.True(t, ran.Load())
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	queue := NewQueue(8, fastRetry(3), nil, nil)
	queue.Start(context.Background())

	var attempts atomic.Int32
	require.NoError(t, queue.Submit(&Task{
		Operation: "persist_chapter",
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return fmt.Errorf("db locked")
			}
			return nil
		},
	}))

	queue.Stop()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueDeadLettersExhaustedTask(t *testing.T) {
	sink := &memorySink{}
	queue := NewQueue(8, fastRetry(2), sink, nil)
	queue.Start(context.Background())

	require.NoError(t, queue.Submit(&Task{
		BookID:    "book_1",
		Operation: "persist_characters",
		Payload:   `{"name":"Ria"}`,
		Run: func(context.Context) error {
			return fmt.Errorf("permanent failure")
		},
	}))

	queue.Stop()
	require.Equal(t, 1, sink.count())
	letter := sink.letters[0]
	assert.Equal(t, "book_1", letter.BookID)
	assert.Equal(t, "persist_characters", letter.Operation)
	assert.Equal(t, `{"name":"Ria"}`, letter.Payload)
	assert.Contains(t, letter.LastError, "permanent failure")
	assert.Equal(t, 2, letter.Attempts)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	queue := NewQueue(1, fastRetry(1), nil, nil)
	// Not started: nothing drains the channel.

	block := &Task{Operation: "op", Run: func(context.Context) error { return nil }}
	require.NoError(t, queue.Submit(block))

	err := queue.Submit(block)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
	assert.Equal(t, 1, queue.Pending())
}

func TestQueueValidatesTasks(t *testing.T) {
	queue := NewQueue(4, fastRetry(1), nil, nil)
	assert.Error(t, queue.Submit(nil))
	assert.Error(t, queue.Submit(&Task{Operation: "no_run"}))
	assert.Error(t, queue.Submit(&Task{Run: func(context.Context) error { return nil }}))
}

func TestBackoffJitterWithTinyDelay(t *testing.T) {
	// A delay under 4ns makes the jitter bound zero; the backoff must not
	// panic and still returns a positive delay.
	queue := NewQueue(4, config.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Nanosecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil, nil)

	for attempt := 1; attempt <= 3; attempt++ {
		assert.Positive(t, queue.backoff(attempt))
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	queue := NewQueue(4, config.RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      40 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil, nil)

	for i := 0; i < 50; i++ {
		delay := queue.backoff(3)
		assert.GreaterOrEqual(t, delay, 40*time.Millisecond)
		assert.Less(t, delay, 50*time.Millisecond)
	}
}

func TestQueueDrainsOnStop(t *testing.T) {
	queue := NewQueue(16, fastRetry(1), nil, nil)
	queue.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, queue.Submit(&Task{
			Operation: "persist_scene",
			Run: func(context.Context) error {
				done.Add(1)
				return nil
			},
		}))
	}

	queue.Stop()
	assert.Equal(t, int32(10), done.Load())
}
