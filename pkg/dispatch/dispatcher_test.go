package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/tasks"
)

func TestProcessBufferAppliesEachEventOnce(t *testing.T) {
	d := NewDispatcher(nil)

	var seen atomic.Int32
	d.AddSink(func(*proto.StreamEvent) { seen.Add(1) })

	buffer := []proto.StreamEvent{
		proto.NewStreamEvent(proto.EventClear, nil),
		proto.NewStreamEvent(proto.EventTextDelta, "Once upon "),
	}
	require.NoError(t, d.ProcessBuffer(buffer))
	assert.Equal(t, 2, d.Watermark())
	assert.Equal(t, "Once upon ", d.State().Content)

	// The producer appends; re-delivering the grown buffer must not
	// re-apply the first two events.
	buffer = append(buffer,
		proto.NewStreamEvent(proto.EventTextDelta, "a time."),
		proto.NewStreamEvent(proto.EventFinish, nil),
	)
	require.NoError(t, d.ProcessBuffer(buffer))
	assert.Equal(t, 4, d.Watermark())
	assert.Equal(t, int32(4), seen.Load())

	state := d.State()
	assert.Equal(t, "Once upon a time.", state.Content)
	assert.Equal(t, StatusIdle, state.Status)
}

func TestProcessBufferRejectsShrunkenBuffer(t *testing.T) {
	d := NewDispatcher(nil)

	buffer := []proto.StreamEvent{
		proto.NewStreamEvent(proto.EventTextDelta, "a"),
		proto.NewStreamEvent(proto.EventTextDelta, "b"),
	}
	require.NoError(t, d.ProcessBuffer(buffer))

	err := d.ProcessBuffer(buffer[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shrank")
	assert.Equal(t, 2, d.Watermark())
}

func TestDispatchAppliesArtifactEvents(t *testing.T) {
	d := NewDispatcher(nil)

	d.Dispatch(proto.NewStreamEvent(proto.EventID, "doc_1"))
	d.Dispatch(proto.NewStreamEvent(proto.EventTitle, "Fox Tale"))
	d.Dispatch(proto.NewStreamEvent(proto.EventKind, "book"))
	d.Dispatch(proto.NewStreamEvent(proto.EventBookID, "book_1"))
	d.Dispatch(proto.NewStreamEvent(proto.EventTextDelta, "Ria woke early."))

	state := d.State()
	assert.Equal(t, "doc_1", state.DocumentID)
	assert.Equal(t, "Fox Tale", state.Title)
	assert.Equal(t, "book", state.Kind)
	assert.Equal(t, "book_1", state.BookID)
	assert.Equal(t, "Ria woke early.", state.Content)
	assert.Equal(t, StatusStreaming, state.Status)

	d.Dispatch(proto.NewStreamEvent(proto.EventClear, nil))
	state = d.State()
	assert.Empty(t, state.Content)
	assert.Equal(t, StatusStreaming, state.Status)

	d.Dispatch(proto.NewStreamEvent(proto.EventFinish, nil))
	assert.Equal(t, StatusIdle, d.State().Status)
}

func TestDispatchProgressTypedPayload(t *testing.T) {
	d := NewDispatcher(nil)

	d.Dispatch(proto.NewStreamEvent(proto.EventProgress, proto.ProgressPayload{
		Step:   proto.StepCreateCharacters,
		Status: proto.StepInProgress,
	}))

	state := d.State()
	assert.Equal(t, "create_characters", state.CurrentStep)
	assert.Equal(t, string(proto.StepInProgress), state.Progress)
}

func TestDispatchProgressReplayedPayload(t *testing.T) {
	d := NewDispatcher(nil)

	event := proto.NewStreamEvent(proto.EventProgress, proto.ProgressPayload{
		Step:   proto.StepRenderScene,
		Status: proto.StepPendingApproval,
	})
	data, err := event.ToJSON()
	require.NoError(t, err)
	replayed, err := proto.StreamEventFromJSON(data)
	require.NoError(t, err)

	d.Dispatch(*replayed)

	state := d.State()
	assert.Equal(t, "render_scene", state.CurrentStep)
	assert.Equal(t, string(proto.StepPendingApproval), state.Progress)
}

func TestDispatchImageAndApprovalEvents(t *testing.T) {
	d := NewDispatcher(nil)

	d.Dispatch(proto.NewStreamEvent(proto.EventImageGenerated, proto.ImageGeneratedPayload{
		BookID:   "book_1",
		Kind:     "character",
		ImageURL: "https://images.local/ria.png",
	}))
	assert.Equal(t, "https://images.local/ria.png", d.State().LastImageURL)

	d.Dispatch(proto.NewStreamEvent(proto.EventApprovalRequired, proto.ApprovalRequiredPayload{
		BookID:     "book_1",
		Step:       proto.StepPlan,
		ApprovalID: "approval_1",
		Type:       proto.ApprovalTypePlan,
	}))
	state := d.State()
	assert.Equal(t, "approval_1", state.ApprovalID)
	assert.Equal(t, StatusIdle, state.Status)
}

func TestDispatchIgnoresUnknownEventType(t *testing.T) {
	d := NewDispatcher(nil)
	d.Dispatch(proto.NewStreamEvent(proto.EventType("mystery"), "payload"))
	assert.Equal(t, 1, d.Watermark())
}

func TestReset(t *testing.T) {
	d := NewDispatcher(nil)
	d.Dispatch(proto.NewStreamEvent(proto.EventTextDelta, "draft"))
	require.Equal(t, 1, d.Watermark())

	d.Reset()
	assert.Equal(t, 0, d.Watermark())
	assert.Empty(t, d.State().Content)
	assert.Equal(t, StatusIdle, d.State().Status)
}

func TestPersistInBackgroundRunsThroughQueue(t *testing.T) {
	queue := tasks.NewQueue(4, config.RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}, nil, nil)
	queue.Start(context.Background())

	d := NewDispatcher(queue)

	var ran atomic.Bool
	d.PersistInBackground("book_1", "persist_plan", "{}", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	queue.Stop()
	assert.True(t, ran.Load())
}

func TestPersistInBackgroundWithoutQueueIsNoop(t *testing.T) {
	d := NewDispatcher(nil)
	d.PersistInBackground("book_1", "persist_plan", "{}", func(context.Context) error {
		t.Fatal("should not run without a queue")
		return nil
	})
}

func TestSummary(t *testing.T) {
	d := NewDispatcher(nil)
	d.Dispatch(proto.NewStreamEvent(proto.EventTitle, "Fox Tale"))
	d.Dispatch(proto.NewStreamEvent(proto.EventProgress, proto.ProgressPayload{
		Step:   proto.StepPlan,
		Status: proto.StepInProgress,
	}))

	assert.Equal(t, "Fox Tale, step plan, idle", d.Summary())
}
