// Package dispatch consumes the stream event buffer and maintains the
// artifact state shown on the status surface. Each event is applied exactly
// once: the dispatcher keeps a watermark into the buffer so re-delivery of a
// grown buffer never double-applies earlier events.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/tasks"
)

// ArtifactStatus is the UI-facing streaming state of the artifact.
type ArtifactStatus string

const (
	StatusStreaming ArtifactStatus = "streaming"
	StatusIdle      ArtifactStatus = "idle"
)

// ArtifactState is the mutable state the dispatcher maintains from events.
type ArtifactState struct {
	DocumentID string         `json:"document_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Content    string         `json:"content,omitempty"`
	Status     ArtifactStatus `json:"status"`
	Progress   string         `json:"progress,omitempty"`

	// Book workflow echoes.
	BookID        string `json:"book_id,omitempty"`
	CurrentStep   string `json:"current_step,omitempty"`
	LastImageURL  string `json:"last_image_url,omitempty"`
	ApprovalID    string `json:"approval_id,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`
}

// EventSink receives every event the dispatcher applies. Used for the event
// log and the live websocket feed. Sinks must not block.
type EventSink func(event *proto.StreamEvent)

// Dispatcher applies stream events to artifact state. Persistence triggered
// from event handling is handed to the task queue, never performed inline.
type Dispatcher struct {
	mu        sync.Mutex
	state     ArtifactState
	watermark int
	queue     *tasks.Queue
	sinks     []EventSink
	logger    *logx.Logger
}

// NewDispatcher creates a dispatcher. queue may be nil when no background
// persistence is wanted.
func NewDispatcher(queue *tasks.Queue) *Dispatcher {
	return &Dispatcher{
		state:  ArtifactState{Status: StatusIdle},
		queue:  queue,
		logger: logx.NewLogger("dispatch"),
	}
}

// AddSink registers a sink invoked for every newly applied event.
func (d *Dispatcher) AddSink(sink EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// State returns a copy of the current artifact state.
func (d *Dispatcher) State() ArtifactState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Watermark returns the number of buffer events applied so far.
func (d *Dispatcher) Watermark() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// ProcessBuffer applies the events past the watermark. The buffer is
// append-only from the producer side; passing the same (or a grown) buffer
// repeatedly applies each event exactly once. A shrunken buffer is rejected.
func (d *Dispatcher) ProcessBuffer(buffer []proto.StreamEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(buffer) < d.watermark {
		return fmt.Errorf("event buffer shrank from %d to %d", d.watermark, len(buffer))
	}

	for i := d.watermark; i < len(buffer); i++ {
		event := buffer[i]
		d.applyLocked(&event)
		d.watermark = i + 1
		for _, sink := range d.sinks {
			sink(&event)
		}
	}
	return nil
}

// Dispatch applies a single new event.
func (d *Dispatcher) Dispatch(event proto.StreamEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.applyLocked(&event)
	d.watermark++
	for _, sink := range d.sinks {
		sink(&event)
	}
}

// applyLocked mutates artifact state per event type. Handlers never block;
// anything durable goes through the task queue.
func (d *Dispatcher) applyLocked(event *proto.StreamEvent) {
	switch event.Type {
	case proto.EventID:
		d.state.DocumentID = event.DataString()

	case proto.EventTitle:
		d.state.Title = event.DataString()

	case proto.EventKind:
		d.state.Kind = event.DataString()

	case proto.EventClear:
		d.state.Content = ""
		d.state.Status = StatusStreaming

	case proto.EventTextDelta:
		d.state.Content += event.DataString()
		d.state.Status = StatusStreaming

	case proto.EventStatus:
		if event.DataString() == string(StatusStreaming) {
			d.state.Status = StatusStreaming
		} else {
			d.state.Status = StatusIdle
		}

	case proto.EventFinish:
		d.state.Status = StatusIdle

	case proto.EventProgress:
		// In-process events carry the typed payload; events replayed from the
		// log come back as maps.
		if p, ok := event.Data.(proto.ProgressPayload); ok {
			d.state.CurrentStep = p.Step.String()
			d.state.Progress = string(p.Status)
		} else if payload, ok := event.DataMap(); ok {
			step, _ := payload["step"].(float64)
			status, _ := payload["status"].(string)
			d.state.CurrentStep = proto.StepID(int(step)).String()
			d.state.Progress = status
		}

	case proto.EventToolCall, proto.EventToolResult:
		// Tool traffic is surfaced through sinks only.

	case proto.EventBookID:
		d.state.BookID = event.DataString()

	case proto.EventBookPlan, proto.EventChapterDrafted, proto.EventSceneCreated,
		proto.EventCharacterCreated, proto.EventEnvironmentCreated:
		// Asset events carry their own persistence through step handlers;
		// the dispatcher only forwards them to sinks.

	case proto.EventImageGenerated:
		if p, ok := event.Data.(proto.ImageGeneratedPayload); ok {
			d.state.LastImageURL = p.ImageURL
		} else if payload, ok := event.DataMap(); ok {
			if url, ok := payload["image_url"].(string); ok {
				d.state.LastImageURL = url
			}
		}

	case proto.EventApprovalRequired:
		if p, ok := event.Data.(proto.ApprovalRequiredPayload); ok {
			d.state.ApprovalID = p.ApprovalID
		} else if payload, ok := event.DataMap(); ok {
			if id, ok := payload["approval_id"].(string); ok {
				d.state.ApprovalID = id
			}
		}
		d.state.Status = StatusIdle

	case proto.EventRepositoryCreated:
		d.state.RepositoryURL = event.DataString()

	default:
		d.logger.Debug("ignoring unknown event type %q", event.Type)
	}
}

// PersistInBackground hands a persistence closure to the task queue,
// fire-and-forget from the dispatcher's point of view but retried and
// dead-lettered by the queue. A full queue is logged, never propagated.
func (d *Dispatcher) PersistInBackground(bookID, operation, payload string, run func(ctx context.Context) error) {
	if d.queue == nil {
		return
	}
	err := d.queue.Submit(&tasks.Task{
		BookID:    bookID,
		Operation: operation,
		Payload:   payload,
		Run:       run,
	})
	if err != nil {
		d.logger.Warn("background persistence rejected: %v", err)
	}
}

// Reset clears artifact state and the watermark for a new artifact stream.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = ArtifactState{Status: StatusIdle}
	d.watermark = 0
}

// Summary returns a short human-readable description of the artifact state.
func (d *Dispatcher) Summary() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var parts []string
	if d.state.Title != "" {
		parts = append(parts, d.state.Title)
	}
	if d.state.CurrentStep != "" {
		parts = append(parts, "step "+d.state.CurrentStep)
	}
	parts = append(parts, string(d.state.Status))
	return strings.Join(parts, ", ")
}
