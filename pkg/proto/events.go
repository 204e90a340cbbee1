package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates stream events. The set is closed: the dispatcher
// ignores unknown types rather than failing, so producers and consumers can
// be upgraded independently.
type EventType string

const (
	// Artifact-level events.
	EventID        EventType = "id"         // Set the artifact document ID
	EventTitle     EventType = "title"      // Set the artifact title
	EventKind      EventType = "kind"       // Set the artifact kind (document, image, book)
	EventClear     EventType = "clear"      // Reset artifact content
	EventStatus    EventType = "status"     // Flip artifact status (streaming/idle)
	EventTextDelta EventType = "text-delta" // Append streamed text
	EventFinish    EventType = "finish"     // Mark streaming complete
	EventProgress  EventType = "progress"   // Step progress update

	// Tool events.
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"

	// Book workflow events.
	EventBookID             EventType = "book-id"
	EventBookPlan           EventType = "book-plan"
	EventChapterDrafted     EventType = "chapter-drafted"
	EventSceneCreated       EventType = "scene-created"
	EventCharacterCreated   EventType = "character-created"
	EventEnvironmentCreated EventType = "environment-created"
	EventImageGenerated     EventType = "image-generated"
	EventApprovalRequired   EventType = "approval-required"
	EventRepositoryCreated  EventType = "repository-created"
)

// StreamEvent is the tagged union carried on the data stream. Data is
// type-specific; consumers extract it with the typed helpers below.
type StreamEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
}

// NewStreamEvent creates a stream event with a generated ID and timestamp.
func NewStreamEvent(eventType EventType, data any) StreamEvent {
	return StreamEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event as a single JSON document (one line, for JSONL
// event logs).
func (e *StreamEvent) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream event: %w", err)
	}
	return data, nil
}

// StreamEventFromJSON deserializes a stream event.
func StreamEventFromJSON(data []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream event: %w", err)
	}
	return &event, nil
}

// DataString extracts the event payload as a string. Returns "" when the
// payload is absent or not a string.
func (e *StreamEvent) DataString() string {
	if s, ok := e.Data.(string); ok {
		return s
	}
	return ""
}

// DataMap extracts the event payload as a map. JSON round-trips turn typed
// payloads into map[string]any, so consumers that survive serialization use
// this accessor.
func (e *StreamEvent) DataMap() (map[string]any, bool) {
	m, ok := e.Data.(map[string]any)
	return m, ok
}

// ProgressPayload is the payload for EventProgress events.
type ProgressPayload struct {
	Step    StepID     `json:"step"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// ToolCallPayload is the payload for EventToolCall events.
type ToolCallPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResultPayload is the payload for EventToolResult events.
type ToolResultPayload struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ImageGeneratedPayload is the payload for EventImageGenerated events.
type ImageGeneratedPayload struct {
	BookID   string `json:"book_id"`
	AssetID  string `json:"asset_id"`
	Kind     string `json:"kind"` // character, environment, scene
	ImageURL string `json:"image_url"`
	Strategy string `json:"strategy,omitempty"`
}

// ApprovalRequiredPayload is the payload for EventApprovalRequired events.
type ApprovalRequiredPayload struct {
	BookID     string       `json:"book_id"`
	Step       StepID       `json:"step"`
	ApprovalID string       `json:"approval_id"`
	Type       ApprovalType `json:"type"`
}
