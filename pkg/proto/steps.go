// Package proto defines the shared protocol types for the book creation
// workflow: step identities and statuses, approval types, and the stream
// event union consumed by the dispatcher.
package proto

import "fmt"

// StepID identifies a workflow step. Steps execute in ascending order.
type StepID int

const (
	StepPlan StepID = iota + 1
	StepDraftChapter
	StepSegmentScenes
	StepCreateCharacters
	StepCreateEnvironments
	StepSceneManifest
	StepRenderScene

	// StepCount is the number of numbered workflow steps. Book completion is
	// a terminal operation over the whole workflow, not a numbered step.
	StepCount = int(StepRenderScene)
)

// String returns the canonical step name.
func (s StepID) String() string {
	switch s {
	case StepPlan:
		return "plan"
	case StepDraftChapter:
		return "draft_chapter"
	case StepSegmentScenes:
		return "segment_scenes"
	case StepCreateCharacters:
		return "create_characters"
	case StepCreateEnvironments:
		return "create_environments"
	case StepSceneManifest:
		return "scene_manifest"
	case StepRenderScene:
		return "render_scene"
	default:
		return fmt.Sprintf("step_%d", int(s))
	}
}

// DisplayName returns the human-readable step name used in progress events.
func (s StepID) DisplayName() string {
	switch s {
	case StepPlan:
		return "Plan Book"
	case StepDraftChapter:
		return "Draft Chapter"
	case StepSegmentScenes:
		return "Segment Scenes"
	case StepCreateCharacters:
		return "Create Characters"
	case StepCreateEnvironments:
		return "Create Environments"
	case StepSceneManifest:
		return "Scene Manifest"
	case StepRenderScene:
		return "Render Scene"
	default:
		return s.String()
	}
}

// PictureBookOnly reports whether the step applies only to picture books.
// Non-picture books go straight from chapter drafting to completion.
func (s StepID) PictureBookOnly() bool {
	switch s {
	case StepSegmentScenes, StepCreateCharacters, StepCreateEnvironments,
		StepSceneManifest, StepRenderScene:
		return true
	default:
		return false
	}
}

// AllSteps returns the numbered steps in execution order.
func AllSteps() []StepID {
	steps := make([]StepID, 0, StepCount)
	for i := 1; i <= StepCount; i++ {
		steps = append(steps, StepID(i))
	}
	return steps
}

// StepStatus represents the lifecycle state of a workflow step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"

	// StepInProgress indicates a handler is producing output for the step.
	StepInProgress StepStatus = "in_progress"

	// StepPendingApproval indicates the handler finished and the step is
	// waiting for an explicit user decision.
	StepPendingApproval StepStatus = "pending_approval"

	// StepApproved indicates the user approved the step's output.
	StepApproved StepStatus = "approved"

	// StepRejected indicates the user rejected the step's output; the step
	// may be re-run.
	StepRejected StepStatus = "rejected"

	// StepSkipped indicates the step does not apply to this book.
	StepSkipped StepStatus = "skipped"
)

// Terminal reports whether the status permits the next step to start.
func (s StepStatus) Terminal() bool {
	return s == StepApproved || s == StepSkipped
}

// ValidStepStatuses returns all valid step statuses.
func ValidStepStatuses() []StepStatus {
	return []StepStatus{
		StepPending,
		StepInProgress,
		StepPendingApproval,
		StepApproved,
		StepRejected,
		StepSkipped,
	}
}

// ParseStepStatus validates and returns a step status.
func ParseStepStatus(s string) (StepStatus, error) {
	for _, status := range ValidStepStatuses() {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid step status: %q", s)
}
