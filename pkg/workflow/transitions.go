// Package workflow implements the approval-gated book creation state machine:
// an explicit per-step status transition table with guard conditions, backed
// by durable snapshots.
package workflow

import (
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// StatusTransitions is the canonical transition map for a single step's
// status. Any status change not listed here is rejected.
var StatusTransitions = map[proto.StepStatus][]proto.StepStatus{
	// A pending step can start, or be skipped when it does not apply to the
	// book type.
	proto.StepPending: {proto.StepInProgress, proto.StepSkipped},

	// A running step finishes into the approval gate, or directly to approved
	// when the workflow is configured to skip approvals, or back to pending
	// when the handler fails.
	proto.StepInProgress: {proto.StepPendingApproval, proto.StepApproved, proto.StepPending},

	// The approval gate resolves to approved or rejected.
	proto.StepPendingApproval: {proto.StepApproved, proto.StepRejected},

	// A rejected step may be re-run.
	proto.StepRejected: {proto.StepInProgress},

	// Approved and skipped are terminal.
	proto.StepApproved: {},
	proto.StepSkipped:  {},
}

// IsValidStatusTransition checks a single-step status change against the
// canonical transition map.
func IsValidStatusTransition(from, to proto.StepStatus) bool {
	allowed, exists := StatusTransitions[from]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}

// approvalTypeForStep maps each step to the kind of approval it requests.
func approvalTypeForStep(step proto.StepID) proto.ApprovalType {
	switch step {
	case proto.StepPlan:
		return proto.ApprovalTypePlan
	case proto.StepDraftChapter:
		return proto.ApprovalTypeChapter
	case proto.StepSegmentScenes:
		return proto.ApprovalTypeScenes
	case proto.StepCreateCharacters:
		return proto.ApprovalTypeCharacters
	case proto.StepCreateEnvironments:
		return proto.ApprovalTypeEnvironments
	case proto.StepSceneManifest:
		return proto.ApprovalTypeManifest
	case proto.StepRenderScene:
		return proto.ApprovalTypeRender
	default:
		return proto.ApprovalTypeCompletion
	}
}
