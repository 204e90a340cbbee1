package proto

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ApprovalStatus represents the outcome of an approval request.
type ApprovalStatus string

const (
	// ApprovalStatusApproved indicates the request was approved.
	ApprovalStatusApproved ApprovalStatus = "APPROVED"

	// ApprovalStatusRejected indicates the request was rejected.
	ApprovalStatusRejected ApprovalStatus = "REJECTED"

	// ApprovalStatusNeedsChanges indicates the request needs changes.
	ApprovalStatusNeedsChanges ApprovalStatus = "NEEDS_CHANGES"

	// ApprovalStatusPending indicates the request is awaiting review.
	ApprovalStatusPending ApprovalStatus = "PENDING"
)

// ApprovalType represents what kind of output is being approved.
type ApprovalType string

const (
	ApprovalTypePlan         ApprovalType = "plan"
	ApprovalTypeChapter      ApprovalType = "chapter"
	ApprovalTypeScenes       ApprovalType = "scenes"
	ApprovalTypeCharacters   ApprovalType = "characters"
	ApprovalTypeEnvironments ApprovalType = "environments"
	ApprovalTypeManifest     ApprovalType = "manifest"
	ApprovalTypeRender       ApprovalType = "render"
	ApprovalTypeCompletion   ApprovalType = "completion"
)

// String returns the string representation of the approval type.
func (a ApprovalType) String() string {
	return string(a)
}

// ParseApprovalType normalizes and validates approval type strings.
func ParseApprovalType(s string) (ApprovalType, error) {
	switch ApprovalType(strings.ToLower(strings.TrimSpace(s))) {
	case ApprovalTypePlan:
		return ApprovalTypePlan, nil
	case ApprovalTypeChapter:
		return ApprovalTypeChapter, nil
	case ApprovalTypeScenes:
		return ApprovalTypeScenes, nil
	case ApprovalTypeCharacters:
		return ApprovalTypeCharacters, nil
	case ApprovalTypeEnvironments:
		return ApprovalTypeEnvironments, nil
	case ApprovalTypeManifest:
		return ApprovalTypeManifest, nil
	case ApprovalTypeRender:
		return ApprovalTypeRender, nil
	case ApprovalTypeCompletion:
		return ApprovalTypeCompletion, nil
	default:
		return "", fmt.Errorf("invalid approval type: %q", s)
	}
}

// ApprovalRequest represents a pending request for user approval of a step's
// output.
type ApprovalRequest struct {
	RequestedAt time.Time    `json:"requested_at"`
	ID          string       `json:"id"`
	BookID      string       `json:"book_id"`
	Step        StepID       `json:"step"`
	Type        ApprovalType `json:"type"`
	Content     string       `json:"content"`
	Reason      string       `json:"reason,omitempty"`
}

// ApprovalResult represents the user's decision on an approval request.
type ApprovalResult struct {
	ReviewedAt time.Time      `json:"reviewed_at"`
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	Type       ApprovalType   `json:"type"`
	Status     ApprovalStatus `json:"status"`
	Feedback   string         `json:"feedback,omitempty"`
}

// IsApproved reports whether the result is an approval.
func (r *ApprovalResult) IsApproved() bool {
	return r.Status == ApprovalStatusApproved
}

//nolint:gochecknoglobals // Process-local uniqueness counter for IDs
var (
	idMutex   sync.Mutex
	idCounter int64
)

func generateUniqueCounter() int64 {
	idMutex.Lock()
	defer idMutex.Unlock()
	idCounter++
	return idCounter
}

// GenerateApprovalID creates a unique ID for an approval request.
func GenerateApprovalID() string {
	return fmt.Sprintf("a_%d_%d", time.Now().UnixNano(), generateUniqueCounter())
}

// GenerateEventID creates a unique ID for a stream event.
func GenerateEventID() string {
	return fmt.Sprintf("e_%d_%d", time.Now().UnixNano(), generateUniqueCounter())
}
