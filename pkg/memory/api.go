// Package memory provides the client for the external memory service used to
// store and retrieve book context: plans, character descriptions, and scene
// notes that survive across steps and across books.
package memory

import (
	"context"
	"time"
)

// Memory is one stored record returned from a search.
type Memory struct {
	CreatedAt   time.Time         `json:"created_at"`
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float64           `json:"score,omitempty"`
}

// Update describes a partial memory update. Zero-value fields are left
// unchanged; non-nil Metadata replaces the stored metadata wholesale.
type Update struct {
	Content  string
	Metadata map[string]string
}

// Service is the memory service interface step handlers depend on. The
// workflow treats every call as best-effort: a failed memory call degrades
// the run, it never aborts it.
type Service interface {
	// SearchMemories returns up to maxResults records relevant to the query,
	// scoped to the given user.
	SearchMemories(ctx context.Context, userID, query string, maxResults int) ([]Memory, error)

	// StoreContent saves content for a user and returns the new memory ID.
	StoreContent(ctx context.Context, userID, content, contentType string, metadata map[string]string) (string, error)

	// UpdateMemory applies a partial update to an existing memory.
	UpdateMemory(ctx context.Context, memoryID string, update Update) error
}

// Content types stored by the workflow.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// Standard metadata keys used across the workflow.
const (
	MetaBookID    = "book_id"
	MetaKind      = "kind"
	MetaAssetName = "asset_name"
	MetaChapter   = "chapter"
)
