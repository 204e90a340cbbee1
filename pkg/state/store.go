// Package state persists workflow snapshots to disk so an interrupted book
// run can resume at the step it stopped on.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// Snapshot is the durable view of a book workflow at a point in time.
type Snapshot struct {
	SavedAt     time.Time                         `json:"saved_at"`
	BookID      string                            `json:"book_id"`
	PictureBook bool                              `json:"picture_book"`
	CurrentStep proto.StepID                      `json:"current_step"`
	Steps       map[proto.StepID]proto.StepStatus `json:"steps"`
	// PendingApproval holds the outstanding approval request, if any.
	PendingApproval *proto.ApprovalRequest `json:"pending_approval,omitempty"`
	// Data carries step outputs keyed by step name (plan text, chapter
	// drafts, manifest JSON).
	Data map[string]any `json:"data,omitempty"`
}

// Store manages snapshot files under a base directory, one file per book.
type Store struct {
	baseDir string
}

// NewStore creates a snapshot store rooted at baseDir, creating the directory
// if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save persists the snapshot for its book, replacing any previous snapshot.
func (s *Store) Save(snapshot *Snapshot) error {
	if snapshot.BookID == "" {
		return fmt.Errorf("snapshot book ID cannot be empty")
	}

	snapshot.SavedAt = time.Now().UTC()

	jsonData, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for book %s: %w", snapshot.BookID, err)
	}

	filename := s.snapshotFilename(snapshot.BookID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file for book %s: %w", snapshot.BookID, err)
	}
	// Rename so a crash mid-write never leaves a truncated snapshot.
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace snapshot file for book %s: %w", snapshot.BookID, err)
	}
	return nil
}

// Load retrieves the snapshot for the given book. A missing snapshot returns
// (nil, nil).
func (s *Store) Load(bookID string) (*Snapshot, error) {
	if bookID == "" {
		return nil, fmt.Errorf("book ID cannot be empty")
	}

	filename := s.snapshotFilename(bookID)
	fileData, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file for book %s: %w", bookID, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(fileData, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for book %s: %w", bookID, err)
	}
	return &snapshot, nil
}

// Delete removes the snapshot for the given book. Deleting a missing
// snapshot is not an error.
func (s *Store) Delete(bookID string) error {
	if bookID == "" {
		return fmt.Errorf("book ID cannot be empty")
	}
	err := os.Remove(s.snapshotFilename(bookID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file for book %s: %w", bookID, err)
	}
	return nil
}

// ListBooks returns the IDs of books that have persisted snapshots.
func (s *Store) ListBooks() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var bookIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "WORKFLOW_") && strings.HasSuffix(name, ".json") {
			bookIDs = append(bookIDs, strings.TrimSuffix(strings.TrimPrefix(name, "WORKFLOW_"), ".json"))
		}
	}
	return bookIDs, nil
}

func (s *Store) snapshotFilename(bookID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("WORKFLOW_%s.json", bookID))
}
