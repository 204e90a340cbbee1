package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
)

// CompleteBookInput is the request for the completion operation. Completion
// is a terminal audit over the whole workflow, not a numbered step.
type CompleteBookInput struct {
	BookID      string `json:"book_id"`
	FinalReview bool   `json:"final_review"`
	Format      string `json:"format,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// CompleteBookResult is the completion audit's structured result.
type CompleteBookResult struct {
	Outcome
	AssetCounts         map[string]int `json:"asset_counts"`
	WorkflowComplete    bool           `json:"workflow_complete"`
	IsComplete          bool           `json:"is_complete"`
	ReadyForPublishing  bool           `json:"ready_for_publishing"`
	MissingRequirements []string       `json:"missing_requirements,omitempty"`
}

// CompleteBook audits everything created for the book and decides whether it
// is ready for publishing. isComplete requires a brief, at least one
// character, and at least one chapter; readyForPublishing additionally
// requires the final review flag.
func (s *Service) CompleteBook(ctx context.Context, in CompleteBookInput) *CompleteBookResult {
	if out, ok := s.authOutcome(); !ok {
		return &CompleteBookResult{Outcome: out}
	}
	if in.BookID == "" {
		return &CompleteBookResult{Outcome: failure("book ID is required")}
	}

	record, err := s.db.GetBookByID(in.BookID)
	if err != nil {
		return &CompleteBookResult{Outcome: failure("failed to load book: %v", err)}
	}
	if record == nil {
		return &CompleteBookResult{Outcome: failure("book %s not found", in.BookID)}
	}

	summary, err := s.db.GetBookSummary(in.BookID)
	if err != nil {
		return &CompleteBookResult{Outcome: failure("failed to summarize book: %v", err)}
	}

	briefFound := record.Plan != "" || s.briefInMemory(ctx, in.BookID)

	result := &CompleteBookResult{
		AssetCounts: map[string]int{
			"chapters":     summary.ChapterCount,
			"scenes":       summary.SceneCount,
			"characters":   summary.CharacterCount,
			"environments": summary.EnvironmentCnt,
			"props":        summary.PropCount,
			"renders":      summary.RenderCount,
		},
	}

	if !briefFound {
		result.MissingRequirements = append(result.MissingRequirements, "book brief")
	}
	if summary.CharacterCount < 1 {
		result.MissingRequirements = append(result.MissingRequirements, "at least one character")
	}
	if summary.ChapterCount < 1 {
		result.MissingRequirements = append(result.MissingRequirements, "at least one chapter")
	}
	result.IsComplete = len(result.MissingRequirements) == 0
	result.ReadyForPublishing = in.FinalReview && result.IsComplete

	if w, err := s.Workflow(in.BookID); err == nil {
		result.WorkflowComplete = w.IsComplete()
	}

	s.storeCompletionMemory(ctx, in, result)

	if result.ReadyForPublishing {
		if err := s.db.UpdateBookStatus(in.BookID, persistence.BookStatusCompleted); err != nil {
			s.logger.Warn("failed to mark book %s completed: %v", in.BookID, err)
		}
		s.emitEvent(proto.EventFinish, nil)
	}

	result.Outcome = Outcome{Success: true, NextStep: NextProceed}
	return result
}

func (s *Service) briefInMemory(ctx context.Context, bookID string) bool {
	records, err := s.memory.SearchMemories(ctx, s.userID, "book brief", 5)
	if err != nil {
		s.logger.Warn("brief search failed for book %s: %v", bookID, err)
		return false
	}
	for _, rec := range records {
		if rec.Metadata[memory.MetaBookID] == bookID && rec.Metadata[memory.MetaKind] == "brief" {
			return true
		}
	}
	return false
}

func (s *Service) storeCompletionMemory(ctx context.Context, in CompleteBookInput, result *CompleteBookResult) {
	summary := map[string]any{
		"book_id":              in.BookID,
		"format":               in.Format,
		"notes":                in.Notes,
		"asset_counts":         result.AssetCounts,
		"is_complete":          result.IsComplete,
		"ready_for_publishing": result.ReadyForPublishing,
	}
	content, err := json.Marshal(summary)
	if err != nil {
		s.logger.Warn("failed to serialize completion summary for %s: %v", in.BookID, err)
		return
	}
	_, err = s.memory.StoreContent(ctx, s.userID, string(content), memory.ContentTypeText, map[string]string{
		memory.MetaBookID: in.BookID,
		memory.MetaKind:   "completion",
	})
	if err != nil {
		s.logger.Warn("failed to store completion summary for %s: %v", in.BookID, err)
	}
}

// Summary returns the aggregated progress counts for a book, for the status
// surface.
func (s *Service) Summary(bookID string) (*persistence.BookSummary, error) {
	summary, err := s.db.GetBookSummary(bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize book %s: %w", bookID, err)
	}
	return summary, nil
}
