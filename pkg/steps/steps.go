// Package steps implements the handlers for the book creation workflow: plan,
// draft chapter, segment scenes, create characters, create environments, scene
// manifest, render scene, and book completion. Handlers never return a Go
// error to the caller; every failure is folded into the result's Outcome so
// the workflow surface always gets a structured answer.
package steps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/imagegen"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/state"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/tasks"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/workflow"
)

// maxBatchSize caps character and environment creation batches.
const maxBatchSize = 3

// Storage is the slice of the relational store the step handlers use.
// *persistence.DatabaseOperations satisfies it.
type Storage interface {
	UpsertBook(book *persistence.Book) error
	GetBookByID(bookID string) (*persistence.Book, error)
	UpdateBookStatus(bookID, status string) error
	UpsertChapter(chapter *persistence.Chapter) error
	GetChaptersByBook(bookID string) ([]*persistence.Chapter, error)
	ReplaceScenes(bookID string, chapterNumber int, scenes []*persistence.Scene) error
	GetScenesByChapter(bookID string, chapterNumber int) ([]*persistence.Scene, error)
	GetSceneByID(bookID, sceneID string) (*persistence.Scene, error)
	UpsertAsset(asset *persistence.Asset) error
	GetAssetByKey(bookID, kind, name string) (*persistence.Asset, error)
	GetAssets(filter *persistence.AssetFilter) ([]*persistence.Asset, error)
	FindAssetAcrossBooks(excludeBookID, kind, name string) (*persistence.Asset, error)
	UpsertRender(render *persistence.Render) error
	GetLatestRenderForScene(bookID, sceneID string) (*persistence.Render, error)
	GetBookSummary(bookID string) (*persistence.BookSummary, error)
	RecordApproval(record *persistence.ApprovalRecord) error
	GetApprovalsByBook(bookID string) ([]*persistence.ApprovalRecord, error)
}

// Deps wires a step handler Service. Storage, Memory, and Images are
// required; the rest degrade gracefully when absent.
type Deps struct {
	// UserID scopes memory records. An empty user ID makes every handler
	// return an authentication failure, mirroring a missing session.
	UserID string

	Storage Storage
	Memory  memory.Service
	Images  imagegen.Generator

	// Planner writes the book brief; Drafter segments chapters into scenes.
	// A nil client falls back to deterministic composition.
	Planner llm.LLMClient
	Drafter llm.LLMClient

	// StateStore persists workflow snapshots so runs survive restarts.
	StateStore *state.Store

	// Queue receives fire-and-forget persistence work. Nil runs it inline.
	Queue *tasks.Queue

	// Emit receives every event the handlers produce. Nil discards them.
	Emit func(event proto.StreamEvent)

	Recorder     metrics.Recorder
	SkipApproval bool
}

// Service hosts the step handlers and the per-book workflow registry.
type Service struct {
	userID   string
	db       Storage
	memory   memory.Service
	images   imagegen.Generator
	planner  llm.LLMClient
	drafter  llm.LLMClient
	store    *state.Store
	queue    *tasks.Queue
	emit     func(event proto.StreamEvent)
	recorder metrics.Recorder
	logger   *logx.Logger

	skipApproval bool

	mu        sync.Mutex
	workflows map[string]*workflow.BookWorkflow
}

// NewService creates the step handler service.
func NewService(deps Deps) (*Service, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("memory service is required")
	}
	if deps.Images == nil {
		return nil, fmt.Errorf("image generator is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NopRecorder{}
	}

	return &Service{
		userID:       deps.UserID,
		db:           deps.Storage,
		memory:       deps.Memory,
		images:       deps.Images,
		planner:      deps.Planner,
		drafter:      deps.Drafter,
		store:        deps.StateStore,
		queue:        deps.Queue,
		emit:         deps.Emit,
		recorder:     deps.Recorder,
		logger:       logx.NewLogger("steps"),
		skipApproval: deps.SkipApproval,
		workflows:    make(map[string]*workflow.BookWorkflow),
	}, nil
}

// Outcome is the common tail of every handler result. Handlers never raise;
// a failed run comes back as Success=false with the reason in Error.
type Outcome struct {
	Success          bool                   `json:"success"`
	Error            string                 `json:"error,omitempty"`
	ApprovalRequired bool                   `json:"approval_required"`
	Approval         *proto.ApprovalRequest `json:"approval,omitempty"`
	NextStep         string                 `json:"next_step,omitempty"`
}

// Failed reports whether the outcome carries a handler failure. Per-item
// errors inside a successful batch do not count.
func (o Outcome) Failed() bool {
	return !o.Success
}

// Next step markers returned to the caller.
const (
	NextProceed          = "proceed"
	NextApprovalRequired = "approval_required"
)

func failure(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

func (s *Service) authOutcome() (Outcome, bool) {
	if s.userID == "" {
		return failure("no authenticated user"), false
	}
	return Outcome{}, true
}

// gateOutcome translates a workflow completion into the caller-facing
// approval fields.
func gateOutcome(req *proto.ApprovalRequest) Outcome {
	out := Outcome{Success: true}
	if req != nil {
		out.ApprovalRequired = true
		out.Approval = req
		out.NextStep = NextApprovalRequired
	} else {
		out.NextStep = NextProceed
	}
	return out
}

// Workflow returns the workflow for a book, resuming it from the snapshot
// store if it is not already loaded.
func (s *Service) Workflow(bookID string) (*workflow.BookWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflowLocked(bookID)
}

func (s *Service) workflowLocked(bookID string) (*workflow.BookWorkflow, error) {
	if w, ok := s.workflows[bookID]; ok {
		return w, nil
	}
	if s.store == nil {
		return nil, fmt.Errorf("no workflow for book %s", bookID)
	}
	w, err := workflow.Resume(s.store, bookID, s.workflowOptions()...)
	if err != nil {
		return nil, err
	}
	s.workflows[bookID] = w
	return w, nil
}

func (s *Service) registerWorkflow(w *workflow.BookWorkflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.BookID()] = w
}

func (s *Service) workflowOptions() []workflow.Option {
	opts := []workflow.Option{
		workflow.WithRecorder(s.recorder),
		workflow.WithSkipApproval(s.skipApproval),
	}
	if s.store != nil {
		opts = append(opts, workflow.WithStore(s.store))
	}
	return opts
}

// Approve resolves the pending approval gate for a step.
func (s *Service) Approve(bookID string, step proto.StepID) error {
	w, err := s.Workflow(bookID)
	if err != nil {
		return err
	}
	pending := w.PendingApproval()
	if err := w.Approve(step); err != nil {
		return err
	}
	s.recordApprovalDecision(pending, proto.ApprovalStatusApproved, "")
	s.emitProgress(step, proto.StepApproved, "")
	return nil
}

// Reject resolves the pending approval gate as rejected; the step may be
// re-run with the recorded feedback.
func (s *Service) Reject(bookID string, step proto.StepID, feedback string) error {
	w, err := s.Workflow(bookID)
	if err != nil {
		return err
	}
	pending := w.PendingApproval()
	if err := w.Reject(step, feedback); err != nil {
		return err
	}
	s.recordApprovalDecision(pending, proto.ApprovalStatusRejected, feedback)
	s.emitProgress(step, proto.StepRejected, feedback)
	return nil
}

// recordApprovalRequested writes the audit row for a newly opened gate.
func (s *Service) recordApprovalRequested(req *proto.ApprovalRequest) {
	record := &persistence.ApprovalRecord{
		RequestedAt:  req.RequestedAt,
		ID:           req.ID,
		BookID:       req.BookID,
		ApprovalType: string(req.Type),
		Status:       string(proto.ApprovalStatusPending),
		Content:      req.Content,
		Step:         int(req.Step),
	}
	if err := s.db.RecordApproval(record); err != nil {
		s.logger.Warn("failed to record approval %s: %v", req.ID, err)
	}
}

// recordApprovalDecision closes the audit row with the reviewer's decision.
func (s *Service) recordApprovalDecision(req *proto.ApprovalRequest, status proto.ApprovalStatus, feedback string) {
	if req == nil {
		return
	}
	now := time.Now().UTC()
	record := &persistence.ApprovalRecord{
		RequestedAt:  req.RequestedAt,
		ReviewedAt:   &now,
		ID:           req.ID,
		BookID:       req.BookID,
		ApprovalType: string(req.Type),
		Status:       string(status),
		Content:      req.Content,
		Feedback:     feedback,
		Step:         int(req.Step),
	}
	if err := s.db.RecordApproval(record); err != nil {
		s.logger.Warn("failed to record approval decision %s: %v", req.ID, err)
	}
}

// beginStep positions the workflow on a step, tolerating an already running
// step so multi-batch handlers can keep adding work.
func (s *Service) beginStep(w *workflow.BookWorkflow, step proto.StepID) error {
	if w.Status(step) == proto.StepInProgress {
		return nil
	}
	if err := w.StartStep(step); err != nil {
		return err
	}
	s.emitProgress(step, proto.StepInProgress, "")
	return nil
}

// finishStep completes a step through the approval gate and reports the
// resulting outcome. When moreComing the step stays in progress.
func (s *Service) finishStep(w *workflow.BookWorkflow, step proto.StepID, content string, moreComing bool) Outcome {
	if moreComing {
		return Outcome{Success: true, NextStep: NextProceed}
	}
	req, err := w.CompleteStep(step, content)
	if err != nil {
		return failure("failed to complete step %s: %v", step, err)
	}
	if req != nil {
		s.recordApprovalRequested(req)
		s.emitProgress(step, proto.StepPendingApproval, "")
		s.emitEvent(proto.EventApprovalRequired, proto.ApprovalRequiredPayload{
			BookID:     w.BookID(),
			Step:       step,
			ApprovalID: req.ID,
			Type:       req.Type,
		})
	} else {
		s.emitProgress(step, proto.StepApproved, "")
	}
	return gateOutcome(req)
}

// abortStep returns a running step to pending after a handler failure.
func (s *Service) abortStep(w *workflow.BookWorkflow, step proto.StepID) {
	if err := w.FailStep(step); err != nil {
		s.logger.Warn("book %s: failed to reset step %s: %v", w.BookID(), step, err)
	}
	s.emitProgress(step, proto.StepPending, "step failed")
}

func (s *Service) emitEvent(eventType proto.EventType, data any) {
	if s.emit == nil {
		return
	}
	s.emit(proto.NewStreamEvent(eventType, data))
}

func (s *Service) emitProgress(step proto.StepID, status proto.StepStatus, message string) {
	s.emitEvent(proto.EventProgress, proto.ProgressPayload{
		Step:    step,
		Status:  status,
		Message: message,
	})
}

// persistInBackground hands secondary persistence to the task queue. Without
// a queue the work runs inline so nothing is silently dropped.
func (s *Service) persistInBackground(bookID, operation, payload string, run func() error) {
	if s.queue == nil {
		if err := run(); err != nil {
			s.logger.Warn("%s failed inline for book %s: %v", operation, bookID, err)
		}
		return
	}
	err := s.queue.Submit(&tasks.Task{
		BookID:    bookID,
		Operation: operation,
		Payload:   payload,
		Run:       func(context.Context) error { return run() },
	})
	if err != nil {
		s.logger.Warn("%s rejected by task queue for book %s: %v", operation, bookID, err)
	}
}
