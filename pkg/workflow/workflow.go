package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/state"
)

// BookWorkflow is the state machine for one book's creation run. All mutation
// goes through guarded transitions; callers cannot set statuses directly, and
// out-of-order step starts are rejected rather than trusted.
type BookWorkflow struct {
	mu              sync.Mutex
	bookID          string
	pictureBook     bool
	currentStep     proto.StepID
	steps           map[proto.StepID]proto.StepStatus
	pendingApproval *proto.ApprovalRequest
	data            map[string]any

	store        *state.Store
	recorder     metrics.Recorder
	logger       *logx.Logger
	skipApproval bool
}

// Option configures a BookWorkflow.
type Option func(*BookWorkflow)

// WithStore persists every transition to the given snapshot store.
func WithStore(store *state.Store) Option {
	return func(w *BookWorkflow) { w.store = store }
}

// WithRecorder records step transitions through the given metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(w *BookWorkflow) { w.recorder = recorder }
}

// WithSkipApproval makes completed steps approve immediately instead of
// stopping at the approval gate.
func WithSkipApproval(skip bool) Option {
	return func(w *BookWorkflow) { w.skipApproval = skip }
}

// New creates a workflow for a new book. For non-picture books the
// picture-book-only steps are skipped up front.
func New(bookID string, pictureBook bool, opts ...Option) (*BookWorkflow, error) {
	if bookID == "" {
		return nil, fmt.Errorf("book ID cannot be empty")
	}

	w := &BookWorkflow{
		bookID:      bookID,
		pictureBook: pictureBook,
		currentStep: proto.StepPlan,
		steps:       make(map[proto.StepID]proto.StepStatus, proto.StepCount),
		data:        make(map[string]any),
		recorder:    metrics.NopRecorder{},
		logger:      logx.NewLogger("workflow"),
	}
	for _, step := range proto.AllSteps() {
		if step.PictureBookOnly() && !pictureBook {
			w.steps[step] = proto.StepSkipped
		} else {
			w.steps[step] = proto.StepPending
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.save(); err != nil {
		return nil, err
	}
	return w, nil
}

// Resume restores a workflow from its persisted snapshot.
func Resume(store *state.Store, bookID string, opts ...Option) (*BookWorkflow, error) {
	snapshot, err := store.Load(bookID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("no snapshot for book %s", bookID)
	}

	w := &BookWorkflow{
		bookID:          snapshot.BookID,
		pictureBook:     snapshot.PictureBook,
		currentStep:     snapshot.CurrentStep,
		steps:           snapshot.Steps,
		pendingApproval: snapshot.PendingApproval,
		data:            snapshot.Data,
		store:           store,
		recorder:        metrics.NopRecorder{},
		logger:          logx.NewLogger("workflow"),
	}
	if w.steps == nil {
		w.steps = make(map[proto.StepID]proto.StepStatus, proto.StepCount)
	}
	if w.data == nil {
		w.data = make(map[string]any)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// BookID returns the workflow's book ID.
func (w *BookWorkflow) BookID() string {
	return w.bookID
}

// IsPictureBook reports whether this workflow runs the illustration steps.
func (w *BookWorkflow) IsPictureBook() bool {
	return w.pictureBook
}

// CurrentStep returns the step the workflow is positioned on.
func (w *BookWorkflow) CurrentStep() proto.StepID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentStep
}

// Status returns the status of one step.
func (w *BookWorkflow) Status(step proto.StepID) proto.StepStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.steps[step]
}

// PendingApproval returns a copy of the outstanding approval request, or nil.
func (w *BookWorkflow) PendingApproval() *proto.ApprovalRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingApproval == nil {
		return nil
	}
	req := *w.pendingApproval
	return &req
}

// StartStep begins executing a step. Guards: the step must apply to this book
// type, every earlier step must be terminal, and the step itself must be
// pending or rejected.
func (w *BookWorkflow) StartStep(step proto.StepID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.steps[step]; !ok {
		return fmt.Errorf("unknown step %d", int(step))
	}
	if step.PictureBookOnly() && !w.pictureBook {
		return fmt.Errorf("step %s does not apply to non-picture books", step)
	}
	if w.pendingApproval != nil {
		return fmt.Errorf("step %s is awaiting approval, resolve it before starting %s",
			w.pendingApproval.Step, step)
	}
	for _, earlier := range proto.AllSteps() {
		if earlier >= step {
			break
		}
		if !w.steps[earlier].Terminal() {
			return fmt.Errorf("cannot start %s: step %s is %s, not approved",
				step, earlier, w.steps[earlier])
		}
	}

	if err := w.setStatusLocked(step, proto.StepInProgress); err != nil {
		return err
	}
	w.currentStep = step
	return w.save()
}

// CompleteStep records a step's output and moves it into the approval gate.
// When approvals are skipped the step approves immediately and the returned
// request is nil.
func (w *BookWorkflow) CompleteStep(step proto.StepID, content string) (*proto.ApprovalRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.steps[step] != proto.StepInProgress {
		return nil, fmt.Errorf("cannot complete %s: status is %s", step, w.steps[step])
	}

	if w.skipApproval {
		if err := w.setStatusLocked(step, proto.StepApproved); err != nil {
			return nil, err
		}
		w.advanceLocked()
		return nil, w.save()
	}

	if err := w.setStatusLocked(step, proto.StepPendingApproval); err != nil {
		return nil, err
	}
	req := &proto.ApprovalRequest{
		RequestedAt: time.Now().UTC(),
		ID:          proto.GenerateApprovalID(),
		BookID:      w.bookID,
		Step:        step,
		Type:        approvalTypeForStep(step),
		Content:     content,
	}
	w.pendingApproval = req
	if err := w.save(); err != nil {
		return nil, err
	}
	result := *req
	return &result, nil
}

// FailStep returns a running step to pending so it can be retried.
func (w *BookWorkflow) FailStep(step proto.StepID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.steps[step] != proto.StepInProgress {
		return fmt.Errorf("cannot fail %s: status is %s", step, w.steps[step])
	}
	if err := w.setStatusLocked(step, proto.StepPending); err != nil {
		return err
	}
	return w.save()
}

// Approve resolves the outstanding approval for the given step and advances
// the workflow.
func (w *BookWorkflow) Approve(step proto.StepID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkGateLocked(step); err != nil {
		return err
	}
	if err := w.setStatusLocked(step, proto.StepApproved); err != nil {
		return err
	}
	w.pendingApproval = nil
	w.advanceLocked()
	return w.save()
}

// Reject resolves the outstanding approval as rejected; the step may be
// re-run with StartStep.
func (w *BookWorkflow) Reject(step proto.StepID, feedback string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkGateLocked(step); err != nil {
		return err
	}
	if err := w.setStatusLocked(step, proto.StepRejected); err != nil {
		return err
	}
	w.pendingApproval = nil
	if feedback != "" {
		w.data[fmt.Sprintf("%s_feedback", step)] = feedback
	}
	return w.save()
}

func (w *BookWorkflow) checkGateLocked(step proto.StepID) error {
	if w.steps[step] != proto.StepPendingApproval {
		return fmt.Errorf("step %s is not awaiting approval (status %s)", step, w.steps[step])
	}
	if w.pendingApproval == nil || w.pendingApproval.Step != step {
		return fmt.Errorf("no outstanding approval request for step %s", step)
	}
	return nil
}

// IsComplete reports whether every step is terminal.
func (w *BookWorkflow) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, status := range w.steps {
		if !status.Terminal() {
			return false
		}
	}
	return true
}

// SetData stores a step output under a key.
func (w *BookWorkflow) SetData(key string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[key] = value
	return w.save()
}

// Data returns a stored step output.
func (w *BookWorkflow) Data(key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.data[key]
	return v, ok
}

// Snapshot returns the durable view of the workflow.
func (w *BookWorkflow) Snapshot() *state.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *BookWorkflow) snapshotLocked() *state.Snapshot {
	steps := make(map[proto.StepID]proto.StepStatus, len(w.steps))
	for k, v := range w.steps {
		steps[k] = v
	}
	data := make(map[string]any, len(w.data))
	for k, v := range w.data {
		data[k] = v
	}
	var pending *proto.ApprovalRequest
	if w.pendingApproval != nil {
		req := *w.pendingApproval
		pending = &req
	}
	return &state.Snapshot{
		BookID:          w.bookID,
		PictureBook:     w.pictureBook,
		CurrentStep:     w.currentStep,
		Steps:           steps,
		PendingApproval: pending,
		Data:            data,
	}
}

func (w *BookWorkflow) setStatusLocked(step proto.StepID, to proto.StepStatus) error {
	from := w.steps[step]
	if !IsValidStatusTransition(from, to) {
		return fmt.Errorf("invalid transition for step %s: %s -> %s", step, from, to)
	}
	w.steps[step] = to
	w.recorder.IncStepTransition(step.String(), string(to))
	w.logger.Debug("book %s: step %s %s -> %s", w.bookID, step, from, to)
	return nil
}

// advanceLocked positions currentStep on the first non-terminal step, or
// leaves it past the end when all steps are done.
func (w *BookWorkflow) advanceLocked() {
	for _, step := range proto.AllSteps() {
		if !w.steps[step].Terminal() {
			w.currentStep = step
			return
		}
	}
	w.currentStep = proto.StepID(proto.StepCount + 1)
}

func (w *BookWorkflow) save() error {
	if w.store == nil {
		return nil
	}
	if err := w.store.Save(w.snapshotLocked()); err != nil {
		return fmt.Errorf("failed to persist workflow state: %w", err)
	}
	return nil
}
