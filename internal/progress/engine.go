// Package progress implements the step-advance state machine for sessions.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/webhook"
)

// ErrSessionEnded is returned for submissions against a completed or
// abandoned session.
var ErrSessionEnded = errors.New("progress: session already ended")

// ErrInvalidStep is returned for a step number outside [1, total_steps].
var ErrInvalidStep = errors.New("progress: step number out of range")

// Engine applies progress submissions to sessions. All mutation happens
// under a per-session row lock; webhooks fire after commit so delivery
// never holds the lock or fails the submission.
type Engine struct {
	db     *storage.DB
	hooks  *webhook.Dispatcher
	logger *slog.Logger
}

// NewEngine creates a progress engine.
func NewEngine(db *storage.DB, hooks *webhook.Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{db: db, hooks: hooks, logger: logger}
}

// decision is the pure outcome of one submission against a session's
// current position. No I/O, fully determined by its inputs.
type decision struct {
	advance  bool // session moves to newStep
	complete bool // advance crossed past the last step
	newStep  int  // position after the submission
}

// decide applies the advance rule: a submission advances the session only
// when the step is reported DONE and is at or ahead of the current
// position. A DONE report behind the current position, or any ONGOING
// report, is recorded but does not move the session (stale deliveries
// must not rewind progress). An advance lands on requested+1; landing past
// total_steps completes the session.
//
// Preconditions (checked by the caller): session is active and requested
// is within [1, totalSteps].
func decide(currentStep, totalSteps, requested int, status model.StepStatus) decision {
	if status != model.StepStatusDone || requested < currentStep {
		return decision{newStep: currentStep}
	}
	next := requested + 1
	return decision{
		advance:  true,
		complete: next > totalSteps,
		newStep:  next,
	}
}

// SubmitProgress processes one progress submission for the session.
//
// The session row is locked for the duration of the transaction, so
// concurrent submissions for the same session serialize; the audit event
// and the session mutation commit atomically. Errors surfaced:
// storage.ErrSessionNotFound, ErrSessionEnded, ErrInvalidStep,
// storage.ErrDuplicateProgress.
func (e *Engine) SubmitProgress(ctx context.Context, sessionID string, upd model.ProgressUpdate) (model.ProgressResult, error) {
	tx, sess, err := e.db.LockSession(ctx, sessionID)
	if err != nil {
		return model.ProgressResult{}, err
	}
	defer tx.Rollback(ctx)

	manual, err := e.db.GetManualByID(ctx, sess.ManualID)
	if err != nil {
		return model.ProgressResult{}, err
	}

	if sess.Status.Terminal() {
		return model.ProgressResult{}, fmt.Errorf("%w: session %s is %s", ErrSessionEnded, sessionID, sess.Status)
	}
	if upd.Step < 1 || upd.Step > manual.TotalSteps {
		return model.ProgressResult{}, fmt.Errorf("%w: step %d, manual has %d steps", ErrInvalidStep, upd.Step, manual.TotalSteps)
	}

	if upd.IdempotencyKey != "" {
		seen, err := tx.HasProgressEvent(ctx, sess.ID, upd.IdempotencyKey)
		if err != nil {
			return model.ProgressResult{}, err
		}
		if seen {
			return model.ProgressResult{}, storage.ErrDuplicateProgress
		}
	}

	d := decide(sess.CurrentStep, manual.TotalSteps, upd.Step, upd.StepStatus)

	ev := model.ProgressEvent{
		SessionID:    sess.ID,
		StepNumber:   upd.Step,
		StepStatus:   upd.StepStatus,
		PreviousStep: sess.CurrentStep,
		Processed:    d.advance,
	}
	if upd.IdempotencyKey != "" {
		ev.IdempotencyKey = &upd.IdempotencyKey
	}
	// A concurrent submission may have inserted the same key between our
	// existence check and here; the unique index converts that race into
	// ErrDuplicateProgress.
	if err := tx.InsertProgressEvent(ctx, ev); err != nil {
		return model.ProgressResult{}, err
	}

	previousStep := sess.CurrentStep
	now := time.Now().UTC()
	sess.LastActivityAt = now
	if d.advance {
		sess.CurrentStep = d.newStep
		sess.Version++
	}
	if d.complete {
		sess.Status = model.SessionStatusCompleted
		sess.EndedAt = &now
	}
	if err := tx.UpdateSessionProgress(ctx, sess); err != nil {
		return model.ProgressResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.ProgressResult{}, err
	}

	view := model.SessionView{
		Session:          sess,
		ManualExternalID: manual.ManualID,
		TotalSteps:       manual.TotalSteps,
	}

	// Notifications go out after commit. Failures queue for retry and are
	// invisible to the caller beyond the feedback_sent flag.
	feedbackSent := e.hooks.ProgressUpdate(ctx, view, previousStep, upd.StepStatus)
	if d.complete {
		e.hooks.SessionEnded(ctx, view)
	}

	result := model.ProgressResult{
		SessionID:    sess.SessionID,
		UserID:       sess.UserID,
		PreviousStep: previousStep,
		CurrentStep:  sess.CurrentStep,
		TotalSteps:   manual.TotalSteps,
		Status:       sess.Status,
		FeedbackSent: feedbackSent,
	}
	switch {
	case d.complete:
		result.Message = "all steps completed, session ended"
	case d.advance:
		result.Message = fmt.Sprintf("advanced to step %d", sess.CurrentStep)
		result.NextStep = e.stepInfo(manual, sess.CurrentStep)
	default:
		result.Message = fmt.Sprintf("update for step %d recorded, session remains at step %d", upd.Step, sess.CurrentStep)
		result.NextStep = e.stepInfo(manual, sess.CurrentStep)
	}
	return result, nil
}

// NextStep returns the content of the step the session should do next,
// without mutating anything.
func (e *Engine) NextStep(ctx context.Context, sessionID string) (model.NextStepResult, error) {
	view, err := e.db.GetSessionView(ctx, sessionID)
	if err != nil {
		return model.NextStepResult{}, err
	}

	result := model.NextStepResult{
		SessionID:   view.SessionID,
		CurrentStep: view.CurrentStep,
		TotalSteps:  view.TotalSteps,
	}
	if view.Status.Terminal() || view.CurrentStep > view.TotalSteps {
		result.IsCompleted = true
		result.Message = "session has ended, no next step"
		return result, nil
	}

	step, err := e.db.GetStep(ctx, view.ManualID, view.CurrentStep)
	if err != nil {
		return model.NextStepResult{}, err
	}
	result.NextStep = &model.NextStepInfo{
		StepNumber: step.StepNumber,
		Title:      step.Title,
		Content:    step.Content,
	}
	result.Message = fmt.Sprintf("next step is %d of %d", step.StepNumber, view.TotalSteps)
	return result, nil
}

// History returns the session's progress audit trail, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string, limit, offset int) ([]model.ProgressEvent, int, error) {
	view, err := e.db.GetSessionView(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	return e.db.ListProgressEvents(ctx, view.ID, limit, offset)
}

func (e *Engine) stepInfo(manual model.Manual, stepNumber int) *model.NextStepInfo {
	for _, s := range manual.Steps {
		if s.StepNumber == stepNumber {
			return &model.NextStepInfo{StepNumber: s.StepNumber, Title: s.Title, Content: s.Content}
		}
	}
	return nil
}
