package progress_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/progress"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/testutil"
	"github.com/ashita-ai/michibiki/internal/webhook"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// newEngine builds an engine whose webhooks go to the given URL; an empty
// URL disables delivery entirely.
func newEngine(url string) *progress.Engine {
	d := webhook.NewDispatcher(testDB, webhook.Config{
		URL:         url,
		Timeout:     2 * time.Second,
		Enabled:     url != "",
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
	}, testutil.TestLogger())
	return progress.NewEngine(testDB, d, testutil.TestLogger())
}

func setupSession(t *testing.T, steps int) (model.Manual, model.Session) {
	t.Helper()
	ctx := context.Background()
	manual := model.Manual{
		ManualID:   "manual-" + uuid.NewString(),
		Title:      "Engine Test Manual",
		TotalSteps: steps,
	}
	for i := 1; i <= steps; i++ {
		manual.Steps = append(manual.Steps, model.ManualStep{
			StepNumber: i,
			Title:      fmt.Sprintf("Step %d", i),
			Content:    fmt.Sprintf("Instructions for step %d", i),
		})
	}
	created, err := testDB.CreateManual(ctx, manual)
	require.NoError(t, err)

	sess, err := testDB.CreateSession(ctx, model.Session{
		SessionID: "sess-" + uuid.NewString(),
		UserID:    "user-1",
		ManualID:  created.ID,
	})
	require.NoError(t, err)
	return created, sess
}

func TestSubmitProgressAdvances(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 3)

	result, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PreviousStep)
	assert.Equal(t, 2, result.CurrentStep)
	assert.Equal(t, model.SessionStatusActive, result.Status)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, 2, result.NextStep.StepNumber)
	assert.False(t, result.FeedbackSent, "webhooks disabled")

	view, err := testDB.GetSessionView(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.CurrentStep)
	assert.Equal(t, 2, view.Version)
}

func TestSubmitProgressOngoingIsAuditOnly(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 3)

	result, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusOngoing,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CurrentStep)

	events, total, err := engine.History(ctx, sess.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)

	view, err := testDB.GetSessionView(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Version, "no advance, no version bump")
}

func TestSubmitProgressOutOfOrderDoesNotRewind(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 5)

	_, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 3, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)

	// A stale DONE for step 1 arrives late.
	result, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.CurrentStep, "stale update must not rewind")

	events, _, err := engine.History(ctx, sess.SessionID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Processed)
	assert.False(t, events[1].Processed)
	assert.Equal(t, 4, events[1].PreviousStep)
}

func TestSubmitProgressCompletesSession(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 2)

	result, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 2, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.CurrentStep)
	assert.Equal(t, model.SessionStatusCompleted, result.Status)
	assert.Nil(t, result.NextStep)

	view, err := testDB.GetSessionView(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, view.Status)
	require.NotNil(t, view.EndedAt)

	// Further submissions are rejected.
	_, err = engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone,
	})
	assert.ErrorIs(t, err, progress.ErrSessionEnded)
}

func TestSubmitProgressStepOutOfRange(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 3)

	_, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 4, StepStatus: model.StepStatusDone,
	})
	assert.ErrorIs(t, err, progress.ErrInvalidStep)

	_, err = engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 0, StepStatus: model.StepStatusDone,
	})
	assert.ErrorIs(t, err, progress.ErrInvalidStep)

	// Rejected submissions leave no audit trail.
	_, total, err := engine.History(ctx, sess.SessionID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmitProgressIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 5)

	upd := model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone, IdempotencyKey: "retry-" + uuid.NewString(),
	}
	_, err := engine.SubmitProgress(ctx, sess.SessionID, upd)
	require.NoError(t, err)

	// Same key again: rejected, session untouched.
	_, err = engine.SubmitProgress(ctx, sess.SessionID, upd)
	assert.ErrorIs(t, err, storage.ErrDuplicateProgress)

	view, err := testDB.GetSessionView(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.CurrentStep)
	assert.Equal(t, 2, view.Version)
}

func TestSubmitProgressUnknownSession(t *testing.T) {
	engine := newEngine("")
	_, err := engine.SubmitProgress(context.Background(), "ghost", model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone,
	})
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestSubmitProgressEmitsWebhooks(t *testing.T) {
	var mu sync.Mutex
	var events []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			EventType string `json:"event_type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		events = append(events, payload.EventType)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	engine := newEngine(srv.URL)
	_, sess := setupSession(t, 1)

	result, err := engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 1, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)
	assert.True(t, result.FeedbackSent)

	// Completion of a single-step manual sends progress_update then session_ended.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "progress_update", events[0])
	assert.Equal(t, "session_ended", events[1])
}

func TestNextStep(t *testing.T) {
	ctx := context.Background()
	engine := newEngine("")
	_, sess := setupSession(t, 2)

	result, err := engine.NextStep(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.False(t, result.IsCompleted)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, 1, result.NextStep.StepNumber)
	assert.Equal(t, "Instructions for step 1", result.NextStep.Content)

	_, err = engine.SubmitProgress(ctx, sess.SessionID, model.ProgressUpdate{
		Step: 2, StepStatus: model.StepStatusDone,
	})
	require.NoError(t, err)

	result, err = engine.NextStep(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.True(t, result.IsCompleted)
	assert.Nil(t, result.NextStep)
}
