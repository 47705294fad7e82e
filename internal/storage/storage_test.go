package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
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

// mustCreateManual inserts a manual with n steps and returns it.
func mustCreateManual(t *testing.T, n int) model.Manual {
	t.Helper()
	manual := model.Manual{
		ManualID:   "manual-" + uuid.NewString(),
		Title:      "Test Manual",
		TotalSteps: n,
	}
	for i := 1; i <= n; i++ {
		manual.Steps = append(manual.Steps, model.ManualStep{
			StepNumber: i,
			Title:      fmt.Sprintf("Step %d", i),
			Content:    fmt.Sprintf("Do thing %d", i),
		})
	}
	created, err := testDB.CreateManual(context.Background(), manual)
	require.NoError(t, err)
	return created
}

// mustCreateSession inserts a session against the given manual.
func mustCreateSession(t *testing.T, manual model.Manual) model.Session {
	t.Helper()
	s, err := testDB.CreateSession(context.Background(), model.Session{
		SessionID: "sess-" + uuid.NewString(),
		UserID:    "user-" + uuid.NewString(),
		ManualID:  manual.ID,
	})
	require.NoError(t, err)
	return s
}

func TestCreateManualAndGet(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 3)

	got, err := testDB.GetManualByExternalID(ctx, manual.ManualID)
	require.NoError(t, err)
	assert.Equal(t, manual.ID, got.ID)
	assert.Equal(t, 3, got.TotalSteps)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, 1, got.Steps[0].StepNumber)
	assert.Equal(t, "Step 2", got.Steps[1].Title)
}

func TestCreateManualDuplicate(t *testing.T) {
	manual := mustCreateManual(t, 2)

	_, err := testDB.CreateManual(context.Background(), model.Manual{
		ManualID:   manual.ManualID,
		Title:      "Duplicate",
		TotalSteps: 1,
		Steps:      []model.ManualStep{{StepNumber: 1, Title: "x", Content: "y"}},
	})
	assert.ErrorIs(t, err, storage.ErrManualExists)
}

func TestDeleteManualInUse(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	mustCreateSession(t, manual)

	err := testDB.DeleteManual(ctx, manual.ManualID)
	assert.ErrorIs(t, err, storage.ErrManualInUse)

	// Still retrievable after the refused delete.
	_, err = testDB.GetManualByExternalID(ctx, manual.ManualID)
	assert.NoError(t, err)
}

func TestDeleteManualUnused(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 1)

	require.NoError(t, testDB.DeleteManual(ctx, manual.ManualID))
	_, err := testDB.GetManualByExternalID(ctx, manual.ManualID)
	assert.ErrorIs(t, err, storage.ErrManualNotFound)
}

func TestCreateSessionDefaults(t *testing.T) {
	manual := mustCreateManual(t, 4)
	s := mustCreateSession(t, manual)

	assert.Equal(t, 1, s.CurrentStep)
	assert.Equal(t, model.SessionStatusActive, s.Status)
	assert.Equal(t, 1, s.Version)
	assert.Nil(t, s.EndedAt)
}

func TestCreateSessionDuplicate(t *testing.T) {
	manual := mustCreateManual(t, 2)
	s := mustCreateSession(t, manual)

	_, err := testDB.CreateSession(context.Background(), model.Session{
		SessionID: s.SessionID,
		UserID:    "someone-else",
		ManualID:  manual.ID,
	})
	assert.ErrorIs(t, err, storage.ErrSessionExists)
}

func TestGetSessionViewJoinsManual(t *testing.T) {
	manual := mustCreateManual(t, 5)
	s := mustCreateSession(t, manual)

	view, err := testDB.GetSessionView(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, manual.ManualID, view.ManualExternalID)
	assert.Equal(t, 5, view.TotalSteps)
	assert.Equal(t, s.UserID, view.UserID)
}

func TestGetSessionViewNotFound(t *testing.T) {
	_, err := testDB.GetSessionView(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestListSessionsFilters(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	s1 := mustCreateSession(t, manual)
	s2 := mustCreateSession(t, manual)

	now := time.Now().UTC()
	require.NoError(t, testDB.UpdateSessionStatus(ctx, s2.ID, model.SessionStatusCompleted, &now))

	views, total, err := testDB.ListSessions(ctx, model.SessionFilter{
		UserID: s1.UserID, Limit: 10, Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, views, 1)
	assert.Equal(t, s1.SessionID, views[0].SessionID)

	views, _, err = testDB.ListSessions(ctx, model.SessionFilter{
		UserID: s2.UserID, Status: model.SessionStatusCompleted, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, model.SessionStatusCompleted, views[0].Status)
}

func TestUpdateSessionStatusSetsEndedAtOnce(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	s := mustCreateSession(t, manual)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, testDB.UpdateSessionStatus(ctx, s.ID, model.SessionStatusCompleted, &first))

	later := time.Now().UTC()
	require.NoError(t, testDB.UpdateSessionStatus(ctx, s.ID, model.SessionStatusAbandoned, &later))

	view, err := testDB.GetSessionView(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, view.EndedAt)
	// ended_at keeps the first stamp even across later status writes.
	assert.WithinDuration(t, first, *view.EndedAt, time.Second)
}

func TestSessionTxProgressFlow(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 3)
	s := mustCreateSession(t, manual)

	tx, locked, err := testDB.LockSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, locked.CurrentStep)

	key := "key-" + uuid.NewString()
	err = tx.InsertProgressEvent(ctx, model.ProgressEvent{
		SessionID:      locked.ID,
		StepNumber:     1,
		StepStatus:     model.StepStatusDone,
		PreviousStep:   1,
		Processed:      true,
		IdempotencyKey: &key,
	})
	require.NoError(t, err)

	locked.CurrentStep = 2
	locked.Version++
	locked.LastActivityAt = time.Now().UTC()
	require.NoError(t, tx.UpdateSessionProgress(ctx, locked))
	require.NoError(t, tx.Commit(ctx))

	view, err := testDB.GetSessionView(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.CurrentStep)
	assert.Equal(t, 2, view.Version)

	// Re-using the key in a fresh transaction trips the partial unique index.
	tx2, locked2, err := testDB.LockSession(ctx, s.SessionID)
	require.NoError(t, err)
	defer tx2.Rollback(ctx)

	seen, err := tx2.HasProgressEvent(ctx, locked2.ID, key)
	require.NoError(t, err)
	assert.True(t, seen)

	err = tx2.InsertProgressEvent(ctx, model.ProgressEvent{
		SessionID:      locked2.ID,
		StepNumber:     2,
		StepStatus:     model.StepStatusDone,
		PreviousStep:   2,
		IdempotencyKey: &key,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateProgress)
}

func TestProgressEventsWithoutKeyAreUnlimited(t *testing.T) {
	// NULL idempotency keys never collide: the unique index is partial.
	ctx := context.Background()
	manual := mustCreateManual(t, 3)
	s := mustCreateSession(t, manual)

	for i := 0; i < 2; i++ {
		tx, locked, err := testDB.LockSession(ctx, s.SessionID)
		require.NoError(t, err)
		require.NoError(t, tx.InsertProgressEvent(ctx, model.ProgressEvent{
			SessionID:    locked.ID,
			StepNumber:   1,
			StepStatus:   model.StepStatusOngoing,
			PreviousStep: locked.CurrentStep,
		}))
		require.NoError(t, tx.Commit(ctx))
	}

	events, total, err := testDB.ListProgressEvents(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, events, 2)
}

func TestReapStaleSessions(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	stale := mustCreateSession(t, manual)
	fresh := mustCreateSession(t, manual)

	// Backdate the stale session's activity.
	_, err := testDB.Pool().Exec(ctx,
		`UPDATE sessions SET last_activity_at = now() - interval '1 hour' WHERE id = $1`,
		stale.ID,
	)
	require.NoError(t, err)

	reaped, err := testDB.ReapStaleSessions(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)

	ids := make(map[string]bool, len(reaped))
	for _, v := range reaped {
		ids[v.SessionID] = true
		assert.Equal(t, model.SessionStatusAbandoned, v.Status)
		assert.NotNil(t, v.EndedAt)
		assert.Equal(t, manual.ManualID, v.ManualExternalID)
	}
	assert.True(t, ids[stale.SessionID])
	assert.False(t, ids[fresh.SessionID])

	view, err := testDB.GetSessionView(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, view.Status)
}

func TestWebhookQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	sessionID := "sess-" + uuid.NewString()

	item, err := testDB.EnqueueWebhook(ctx, model.WebhookQueueItem{
		URL:         "http://example.invalid/webhook",
		Payload:     `{"event_type":"progress_update"}`,
		EventType:   model.WebhookEventProgressUpdate,
		SessionID:   &sessionID,
		Attempts:    1,
		MaxAttempts: 3,
		NextRetryAt: time.Now().UTC().Add(-time.Second),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, item.ID)

	due, err := testDB.DuePendingWebhooks(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	var found *model.WebhookQueueItem
	for i := range due {
		if due[i].ID == item.ID {
			found = &due[i]
		}
	}
	require.NotNil(t, found, "enqueued item should be due")
	assert.Equal(t, 1, found.Attempts)

	// Failed attempt: rescheduled, still pending.
	now := time.Now().UTC()
	require.NoError(t, testDB.MarkWebhookFailure(ctx, item.ID, 2, now, "HTTP 502", now.Add(time.Hour), false))

	due, err = testDB.DuePendingWebhooks(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	for _, d := range due {
		assert.NotEqual(t, item.ID, d.ID, "rescheduled item must not be due yet")
	}

	// Terminal failure leaves the row for audit but never due again.
	require.NoError(t, testDB.MarkWebhookFailure(ctx, item.ID, 3, now, "HTTP 502", now, true))
	due, err = testDB.DuePendingWebhooks(ctx, time.Now().UTC().Add(2*time.Hour), 100)
	require.NoError(t, err)
	for _, d := range due {
		assert.NotEqual(t, item.ID, d.ID)
	}

	stats, err := testDB.WebhookQueueStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Failed, int64(1))
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	s := mustCreateSession(t, manual)

	_, err := testDB.InsertMessage(ctx, model.ConversationMessage{
		SessionID:   s.ID,
		MessageText: "how do I do step 1?",
		Sender:      model.SenderUser,
		StepAtTime:  1,
	})
	require.NoError(t, err)
	_, err = testDB.InsertMessage(ctx, model.ConversationMessage{
		SessionID:   s.ID,
		MessageText: "like this",
		Sender:      model.SenderAgent,
		StepAtTime:  1,
	})
	require.NoError(t, err)

	msgs, total, err := testDB.ListMessages(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, "like this", msgs[1].MessageText)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	manual := mustCreateManual(t, 2)
	s := mustCreateSession(t, manual)

	_, err := testDB.InsertMessage(ctx, model.ConversationMessage{
		SessionID: s.ID, MessageText: "hi", Sender: model.SenderUser, StepAtTime: 1,
	})
	require.NoError(t, err)

	require.NoError(t, testDB.DeleteSession(ctx, s.SessionID))
	_, err = testDB.GetSessionView(ctx, s.SessionID)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	var count int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE session_id = $1`, s.ID,
	).Scan(&count))
	assert.Zero(t, count)
}
