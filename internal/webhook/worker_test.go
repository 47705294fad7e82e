package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/michibiki/internal/model"
)

type fakeRetryStore struct {
	mu  sync.Mutex
	due []model.WebhookQueueItem

	successes []uuid.UUID
	failures  []failureCall
}

type failureCall struct {
	id          uuid.UUID
	attempts    int
	nextRetryAt time.Time
	terminal    bool
}

func (s *fakeRetryStore) DuePendingWebhooks(_ context.Context, _ time.Time, limit int) ([]model.WebhookQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeRetryStore) MarkWebhookSuccess(_ context.Context, id uuid.UUID, _ int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, id)
	return nil
}

func (s *fakeRetryStore) MarkWebhookFailure(_ context.Context, id uuid.UUID, attempts int, _ time.Time, _ string, nextRetryAt time.Time, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failureCall{id: id, attempts: attempts, nextRetryAt: nextRetryAt, terminal: terminal})
	return nil
}

func (s *fakeRetryStore) CountPendingWebhooks(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.due)), nil
}

func queueItem(url string, attempts int) model.WebhookQueueItem {
	return model.WebhookQueueItem{
		ID:          uuid.New(),
		URL:         url,
		Payload:     `{"event_type":"session_created"}`,
		EventType:   model.WebhookEventSessionCreated,
		Attempts:    attempts,
		MaxAttempts: 3,
		Status:      model.WebhookStatusPending,
		NextRetryAt: time.Now().UTC(),
	}
}

func newTestWorker(store RetryStore) *Worker {
	d := NewDispatcher(nil, Config{Timeout: 2 * time.Second}, testLogger())
	return NewWorker(store, d, testLogger(), time.Hour, 10, 4*time.Second)
}

func TestProcessDueMarksSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	item := queueItem(srv.URL, 1)
	store := &fakeRetryStore{due: []model.WebhookQueueItem{item}}
	w := newTestWorker(store)

	n := w.ProcessDue(context.Background())
	assert.Equal(t, 1, n)
	require.Len(t, store.successes, 1)
	assert.Equal(t, item.ID, store.successes[0])
	assert.Empty(t, store.failures)
}

func TestProcessDueReschedulesWithBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	item := queueItem(srv.URL, 1)
	store := &fakeRetryStore{due: []model.WebhookQueueItem{item}}
	w := newTestWorker(store)

	before := time.Now().UTC()
	w.ProcessDue(context.Background())

	require.Len(t, store.failures, 1)
	f := store.failures[0]
	assert.Equal(t, 2, f.attempts)
	assert.False(t, f.terminal, "attempt 2 of 3 is not terminal")
	// Second completed attempt backs off base*4 = 16s.
	assert.WithinDuration(t, before.Add(16*time.Second), f.nextRetryAt, 2*time.Second)
}

func TestProcessDueTerminalAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	item := queueItem(srv.URL, 2)
	store := &fakeRetryStore{due: []model.WebhookQueueItem{item}}
	w := newTestWorker(store)

	w.ProcessDue(context.Background())

	require.Len(t, store.failures, 1)
	f := store.failures[0]
	assert.Equal(t, 3, f.attempts)
	assert.True(t, f.terminal, "third failed attempt exhausts the budget")
}

func TestProcessDueIsolatesItemFailures(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	good := queueItem(ok.URL, 0)
	// Unroutable target: the send fails, the rest of the batch still runs.
	bad := queueItem("http://127.0.0.1:1", 0)
	store := &fakeRetryStore{due: []model.WebhookQueueItem{bad, good}}
	w := newTestWorker(store)

	n := w.ProcessDue(context.Background())
	assert.Equal(t, 2, n)
	require.Len(t, store.successes, 1)
	assert.Equal(t, good.ID, store.successes[0])
	require.Len(t, store.failures, 1)
	assert.Equal(t, bad.ID, store.failures[0].id)
}

func TestWorkerDrainRunsFinalSweep(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeRetryStore{due: []model.WebhookQueueItem{queueItem(srv.URL, 0)}}
	w := newTestWorker(store) // hour-long interval: only the drain sweep can deliver

	w.Start(context.Background())
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(drainCtx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}
