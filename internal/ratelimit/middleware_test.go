package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashita-ai/michibiki/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/manuals", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDeniesOverLimit(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	handler := Middleware(m, IPKeyFunc, nil)(okHandler())

	rec := doRequest(handler, "10.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = doRequest(handler, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After header, got %q", got)
	}

	var apiErr model.APIError
	if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if apiErr.Error.Code != model.ErrCodeRateLimited {
		t.Fatalf("expected error code %q, got %q", model.ErrCodeRateLimited, apiErr.Error.Code)
	}

	// Different IP, different bucket.
	rec = doRequest(handler, "10.0.0.2:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("other client: expected 200, got %d", rec.Code)
	}
}

type errorLimiter struct{}

func (errorLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("backend unavailable")
}

func (errorLimiter) Close() error { return nil }

func TestMiddlewareFailsOpen(t *testing.T) {
	handler := Middleware(errorLimiter{}, IPKeyFunc, nil)(okHandler())

	rec := doRequest(handler, "10.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected limiter errors to fail open, got %d", rec.Code)
	}
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	skipAll := func(r *http.Request) string { return "" }
	handler := Middleware(m, skipAll, nil)(okHandler())

	for i := 0; i < 5; i++ {
		rec := doRequest(handler, "10.0.0.1:1234")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with empty key, got %d", i, rec.Code)
		}
	}
}
