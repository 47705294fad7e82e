package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sweepInterval = time.Minute
	idleEvictAge  = 10 * time.Minute
)

// tokenBucket tracks the remaining allowance for a single key. Tokens refill
// continuously at the limiter's rate, capped at the burst size.
type tokenBucket struct {
	remaining float64
	updatedAt time.Time
}

// take refills the bucket for the time elapsed since the last call and then
// consumes one token if available.
func (b *tokenBucket) take(now time.Time, rate, burst float64) bool {
	b.remaining += now.Sub(b.updatedAt).Seconds() * rate
	if b.remaining > burst {
		b.remaining = burst
	}
	b.updatedAt = now

	if b.remaining < 1 {
		return false
	}
	b.remaining--
	return true
}

// MemoryLimiter is an in-process Limiter: one token bucket per key, refilled
// at a fixed rate. Buckets idle longer than idleEvictAge are dropped by a
// background sweep so the map stays bounded.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	closeOnce sync.Once
	stop      chan struct{}
}

// NewMemoryLimiter builds a limiter allowing rate requests per second per key
// with bursts up to burst. Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow reports whether the request identified by key may proceed. A key's
// first request always passes and leaves the bucket one token short of full.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &tokenBucket{remaining: m.burst - 1, updatedAt: now}
		return true, nil
	}
	return b.take(now, m.rate, m.burst), nil
}

// Close stops the eviction goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.evictIdle(now)
		}
	}
}

func (m *MemoryLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-idleEvictAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
