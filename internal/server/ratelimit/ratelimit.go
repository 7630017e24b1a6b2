// Package ratelimit throttles the public verification endpoint per client.
//
// Both limiters count requests in fixed windows: the first request of a
// key opens a window of the configured length and at most Limit requests
// pass until it closes.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Limiter decides whether the request identified by key may proceed.
// retryAfter is meaningful only when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RetryAfterSeconds formats d for a Retry-After header, at least one second.
func RetryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local Limiter.
type Memory struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemory allows limit requests per key in every period.
func NewMemory(limit int, period time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.period)}
		m.windows[key] = w
	}
	if w.count >= m.limit {
		return false, w.resetAt.Sub(now), nil
	}
	w.count++
	return true, 0, nil
}

// sweep drops closed windows at most once per period.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.period {
		return
	}
	m.lastSweep = now
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}
