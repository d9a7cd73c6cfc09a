// Package limiter provides request rate limiting.
//
// FixedWindow is the primary limiter: it counts requests in fixed windows and
// resets the count when a window has fully elapsed. Because windows are fixed,
// up to twice the limit can be admitted around a window boundary (the tail of
// one window plus the head of the next). That coarseness is part of its
// observable behavior. Use TokenBucket when a smoother rate is wanted.
package limiter

import (
	"sync"
	"time"
)

// Limiter gates an action rate.
type Limiter interface {
	// TryAcquire reports whether one more action is allowed right now.
	TryAcquire() bool
}

// RateLimit defines the maximum number of requests that can be made per time interval.
type RateLimit struct {
	Interval time.Duration
	MaxCount int
}

// window is the unsynchronized fixed-window counter shared by FixedWindow and Keyed.
type window struct {
	limit RateLimit
	start time.Time
	count int
}

func newWindow(limit RateLimit, now time.Time) window {
	return window{limit: limit, start: now}
}

// roll starts a new window once the current one has elapsed.
func (w *window) roll(now time.Time) {
	if now.Sub(w.start) > w.limit.Interval {
		w.start = now
		w.count = 0
	}
}

func (w *window) full() bool {
	return w.count >= w.limit.MaxCount
}

func (w *window) resetAt() time.Time {
	return w.start.Add(w.limit.Interval)
}

func (w *window) remaining() int {
	if w.full() {
		return 0
	}
	return w.limit.MaxCount - w.count
}

// FixedWindow admits at most maxRequests calls per window. It is safe for concurrent use.
type FixedWindow struct {
	mu  sync.Mutex
	w   window
	now func() time.Time
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a limiter admitting maxRequests per window, starting now.
func NewFixedWindow(maxRequests int, window time.Duration) *FixedWindow {
	return newFixedWindow(maxRequests, window, time.Now)
}

func newFixedWindow(maxRequests int, interval time.Duration, now func() time.Time) *FixedWindow {
	return &FixedWindow{
		w:   newWindow(RateLimit{Interval: interval, MaxCount: maxRequests}, now()),
		now: now,
	}
}

// TryAcquire resets the window if it has elapsed, then counts the request and
// admits it if the count is still within the limit.
func (l *FixedWindow) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.roll(l.now())
	l.w.count++

	return l.w.count <= l.w.limit.MaxCount
}

// Remaining returns how many more requests the current window admits.
func (l *FixedWindow) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.roll(l.now())
	return l.w.remaining()
}

// ResetAt returns the time the current window ends.
func (l *FixedWindow) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.roll(l.now())
	return l.w.resetAt()
}

// RetryAfter returns how long a rejected caller should wait, or zero if a
// request would be admitted now.
func (l *FixedWindow) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.w.roll(now)
	if !l.w.full() {
		return 0
	}

	// The window resets once strictly more than Interval has elapsed.
	return l.w.resetAt().Sub(now) + time.Nanosecond
}

// Limit returns the configured limit.
func (l *FixedWindow) Limit() RateLimit {
	return l.w.limit
}
