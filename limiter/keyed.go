package limiter

import (
	"sync"
	"time"

	"github.com/Davincible/d-bounded/lru"
)

// DefaultMaxKeys is the key capacity used when NewKeyed is given a non-positive maxKeys.
const DefaultMaxKeys = 10000

// Keyed keeps the request counts per unique ID (user, IP, token) for every
// configured RateLimit. A request is admitted only if every limit has room.
//
// The set of tracked IDs is bounded by an LRU cache instead of a cleanup
// goroutine: once maxKeys IDs are tracked, the least recently seen one is
// forgotten, and it starts with fresh windows if it comes back.
type Keyed struct {
	limits []RateLimit
	users  *lru.Synced[string, *keyState]
	now    func() time.Time
}

// keyState stores one window per RateLimit for a single ID.
type keyState struct {
	mu      sync.Mutex
	windows []window
}

// NewKeyed creates a Keyed limiter tracking at most maxKeys IDs.
func NewKeyed(maxKeys int, limits ...RateLimit) *Keyed {
	return newKeyed(maxKeys, time.Now, limits...)
}

func newKeyed(maxKeys int, now func() time.Time, limits ...RateLimit) *Keyed {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Keyed{
		limits: limits,
		users:  lru.NewSynced[string, *keyState](maxKeys),
		now:    now,
	}
}

func (k *Keyed) state(uniqueID string) *keyState {
	st, _ := k.users.GetOrPut(uniqueID, func() *keyState {
		now := k.now()
		windows := make([]window, len(k.limits))
		for i, limit := range k.limits {
			windows[i] = newWindow(limit, now)
		}
		return &keyState{windows: windows}
	})

	return st
}

// AllowRequest checks if a request is allowed for the given uniqueID and counts it if so.
func (k *Keyed) AllowRequest(uniqueID string) bool {
	st := k.state(uniqueID)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := k.now()
	for i := range st.windows {
		st.windows[i].roll(now)
		if st.windows[i].full() {
			return false
		}
	}

	for i := range st.windows {
		st.windows[i].count++
	}

	return true
}

// For returns a Limiter bound to uniqueID.
func (k *Keyed) For(uniqueID string) Limiter {
	return keyedLimiter{k: k, id: uniqueID}
}

// NextActionTime returns the time when the next request will be allowed for the given uniqueID.
func (k *Keyed) NextActionTime(uniqueID string) time.Time {
	now := k.now()

	st, ok := k.users.Peek(uniqueID)
	if !ok {
		return now
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var next time.Time
	for i := range st.windows {
		w := &st.windows[i]
		w.roll(now)
		if !w.full() {
			continue
		}

		// Strictly after the window end, matching roll.
		end := w.resetAt().Add(time.Nanosecond)
		if next.IsZero() || end.After(next) {
			next = end
		}
	}

	if next.IsZero() {
		return now
	}

	return next
}

// Tracked returns the number of IDs currently tracked.
func (k *Keyed) Tracked() int {
	return k.users.Len()
}

// Forget drops the state kept for uniqueID.
func (k *Keyed) Forget(uniqueID string) {
	k.users.Remove(uniqueID)
}

type keyedLimiter struct {
	k  *Keyed
	id string
}

func (l keyedLimiter) TryAcquire() bool {
	return l.k.AllowRequest(l.id)
}
