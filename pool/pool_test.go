package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// conn is a test resource compared by identity.
type conn struct {
	id   int64
	busy atomic.Bool
}

// harness creates conns and records disposals.
type harness struct {
	nextID    atomic.Int64
	failAfter int64 // factory fails once this many conns exist, 0 = never
	panicAt   int64 // factory panics when creating this conn, 0 = never

	mu       sync.Mutex
	disposed []*conn

	disposeErr error
	disposeFn  func(*conn)
}

func (h *harness) factory(ctx context.Context) (*conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := h.nextID.Add(1)
	if id == h.panicAt {
		panic("factory exploded")
	}
	if h.failAfter > 0 && id > h.failAfter {
		return nil, errBoom
	}

	return &conn{id: id}, nil
}

func (h *harness) dispose(c *conn) error {
	if h.disposeFn != nil {
		h.disposeFn(c)
	}

	h.mu.Lock()
	h.disposed = append(h.disposed, c)
	h.mu.Unlock()

	return h.disposeErr
}

func (h *harness) disposedConns() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*conn, len(h.disposed))
	copy(out, h.disposed)
	return out
}

func (h *harness) config(initial, max int, expiry time.Duration) Config[*conn] {
	return Config[*conn]{
		Name:        "test",
		InitialSize: initial,
		MaxSize:     max,
		IdleExpiry:  expiry,
		Factory:     h.factory,
		Dispose:     h.dispose,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestPool(t *testing.T, h *harness, cfg Config[*conn]) *Pool[*conn] {
	t.Helper()

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p
}

func TestConfigValidate(t *testing.T) {
	h := &harness{}

	tests := []struct {
		name   string
		mutate func(*Config[*conn])
	}{
		{"missing factory", func(c *Config[*conn]) { c.Factory = nil }},
		{"missing dispose", func(c *Config[*conn]) { c.Dispose = nil }},
		{"zero max size", func(c *Config[*conn]) { c.MaxSize = 0 }},
		{"negative initial size", func(c *Config[*conn]) { c.InitialSize = -1 }},
		{"initial above max", func(c *Config[*conn]) { c.InitialSize = 6 }},
		{"zero expiry", func(c *Config[*conn]) { c.IdleExpiry = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := h.config(1, 5, time.Second)
			tt.mutate(&cfg)

			_, err := New(context.Background(), cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := Config[*conn]{MaxSize: 1, IdleExpiry: time.Second, Factory: h.factory, Dispose: h.dispose}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "default", cfg.Name)
		assert.Equal(t, 4, cfg.PrefillConcurrency)
		assert.NotNil(t, cfg.Logger)
	})
}

func TestAcquireDistinctAndReuse(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(2, 5, time.Hour))

	r1, err := p.AcquireAsync(context.Background()).Result()
	require.NoError(t, err)
	r2, err := p.AcquireAsync(context.Background()).Result()
	require.NoError(t, err)

	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.NotSame(t, r1, r2)
	assert.Equal(t, int64(2), p.Stats().Created, "prefilled resources must be used first")
	assert.Equal(t, int64(2), p.Stats().CheckedOut)

	require.NoError(t, p.Release(r1))
	require.NoError(t, p.Release(r2))
	assert.Equal(t, 2, p.Stats().Idle)

	r3, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, r1, r3, "oldest idle resource is reused first")
	assert.Equal(t, int64(2), p.Stats().Created)
	assert.Empty(t, h.disposedConns())
}

func TestAcquireCreatesWhenEmpty(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(0, 1, time.Hour))

	var got []*conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		got = append(got, c)
	}

	st := p.Stats()
	assert.Equal(t, int64(3), st.Created)
	assert.Equal(t, int64(3), st.CheckedOut, "the pool may exceed MaxSize while resources are checked out")
	assert.Zero(t, st.Idle)

	for _, c := range got {
		require.NoError(t, p.Release(c))
	}

	st = p.Stats()
	assert.Equal(t, 1, st.Idle)
	assert.Zero(t, st.CheckedOut)
	assert.Len(t, h.disposedConns(), 2)
}

func TestReleaseOverflowDisposesImmediately(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &harness{}
	cfg := h.config(1, 1, time.Hour)
	cfg.Metrics = NewMetrics("test", reg)
	p := newTestPool(t, h, cfg)

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Release(r1))
	assert.Equal(t, 1, p.Stats().Idle)

	require.NoError(t, p.Release(r2))
	assert.Equal(t, 1, p.Stats().Idle, "idle count must not exceed MaxSize")

	disposed := h.disposedConns()
	require.Len(t, disposed, 1)
	assert.Same(t, r2, disposed[0])

	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.disposals.WithLabelValues("test", string(ReasonOverflow))))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.acquisitions.WithLabelValues("test", "idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.acquisitions.WithLabelValues("test", "created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(cfg.Metrics.releases.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.idle.WithLabelValues("test")))
	assert.Equal(t, 0.0, testutil.ToFloat64(cfg.Metrics.checkedOut.WithLabelValues("test")))
}

func TestExpirySweepDisposesIdle(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(0, 2, 50*time.Millisecond))

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(r1))

	require.Eventually(t, func() bool {
		return len(h.disposedConns()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the sweep a few more periods to prove it disposes only once.
	time.Sleep(150 * time.Millisecond)
	disposed := h.disposedConns()
	require.Len(t, disposed, 1)
	assert.Same(t, r1, disposed[0])
	assert.Zero(t, p.Stats().Idle)

	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, r1, r2, "a disposed resource must never be handed out again")
}

func TestSweepUsesIdleTime(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(0, 5, time.Hour))

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	var conns []*conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}

	require.NoError(t, p.Release(conns[0]))
	require.NoError(t, p.Release(conns[1]))

	now = now.Add(30 * time.Minute)
	require.NoError(t, p.Release(conns[2]))

	now = now.Add(30*time.Minute - time.Nanosecond)
	p.sweep()
	assert.Empty(t, h.disposedConns(), "nothing has been idle for a full hour yet")

	now = now.Add(time.Nanosecond)
	p.sweep()

	disposed := h.disposedConns()
	require.Len(t, disposed, 2)
	assert.Same(t, conns[0], disposed[0])
	assert.Same(t, conns[1], disposed[1])

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, conns[2], c)
}

func TestCheckedOutResourcesDoNotExpire(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(1, 1, time.Hour))

	now := time.Now()
	p.now = func() time.Time { return now }

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	p.sweep()
	assert.Empty(t, h.disposedConns())

	require.NoError(t, p.Release(c))
	p.sweep()
	assert.Empty(t, h.disposedConns(), "release restamps the idle time")
}

func TestFactoryFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &harness{failAfter: 1}
	cfg := h.config(1, 2, time.Hour)
	cfg.Metrics = NewMetrics("test", reg)
	p := newTestPool(t, h, cfg)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	f := p.AcquireAsync(context.Background())
	select {
	case <-f.Done():
	default:
		t.Fatal("future must be complete when AcquireAsync returns")
	}

	_, err = f.Result()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var ferr *FactoryError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "test", ferr.Pool)

	st := p.Stats()
	assert.Zero(t, st.Idle)
	assert.Equal(t, int64(1), st.CheckedOut)
	assert.Equal(t, int64(1), st.Created)
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.factoryErrors.WithLabelValues("test")))
}

func TestPrefillFailureDisposesCreated(t *testing.T) {
	h := &harness{failAfter: 2}
	cfg := h.config(4, 4, time.Hour)
	cfg.PrefillConcurrency = 1

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, h.disposedConns(), 2)
}

func TestFactoryPanicIsContained(t *testing.T) {
	tests := []struct {
		name    string
		initial int
		panicAt int64
	}{
		{"acquire", 1, 2},
		{"prefill", 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			h := &harness{panicAt: tt.panicAt}
			cfg := h.config(tt.initial, 4, time.Hour)
			cfg.PrefillConcurrency = 1
			cfg.Metrics = NewMetrics("test", reg)

			p, err := New(context.Background(), cfg)
			if tt.initial >= int(tt.panicAt) {
				var ferr *FactoryError
				require.ErrorAs(t, err, &ferr)
				assert.ErrorContains(t, err, "factory exploded")
				assert.Len(t, h.disposedConns(), 1, "conns created before the panic are disposed")
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { p.Close() })

			a, err := p.Acquire(context.Background())
			require.NoError(t, err)

			_, err = p.Acquire(context.Background())
			var ferr *FactoryError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, "test", ferr.Pool)
			assert.ErrorContains(t, err, "factory exploded")

			st := p.Stats()
			assert.Equal(t, int64(1), st.CheckedOut)
			assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.factoryErrors.WithLabelValues("test")))

			require.NoError(t, p.Release(a))
			b, err := p.Acquire(context.Background())
			require.NoError(t, err)
			assert.Same(t, a, b, "the pool keeps working after a panic")
			require.NoError(t, p.Release(b))
		})
	}
}

func TestDisposeFailuresAreContained(t *testing.T) {
	reg := prometheus.NewRegistry()

	tests := []struct {
		name    string
		harness *harness
	}{
		{"error", &harness{disposeErr: errBoom}},
		{"panic", &harness{disposeFn: func(*conn) { panic("dispose exploded") }}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.harness
			cfg := h.config(0, 1, time.Hour)
			cfg.Name = []string{"err", "panic"}[i]
			if i == 0 {
				cfg.Metrics = NewMetrics("test", reg)
			}
			p := newTestPool(t, h, cfg)

			now := time.Now()
			p.now = func() time.Time { return now }

			a, err := p.Acquire(context.Background())
			require.NoError(t, err)
			b, err := p.Acquire(context.Background())
			require.NoError(t, err)

			require.NoError(t, p.Release(a))
			assert.NotPanics(t, func() {
				assert.NoError(t, p.Release(b), "overflow disposal failure must not reach the caller")
			})

			now = now.Add(2 * time.Hour)
			assert.NotPanics(t, p.sweep)
			assert.Equal(t, int64(2), p.Stats().Disposed)

			if cfg.Metrics != nil {
				assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.disposeErrors.WithLabelValues("err", string(ReasonOverflow))))
				assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.disposeErrors.WithLabelValues("err", string(ReasonExpired))))
			}
		})
	}
}

func TestCloseDisposesIdle(t *testing.T) {
	h := &harness{}
	p, err := New(context.Background(), h.config(2, 2, time.Hour))
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Len(t, h.disposedConns(), 1, "the idle resource is disposed on close")
	assert.True(t, p.Stats().Closed)

	require.NoError(t, p.Close(), "close is idempotent")
	assert.Len(t, h.disposedConns(), 1)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, p.Release(held), ErrClosed)
	disposed := h.disposedConns()
	require.Len(t, disposed, 2)
	assert.Same(t, held, disposed[1], "resources released after close are disposed")
	assert.Zero(t, p.Stats().Idle)
}

func TestCloseReturnsDisposeErrors(t *testing.T) {
	h := &harness{disposeErr: errBoom}
	p, err := New(context.Background(), h.config(2, 2, time.Hour))
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var derr *DisposeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ReasonClosed, derr.Reason)

	assert.Equal(t, err, p.Close())
}

func TestCloseWaitsForRunningSweep(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once

	h := &harness{}
	h.disposeFn = func(*conn) {
		once.Do(func() {
			close(started)
			<-unblock
		})
	}

	p, err := New(context.Background(), h.config(1, 1, 20*time.Millisecond))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not start")
	}

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a sweep was still disposing")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after the sweep finished")
	}

	assert.Len(t, h.disposedConns(), 1)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	h := &harness{}
	p, err := New(context.Background(), h.config(4, 8, 5*time.Millisecond))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var doubleOwned atomic.Int64

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c, err := p.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}

				if !c.busy.CompareAndSwap(false, true) {
					doubleOwned.Add(1)
				}
				if i%10 == 0 {
					time.Sleep(time.Millisecond)
				}
				c.busy.Store(false)

				assert.NoError(t, p.Release(c))
			}
		}()
	}

	wg.Wait()
	require.NoError(t, p.Close())

	assert.Zero(t, doubleOwned.Load(), "a resource was handed to two callers at once")

	st := p.Stats()
	assert.Zero(t, st.CheckedOut)
	assert.Zero(t, st.Idle)
	assert.Equal(t, st.Created, st.Disposed, "every created resource is disposed exactly once")

	seen := make(map[*conn]bool)
	for _, c := range h.disposedConns() {
		assert.False(t, seen[c], "resource %d disposed twice", c.id)
		seen[c] = true
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(1, 1, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Stats().Idle, "a cancelled acquire claims nothing")
}

func TestDo(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(1, 1, time.Hour))

	var used *conn
	err := p.Do(context.Background(), func(c *conn) error {
		used = c
		assert.Equal(t, int64(1), p.Stats().CheckedOut)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, used)
	assert.Equal(t, 1, p.Stats().Idle)

	err = p.Do(context.Background(), func(c *conn) error {
		assert.Same(t, used, c)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, p.Stats().Idle, "the resource is released even when fn fails")
}

func TestReleaseForeignResource(t *testing.T) {
	h := &harness{}
	p := newTestPool(t, h, h.config(0, 2, time.Hour))

	require.NoError(t, p.Release(&conn{id: 100}))
	st := p.Stats()
	assert.Zero(t, st.CheckedOut, "checked out count never goes negative")
	assert.Equal(t, 1, st.Idle)
}

func TestDiscard(t *testing.T) {
	h := &harness{disposeErr: errBoom}
	p := newTestPool(t, h, h.config(1, 1, time.Hour))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	err = p.Discard(c)
	var derr *DisposeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ReasonDiscarded, derr.Reason)

	st := p.Stats()
	assert.Zero(t, st.CheckedOut)
	assert.Zero(t, st.Idle)

	next, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, c, next)
}
