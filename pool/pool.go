// Package pool provides a concurrency-safe pool of reusable resources with idle expiry.
//
// A resource is either idle (owned by the pool and subject to expiry) or
// checked out (owned by the caller and immune to expiry), never both. Idle
// resources are handed out oldest first. When none is idle, a new one is
// created on the spot, so the number of live resources can exceed MaxSize while
// many are checked out; the surplus is disposed as it comes back.
//
// A background sweep runs once per IdleExpiry and disposes every resource that
// has been idle for at least IdleExpiry.
//
// Close stops the sweep, waiting for a sweep in progress, and disposes every
// idle resource through the disposal callback. Resources released after Close
// are disposed as well and Release reports ErrClosed.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// idleResource is a resource owned by the pool.
type idleResource[T any] struct {
	resource T
	lastUsed time.Time
}

// Pool is a bounded pool of reusable resources of type T.
type Pool[T any] struct {
	cfg     Config[T]
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	idle   []idleResource[T] // FIFO, head is the oldest
	closed bool

	checkedOut atomic.Int64
	created    atomic.Int64
	disposed   atomic.Int64

	scheduler *expiryScheduler
	closeOnce sync.Once
	closeErr  error

	now func() time.Time
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Name       string `json:"name"`
	Idle       int    `json:"idle"`
	MaxSize    int    `json:"max_size"`
	CheckedOut int64  `json:"checked_out"`
	Created    int64  `json:"created"`
	Disposed   int64  `json:"disposed"`
	Closed     bool   `json:"closed"`
}

// New validates cfg, creates cfg.InitialSize resources and starts the expiry sweep.
// If any initial resource fails to be created, the ones already created are
// disposed and the factory error is returned.
func New[T any](ctx context.Context, cfg Config[T]) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("pool", cfg.Name)),
		metrics: cfg.Metrics,
		idle:    make([]idleResource[T], 0, cfg.MaxSize),
		now:     time.Now,
	}

	if err := p.prefill(ctx); err != nil {
		return nil, err
	}

	p.scheduler = startExpiryScheduler(cfg.IdleExpiry, p.sweep)

	return p, nil
}

// prefill creates the initial resources concurrently.
func (p *Pool[T]) prefill(ctx context.Context) error {
	if p.cfg.InitialSize == 0 {
		return nil
	}

	resources := make([]T, p.cfg.InitialSize)
	ok := make([]bool, p.cfg.InitialSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PrefillConcurrency)

	for i := range resources {
		g.Go(func() error {
			res, err := p.create(gctx)
			if err != nil {
				return err
			}
			resources[i] = res
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i, res := range resources {
			if ok[i] {
				p.dispose(res, ReasonPrefill)
			}
		}
		return fmt.Errorf("prefill pool: %w", err)
	}

	now := p.now()
	for _, res := range resources {
		p.idle = append(p.idle, idleResource[T]{resource: res, lastUsed: now})
	}
	p.setIdleGauge(len(p.idle))

	return nil
}

// AcquireAsync claims an idle resource, or creates a new one when none is idle,
// and returns the outcome as a Future. The claim happens before AcquireAsync
// returns, so the Future is already complete and cannot be cancelled.
// A Factory failure is reported through the Future; nothing is pooled.
func (p *Pool[T]) AcquireAsync(ctx context.Context) *Future[T] {
	return completedFuture(p.acquire(ctx))
}

// Acquire is AcquireAsync followed by Wait.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	return p.AcquireAsync(ctx).Wait(ctx)
}

func (p *Pool[T]) acquire(ctx context.Context) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}

	if len(p.idle) > 0 {
		r := p.idle[0]
		p.idle[0] = idleResource[T]{}
		p.idle = p.idle[1:]
		p.setIdleGauge(len(p.idle))
		p.mu.Unlock()

		p.checkOut("idle")
		return r.resource, nil
	}
	p.mu.Unlock()

	res, err := p.create(ctx)
	if err != nil {
		return zero, err
	}

	p.checkOut("created")
	return res, nil
}

func (p *Pool[T]) create(ctx context.Context) (T, error) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.factoryDuration.WithLabelValues(p.cfg.Name))
	}

	res, err := p.callFactory(ctx)

	if timer != nil {
		timer.ObserveDuration()
	}

	if err != nil {
		if p.metrics != nil {
			p.metrics.factoryErrors.WithLabelValues(p.cfg.Name).Inc()
		}
		var zero T
		return zero, &FactoryError{Pool: p.cfg.Name, Err: err}
	}

	p.created.Add(1)
	return res, nil
}

// callFactory turns a factory panic into an error.
func (p *Pool[T]) callFactory(ctx context.Context) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res, err = zero, fmt.Errorf("panic: %v", r)
		}
	}()

	return p.cfg.Factory(ctx)
}

// Release returns a resource to the pool. If MaxSize resources are already
// idle, the resource is disposed instead. After Close the resource is disposed
// and ErrClosed is returned. Disposal failures are logged, not returned.
func (p *Pool[T]) Release(resource T) error {
	p.checkIn()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.dispose(resource, ReasonClosed)
		return ErrClosed
	}

	if len(p.idle) < p.cfg.MaxSize {
		p.idle = append(p.idle, idleResource[T]{resource: resource, lastUsed: p.now()})
		p.setIdleGauge(len(p.idle))
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.dispose(resource, ReasonOverflow)
	return nil
}

// Discard disposes a checked out resource instead of returning it, for
// resources the caller found broken. The disposal error is returned.
func (p *Pool[T]) Discard(resource T) error {
	p.checkIn()
	return p.dispose(resource, ReasonDiscarded)
}

// Do acquires a resource, calls fn with it and releases it. fn's error takes
// precedence over the release error.
func (p *Pool[T]) Do(ctx context.Context, fn func(resource T) error) error {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(res)
	relErr := p.Release(res)

	if fnErr != nil {
		return fnErr
	}
	return relErr
}

// sweep disposes every resource that has been idle for at least IdleExpiry.
func (p *Pool[T]) sweep() {
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var expired []T
	kept := p.idle[:0]
	for _, r := range p.idle {
		if now.Sub(r.lastUsed) >= p.cfg.IdleExpiry {
			expired = append(expired, r.resource)
		} else {
			kept = append(kept, r)
		}
	}

	// Clear the tail so expired resources can be collected.
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = idleResource[T]{}
	}
	p.idle = kept
	p.setIdleGauge(len(p.idle))
	p.mu.Unlock()

	for _, res := range expired {
		p.dispose(res, ReasonExpired)
	}

	if len(expired) > 0 {
		p.logger.Debug("expired idle resources", slog.Int("count", len(expired)), slog.Int("idle", len(kept)))
	}
}

// dispose runs the disposal callback, containing its errors and panics.
func (p *Pool[T]) dispose(resource T, reason DisposeReason) (err error) {
	p.disposed.Add(1)
	if p.metrics != nil {
		p.metrics.disposals.WithLabelValues(p.cfg.Name, string(reason)).Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &DisposeError{Pool: p.cfg.Name, Reason: reason, Err: fmt.Errorf("panic: %v", r)}
		}

		if err != nil {
			p.logger.Warn("dispose resource", slog.String("reason", string(reason)), slog.Any("err", err))
			if p.metrics != nil {
				p.metrics.disposeErrors.WithLabelValues(p.cfg.Name, string(reason)).Inc()
			}
		}
	}()

	if dErr := p.cfg.Dispose(resource); dErr != nil {
		return &DisposeError{Pool: p.cfg.Name, Reason: reason, Err: dErr}
	}

	return nil
}

// Close stops the expiry sweep and disposes all idle resources. It is safe to
// call more than once; later calls return the result of the first. The
// returned error joins the disposal failures, which are also logged.
func (p *Pool[T]) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		idle := p.idle
		p.idle = nil
		p.setIdleGauge(0)
		p.mu.Unlock()

		p.scheduler.stop()

		var errs []error
		for _, r := range idle {
			if err := p.dispose(r.resource, ReasonClosed); err != nil {
				errs = append(errs, err)
			}
		}

		p.closeErr = errors.Join(errs...)
		p.logger.Debug("pool closed", slog.Int("disposed", len(idle)))
	})

	return p.closeErr
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	closed := p.closed
	p.mu.Unlock()

	return Stats{
		Name:       p.cfg.Name,
		Idle:       idle,
		MaxSize:    p.cfg.MaxSize,
		CheckedOut: p.checkedOut.Load(),
		Created:    p.created.Load(),
		Disposed:   p.disposed.Load(),
		Closed:     closed,
	}
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string {
	return p.cfg.Name
}

func (p *Pool[T]) checkOut(source string) {
	n := p.checkedOut.Add(1)
	if p.metrics != nil {
		p.metrics.acquisitions.WithLabelValues(p.cfg.Name, source).Inc()
		p.metrics.checkedOut.WithLabelValues(p.cfg.Name).Set(float64(n))
	}
}

// checkIn decrements the checked out count without going below zero, since
// callers may release resources the pool never handed out.
func (p *Pool[T]) checkIn() {
	for {
		n := p.checkedOut.Load()
		if n <= 0 {
			break
		}
		if p.checkedOut.CompareAndSwap(n, n-1) {
			n--
			if p.metrics != nil {
				p.metrics.checkedOut.WithLabelValues(p.cfg.Name).Set(float64(n))
			}
			break
		}
	}

	if p.metrics != nil {
		p.metrics.releases.WithLabelValues(p.cfg.Name).Inc()
	}
}

// setIdleGauge is called under p.mu so the gauge follows the idle list order.
func (p *Pool[T]) setIdleGauge(n int) {
	if p.metrics != nil {
		p.metrics.idle.WithLabelValues(p.cfg.Name).Set(float64(n))
	}
}
