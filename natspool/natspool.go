// Package natspool keeps a pool of NATS connections and publishes
// msgpack-encoded messages over them.
package natspool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Davincible/d-bounded/pool"
	"github.com/Davincible/d-bounded/taskrunner"
)

var (
	// ErrNotConnected indicates a pooled connection lost its server
	ErrNotConnected = errors.New("nats connection not connected")

	// ErrNoURL indicates a missing server URL
	ErrNoURL = errors.New("nats url is required")
)

// maxStaleRetries bounds how many disconnected connections a publish discards
// before giving up.
const maxStaleRetries = 3

// Conn is the part of *nats.Conn the pool uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Drain() error
	Close()
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Config configures a connection pool.
type Config struct {
	Name                string
	URL                 string
	InitialSize         int
	MaxSize             int
	IdleExpiry          time.Duration
	ConnectTimeout      time.Duration
	PingInterval        time.Duration
	MaxPingsOutstanding int
	FlushTimeout        time.Duration
	PublishConcurrency  int

	// DialFailureThreshold consecutive dial failures suspend dialing for
	// DialCooldown.
	DialFailureThreshold int
	DialCooldown         time.Duration

	Logger  *slog.Logger
	Metrics *pool.Metrics
}

// DefaultConfig returns the default configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		Name:                "nats",
		URL:                 url,
		InitialSize:         1,
		MaxSize:             4,
		IdleExpiry:          5 * time.Minute,
		ConnectTimeout:      5 * time.Second,
		PingInterval:        time.Second,
		MaxPingsOutstanding: 3,
		FlushTimeout:        2 * time.Second,
		PublishConcurrency:  4,

		DialFailureThreshold: 5,
		DialCooldown:         5 * time.Second,
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialer replaces nats.Connect.
func WithDialer(d Dialer) Option {
	return func(p *Pool) {
		p.dial = d
	}
}

// Message is a subject and a value to encode.
type Message struct {
	Subject string
	Value   any
}

// Pool is a pool of NATS connections.
type Pool struct {
	cfg     Config
	dial    Dialer
	breaker *breaker
	conns   *pool.Pool[Conn]
	runner  *taskrunner.Runner[Conn]
	logger  *slog.Logger
}

// New dials cfg.InitialSize connections and returns the pool.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		cfg:     cfg,
		breaker: newBreaker(cfg.DialFailureThreshold, cfg.DialCooldown),
		logger:  cfg.Logger.With(slog.String("component", "natspool")),
	}
	p.dial = p.connect

	for _, opt := range opts {
		opt(p)
	}

	conns, err := pool.New(ctx, pool.Config[Conn]{
		Name:        cfg.Name,
		InitialSize: cfg.InitialSize,
		MaxSize:     cfg.MaxSize,
		IdleExpiry:  cfg.IdleExpiry,
		Factory:     p.open,
		Dispose:     disposeConn,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats pool: %w", err)
	}

	p.conns = conns
	p.runner = taskrunner.NewRunner[Conn](liveConns{p}, cfg.PublishConcurrency)

	return p, nil
}

// open dials through the circuit breaker.
func (p *Pool) open(ctx context.Context) (Conn, error) {
	if !p.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	c, err := p.dial(ctx, p.cfg.URL)
	if err != nil {
		if ctx.Err() != nil {
			p.breaker.cancel()
			return nil, err
		}

		p.breaker.failure()
		if p.breaker.current() == breakerOpen {
			p.logger.Warn("suspending nats dials", slog.Duration("cooldown", p.breaker.cooldown), slog.Any("err", err))
		}
		return nil, err
	}

	p.breaker.success()
	return c, nil
}

func (p *Pool) connect(ctx context.Context, url string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := p.cfg.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout || timeout == 0 {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}

	nc, err := nats.Connect(url,
		nats.Name(connName(p.cfg.Name)),
		nats.Timeout(timeout),
		nats.PingInterval(p.cfg.PingInterval),
		nats.MaxPingsOutstanding(p.cfg.MaxPingsOutstanding),
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to NATS: %w", err)
	}

	return nc, nil
}

// connName makes each pooled connection identifiable in server monitoring.
func connName(pool string) string {
	return pool + "-" + uuid.NewString()
}

// disposeConn drains live connections so buffered publishes are delivered.
func disposeConn(c Conn) error {
	if !c.IsConnected() {
		c.Close()
		return nil
	}

	return c.Drain()
}

// Publish encodes v with msgpack and publishes it on subject. Disconnected
// connections are discarded and another one is tried.
func (p *Pool) Publish(ctx context.Context, subject string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", subject, err)
	}

	return p.publish(ctx, subject, data)
}

// PublishAll publishes msgs concurrently and returns the failures. Each
// message gets the same stale connection handling as Publish.
func (p *Pool) PublishAll(ctx context.Context, msgs []Message) []error {
	tasks := make([]taskrunner.Task[Conn], 0, len(msgs))
	for _, msg := range msgs {
		data, err := msgpack.Marshal(msg.Value)
		tasks = append(tasks, taskrunner.Task[Conn]{
			Name: msg.Subject,
			Run: func(_ context.Context, c Conn) error {
				if err != nil {
					return fmt.Errorf("encode payload: %w", err)
				}
				return p.send(c, msg.Subject, data)
			},
		})
	}

	return p.runner.RunTasks(ctx, tasks)
}

func (p *Pool) publish(ctx context.Context, subject string, data []byte) error {
	err := p.withLiveConn(ctx, func(c Conn) error {
		return p.send(c, subject, data)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

func (p *Pool) send(c Conn, subject string, data []byte) error {
	if err := c.Publish(subject, data); err != nil {
		return err
	}
	if p.cfg.FlushTimeout > 0 {
		return c.FlushTimeout(p.cfg.FlushTimeout)
	}
	return nil
}

// withLiveConn lends fn a connected connection. Disconnected ones are
// discarded, up to maxStaleRetries of them.
func (p *Pool) withLiveConn(ctx context.Context, fn func(Conn) error) error {
	for attempt := 0; ; attempt++ {
		c, err := p.conns.Acquire(ctx)
		if err != nil {
			return err
		}

		if !c.IsConnected() {
			if err := p.conns.Discard(c); err != nil {
				p.logger.Warn("discard stale connection", slog.Any("err", err))
			}
			if attempt+1 >= maxStaleRetries {
				return ErrNotConnected
			}
			continue
		}

		err = fn(c)
		if relErr := p.conns.Release(c); relErr != nil && err == nil {
			err = relErr
		}
		return err
	}
}

// liveConns is the taskrunner view of the pool.
type liveConns struct {
	p *Pool
}

func (l liveConns) Do(ctx context.Context, fn func(Conn) error) error {
	return l.p.withLiveConn(ctx, fn)
}

// Decode decodes a msgpack payload received from a subscription.
func Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Stats returns the connection pool stats.
func (p *Pool) Stats() pool.Stats {
	return p.conns.Stats()
}

// Close drains idle connections and closes the pool.
func (p *Pool) Close() error {
	return p.conns.Close()
}
