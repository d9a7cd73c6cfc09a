package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Factory creates a new resource.
type Factory[T any] func(ctx context.Context) (T, error)

// Disposer releases whatever a resource holds once the pool discards it.
type Disposer[T any] func(resource T) error

// Config configures a Pool
type Config[T any] struct {
	// Name labels log lines and metrics (default: "default")
	Name string

	// InitialSize is the number of resources created up front
	InitialSize int

	// MaxSize is the maximum number of idle resources kept. More may be checked
	// out at once; the surplus is disposed as it is released.
	MaxSize int

	// IdleExpiry is how long a resource may sit idle before the sweep disposes
	// it. The sweep runs once per IdleExpiry.
	IdleExpiry time.Duration

	// Factory creates resources (required)
	Factory Factory[T]

	// Dispose is called for every resource the pool discards (required).
	// Its errors and panics are logged, never returned to the caller.
	Dispose Disposer[T]

	// PrefillConcurrency bounds concurrent Factory calls during prefill (default: 4)
	PrefillConcurrency int

	// Logger receives disposal failures and sweep summaries (default: slog.Default())
	Logger *slog.Logger

	// Metrics records pool activity (optional)
	Metrics *Metrics
}

// Validate checks the configuration for errors and fills in defaults.
func (c *Config[T]) Validate() error {
	if c.Factory == nil {
		return fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}
	if c.Dispose == nil {
		return fmt.Errorf("%w: dispose callback is required", ErrInvalidConfig)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if c.InitialSize < 0 {
		return fmt.Errorf("%w: initial size must be non-negative, got %d", ErrInvalidConfig, c.InitialSize)
	}
	if c.InitialSize > c.MaxSize {
		return fmt.Errorf("%w: initial size %d exceeds max size %d", ErrInvalidConfig, c.InitialSize, c.MaxSize)
	}
	if c.IdleExpiry <= 0 {
		return fmt.Errorf("%w: idle expiry must be positive, got %s", ErrInvalidConfig, c.IdleExpiry)
	}

	if c.Name == "" {
		c.Name = "default"
	}
	if c.PrefillConcurrency <= 0 {
		c.PrefillConcurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
