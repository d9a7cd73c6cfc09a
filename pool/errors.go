package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the pool has been closed
	ErrClosed = errors.New("pool closed")

	// ErrInvalidConfig indicates an invalid pool configuration
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

// DisposeReason says why a resource left the pool for good.
type DisposeReason string

const (
	// ReasonExpired is used for idle resources removed by the expiry sweep.
	ReasonExpired DisposeReason = "expired"
	// ReasonOverflow is used for resources released into a full pool.
	ReasonOverflow DisposeReason = "overflow"
	// ReasonClosed is used for resources discarded because the pool closed.
	ReasonClosed DisposeReason = "closed"
	// ReasonPrefill is used for resources created during a prefill that failed.
	ReasonPrefill DisposeReason = "prefill"
	// ReasonDiscarded is used for checked out resources the caller gave up on.
	ReasonDiscarded DisposeReason = "discarded"
)

// FactoryError wraps a failure of the resource factory.
type FactoryError struct {
	Pool string
	Err  error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("pool %s: create resource: %v", e.Pool, e.Err)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}

// DisposeError wraps a failure (error or panic) of the disposal callback.
type DisposeError struct {
	Pool   string
	Reason DisposeReason
	Err    error
}

func (e *DisposeError) Error() string {
	return fmt.Sprintf("pool %s: dispose resource (%s): %v", e.Pool, e.Reason, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}
