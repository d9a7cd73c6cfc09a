// Package taskrunner runs batches of tasks concurrently, each on a resource
// borrowed from a pool.
package taskrunner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when NewRunner is given a non-positive limit.
const DefaultConcurrency = 8

// Task is a named unit of work that needs a resource of type T.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context, resource T) error
}

// Borrower lends a resource to fn and takes it back afterwards.
// *pool.Pool satisfies it.
type Borrower[T any] interface {
	Do(ctx context.Context, fn func(resource T) error) error
}

// Runner runs tasks with at most a fixed number in flight.
type Runner[T any] struct {
	pool        Borrower[T]
	concurrency int
}

// NewRunner creates a new Runner.
func NewRunner[T any](pool Borrower[T], concurrency int) *Runner[T] {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Runner[T]{
		pool:        pool,
		concurrency: concurrency,
	}
}

// RunTasks runs every task and returns the errors of those that failed,
// each prefixed with the task name. A failing task does not stop the others.
func (r *Runner[T]) RunTasks(ctx context.Context, tasks []Task[T]) []error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	g.SetLimit(r.concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			if err := r.run(ctx, task); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()

	return errs
}

// Run runs tasks until the first failure, which cancels the context passed to
// the remaining tasks and is returned.
func (r *Runner[T]) Run(ctx context.Context, tasks []Task[T]) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			return r.run(gctx, task)
		})
	}

	return g.Wait()
}

func (r *Runner[T]) run(ctx context.Context, task Task[T]) error {
	err := r.pool.Do(ctx, func(resource T) error {
		return task.Run(ctx, resource)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", task.Name, err)
	}

	return nil
}
