package pool

import "context"

// Future is the pending result of AcquireAsync.
type Future[T any] struct {
	done chan struct{}
	res  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func completedFuture[T any](res T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(res, err)
	return f
}

func (f *Future[T]) complete(res T, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the result is available and returns it.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.res, f.err
}

// Wait returns the result, or ctx.Err() if ctx ends before it is available.
// A completed result always wins over a cancelled ctx.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res, f.err
	default:
	}

	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then calls fn with the result on a new goroutine once it is available.
func (f *Future[T]) Then(fn func(res T, err error)) {
	go func() {
		<-f.done
		fn(f.res, f.err)
	}()
}
