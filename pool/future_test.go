package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureWait(t *testing.T) {
	t.Run("completed result wins over cancelled context", func(t *testing.T) {
		f := completedFuture(42, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("pending future honours context", func(t *testing.T) {
		f := newFuture[int]()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := f.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("pending future completes", func(t *testing.T) {
		f := newFuture[string]()
		go f.complete("ready", nil)

		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ready", v)
	})
}

func TestFutureThen(t *testing.T) {
	f := newFuture[int]()

	got := make(chan int, 1)
	f.Then(func(v int, err error) {
		assert.ErrorIs(t, err, errBoom)
		got <- v
	})

	select {
	case <-got:
		t.Fatal("callback ran before completion")
	case <-time.After(10 * time.Millisecond):
	}

	f.complete(7, errBoom)

	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}

	_, err := f.Result()
	assert.ErrorIs(t, err, errBoom)
}
