package session

import (
	"context"
	"sync"
)

// Task is the pending result of an asynchronous operation.
type Task[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	val    T
	err    error
}

func start[T any](parent context.Context, wg *sync.WaitGroup, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(parent)
	t := &Task[T]{done: make(chan struct{}), cancel: cancel}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		val, err := fn(ctx)
		t.finish(val, err)
	}()
	return t
}

// failed returns a task that has already completed with err.
func failed[T any](err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{}), cancel: func() {}}
	var zero T
	t.finish(zero, err)
	return t
}

func (t *Task[T]) finish(val T, err error) {
	t.once.Do(func() {
		t.val, t.err = val, err
		close(t.done)
	})
}

// Done is closed once the result is available.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. Giving up on the
// wait does not cancel the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the task to stop. Its result becomes the cancellation error
// unless it already finished.
func (t *Task[T]) Cancel() { t.cancel() }
