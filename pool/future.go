// ABOUTME: Future-based submission surface: schedule a closure, collect its result later.
// ABOUTME: Done channel integrates with select loops; Wait gives the blocking surface.

package pool

import (
	"context"

	"github.com/litepool/litepool/orm"
)

// Future carries the eventual result of a submitted closure.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

// Done is closed when the result is available. Receive from it in a
// select loop for asynchronous consumption.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done. A context
// error abandons the wait, not the scheduled work.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Submit schedules fn on whichever worker becomes free and returns its
// Future. fn receives the pool's root context, which is cancelled at
// shutdown, and the worker's own executor. Fails immediately with
// ErrPoolClosed once shutdown has begun.
func Submit[T, R any](p *Pool[T], fn func(context.Context, *orm.Executor[T]) (R, error)) (*Future[R], error) {
	f := &Future[R]{done: make(chan struct{})}
	err := p.submit(func(exec *orm.Executor[T]) {
		defer close(f.done)
		f.val, f.err = fn(p.root, exec)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// run submits fn and waits for its result: the blocking call surface the
// high-level pool operations are built on.
func run[T, R any](ctx context.Context, p *Pool[T], fn func(*orm.Executor[T]) (R, error)) (R, error) {
	f, err := Submit(p, func(_ context.Context, exec *orm.Executor[T]) (R, error) {
		return fn(exec)
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return f.Wait(ctx)
}
