// ABOUTME: Streaming bridge moving rows from a producing worker to the consumer.
// ABOUTME: Bounded hand-off channel for backpressure; close-as-sentinel, error-in-band.

package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/litepool/litepool/orm"
)

// streamItem is one hand-off entry: a produced row, or the captured
// failure ending the sequence. Channel close is the terminal sentinel.
type streamItem[T any] struct {
	row T
	err error
}

// Stream is a cursor over rows produced inside a worker goroutine.
// Iterate with Next/Row, check Err afterwards, and always Close:
//
//	s, err := p.SelectStream(ctx, q)
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		use(s.Row())
//	}
//	if err := s.Err(); err != nil { ... }
//
// A Stream is consumed by one goroutine at a time. Abandoning iteration
// without Close leaks nothing once the pool shuts down, but Close is what
// unblocks the producer promptly.
type Stream[T any] struct {
	items  chan streamItem[T]
	cancel context.CancelFunc
	exited atomic.Bool // consumer walked away early

	drainOnce sync.Once
	cur       T
	err       error
	done      bool
}

// producer is the worker-side row source: it drives yield once per row
// and returns the first failure.
type producer[T any] func(ctx context.Context, exec *orm.Executor[T], yield func(T) error) error

// newStream schedules run on a worker and bridges its rows to the caller
// through a bounded channel of the pool's configured depth. The stream
// context is cancelled by the caller's ctx, by Close, and by pool
// shutdown, and the worker re-checks it before every push.
func (p *Pool[T]) newStream(ctx context.Context, run producer[T]) (*Stream[T], error) {
	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.root, cancel)

	s := &Stream[T]{
		items:  make(chan streamItem[T], p.cfg.StreamDepth),
		cancel: cancel,
	}

	err := p.submit(func(exec *orm.Executor[T]) {
		defer stop()
		defer close(s.items)

		yield := func(row T) error {
			// Checked first so cancellation wins over a free buffer slot:
			// a cancelled stream receives at most one more row.
			if err := sctx.Err(); err != nil {
				return err
			}
			select {
			case s.items <- streamItem[T]{row: row}:
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		}

		err := run(sctx, exec, yield)
		if err == nil || s.exited.Load() {
			return
		}
		if p.root.Err() != nil {
			// The pool, not the statement, ended this stream.
			err = ErrPoolClosed
		}
		// The cancelled stream context is usually already done here, so
		// a combined select could drop the error even with buffer space
		// free. Try the send alone first; it only falls through when the
		// buffer is full.
		select {
		case s.items <- streamItem[T]{err: err}:
			return
		default:
		}
		select {
		case s.items <- streamItem[T]{err: err}:
		case <-sctx.Done():
			// Consumer is gone and the buffer is full; the error has
			// nowhere to go. Terminating beats blocking the worker.
		}
	})
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	return s, nil
}

// Next advances to the next row. It returns false at the end of the
// sequence or on failure; check Err to tell the two apart.
func (s *Stream[T]) Next() bool {
	if s.done {
		return false
	}
	item, ok := <-s.items
	if !ok {
		s.done = true
		return false
	}
	if item.err != nil {
		s.err = item.err
		s.done = true
		s.cancel()
		return false
	}
	s.cur = item.row
	return true
}

// Row returns the row Next advanced to.
func (s *Stream[T]) Row() T { return s.cur }

// Err returns the failure that ended the stream, if any. Rows yielded
// before the failure remain valid.
func (s *Stream[T]) Err() error { return s.err }

// Close releases the stream: the producer observes cancellation at its
// next push and terminates, and any buffered rows are discarded. Safe to
// call multiple times and after normal exhaustion.
func (s *Stream[T]) Close() error {
	s.exited.Store(true)
	s.cancel()
	s.drainOnce.Do(func() {
		for range s.items {
		}
	})
	s.done = true
	return s.err
}
