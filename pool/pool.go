// ABOUTME: Fixed-size worker pool where each worker owns one connection slot for its lifetime.
// ABOUTME: Covers the slot arena, task dispatch and the open/closing/closed shutdown sequence.

package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/litepool/litepool/orm"
	"github.com/litepool/litepool/schema"
)

// DefaultStreamDepth is the hand-off channel capacity used when Config
// leaves StreamDepth unset.
const DefaultStreamDepth = 128

// ConnFactory produces a new, ready-to-use connection handle. It is
// invoked once per worker slot at pool construction and must be safe to
// call that many times; sqlitedb.Factory is the usual implementation.
type ConnFactory func() (*sql.DB, error)

// Config configures a Pool.
type Config struct {
	// Factory creates one connection per worker slot. Required.
	Factory ConnFactory
	// Workers is the number of worker goroutines and therefore the
	// number of connections. Must be at least 1.
	Workers int
	// NamePrefix names workers in logs, "<prefix>-<slot>".
	NamePrefix string
	// StreamDepth is the bounded hand-off capacity of each streaming
	// call. Defaults to DefaultStreamDepth.
	StreamDepth int
	// Logger receives pool lifecycle diagnostics. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

type lifecycle int

const (
	stateOpen lifecycle = iota
	stateClosing
	stateClosed
)

type task[T any] func(*orm.Executor[T])

// slot binds one executor to one worker for the worker's lifetime.
type slot[T any] struct {
	exec      *orm.Executor[T]
	released  atomic.Bool
	closeOnce sync.Once
}

// Pool serializes typed table operations over a fixed arena of worker
// goroutines, one exclusively-owned connection per worker. All methods
// are safe to call from any goroutine; Shutdown is safe to call multiple
// times.
type Pool[T any] struct {
	cfg   Config
	tbl   *schema.Table[T]
	slots []*slot[T]
	tasks chan task[T]

	root   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      lifecycle
	inflight   sync.WaitGroup // submitters between admission and enqueue
	wg         sync.WaitGroup // worker goroutines
	closeConns atomic.Bool

	log *slog.Logger
}

// New creates the pool and pre-creates one connection per worker slot via
// cfg.Factory. A factory failure closes the already-created slots and
// fails construction; workers never start with a missing connection.
func New[T any](cfg Config, tbl *schema.Table[T], opts ...orm.Option[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: pool needs a connection factory", orm.ErrInvalidArgument)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: pool needs at least 1 worker, got %d", orm.ErrInvalidArgument, cfg.Workers)
	}
	if cfg.StreamDepth <= 0 {
		cfg.StreamDepth = DefaultStreamDepth
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "litepool"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	root, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		cfg:    cfg,
		tbl:    tbl,
		slots:  make([]*slot[T], cfg.Workers),
		tasks:  make(chan task[T], cfg.Workers),
		root:   root,
		cancel: cancel,
		log:    cfg.Logger.With("component", "pool", "table", tbl.Name()),
	}

	for i := range p.slots {
		db, err := cfg.Factory()
		if err != nil {
			for _, s := range p.slots[:i] {
				s.exec.Close()
			}
			cancel()
			return nil, fmt.Errorf("creating connection for slot %d: %w", i, err)
		}
		workerOpts := append([]orm.Option[T]{
			orm.WithLogger[T](p.log.With("worker", p.workerName(i))),
		}, opts...)
		p.slots[i] = &slot[T]{exec: orm.New(db, tbl, workerOpts...)}
	}

	for i := range p.slots {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("pool started", "workers", cfg.Workers, "stream_depth", cfg.StreamDepth)
	return p, nil
}

func (p *Pool[T]) workerName(slot int) string {
	return fmt.Sprintf("%s-%d", p.cfg.NamePrefix, slot)
}

// resolve returns the executor owned by the given slot. Fails once the
// slot has been released during shutdown; through the public surface a
// worker only resolves its own live slot.
func (p *Pool[T]) resolve(i int) (*orm.Executor[T], error) {
	s := p.slots[i]
	if s.released.Load() {
		return nil, fmt.Errorf("%w: slot %d", ErrNoExecutor, i)
	}
	return s.exec, nil
}

// release closes the slot's connection exactly once and marks it dead.
func (p *Pool[T]) release(i int, log *slog.Logger) {
	s := p.slots[i]
	s.released.Store(true)
	s.closeOnce.Do(func() {
		if err := s.exec.Close(); err != nil {
			log.Warn("closing worker connection", "error", err)
		}
	})
}

// worker runs tasks against its slot's executor until the task queue is
// closed and drained, then (when requested) closes its own connection.
// Closing only after the task loop ends guarantees no task is mid-flight
// on the connection being closed.
func (p *Pool[T]) worker(i int) {
	defer p.wg.Done()

	log := p.log.With("worker", p.workerName(i))
	exec, err := p.resolve(i)
	if err != nil {
		log.Error("worker has no executor", "error", err)
		return
	}
	log.Debug("worker started")

	for fn := range p.tasks {
		fn(exec)
	}

	if p.closeConns.Load() {
		p.release(i, log)
	}
	log.Debug("worker stopped")
}

// submit enqueues fn for execution on whichever worker becomes free.
// Tasks submitted serially from one goroutine are dispatched in order;
// no ordering holds across goroutines.
func (p *Pool[T]) submit(fn task[T]) error {
	p.mu.Lock()
	if p.state != stateOpen {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	select {
	case p.tasks <- fn:
		return nil
	case <-p.root.Done():
		return ErrPoolClosed
	}
}

// closing reports whether shutdown has begun.
func (p *Pool[T]) closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != stateOpen
}

// ShutdownOptions controls Shutdown behavior.
type ShutdownOptions struct {
	// Wait blocks until every worker has drained and exited.
	Wait bool
	// CloseConnections makes each worker close its own connection after
	// it stops taking tasks. When false, handles are left open for the
	// caller to manage.
	CloseConnections bool
}

// Shutdown transitions the pool to closed: new submissions fail with
// ErrPoolClosed, queued tasks drain, in-flight streams observe
// cancellation within one row, and each worker closes its connection
// exactly once. Safe to call multiple times; later calls are no-ops that
// still honor Wait.
func (p *Pool[T]) Shutdown(opts ShutdownOptions) error {
	p.mu.Lock()
	if p.state != stateOpen {
		p.mu.Unlock()
		if opts.Wait {
			p.wg.Wait()
		}
		return nil
	}
	p.state = stateClosing
	p.closeConns.Store(opts.CloseConnections)
	p.mu.Unlock()

	p.log.Info("pool shutting down", "close_connections", opts.CloseConnections)

	// Unblock pending submitters and in-flight streams first, then close
	// the queue once no submitter can be mid-send.
	p.cancel()
	p.inflight.Wait()
	close(p.tasks)

	if opts.Wait {
		p.wg.Wait()
	}

	p.mu.Lock()
	p.state = stateClosed
	p.mu.Unlock()
	p.log.Info("pool shut down")
	return nil
}

// Close shuts the pool down, waiting for workers and closing every
// connection. It implements io.Closer.
func (p *Pool[T]) Close() error {
	return p.Shutdown(ShutdownOptions{Wait: true, CloseConnections: true})
}

// Table returns the schema descriptor this pool operates on.
func (p *Pool[T]) Table() *schema.Table[T] { return p.tbl }

// Workers returns the configured worker count.
func (p *Pool[T]) Workers() int { return p.cfg.Workers }
