// Package pool runs typed table operations on a fixed set of worker
// goroutines, each owning exactly one SQLite connection for its entire
// lifetime.
//
// # Architecture
//
// A Pool pre-creates an arena of N executors at construction, one per
// worker slot. Each worker goroutine resolves its slot's executor and
// serializes every statement it runs through that single connection;
// connections are never shared and never migrate between workers. SQLite's
// own locking serializes writes that reach the engine from different
// workers concurrently.
//
// Three call surfaces are exposed:
//
//   - Blocking: high-level operations (Select, InsertMany, Update, ...)
//     submit a closure and wait for its result.
//   - Future: Submit schedules an arbitrary closure and returns a Future
//     whose Done channel integrates with select loops.
//   - Streaming: SelectStream, DeleteReturning and ScanAll hand rows from
//     the producing worker to the caller through a bounded channel with
//     backpressure; the consumer iterates a cursor-style Stream.
//
// # Shutdown
//
// Shutdown transitions the pool open → closing → closed. New work is
// rejected with ErrPoolClosed, queued work drains, every in-flight stream
// observes cancellation within one row, and each worker closes its own
// connection exactly once after it stops taking tasks. Shutdown is
// idempotent.
package pool
