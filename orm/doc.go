// Package orm executes typed table operations over exactly one SQLite
// connection.
//
// An Executor owns its connection for its entire lifetime and is not safe
// for concurrent use; the pool package gives each worker goroutine its own
// Executor and serializes access through it. Statement text comes from the
// schema package's composer; engine failures are wrapped and propagated to
// the caller, never retried.
package orm
