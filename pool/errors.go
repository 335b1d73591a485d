// ABOUTME: Sentinel errors for pool lifecycle and slot-registry misuse.

package pool

import "errors"

// ErrPoolClosed is returned when work is submitted to a pool that has
// begun or finished shutting down. Work is never silently dropped.
var ErrPoolClosed = errors.New("pool is closed")

// ErrNoExecutor is returned when a worker slot is resolved after its
// executor has been released. This indicates a lifecycle bug in the
// caller; it cannot happen through the public surface.
var ErrNoExecutor = errors.New("no executor registered for slot")
