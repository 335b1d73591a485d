// ABOUTME: Error taxonomy for the executor: call-site errors, batch position errors.
// ABOUTME: Engine errors are wrapped verbatim with %w and never retried.

package orm

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for malformed call-site input, detected
// before any engine call.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrMalformedParams is returned when bind arguments do not match a
// statement's placeholders, detected before any engine call.
var ErrMalformedParams = errors.New("malformed parameters")

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// BatchError reports the first failing item of a batched execution. The
// whole batch is rolled back; Index is the zero-based position of the
// failing parameter set.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
