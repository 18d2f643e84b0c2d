package serstack

import (
	"errors"
	"fmt"
)

// ErrAlignmentFailed signals that a frame could not be registered against the
// reference. It is an expected outcome, not an exceptional one: callers decide
// whether to skip the frame, try another strategy, or abort.
var ErrAlignmentFailed = errors.New("alignment failed")

// ErrCancelled is returned when a long-running operation is stopped through
// its progress callback (or when a caller declines a memory warning). It is
// never raised spontaneously.
var ErrCancelled = errors.New("operation cancelled")

// ErrNoTimestamps is returned by Timestamp when the container carries no
// timestamp trailer.
var ErrNoTimestamps = errors.New("no timestamp trailer")

// FormatError describes a malformed SER container. Field names the header
// field (or file region) that failed validation.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("ser: invalid %s: %s", e.Field, e.Reason)
}

// IOError wraps an underlying read or open failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ser: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IndexError reports a frame or timestamp index outside [0, Count).
type IndexError struct {
	What  string
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("ser: %s index %d out of bounds [0, %d)", e.What, e.Index, e.Count)
}
