package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrHolidayFrozen   = errors.New("topic is on holiday: publication-facing stages are frozen")
	ErrScanRunning     = errors.New("a duplicate scan is already running for this topic")
	ErrNotHeld         = errors.New("candidate is not awaiting review")
	ErrImmutable       = errors.New("published stories are immutable")
)

// FetchError is a SourceFetchFailure: recorded against the source and
// retried on the next poll, never fatal to the pipeline.
type FetchError struct {
	SourceID int64
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source %d (%s): %v", e.SourceID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports a write that still failed after retries. The
// previously committed state remains the visible state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
