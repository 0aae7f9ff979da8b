// internal/sched/errors.go

package sched

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrInvalidHandle is returned when cancelling an id this Scheduler never issued.
	ErrInvalidHandle = errors.New("sched: invalid task handle")

	// ErrShutdownInProgress is returned when scheduling after Shutdown.
	ErrShutdownInProgress = errors.New("sched: shutdown in progress")

	// ErrClockUnavailable is returned when the clock fails. It halts the loop.
	ErrClockUnavailable = errors.New("sched: clock unavailable")

	// ErrLoopAlreadyRunning is returned when a second driver is started.
	ErrLoopAlreadyRunning = errors.New("sched: loop is already running")

	// ErrMicrotaskLimit is returned when one drain exceeds the configured microtask limit.
	ErrMicrotaskLimit = errors.New("sched: microtask limit exceeded")

	// ErrHandlerRegistered is returned when an unhandled error handler is registered twice.
	ErrHandlerRegistered = errors.New("sched: unhandled error handler already registered")
)

// TaskExecutionError wraps a failure raised by a task's action.
type TaskExecutionError struct {
	Err  error
	ID   TaskID
	Kind Kind
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("sched: %s %d failed: %v", e.Kind, e.ID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// PanicError is the error recorded when an action panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, so errors.Is and
// errors.As see through it.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func invalidHandle(id TaskID) error {
	return fmt.Errorf("%w: %d", ErrInvalidHandle, id)
}

func clockUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrClockUnavailable, err)
}
