package scheduler

import (
	"errors"
	"fmt"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

var (
	// ErrInvalidDelay is returned for negative delays.
	ErrInvalidDelay = errors.New("scheduler: invalid delay")

	// ErrInvalidInterval is returned for repeat intervals below one tick.
	// It matches ErrInvalidDelay under errors.Is.
	ErrInvalidInterval = fmt.Errorf("%w: interval must be >= 1 tick", ErrInvalidDelay)

	ErrNilAction     = errors.New("scheduler: nil action")
	ErrNilRecurrence = errors.New("scheduler: nil recurrence")

	// ErrNoOccurrence is returned when a recurrence yields no first run.
	ErrNoOccurrence = errors.New("scheduler: recurrence has no next occurrence")
)

// TaskError describes an action that failed while the scheduler ran it.
// The task is discarded; a repeating task is not re-queued.
type TaskError struct {
	ID        TaskID
	Due       clock.Tick
	Tick      clock.Tick
	Repeating bool
	Inline    bool
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (due %d, ran at %d): %v", e.ID, e.Due, e.Tick, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking action.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
