package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

// TaskID identifies a scheduled task for cancellation. Ids are opaque; a
// repeating task keeps its id across every run.
type TaskID string

// NewTaskID returns a random (UUIDv4) task id.
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// Action is the work a task performs. A returned error (or a panic) marks the
// run as failed.
type Action func() error

// Func adapts a function that cannot fail.
func Func(fn func()) Action {
	return func() error {
		fn()
		return nil
	}
}

// FailureHandler observes failed runs. It is called on the goroutine that ran
// the action, without any scheduler lock held.
type FailureHandler func(err *TaskError)

// Event types published on the bus.
const (
	EventScheduled = "task.scheduled"
	EventExecuted  = "task.executed"
	EventFailed    = "task.failed"
	EventCancelled = "task.cancelled"
)

// TaskEvent is the payload of every scheduler bus event.
type TaskEvent struct {
	ID        TaskID
	Due       clock.Tick
	Tick      clock.Tick
	Repeating bool
	Inline    bool
	Duration  time.Duration
	Error     string
}

// entry is one queued task instance.
type entry struct {
	id     TaskID
	due    clock.Tick
	seq    uint64
	action Action
	repeat *repeating // nil for one-shot tasks

	// index is the heap position; -1 once the entry left the queue.
	index int
}

// PendingTask describes a queued entry.
type PendingTask struct {
	ID        TaskID
	Due       clock.Tick
	Repeating bool
}

// Stats are monotonically increasing counters.
type Stats struct {
	Scheduled   uint64 // entries queued by callers
	Inline      uint64 // zero-delay runs
	Executed    uint64 // successful queued runs
	Failed      uint64 // failed runs, inline ones included
	Cancelled   uint64 // entries removed or repeats stopped by Cancel
	Rescheduled uint64 // repeat successors queued
	Suppressed  uint64 // failure log lines dropped by the limiter
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Now      clock.Tick
	LastTick clock.Tick
	Pending  int
	NextDue  clock.Tick // valid when Pending > 0
	Running  TaskID     // empty when no queued action is executing
	Tasks    []PendingTask
	Stats    Stats
}
