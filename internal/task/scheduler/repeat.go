package scheduler

import (
	"math"
	"runtime/debug"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

// Recurrence decides when a repeating task runs next.
//
// Next receives the tick at which the previous run happened (or the tick of
// registration for the first run) and returns the next due tick. Returning
// false ends the recurrence. A due tick not after `after` is pushed to after+1
// so a recurrence can never re-queue into the tick being drained.
type Recurrence interface {
	Next(after clock.Tick) (clock.Tick, bool)
}

// Every repeats at a fixed tick interval. Intervals below 1 are rejected by
// ScheduleRepeating; used directly, they behave like 1.
func Every(interval int64) Recurrence { return every(interval) }

type every int64

func (e every) Next(after clock.Tick) (clock.Tick, bool) {
	n := int64(e)
	if n < 1 {
		n = 1
	}
	if after > math.MaxInt64-n {
		return 0, false
	}
	return after + n, true
}

// repeating is the wrapper that turns one run of an action into the next
// queued instance. It holds no reference to the scheduler; the scheduler asks
// it for a successor after each successful run and queues that successor
// through its normal insert path.
type repeating struct {
	rec Recurrence

	// stopped is set by Cancel while the instance is executing.
	// Guarded by Scheduler.mu.
	stopped bool
}

// successor builds the next instance for id after a run at tick ran. A
// panicking Recurrence is returned as a *PanicError and yields no successor.
func (r *repeating) successor(id TaskID, action Action, ran clock.Tick) (next *entry, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			next, ok, err = nil, false, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	due, ok := r.rec.Next(ran)
	if !ok {
		return nil, false, nil
	}
	if due <= ran {
		if ran == math.MaxInt64 {
			return nil, false, nil
		}
		due = ran + 1
	}
	return &entry{id: id, due: due, action: action, repeat: &repeating{rec: r.rec}, index: -1}, true, nil
}
