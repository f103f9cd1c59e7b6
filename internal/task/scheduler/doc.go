// Package scheduler runs deferred and repeating work on tick boundaries.
//
// Time is measured in ticks read from a clock.Source, never in wall time.
// The scheduler is responsible for:
//   - ordering pending tasks by due tick (FIFO among equal ticks)
//   - draining due tasks when the host loop calls Tick
//   - re-queuing repeating tasks after each successful run
//   - cancellation by task id from any goroutine
//
// Only the host loop goroutine may call Tick. Every other method is safe for
// concurrent use, including from inside a running action.
package scheduler
