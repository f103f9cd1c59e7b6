package scheduler

import (
	"errors"
	"time"

	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

// reportFailure records a failed run. A consistently failing repeating task
// produces one line per run at most, and bursts are capped by the limiter.
func (s *Scheduler) reportFailure(te *TaskError, dur time.Duration) {
	s.failed.Add(1)

	if lim := s.failLog.Load(); lim == nil || lim.Allow() {
		fields := []logx.Field{
			logx.String("task", string(te.ID)),
			logx.Int64("due", te.Due),
			logx.Int64("tick", te.Tick),
			logx.Bool("repeating", te.Repeating),
			logx.Duration("dur", dur),
			logx.Err(te.Err),
		}
		if n := s.suppressed.Swap(0); n > 0 {
			fields = append(fields, logx.Uint64("suppressed", n))
		}
		var pe *PanicError
		if errors.As(te.Err, &pe) {
			fields = append(fields, logx.Stack(string(pe.Stack)))
		}
		if te.Repeating {
			s.log.Error("repeating task failed; not rescheduling", fields...)
		} else {
			s.log.Error("task failed", fields...)
		}
	} else {
		s.suppressed.Add(1)
		s.suppressedTotal.Add(1)
	}

	s.publish(EventFailed, TaskEvent{
		ID:        te.ID,
		Due:       te.Due,
		Tick:      te.Tick,
		Repeating: te.Repeating,
		Inline:    te.Inline,
		Duration:  dur,
		Error:     te.Err.Error(),
	})

	if s.onFailure != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("failure handler panicked", logx.String("task", string(te.ID)), logx.Any("panic", r))
				}
			}()
			s.onFailure(te)
		}()
	}
}
