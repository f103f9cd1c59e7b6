package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
	"github.com/Spaxterr/lynxlib/pkg/systemd"
)

const heartbeatID scheduler.TaskID = "host.heartbeat"

// liveness records when the host loop last stepped.
type liveness struct {
	last  atomic.Int64 // unix nanos
	tps   func() int
	now   func() time.Time
	floor time.Duration
}

func newLiveness(tps func() int) *liveness {
	l := &liveness{tps: tps, now: time.Now, floor: 2 * time.Second}
	l.mark()
	return l
}

func (l *liveness) mark() { l.last.Store(l.now().UnixNano()) }

func (l *liveness) step(clock.Tick) { l.mark() }

// check fails when no step was seen for ten tick intervals (at least floor).
func (l *liveness) check() error {
	limit := 10 * clock.Interval(l.tps())
	if limit < l.floor {
		limit = l.floor
	}
	since := l.now().Sub(time.Unix(0, l.last.Load()))
	if since > limit {
		return fmt.Errorf("tick stalled for %s", since.Round(time.Millisecond))
	}
	return nil
}

// setHeartbeat (re)schedules the status task. n <= 0 removes it.
func (a *App) setHeartbeat(n int64) {
	a.sched.Cancel(heartbeatID)
	if n <= 0 {
		return
	}
	_, err := a.sched.ScheduleRepeating(n, scheduler.Func(func() {
		st := a.loop.Stats()
		a.log.Info("heartbeat",
			logx.Int64("tick", st.Tick),
			logx.Int("pending", a.sched.Len()),
			logx.Uint64("overruns", st.Overruns),
			logx.Duration("last_step", st.LastStep),
		)
	}), heartbeatID)
	if err != nil {
		a.log.Warn("heartbeat not scheduled", logx.Err(err))
	}
}

// runWatchdog pings systemd at half the unit's WatchdogSec while ticks keep
// advancing. A stalled loop stops the pings and lets systemd restart us.
func (a *App) runWatchdog(ctx context.Context) {
	iv, err := systemd.WatchdogInterval()
	if err != nil {
		a.log.Warn("systemd watchdog interval", logx.Err(err))
		return
	}
	if iv <= 0 {
		a.log.Debug("systemd watchdog not configured for this unit")
		return
	}
	t := time.NewTicker(iv / 2)
	defer t.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", iv))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.live.check(); err != nil {
				a.log.Warn("watchdog ping skipped", logx.Err(err))
				continue
			}
			if _, err := systemd.Watchdog(); err != nil {
				a.log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
