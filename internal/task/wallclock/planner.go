package wallclock

import (
	"sync"
	"time"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

// Planner schedules actions at wall-clock times by converting the wait until
// the next occurrence into ticks at the scheduler's current rate.
//
// The tick conversion assumes the host keeps its nominal rate; a lagging host
// fires late by however much it lags.
type Planner struct {
	s   *scheduler.Scheduler
	log logx.Logger
	now func() time.Time

	mu  sync.RWMutex
	loc *time.Location
}

type Option func(*Planner)

// WithLocation evaluates schedules in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(p *Planner) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithNow replaces the wall clock. Tests use it to pin time.
func WithNow(fn func() time.Time) Option {
	return func(p *Planner) {
		if fn != nil {
			p.now = fn
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(p *Planner) { p.log = log } }

func NewPlanner(s *scheduler.Scheduler, opts ...Option) *Planner {
	p := &Planner{s: s, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// SetLocation switches the timezone used for schedules evaluated from now on.
func (p *Planner) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	p.mu.Lock()
	p.loc = loc
	p.mu.Unlock()
}

func (p *Planner) Location() *time.Location {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loc
}

func (p *Planner) wallNow() time.Time { return p.now().In(p.Location()) }

// At runs action once at the next occurrence of spec. When that occurrence is
// less than half a tick away the action runs before At returns.
func (p *Planner) At(spec string, action scheduler.Action) (scheduler.TaskID, error) {
	sched, err := Parse(spec)
	if err != nil {
		return "", err
	}
	now := p.wallNow()
	next := sched.Next(now)
	if next.IsZero() {
		return "", scheduler.ErrNoOccurrence
	}
	delay := clock.TicksFor(next.Sub(now), p.s.TicksPerSecond())
	id, err := p.s.Schedule(delay, action)
	if err != nil {
		return "", err
	}
	p.log.Debug("wall-clock task planned", logx.String("task", string(id)), logx.String("spec", sched.Source), logx.Int64("delay_ticks", delay))
	return id, nil
}

// Every runs action at every occurrence of spec under id (generated when
// empty). The next occurrence is re-evaluated after each run, so drift does
// not accumulate across days.
func (p *Planner) Every(spec string, action scheduler.Action, id scheduler.TaskID) (scheduler.TaskID, error) {
	sched, err := Parse(spec)
	if err != nil {
		return "", err
	}
	id, err = p.s.ScheduleRecurring(p.Recurrence(sched), action, id)
	if err != nil {
		return "", err
	}
	p.log.Debug("wall-clock task registered", logx.String("task", string(id)), logx.String("spec", sched.Source), logx.String("kind", sched.Kind.String()))
	return id, nil
}

// Recurrence adapts sched to scheduler.Recurrence.
func (p *Planner) Recurrence(sched Schedule) *Recurrence {
	return &Recurrence{sched: sched, p: p}
}

// Recurrence fires at each occurrence of a wall-clock schedule.
type Recurrence struct {
	sched Schedule
	p     *Planner

	mu   sync.Mutex
	last time.Time // occurrence targeted by the previous Next
}

// Next implements scheduler.Recurrence.
func (r *Recurrence) Next(after clock.Tick) (clock.Tick, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.p.wallNow()
	var next time.Time
	if r.last.IsZero() {
		next = r.sched.Next(now)
	} else {
		// A run can land a little before its occurrence because of tick
		// rounding; never target the same occurrence twice.
		from := now
		if r.last.After(from) {
			from = r.last
		}
		next = r.sched.after(from)
	}
	if next.IsZero() {
		return 0, false
	}
	r.last = next

	ticks := clock.TicksFor(next.Sub(now), r.p.s.TicksPerSecond())
	if ticks < 1 {
		ticks = 1
	}
	return after + ticks, true
}

func (r *Recurrence) Schedule() Schedule { return r.sched }
