package scheduler

import (
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Spaxterr/lynxlib/internal/eventbus"
	"github.com/Spaxterr/lynxlib/internal/task/clock"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

// Scheduler queues actions by due tick and runs them from Tick.
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Source
	queue    taskQueue
	running  *entry // queued entry whose action is executing; nil otherwise
	lastTick clock.Tick

	// draining guards against concurrent or re-entrant Tick calls.
	draining atomic.Bool

	log       logx.Logger
	bus       eventbus.Bus
	onFailure FailureHandler
	newID     func() TaskID
	tps       atomic.Int64
	slowRun   time.Duration
	failLog   atomic.Pointer[rate.Limiter]

	scheduled   atomic.Uint64
	inline      atomic.Uint64
	executed    atomic.Uint64
	failed      atomic.Uint64
	cancelled   atomic.Uint64
	rescheduled atomic.Uint64
	suppressed  atomic.Uint64 // since the last emitted failure line

	suppressedTotal atomic.Uint64
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithBus publishes task.* events on bus.
func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

func WithFailureHandler(fn FailureHandler) Option {
	return func(s *Scheduler) { s.onFailure = fn }
}

// WithTicksPerSecond sets the rate used by ScheduleAfter.
func WithTicksPerSecond(tps int) Option { return func(s *Scheduler) { s.SetTicksPerSecond(tps) } }

// WithIDGenerator replaces the UUID generator used when callers pass no id.
func WithIDGenerator(fn func() TaskID) Option { return func(s *Scheduler) { s.newID = fn } }

// WithSlowRunThreshold logs a warning for actions that run longer than d.
// 0 disables the warning.
func WithSlowRunThreshold(d time.Duration) Option { return func(s *Scheduler) { s.slowRun = d } }

// WithFailureLogLimit bounds failure log lines to perSec with the given burst.
// perSec <= 0 logs every failure.
func WithFailureLogLimit(perSec float64, burst int) Option {
	return func(s *Scheduler) { s.SetFailureLogLimit(perSec, burst) }
}

// New returns an empty scheduler reading time from src.
func New(src clock.Source, opts ...Option) *Scheduler {
	if src == nil {
		panic("scheduler: nil clock source")
	}
	s := &Scheduler{
		clock:   src,
		queue:   newTaskQueue(),
		newID:   NewTaskID,
		slowRun: clock.Interval(clock.DefaultTicksPerSecond),
	}
	s.tps.Store(clock.DefaultTicksPerSecond)
	s.SetFailureLogLimit(5, 10)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.newID == nil {
		s.newID = NewTaskID
	}
	return s
}

// SetFailureLogLimit replaces the failure log limiter. Safe during hot-reload.
func (s *Scheduler) SetFailureLogLimit(perSec float64, burst int) {
	if perSec <= 0 {
		s.failLog.Store(nil)
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.failLog.Store(rate.NewLimiter(rate.Limit(perSec), burst))
}

// SetTicksPerSecond changes the rate used by ScheduleAfter. Values below 1 are
// ignored.
func (s *Scheduler) SetTicksPerSecond(tps int) {
	if tps < 1 {
		return
	}
	s.tps.Store(int64(tps))
}

func (s *Scheduler) TicksPerSecond() int { return int(s.tps.Load()) }

// Schedule runs action after delay ticks under a generated id.
func (s *Scheduler) Schedule(delay int64, action Action) (TaskID, error) {
	return s.ScheduleWithID(delay, action, "")
}

// ScheduleWithID runs action after delay ticks under id (generated when empty).
//
// A zero delay runs action on the calling goroutine before returning; nothing
// is queued, so cancelling the returned id has no effect. Failures of such an
// inline run are reported like any other failure and not returned.
func (s *Scheduler) ScheduleWithID(delay int64, action Action, id TaskID) (TaskID, error) {
	if action == nil {
		return "", ErrNilAction
	}
	if delay < 0 {
		return "", fmt.Errorf("%w: %d ticks", ErrInvalidDelay, delay)
	}
	if id == "" {
		id = s.newID()
	}
	if delay == 0 {
		s.runInline(id, action)
		return id, nil
	}
	now := s.clock.CurrentTick()
	if delay > math.MaxInt64-now {
		return "", fmt.Errorf("%w: %d ticks overflows the tick counter", ErrInvalidDelay, delay)
	}
	s.enqueue(&entry{id: id, due: now + delay, action: action, index: -1})
	return id, nil
}

// ScheduleAfter converts d to ticks at the configured rate and schedules action.
// A positive d that rounds to zero ticks still waits one tick.
func (s *Scheduler) ScheduleAfter(d time.Duration, action Action) (TaskID, error) {
	if d < 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidDelay, d)
	}
	ticks := clock.TicksFor(d, s.TicksPerSecond())
	if d > 0 && ticks == 0 {
		ticks = 1
	}
	return s.Schedule(ticks, action)
}

// ScheduleRepeating runs action every interval ticks under id (generated when
// empty), first at now+interval. After each successful run the next instance
// is queued at runTick+interval. A failed run ends the repetition.
func (s *Scheduler) ScheduleRepeating(interval int64, action Action, id TaskID) (TaskID, error) {
	if interval < 1 {
		return "", fmt.Errorf("%w (got %d)", ErrInvalidInterval, interval)
	}
	if now := s.clock.CurrentTick(); interval > math.MaxInt64-now {
		return "", fmt.Errorf("%w: %d ticks overflows the tick counter", ErrInvalidInterval, interval)
	}
	return s.ScheduleRecurring(Every(interval), action, id)
}

// ScheduleRecurring is ScheduleRepeating with an arbitrary recurrence.
func (s *Scheduler) ScheduleRecurring(rec Recurrence, action Action, id TaskID) (TaskID, error) {
	if action == nil {
		return "", ErrNilAction
	}
	if rec == nil {
		return "", ErrNilRecurrence
	}
	if id == "" {
		id = s.newID()
	}
	seed := &repeating{rec: rec}
	first, ok, err := seed.successor(id, action, s.clock.CurrentTick())
	if err != nil {
		return "", fmt.Errorf("scheduler: recurrence: %w", err)
	}
	if !ok {
		return "", ErrNoOccurrence
	}
	s.enqueue(first)
	return id, nil
}

func (s *Scheduler) enqueue(e *entry) {
	s.mu.Lock()
	s.queue.insert(e)
	s.mu.Unlock()

	s.scheduled.Add(1)
	s.log.Debug("task scheduled", logx.String("task", string(e.id)), logx.Int64("due", e.due), logx.Bool("repeating", e.repeat != nil))
	s.publish(EventScheduled, TaskEvent{ID: e.id, Due: e.due, Repeating: e.repeat != nil})
}

// Cancel removes every queued instance of id and stops a repeating instance of
// id that is executing right now from queuing a successor. The executing action
// itself always runs to completion. It returns how many instances were removed
// or stopped; unknown ids return 0.
func (s *Scheduler) Cancel(id TaskID) int {
	s.mu.Lock()
	removed := s.queue.removeID(id)
	stopped := false
	if r := s.running; r != nil && r.id == id && r.repeat != nil && !r.repeat.stopped {
		r.repeat.stopped = true
		stopped = true
	}
	s.mu.Unlock()

	n := len(removed)
	if stopped {
		n++
	}
	if n == 0 {
		return 0
	}
	s.cancelled.Add(uint64(n))
	s.log.Debug("task cancelled", logx.String("task", string(id)), logx.Int("removed", len(removed)), logx.Bool("stopped_running", stopped))
	for _, e := range removed {
		s.publish(EventCancelled, TaskEvent{ID: e.id, Due: e.due, Repeating: e.repeat != nil})
	}
	return n
}

// Tick runs every task due at or before current, in (due, insertion) order,
// on the calling goroutine. It must only be called by the host loop, once per
// step, after the step's other work. A failing action never stops the drain.
func (s *Scheduler) Tick(current clock.Tick) {
	if !s.draining.CompareAndSwap(false, true) {
		s.log.Warn("tick re-entered while draining; ignoring", logx.Int64("tick", current))
		return
	}
	defer s.draining.Store(false)

	s.mu.Lock()
	prev := s.lastTick
	s.lastTick = current
	s.mu.Unlock()
	if current < prev {
		s.log.Warn("tick went backwards", logx.Int64("tick", current), logx.Int64("previous", prev))
	}

	for {
		s.mu.Lock()
		e := s.queue.popDue(current)
		if e == nil {
			s.mu.Unlock()
			return
		}
		s.running = e
		s.mu.Unlock()

		s.runQueued(e, current)
	}
}

func (s *Scheduler) runQueued(e *entry, current clock.Tick) {
	start := time.Now()
	err := invoke(e.action)
	dur := time.Since(start)

	var next *entry
	if err == nil && e.repeat != nil {
		// A recurrence that panics ends the repetition like a failed run.
		next, _, err = e.repeat.successor(e.id, e.action, current)
	}

	// Stop flag and successor insert share one critical section so a Cancel
	// issued during the run can't slip between check and insert.
	s.mu.Lock()
	s.running = nil
	if next != nil && !e.repeat.stopped {
		s.queue.insert(next)
	} else {
		next = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.reportFailure(&TaskError{ID: e.id, Due: e.due, Tick: current, Repeating: e.repeat != nil, Err: err}, dur)
		return
	}

	s.executed.Add(1)
	s.noteDuration(e.id, dur)
	s.publish(EventExecuted, TaskEvent{ID: e.id, Due: e.due, Tick: current, Repeating: e.repeat != nil, Duration: dur})
	if next != nil {
		s.rescheduled.Add(1)
		s.log.Trace("task rescheduled", logx.String("task", string(e.id)), logx.Int64("due", next.due))
	}
}

func (s *Scheduler) runInline(id TaskID, action Action) {
	s.inline.Add(1)
	now := s.clock.CurrentTick()
	start := time.Now()
	err := invoke(action)
	dur := time.Since(start)
	if err != nil {
		s.reportFailure(&TaskError{ID: id, Due: now, Tick: now, Inline: true, Err: err}, dur)
		return
	}
	s.noteDuration(id, dur)
	s.publish(EventExecuted, TaskEvent{ID: id, Due: now, Tick: now, Inline: true, Duration: dur})
}

func (s *Scheduler) noteDuration(id TaskID, dur time.Duration) {
	if s.slowRun > 0 && dur >= s.slowRun {
		s.log.Warn("task exceeded tick budget", logx.String("task", string(id)), logx.Duration("dur", dur), logx.Duration("budget", s.slowRun))
	}
}

// invoke runs a with panic recovery.
func invoke(a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return a()
}

func (s *Scheduler) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
