// Package host drives the simulation step. Each step advances the tick
// counter, runs the registered step hooks, and then drains the scheduler so
// deferred work observes the state the step produced.
package host

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

type Config struct {
	TicksPerSecond int
	// OverrunWarn logs a warning when a step takes longer. 0 uses one tick
	// interval; negative disables the warning.
	OverrunWarn time.Duration
}

func (c Config) normalize() Config {
	if c.TicksPerSecond < 1 {
		c.TicksPerSecond = clock.DefaultTicksPerSecond
	}
	if c.OverrunWarn == 0 {
		c.OverrunWarn = clock.Interval(c.TicksPerSecond)
	}
	return c
}

// StepFunc is per-step simulation work. It runs on the loop goroutine before
// the scheduler drains.
type StepFunc func(tick clock.Tick)

type hook struct {
	id   uint64
	name string
	fn   StepFunc
}

// Stats describes the loop since it was created.
type Stats struct {
	Steps    uint64
	Overruns uint64
	LastStep time.Duration
	Tick     clock.Tick
}

type Loop struct {
	clock *clock.Counter
	sched *scheduler.Scheduler
	log   logx.Logger

	observe func(time.Duration)

	mu     sync.RWMutex
	cfg    Config
	hooks  []hook
	hookID uint64

	reload chan struct{}

	steps    atomic.Uint64
	overruns atomic.Uint64
	lastStep atomic.Int64
}

type Option func(*Loop)

func WithLogger(log logx.Logger) Option { return func(l *Loop) { l.log = log } }

// WithStepObserver receives the duration of every step.
func WithStepObserver(fn func(time.Duration)) Option { return func(l *Loop) { l.observe = fn } }

// New returns a loop advancing c and draining s. The scheduler's tick rate is
// kept in sync with cfg.
func New(cfg Config, c *clock.Counter, s *scheduler.Scheduler, opts ...Option) *Loop {
	if c == nil || s == nil {
		panic("host: nil clock or scheduler")
	}
	l := &Loop{
		clock:  c,
		sched:  s,
		cfg:    cfg.normalize(),
		reload: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	s.SetTicksPerSecond(l.cfg.TicksPerSecond)
	return l
}

func (l *Loop) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Apply changes the step rate of a running loop.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.normalize()
	l.mu.Lock()
	old := l.cfg
	l.cfg = cfg
	l.mu.Unlock()

	l.sched.SetTicksPerSecond(cfg.TicksPerSecond)
	if old.TicksPerSecond != cfg.TicksPerSecond {
		l.log.Info("tick rate changed", logx.Int("from", old.TicksPerSecond), logx.Int("to", cfg.TicksPerSecond))
		select {
		case l.reload <- struct{}{}:
		default:
		}
	}
}

// OnStep registers fn to run every step in registration order. The returned
// func unregisters it.
func (l *Loop) OnStep(name string, fn StepFunc) (remove func()) {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.hookID++
	id := l.hookID
	l.hooks = append(l.hooks, hook{id: id, name: name, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, h := range l.hooks {
				if h.id == id {
					l.hooks = append(l.hooks[:i:i], l.hooks[i+1:]...)
					return
				}
			}
		})
	}
}

// Run steps at the configured rate until ctx is done. A late pulse is not
// made up; the clock only advances once per pulse.
func (l *Loop) Run(ctx context.Context) error {
	cfg := l.Config()
	t := time.NewTicker(clock.Interval(cfg.TicksPerSecond))
	defer t.Stop()

	l.log.Info("host loop started", logx.Int("tps", cfg.TicksPerSecond), logx.Int64("tick", l.clock.CurrentTick()))
	defer func() {
		l.log.Info("host loop stopped", logx.Int64("tick", l.clock.CurrentTick()), logx.Uint64("steps", l.steps.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.reload:
			t.Reset(clock.Interval(l.Config().TicksPerSecond))
		case <-t.C:
			l.Step()
		}
	}
}

// Step performs one simulation step and returns its tick. Tests call it
// directly instead of Run.
func (l *Loop) Step() clock.Tick {
	start := time.Now()
	tick := l.clock.Advance()

	l.mu.RLock()
	hooks := make([]hook, len(l.hooks))
	copy(hooks, l.hooks)
	warn := l.cfg.OverrunWarn
	l.mu.RUnlock()

	for _, h := range hooks {
		l.runHook(h, tick)
	}
	l.sched.Tick(tick)

	dur := time.Since(start)
	l.steps.Add(1)
	l.lastStep.Store(int64(dur))
	if l.observe != nil {
		l.observe(dur)
	}
	if warn > 0 && dur > warn {
		l.overruns.Add(1)
		l.log.Warn("step overran", logx.Int64("tick", tick), logx.Duration("dur", dur), logx.Duration("budget", warn))
	}
	return tick
}

func (l *Loop) runHook(h hook, tick clock.Tick) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("step hook panicked", logx.String("hook", h.name), logx.Int64("tick", tick), logx.Err(fmt.Errorf("panic: %v", r)), logx.Stack(string(debug.Stack())))
		}
	}()
	h.fn(tick)
}

func (l *Loop) Stats() Stats {
	return Stats{
		Steps:    l.steps.Load(),
		Overruns: l.overruns.Load(),
		LastStep: time.Duration(l.lastStep.Load()),
		Tick:     l.clock.CurrentTick(),
	}
}
