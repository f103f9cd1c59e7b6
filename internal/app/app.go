// Package app wires the tick host: config, logging, the scheduler and its
// host loop, wall-clock planning, run history, metrics and systemd.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Spaxterr/lynxlib/internal/config"
	"github.com/Spaxterr/lynxlib/internal/eventbus"
	"github.com/Spaxterr/lynxlib/internal/host"
	"github.com/Spaxterr/lynxlib/internal/observability/metrics"
	"github.com/Spaxterr/lynxlib/internal/runtime/supervisor"
	"github.com/Spaxterr/lynxlib/internal/storage"
	"github.com/Spaxterr/lynxlib/internal/task/clock"
	"github.com/Spaxterr/lynxlib/internal/task/history"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
	"github.com/Spaxterr/lynxlib/internal/task/wallclock"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
	"github.com/Spaxterr/lynxlib/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	clock   *clock.Counter
	sched   *scheduler.Scheduler
	loop    *host.Loop
	planner *wallclock.Planner
	history *history.Recorder

	metrics *metrics.Metrics
	msrv    *metrics.Server
	live    *liveness

	// Read at startup only; systemd settings need a restart.
	notify   bool
	watchdog bool
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	slow, err := cfg.Scheduler.SlowRunDuration(0)
	if err != nil {
		return nil, err
	}
	hostCfg, err := mapHostConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	c := clock.NewCounter(0)
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithFailureLogLimit(cfg.Scheduler.FailureLogPerSec, cfg.Scheduler.FailureLogBurst),
	}
	if slow > 0 {
		schedOpts = append(schedOpts, scheduler.WithSlowRunThreshold(slow))
	}
	sched := scheduler.New(c, schedOpts...)

	m := metrics.New()
	loop := host.New(hostCfg, c, sched,
		host.WithLogger(log.With(logx.String("comp", "host"))),
		host.WithStepObserver(m.ObserveStep),
	)
	m.AttachScheduler(sched)
	m.AttachLoop(loop)
	m.AttachBus(bus)

	planner := wallclock.NewPlanner(sched,
		wallclock.WithLocation(loc),
		wallclock.WithLogger(log.With(logx.String("comp", "wallclock"))),
	)

	var rec *history.Recorder
	if store != nil {
		rec = history.New(bus, store, log.With(logx.String("comp", "history")))
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		clock:    c,
		sched:    sched,
		loop:     loop,
		planner:  planner,
		history:  rec,
		metrics:  m,
		notify:   cfg.Systemd.Notify,
		watchdog: cfg.Systemd.Watchdog,
	}
	a.live = newLiveness(sched.TicksPerSecond)
	loop.OnStep("liveness", a.live.step)
	a.msrv = metrics.NewServer(m.Registry(), a.Health, log.With(logx.String("comp", "metrics")))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Planner() *wallclock.Planner { return a.planner }

func (a *App) Loop() *host.Loop { return a.loop }

func (a *App) Clock() clock.Source { return a.clock }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// MetricsAddr is the bound metrics address, or "" when the server is off.
func (a *App) MetricsAddr() string { return a.msrv.Addr() }

// Health reports an error once the host loop stops stepping.
func (a *App) Health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return a.live.check()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.metrics.AttachSupervisor(a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	cfg := a.cfgm.Get()
	a.live.mark()
	a.sup.Go("host.loop", a.loop.Run)
	if a.history != nil {
		a.sup.Go("history.recorder", a.history.Run)
	}
	a.msrv.Reconfigure(a.sup.Context(), mapMetricsConfig(cfg))
	a.setHeartbeat(cfg.Host.HeartbeatTicks)

	// Task events at debug level; the history recorder keeps the durable copy.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if !a.log.Enabled(logx.LevelDebug) {
					continue
				}
				fields := []logx.Field{logx.String("type", e.Type)}
				if te, ok := e.Data.(scheduler.TaskEvent); ok {
					fields = append(fields, logx.String("task", string(te.ID)), logx.Int64("tick", te.Tick))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.notify {
		if a.watchdog {
			a.sup.Go0("systemd.watchdog", a.runWatchdog)
		}
		if sent, err := systemd.Ready(); err != nil {
			a.log.Warn("systemd ready notify failed", logx.Err(err))
		} else if sent {
			_, _ = systemd.Status("running at %d tps", a.sched.TicksPerSecond())
		}
	}

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("tps", a.sched.TicksPerSecond()),
		logx.String("timezone", a.planner.Location().String()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.notify {
		_, _ = systemd.Stopping()
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })

	// The host loop, history recorder and config watcher exit on cancel; the
	// recorder drains buffered events before returning.
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if n := a.sched.Len(); n > 0 {
		a.log.Info("pending tasks discarded", logx.Int("count", n), logx.Int64("tick", a.clock.CurrentTick()))
	}

	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Check loads and validates cfgPath without starting anything. Storage is
// opened and closed so a bad path or schema fails here.
func Check(cfgPath string) (*config.Config, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, logx.Nop())
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := st.Close(); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Metrics.Token) == "" && cfg.Metrics.Enabled && !cfg.Metrics.AllowInsecure {
		addr := strings.TrimSpace(cfg.Metrics.Addr)
		if addr == "" {
			addr = metrics.DefaultAddr
		}
		if !metrics.IsLoopbackAddr(addr) {
			return nil, fmt.Errorf("metrics.addr %q is not loopback: set metrics.token or metrics.allow_insecure", addr)
		}
	}
	return cfg, nil
}
