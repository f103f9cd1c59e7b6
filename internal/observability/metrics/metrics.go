// Package metrics exposes scheduler and host loop state to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Spaxterr/lynxlib/internal/eventbus"
	"github.com/Spaxterr/lynxlib/internal/host"
	"github.com/Spaxterr/lynxlib/internal/runtime/supervisor"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
)

const namespace = "lynx"

// Metrics owns a private registry. Scheduler and loop counters are read on
// scrape through Func collectors, so nothing is updated on the tick path
// except the step histogram.
type Metrics struct {
	reg  *prometheus.Registry
	step prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	step := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "step_duration_seconds",
		Help:      "Wall time of one host step, scheduler drain included.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	reg.MustRegister(step)
	return &Metrics{reg: reg, step: step}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveStep is a host.WithStepObserver callback.
func (m *Metrics) ObserveStep(d time.Duration) { m.step.Observe(d.Seconds()) }

func counter(sub, name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, fn)
}

func gauge(sub, name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, fn)
}

// AttachScheduler registers the scheduler counters and queue gauges.
func (m *Metrics) AttachScheduler(s *scheduler.Scheduler) {
	st := func(pick func(scheduler.Stats) uint64) func() float64 {
		return func() float64 { return float64(pick(s.Stats())) }
	}
	m.reg.MustRegister(
		counter("scheduler", "scheduled_total", "Tasks queued by callers.", st(func(x scheduler.Stats) uint64 { return x.Scheduled })),
		counter("scheduler", "inline_total", "Zero-delay tasks run on the calling goroutine.", st(func(x scheduler.Stats) uint64 { return x.Inline })),
		counter("scheduler", "executed_total", "Queued task runs that succeeded.", st(func(x scheduler.Stats) uint64 { return x.Executed })),
		counter("scheduler", "failed_total", "Task runs that returned an error or panicked.", st(func(x scheduler.Stats) uint64 { return x.Failed })),
		counter("scheduler", "cancelled_total", "Task instances removed or stopped by Cancel.", st(func(x scheduler.Stats) uint64 { return x.Cancelled })),
		counter("scheduler", "rescheduled_total", "Repeat successors queued.", st(func(x scheduler.Stats) uint64 { return x.Rescheduled })),
		counter("scheduler", "failure_logs_suppressed_total", "Failure log lines dropped by the rate limit.", st(func(x scheduler.Stats) uint64 { return x.Suppressed })),
		gauge("scheduler", "pending", "Queued task instances.", func() float64 { return float64(s.Len()) }),
		gauge("scheduler", "ticks_per_second", "Rate used to convert durations to ticks.", func() float64 { return float64(s.TicksPerSecond()) }),
	)
}

// AttachLoop registers host loop gauges.
func (m *Metrics) AttachLoop(l *host.Loop) {
	m.reg.MustRegister(
		gauge("host", "tick", "Current tick.", func() float64 { return float64(l.Stats().Tick) }),
		counter("host", "steps_total", "Steps performed.", func() float64 { return float64(l.Stats().Steps) }),
		counter("host", "overruns_total", "Steps that exceeded the overrun budget.", func() float64 { return float64(l.Stats().Overruns) }),
	)
}

func (m *Metrics) AttachBus(b eventbus.Bus) {
	m.reg.MustRegister(counter("eventbus", "dropped_total", "Events dropped because a subscriber was full.", func() float64 {
		return float64(eventbus.Dropped(b))
	}))
}

func (m *Metrics) AttachSupervisor(s *supervisor.Supervisor) {
	m.reg.MustRegister(gauge("supervisor", "goroutines", "Supervised goroutines currently running.", func() float64 {
		return float64(s.Active())
	}))
}
