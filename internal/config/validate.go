package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks value ranges and formats. It does not touch the network or
// the filesystem.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		bad("logging.level: unknown level %q", lvl)
	}
	if c.Logging.MaxErrorsPerSec < 0 {
		bad("logging.max_errors_per_sec must be >= 0")
	}

	if tps := c.Host.TicksPerSecond; tps < 0 || tps > 1000 {
		bad("host.ticks_per_second must be within 0..1000 (got %d)", tps)
	}
	if strings.TrimSpace(c.Host.OverrunWarn) != "" {
		if _, err := time.ParseDuration(strings.TrimSpace(c.Host.OverrunWarn)); err != nil {
			bad("host.overrun_warn: %v", err)
		}
	}
	if c.Host.HeartbeatTicks < 0 {
		bad("host.heartbeat_ticks must be >= 0")
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			bad("scheduler.timezone: %v", err)
		}
	}
	if math.IsNaN(c.Scheduler.FailureLogPerSec) || math.IsInf(c.Scheduler.FailureLogPerSec, 0) {
		bad("scheduler.failure_log_per_sec must be finite")
	}
	if c.Scheduler.FailureLogBurst < 0 {
		bad("scheduler.failure_log_burst must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.slow_run", c.Scheduler.SlowRun); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
	}

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			bad("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
		}
		if st.HistoryLimit < 0 {
			bad("storage.history_limit must be >= 0")
		}
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) != "" && !strings.Contains(c.Metrics.Addr, ":") {
		bad("metrics.addr must be host:port (got %q)", c.Metrics.Addr)
	}
	if c.Systemd.Watchdog && !c.Systemd.Notify {
		bad("systemd.watchdog requires systemd.notify")
	}

	return errors.Join(errs...)
}

// Location resolves scheduler.timezone. Empty means time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
