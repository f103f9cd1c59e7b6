package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
// path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// OverrunWarnDuration returns host.overrun_warn. Empty yields 0 (one tick
// interval); a negative value disables the warning.
func (h HostConfig) OverrunWarnDuration() (time.Duration, error) {
	s := strings.TrimSpace(h.OverrunWarn)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("host.overrun_warn: invalid duration %q: %w", h.OverrunWarn, err)
	}
	return d, nil
}

// SlowRunDuration returns scheduler.slow_run, or def when unset.
func (c SchedulerConfig) SlowRunDuration(def time.Duration) (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.slow_run", c.SlowRun, def)
}
