// Package wallclock maps wall-clock schedules ("11:00", "3:00PM", cron) onto
// the tick scheduler.
package wallclock

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the normalized form of a schedule string.
type Kind int

const (
	KindDaily Kind = iota // once a day at a fixed local time
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

var ErrInvalidSpec = errors.New("wallclock: invalid schedule")

var (
	reClock24 = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	reClock12 = regexp.MustCompile(`^\d{1,2}:\d{2}\s*(AM|PM)$`)

	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Schedule is a parsed wall-clock schedule.
type Schedule struct {
	Kind   Kind
	Source string // input as given
	Cron   string // normalized cron expression

	sched cron.Schedule
}

// Parse accepts:
//   - 24-hour time of day: "11:00", "23:45"
//   - 12-hour time of day: "3:00AM", "11:30pm", "9:05 PM"
//   - cron (seconds optional): "*/5 * * * *", "0 30 9 * * MON-FRI", "@hourly"
//
// A "cron:" prefix forces cron parsing.
func Parse(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	}

	up := strings.ToUpper(s)
	switch {
	case reClock12.MatchString(up):
		t, err := time.Parse("3:04PM", strings.Join(strings.Fields(up), ""))
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, raw, err)
		}
		return daily(raw, t.Hour(), t.Minute())
	case reClock24.MatchString(s):
		t, err := time.Parse("15:04", s)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, raw, err)
		}
		return daily(raw, t.Hour(), t.Minute())
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(raw, s)
	}
	return Schedule{}, fmt.Errorf("%w: %q (use HH:MM, h:mmAM/PM or a cron expression)", ErrInvalidSpec, raw)
}

func daily(raw string, hour, minute int) (Schedule, error) {
	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	sched, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, raw, err)
	}
	return Schedule{Kind: KindDaily, Source: raw, Cron: expr, sched: sched}, nil
}

func parseCron(raw, expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("%w: empty cron expression", ErrInvalidSpec)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, raw, err)
	}
	return Schedule{Kind: KindCron, Source: raw, Cron: expr, sched: sched}, nil
}

func (s Schedule) String() string { return s.Source }

// Valid reports whether s came from Parse.
func (s Schedule) Valid() bool { return s.sched != nil }

// Next returns the first occurrence at or after t, in t's location.
// The zero time means the schedule never fires again.
func (s Schedule) Next(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	// cron.Schedule.Next is strictly after; step back so an exact match counts.
	return s.sched.Next(t.Add(-time.Nanosecond))
}

// after returns the first occurrence strictly after t.
func (s Schedule) after(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t)
}

// NextOccurrence parses spec and returns its next occurrence at or after now,
// evaluated in loc (time.Local when nil).
func NextOccurrence(spec string, now time.Time, loc *time.Location) (time.Time, error) {
	sched, err := Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidSpec, spec)
	}
	return next, nil
}

// UntilNext is the wait from now to the next occurrence of spec.
// It is zero when now is exactly on an occurrence.
func UntilNext(spec string, now time.Time, loc *time.Location) (time.Duration, error) {
	next, err := NextOccurrence(spec, now, loc)
	if err != nil {
		return 0, err
	}
	return next.Sub(now), nil
}
