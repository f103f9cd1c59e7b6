package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Spaxterr/lynxlib/internal/eventbus"
	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

// driver mimics the host loop: advance the clock, then drain.
type driver struct {
	c *clock.Counter
	s *Scheduler
}

func newDriver(opts ...Option) *driver {
	c := clock.NewCounter(0)
	return &driver{c: c, s: New(c, opts...)}
}

// to advances one tick at a time up to and including t.
func (d *driver) to(t clock.Tick) {
	for d.c.CurrentTick() < t {
		d.s.Tick(d.c.Advance())
	}
}

// recorder collects the ticks at which an action ran.
type recorder struct {
	mu    sync.Mutex
	c     *clock.Counter
	ticks []clock.Tick
}

func (r *recorder) action() Action {
	return Func(func() {
		r.mu.Lock()
		r.ticks = append(r.ticks, r.c.CurrentTick())
		r.mu.Unlock()
	})
}

func (r *recorder) got() []clock.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]clock.Tick(nil), r.ticks...)
}

func equalTicks(a, b []clock.Tick) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduleDelayHonored(t *testing.T) {
	t.Parallel()
	for _, delay := range []int64{1, 2, 5, 17, 100} {
		delay := delay
		t.Run(fmt.Sprintf("delay=%d", delay), func(t *testing.T) {
			t.Parallel()
			d := newDriver()
			d.to(3)
			rec := &recorder{c: d.c}
			if _, err := d.s.Schedule(delay, rec.action()); err != nil {
				t.Fatalf("Schedule error: %v", err)
			}
			d.to(3 + delay - 1)
			if n := len(rec.got()); n != 0 {
				t.Fatalf("ran %d times before due tick", n)
			}
			d.to(3 + delay + 10)
			if got := rec.got(); !equalTicks(got, []clock.Tick{3 + delay}) {
				t.Fatalf("ran at %v, want [%d]", got, 3+delay)
			}
		})
	}
}

func TestScenarioA_DelayFive(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var runs atomic.Int32
	if _, err := d.s.Schedule(5, Func(func() { runs.Add(1) })); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	for tick := clock.Tick(1); tick <= 4; tick++ {
		d.to(tick)
		if n := runs.Load(); n != 0 {
			t.Fatalf("after Tick(%d) runs = %d, want 0", tick, n)
		}
	}
	d.to(5)
	if n := runs.Load(); n != 1 {
		t.Fatalf("after Tick(5) runs = %d, want 1", n)
	}
}

func TestScenarioB_RepeatThenCancel(t *testing.T) {
	t.Parallel()
	d := newDriver()
	rec := &recorder{c: d.c}
	id, err := d.s.ScheduleRepeating(2, rec.action(), "X")
	if err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	if id != "X" {
		t.Fatalf("id = %q, want X", id)
	}

	d.to(4)
	if got := rec.got(); !equalTicks(got, []clock.Tick{2, 4}) {
		t.Fatalf("ran at %v, want [2 4]", got)
	}
	if n := d.s.Cancel("X"); n != 1 {
		t.Fatalf("Cancel removed %d, want 1", n)
	}
	d.to(20)
	if got := rec.got(); !equalTicks(got, []clock.Tick{2, 4}) {
		t.Fatalf("ran at %v after cancel, want [2 4]", got)
	}
	if d.s.Pending("X") {
		t.Fatal("X still pending after cancel")
	}
}

func TestScenarioC_ZeroDelayRunsInline(t *testing.T) {
	t.Parallel()
	d := newDriver()
	ran := false
	id, err := d.s.Schedule(0, Func(func() { ran = true }))
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if !ran {
		t.Fatal("zero-delay action did not run before Schedule returned")
	}
	if id == "" {
		t.Fatal("zero-delay Schedule should still return an id")
	}
	if d.s.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", d.s.Len())
	}
	if n := d.s.Cancel(id); n != 0 {
		t.Fatalf("Cancel of inline id removed %d, want 0", n)
	}

	ran = false
	d.to(10)
	if ran {
		t.Fatal("inline action ran again from Tick")
	}
	if st := d.s.Stats(); st.Inline != 1 || st.Scheduled != 0 {
		t.Fatalf("stats = %+v, want Inline=1 Scheduled=0", st)
	}
}

func TestScenarioD_SameDueTickIsFIFO(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if _, err := d.s.Schedule(3, Func(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}
	d.to(3)
	if len(order) != 10 {
		t.Fatalf("ran %d tasks in one tick, want 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want insertion order", order)
		}
	}
}

func TestTickDrainsInDueOrder(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var order []string
	add := func(name string, delay int64) {
		if _, err := d.s.Schedule(delay, Func(func() { order = append(order, name) })); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}
	add("late", 9)
	add("early", 2)
	add("mid", 5)

	// A single jump drains everything that became due.
	d.c.Set(10)
	d.s.Tick(10)
	want := []string{"early", "mid", "late"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCancelBeforeDuePreventsRun(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var runs atomic.Int32
	id, err := d.s.Schedule(4, Func(func() { runs.Add(1) }))
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	d.to(3)
	if n := d.s.Cancel(id); n != 1 {
		t.Fatalf("Cancel removed %d, want 1", n)
	}
	d.to(10)
	if n := runs.Load(); n != 0 {
		t.Fatalf("cancelled task ran %d times", n)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	d := newDriver()
	id, err := d.s.Schedule(4, Func(func() {}))
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if n := d.s.Cancel(id); n != 1 {
		t.Fatalf("first Cancel = %d, want 1", n)
	}
	if n := d.s.Cancel(id); n != 0 {
		t.Fatalf("second Cancel = %d, want 0", n)
	}
	if n := d.s.Cancel("never-registered"); n != 0 {
		t.Fatalf("Cancel(unknown) = %d, want 0", n)
	}
	if st := d.s.Stats(); st.Cancelled != 1 {
		t.Fatalf("Cancelled = %d, want 1", st.Cancelled)
	}
}

func TestCancelRemovesDuplicateRegistrations(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var runs atomic.Int32
	for _, delay := range []int64{2, 5, 5} {
		if _, err := d.s.ScheduleWithID(delay, Func(func() { runs.Add(1) }), "dup"); err != nil {
			t.Fatalf("ScheduleWithID error: %v", err)
		}
	}
	if n := d.s.Cancel("dup"); n != 3 {
		t.Fatalf("Cancel removed %d, want 3", n)
	}
	d.to(10)
	if n := runs.Load(); n != 0 {
		t.Fatalf("runs = %d, want 0", n)
	}
}

func TestRepeatCadence(t *testing.T) {
	t.Parallel()
	d := newDriver()
	d.to(7)
	rec := &recorder{c: d.c}
	if _, err := d.s.ScheduleRepeating(3, rec.action(), "beat"); err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	d.to(19)
	want := []clock.Tick{10, 13, 16, 19}
	if got := rec.got(); !equalTicks(got, want) {
		t.Fatalf("ran at %v, want %v", got, want)
	}
	if d.s.Len() != 1 {
		t.Fatalf("queue len = %d, want exactly one pending instance", d.s.Len())
	}
}

func TestRepeatRescheduledFromExecutionTick(t *testing.T) {
	t.Parallel()
	d := newDriver()
	rec := &recorder{c: d.c}
	if _, err := d.s.ScheduleRepeating(2, rec.action(), "r"); err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	// The host stalls and the next pulse arrives late at tick 5.
	d.c.Set(5)
	d.s.Tick(5)
	d.to(9)
	want := []clock.Tick{5, 7, 9}
	if got := rec.got(); !equalTicks(got, want) {
		t.Fatalf("ran at %v, want %v", got, want)
	}
}

func TestRepeatSelfCancelStopsSuccessor(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var runs atomic.Int32
	_, err := d.s.ScheduleRepeating(1, Func(func() {
		if runs.Add(1) == 3 {
			d.s.Cancel("self")
		}
	}), "self")
	if err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	d.to(20)
	if n := runs.Load(); n != 3 {
		t.Fatalf("runs = %d, want 3", n)
	}
	if d.s.Pending("self") {
		t.Fatal("self-cancelled task still pending")
	}
}

func TestCancelDuringInFlightRepeat(t *testing.T) {
	t.Parallel()
	d := newDriver()
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	_, err := d.s.ScheduleRepeating(2, Func(func() {
		if runs.Add(1) == 2 {
			close(started)
			<-release
		}
	}), "X")
	if err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	d.to(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.to(4)
	}()
	<-started
	if n := d.s.Cancel("X"); n != 1 {
		t.Fatalf("Cancel during run = %d, want 1", n)
	}
	if snap := d.s.Snapshot(); snap.Running != "X" {
		t.Fatalf("Running = %q, want X", snap.Running)
	}
	close(release)
	<-done

	d.to(30)
	if n := runs.Load(); n != 2 {
		t.Fatalf("runs = %d, want 2 (no run after cancel)", n)
	}
	if d.s.Pending("X") {
		t.Fatal("X re-queued after in-flight cancel")
	}
}

func TestCancelDoesNotBlockOnRunningAction(t *testing.T) {
	t.Parallel()
	d := newDriver()
	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := d.s.Schedule(1, Func(func() {
		close(started)
		<-release
	})); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	other, err := d.s.Schedule(5, Func(func() {}))
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.to(1)
	}()
	<-started

	// Producers keep working while an action holds the driver.
	if n := d.s.Cancel(other); n != 1 {
		t.Fatalf("Cancel = %d, want 1", n)
	}
	if _, err := d.s.Schedule(3, Func(func() {})); err != nil {
		t.Fatalf("Schedule during run: %v", err)
	}
	close(release)
	<-done
}

func TestFailureIsolation(t *testing.T) {
	t.Parallel()
	var failures []*TaskError
	d := newDriver(WithFailureHandler(func(err *TaskError) { failures = append(failures, err) }))

	var ran []string
	mustSchedule := func(name string, a Action) {
		if _, err := d.s.ScheduleWithID(2, a, TaskID(name)); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}
	mustSchedule("first", Func(func() { ran = append(ran, "first") }))
	mustSchedule("boom", func() error { return errors.New("boom") })
	mustSchedule("panic", Func(func() { panic("kaboom") }))
	mustSchedule("last", Func(func() { ran = append(ran, "last") }))

	d.to(2)
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "last" {
		t.Fatalf("ran = %v, want [first last]", ran)
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	if failures[0].ID != "boom" || failures[0].Tick != 2 || failures[0].Due != 2 {
		t.Fatalf("unexpected failure %+v", failures[0])
	}
	if !IsPanic(failures[1].Err) {
		t.Fatalf("panic not converted to PanicError: %v", failures[1].Err)
	}
	if st := d.s.Stats(); st.Failed != 2 || st.Executed != 2 {
		t.Fatalf("stats = %+v, want Failed=2 Executed=2", st)
	}
	if d.s.Len() != 0 {
		t.Fatalf("failed tasks re-queued: len=%d", d.s.Len())
	}
}

func TestFailingRepeatIsNotRescheduled(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var runs atomic.Int32
	_, err := d.s.ScheduleRepeating(1, func() error {
		if runs.Add(1) == 2 {
			return errors.New("flaky")
		}
		return nil
	}, "flaky")
	if err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	d.to(10)
	if n := runs.Load(); n != 2 {
		t.Fatalf("runs = %d, want 2", n)
	}
	if d.s.Pending("flaky") {
		t.Fatal("failing repeat re-queued")
	}
}

type recurrenceFunc func(after clock.Tick) (clock.Tick, bool)

func (f recurrenceFunc) Next(after clock.Tick) (clock.Tick, bool) { return f(after) }

// scripted hands out dues in order, then ends.
func scripted(dues ...clock.Tick) Recurrence {
	var mu sync.Mutex
	return recurrenceFunc(func(clock.Tick) (clock.Tick, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(dues) == 0 {
			return 0, false
		}
		due := dues[0]
		dues = dues[1:]
		return due, true
	})
}

func TestRecurrenceDecidesNextRun(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rec  Recurrence
		want []clock.Tick
	}{
		{name: "ends when next reports false", rec: scripted(3, 6), want: []clock.Tick{3, 6}},
		{name: "single occurrence", rec: scripted(4), want: []clock.Tick{4}},
		{name: "due at run tick moves to next tick", rec: scripted(2, 2), want: []clock.Tick{2, 3}},
		{name: "due in the past moves to next tick", rec: scripted(2, 1, 9), want: []clock.Tick{2, 3, 9}},
		{name: "first due not in the future", rec: scripted(0), want: []clock.Tick{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := newDriver()
			rec := &recorder{c: d.c}
			if _, err := d.s.ScheduleRecurring(tt.rec, rec.action(), "r"); err != nil {
				t.Fatalf("ScheduleRecurring error: %v", err)
			}
			d.to(20)
			if got := rec.got(); !equalTicks(got, tt.want) {
				t.Fatalf("ran at %v, want %v", got, tt.want)
			}
			if d.s.Pending("r") || d.s.Len() != 0 {
				t.Fatalf("ended recurrence still queued: len=%d", d.s.Len())
			}
		})
	}
}

func TestScheduleRecurringWithoutOccurrence(t *testing.T) {
	t.Parallel()
	d := newDriver()
	if _, err := d.s.ScheduleRecurring(scripted(), Func(func() {}), "none"); !errors.Is(err, ErrNoOccurrence) {
		t.Fatalf("err = %v, want ErrNoOccurrence", err)
	}
	if d.s.Len() != 0 {
		t.Fatalf("len = %d, want 0", d.s.Len())
	}

	broken := recurrenceFunc(func(clock.Tick) (clock.Tick, bool) { panic("no schedule") })
	id, err := d.s.ScheduleRecurring(broken, Func(func() {}), "broken")
	if !IsPanic(err) || id != "" {
		t.Fatalf("ScheduleRecurring = %q, %v; want panic error", id, err)
	}
	if d.s.Len() != 0 {
		t.Fatalf("len = %d, want 0", d.s.Len())
	}
}

func TestRepeatEndsBeforeTickOverflow(t *testing.T) {
	t.Parallel()
	c := clock.NewCounter(math.MaxInt64 - 10)
	d := &driver{c: c, s: New(c)}
	rec := &recorder{c: c}
	if _, err := d.s.ScheduleRepeating(4, rec.action(), "edge"); err != nil {
		t.Fatalf("ScheduleRepeating error: %v", err)
	}
	d.to(math.MaxInt64)
	want := []clock.Tick{math.MaxInt64 - 6, math.MaxInt64 - 2}
	if got := rec.got(); !equalTicks(got, want) {
		t.Fatalf("ran at %v, want %v", got, want)
	}
	if d.s.Pending("edge") {
		t.Fatal("repeat queued past the end of the tick counter")
	}
	if _, ok := Every(4).Next(math.MaxInt64 - 2); ok {
		t.Fatal("Every(4).Next near the limit should end")
	}
}

func TestPanickingRecurrenceIsIsolated(t *testing.T) {
	t.Parallel()
	var failures []*TaskError
	d := newDriver(WithFailureHandler(func(err *TaskError) { failures = append(failures, err) }))

	rec := &recorder{c: d.c}
	bad := recurrenceFunc(func(after clock.Tick) (clock.Tick, bool) {
		if after > 0 {
			panic("broken recurrence")
		}
		return after + 1, true
	})
	if _, err := d.s.ScheduleRecurring(bad, rec.action(), "bad"); err != nil {
		t.Fatalf("ScheduleRecurring error: %v", err)
	}
	otherRan := false
	if _, err := d.s.ScheduleWithID(1, Func(func() { otherRan = true }), "other"); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	d.to(5)
	if !otherRan {
		t.Fatal("task due on the same tick was skipped")
	}
	if got := rec.got(); !equalTicks(got, []clock.Tick{1}) {
		t.Fatalf("bad ran at %v, want [1]", got)
	}
	if len(failures) != 1 || failures[0].ID != "bad" || !failures[0].Repeating || !IsPanic(failures[0].Err) {
		t.Fatalf("failures = %+v, want one repeating panic for bad", failures)
	}
	if snap := d.s.Snapshot(); snap.Running != "" || snap.Pending != 0 {
		t.Fatalf("snapshot = %+v, want idle and empty", snap)
	}
	if n := d.s.Cancel("bad"); n != 0 {
		t.Fatalf("Cancel removed %d, want 0", n)
	}
}

func TestInlineFailureIsReportedNotReturned(t *testing.T) {
	t.Parallel()
	var got *TaskError
	d := newDriver(WithFailureHandler(func(err *TaskError) { got = err }))
	id, err := d.s.Schedule(0, func() error { return errors.New("nope") })
	if err != nil {
		t.Fatalf("Schedule returned action error: %v", err)
	}
	if got == nil || got.ID != id || !got.Inline {
		t.Fatalf("failure handler got %+v", got)
	}
}

func TestInvalidDelays(t *testing.T) {
	t.Parallel()
	d := newDriver()
	d.to(5)
	noop := Func(func() {})
	tests := []struct {
		name string
		call func() (TaskID, error)
		want error
	}{
		{name: "negative delay", call: func() (TaskID, error) { return d.s.Schedule(-1, noop) }, want: ErrInvalidDelay},
		{name: "negative duration", call: func() (TaskID, error) { return d.s.ScheduleAfter(-time.Second, noop) }, want: ErrInvalidDelay},
		{name: "zero interval", call: func() (TaskID, error) { return d.s.ScheduleRepeating(0, noop, "z") }, want: ErrInvalidInterval},
		{name: "negative interval", call: func() (TaskID, error) { return d.s.ScheduleRepeating(-3, noop, "z") }, want: ErrInvalidDelay},
		{name: "nil action", call: func() (TaskID, error) { return d.s.Schedule(1, nil) }, want: ErrNilAction},
		{name: "nil recurrence", call: func() (TaskID, error) { return d.s.ScheduleRecurring(nil, noop, "") }, want: ErrNilRecurrence},
		{name: "delay overflows", call: func() (TaskID, error) { return d.s.Schedule(math.MaxInt64, noop) }, want: ErrInvalidDelay},
		{name: "interval overflows", call: func() (TaskID, error) { return d.s.ScheduleRepeating(math.MaxInt64, noop, "big") }, want: ErrInvalidInterval},
		{name: "interval overflows by one", call: func() (TaskID, error) { return d.s.ScheduleRepeating(math.MaxInt64-4, noop, "big") }, want: ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if id != "" {
				t.Fatalf("id = %q on error, want empty", id)
			}
		})
	}
	if d.s.Len() != 0 {
		t.Fatalf("invalid calls mutated the queue: len=%d", d.s.Len())
	}
}

func TestScheduleAfterUsesTickRate(t *testing.T) {
	t.Parallel()
	d := newDriver(WithTicksPerSecond(20))
	rec := &recorder{c: d.c}
	if _, err := d.s.ScheduleAfter(1500*time.Millisecond, rec.action()); err != nil {
		t.Fatalf("ScheduleAfter error: %v", err)
	}
	if _, err := d.s.ScheduleAfter(time.Millisecond, rec.action()); err != nil {
		t.Fatalf("ScheduleAfter error: %v", err)
	}
	d.to(40)
	if got := rec.got(); !equalTicks(got, []clock.Tick{1, 30}) {
		t.Fatalf("ran at %v, want [1 30]", got)
	}
}

func TestReentrantTickIsIgnored(t *testing.T) {
	t.Parallel()
	d := newDriver()
	var inner atomic.Int32
	if _, err := d.s.Schedule(1, Func(func() { d.s.Tick(1) })); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if _, err := d.s.Schedule(1, Func(func() { inner.Add(1) })); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	d.to(1)
	if n := inner.Load(); n != 1 {
		t.Fatalf("second task ran %d times, want 1", n)
	}
}

func TestActionMaySchedule(t *testing.T) {
	t.Parallel()
	d := newDriver()
	rec := &recorder{c: d.c}
	if _, err := d.s.Schedule(2, Func(func() {
		_, _ = d.s.Schedule(3, rec.action())
		_, _ = d.s.Schedule(0, rec.action())
	})); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	d.to(10)
	if got := rec.got(); !equalTicks(got, []clock.Tick{2, 5}) {
		t.Fatalf("ran at %v, want [2 5]", got)
	}
}

func TestSnapshotListsPendingInOrder(t *testing.T) {
	t.Parallel()
	d := newDriver()
	_, _ = d.s.ScheduleWithID(9, Func(func() {}), "c")
	_, _ = d.s.ScheduleRepeating(4, Func(func() {}), "b")
	_, _ = d.s.ScheduleWithID(2, Func(func() {}), "a")

	snap := d.s.Snapshot()
	if snap.Pending != 3 || snap.NextDue != 2 {
		t.Fatalf("Pending=%d NextDue=%d, want 3 and 2", snap.Pending, snap.NextDue)
	}
	ids := []TaskID{snap.Tasks[0].ID, snap.Tasks[1].ID, snap.Tasks[2].ID}
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("tasks = %v, want [a b c]", ids)
	}
	if !snap.Tasks[1].Repeating {
		t.Fatal("b should be reported as repeating")
	}
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	t.Parallel()
	d := newDriver()
	seen := map[TaskID]bool{}
	for i := 0; i < 100; i++ {
		id, err := d.s.Schedule(1, Func(func() {}))
		if err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	d := newDriver(WithBus(bus))

	id, _ := d.s.Schedule(1, Func(func() {}))
	cancelled, _ := d.s.Schedule(5, Func(func() {}))
	d.s.Cancel(cancelled)
	_, _ = d.s.Schedule(1, func() error { return errors.New("bad") })
	d.to(1)

	want := []string{EventScheduled, EventScheduled, EventCancelled, EventScheduled, EventExecuted, EventFailed}
	for i, typ := range want {
		select {
		case ev := <-ch:
			if ev.Type != typ {
				t.Fatalf("event %d = %s, want %s", i, ev.Type, typ)
			}
			te, ok := ev.Data.(TaskEvent)
			if !ok {
				t.Fatalf("event %d payload %T, want TaskEvent", i, ev.Data)
			}
			if typ == EventExecuted && (te.ID != id || te.Tick != 1) {
				t.Fatalf("executed event = %+v", te)
			}
			if typ == EventFailed && te.Error != "bad" {
				t.Fatalf("failed event error = %q, want bad", te.Error)
			}
		default:
			t.Fatalf("missing event %d (%s)", i, typ)
		}
	}
}

func TestFailureLogLimit(t *testing.T) {
	t.Parallel()
	d := newDriver(WithFailureLogLimit(0.001, 1))
	for i := 0; i < 5; i++ {
		_, _ = d.s.Schedule(1, func() error { return errors.New("x") })
	}
	d.to(1)
	st := d.s.Stats()
	if st.Failed != 5 {
		t.Fatalf("Failed = %d, want 5", st.Failed)
	}
	if st.Suppressed != 4 {
		t.Fatalf("Suppressed = %d, want 4", st.Suppressed)
	}
}
