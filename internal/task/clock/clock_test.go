package clock

import (
	"sync"
	"testing"
	"time"
)

func TestCounterAdvanceAndSet(t *testing.T) {
	t.Parallel()
	c := NewCounter(-5)
	if got := c.CurrentTick(); got != 0 {
		t.Fatalf("CurrentTick() = %d, want 0", got)
	}
	if got := c.Advance(); got != 1 {
		t.Fatalf("Advance() = %d, want 1", got)
	}
	if !c.Set(10) {
		t.Fatal("Set(10) should move the counter")
	}
	if c.Set(3) {
		t.Fatal("Set(3) must not move the counter backwards")
	}
	if got := c.CurrentTick(); got != 10 {
		t.Fatalf("CurrentTick() = %d, want 10", got)
	}
}

func TestCounterConcurrentAdvance(t *testing.T) {
	t.Parallel()
	c := NewCounter(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Advance()
			}
		}()
	}
	wg.Wait()
	if got := c.CurrentTick(); got != 8000 {
		t.Fatalf("CurrentTick() = %d, want 8000", got)
	}
}

func TestTicksFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    time.Duration
		tps  int
		want int64
	}{
		{name: "one second", d: time.Second, tps: 20, want: 20},
		{name: "half tick rounds up", d: 25 * time.Millisecond, tps: 20, want: 1},
		{name: "below half rounds down", d: 20 * time.Millisecond, tps: 20, want: 0},
		{name: "default rate", d: 2 * time.Second, tps: 0, want: 40},
		{name: "zero", d: 0, tps: 20, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TicksFor(tt.d, tt.tps); got != tt.want {
				t.Fatalf("TicksFor(%v, %d) = %d, want %d", tt.d, tt.tps, got, tt.want)
			}
		})
	}
}

func TestDurationOf(t *testing.T) {
	t.Parallel()
	if got := DurationOf(20, 20); got != time.Second {
		t.Fatalf("DurationOf(20, 20) = %v, want 1s", got)
	}
	if got := Interval(20); got != 50*time.Millisecond {
		t.Fatalf("Interval(20) = %v, want 50ms", got)
	}
}

func TestFuncSource(t *testing.T) {
	t.Parallel()
	var src Source = Func(func() Tick { return 42 })
	if got := src.CurrentTick(); got != 42 {
		t.Fatalf("CurrentTick() = %d, want 42", got)
	}
}
