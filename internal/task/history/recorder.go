// Package history persists finished task runs from the scheduler's event bus.
package history

import (
	"context"
	"time"

	"github.com/Spaxterr/lynxlib/internal/eventbus"
	"github.com/Spaxterr/lynxlib/internal/storage"
	"github.com/Spaxterr/lynxlib/internal/task/scheduler"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

const defaultBuffer = 1024

// Recorder writes executed, failed and cancelled events to a store. It runs
// off the tick goroutine; when it falls behind, the bus drops events rather
// than stalling the host.
type Recorder struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger

	buffer  int
	timeout time.Duration
}

type Option func(*Recorder)

func WithBuffer(n int) Option { return func(r *Recorder) { r.buffer = n } }

// WithWriteTimeout bounds a single store write.
func WithWriteTimeout(d time.Duration) Option { return func(r *Recorder) { r.timeout = d } }

func New(bus eventbus.Bus, store storage.Store, log logx.Logger, opts ...Option) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{bus: bus, store: store, log: log, buffer: defaultBuffer, timeout: 2 * time.Second}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record converts a scheduler event into a run record. ok is false for events
// that are not persisted.
func Record(ev eventbus.Event) (storage.RunRecord, bool) {
	te, ok := ev.Data.(scheduler.TaskEvent)
	if !ok {
		return storage.RunRecord{}, false
	}
	var outcome string
	switch ev.Type {
	case scheduler.EventExecuted:
		outcome = storage.OutcomeExecuted
	case scheduler.EventFailed:
		outcome = storage.OutcomeFailed
	case scheduler.EventCancelled:
		outcome = storage.OutcomeCancelled
	default:
		return storage.RunRecord{}, false
	}
	return storage.RunRecord{
		At:        ev.Time,
		TaskID:    string(te.ID),
		Outcome:   outcome,
		Due:       te.Due,
		Tick:      te.Tick,
		Repeating: te.Repeating,
		Inline:    te.Inline,
		TookUS:    te.Duration.Microseconds(),
		Error:     te.Error,
	}, true
}

// Run subscribes to the bus and writes records until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(r.buffer)
	defer unsub()

	r.log.Info("history recorder started")
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.write(context.Background(), ev)
		}
	}
}

// drain writes whatever is already buffered at shutdown.
func (r *Recorder) drain(ch <-chan eventbus.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, ev eventbus.Event) {
	rec, ok := Record(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.log.Warn("history write failed", logx.String("task", rec.TaskID), logx.String("outcome", rec.Outcome), logx.Err(err))
	}
}
