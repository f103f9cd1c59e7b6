package scheduler

// Stats returns the scheduler counters. Safe for concurrent use.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:   s.scheduled.Load(),
		Inline:      s.inline.Load(),
		Executed:    s.executed.Load(),
		Failed:      s.failed.Load(),
		Cancelled:   s.cancelled.Load(),
		Rescheduled: s.rescheduled.Load(),
		Suppressed:  s.suppressedTotal.Load(),
	}
}

// Len reports the number of queued entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Pending reports whether any instance of id is queued.
func (s *Scheduler) Pending(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.has(id)
}

// Snapshot returns a point-in-time copy of the queue in execution order.
// Intended for diagnostics; it copies every pending entry.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{Now: s.clock.CurrentTick(), Stats: s.Stats()}

	s.mu.Lock()
	snap.LastTick = s.lastTick
	snap.Pending = s.queue.Len()
	if head := s.queue.peek(); head != nil {
		snap.NextDue = head.due
	}
	if s.running != nil {
		snap.Running = s.running.id
	}
	ordered := s.queue.ordered()
	s.mu.Unlock()

	snap.Tasks = make([]PendingTask, 0, len(ordered))
	for _, e := range ordered {
		snap.Tasks = append(snap.Tasks, PendingTask{ID: e.id, Due: e.due, Repeating: e.repeat != nil})
	}
	return snap
}
