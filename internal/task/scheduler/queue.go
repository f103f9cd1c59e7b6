package scheduler

import (
	"container/heap"
	"sort"

	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

// taskQueue is a min-heap of entries ordered by (due, seq), with an id index
// so Cancel can remove every entry for an id without scanning the heap.
//
// Not safe for concurrent use; the scheduler guards it with its mutex.
type taskQueue struct {
	items []*entry
	byID  map[TaskID]map[*entry]struct{}
	seq   uint64
}

func newTaskQueue() taskQueue {
	return taskQueue{byID: map[TaskID]map[*entry]struct{}{}}
}

// heap.Interface

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.due != b.due {
		return a.due < b.due
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *taskQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.items = old[:n-1]
	return e
}

// insert stamps e with the next sequence number and queues it.
func (q *taskQueue) insert(e *entry) {
	q.seq++
	e.seq = q.seq
	heap.Push(q, e)
	set := q.byID[e.id]
	if set == nil {
		set = map[*entry]struct{}{}
		q.byID[e.id] = set
	}
	set[e] = struct{}{}
}

// popDue removes and returns the earliest entry if it is due at now.
func (q *taskQueue) popDue(now clock.Tick) *entry {
	if len(q.items) == 0 || q.items[0].due > now {
		return nil
	}
	e := heap.Pop(q).(*entry)
	q.unindex(e)
	return e
}

// removeID removes every queued entry with id, in queue order.
func (q *taskQueue) removeID(id TaskID) []*entry {
	set := q.byID[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]*entry, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sortEntries(out)
	for _, e := range out {
		if e.index >= 0 {
			heap.Remove(q, e.index)
		}
	}
	delete(q.byID, id)
	return out
}

func (q *taskQueue) has(id TaskID) bool { return len(q.byID[id]) > 0 }

func (q *taskQueue) peek() *entry {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// ordered returns the queued entries in execution order.
func (q *taskQueue) ordered() []*entry {
	out := append([]*entry(nil), q.items...)
	sortEntries(out)
	return out
}

func (q *taskQueue) unindex(e *entry) {
	set := q.byID[e.id]
	delete(set, e)
	if len(set) == 0 {
		delete(q.byID, e.id)
	}
}

func sortEntries(es []*entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].due != es[j].due {
			return es[i].due < es[j].due
		}
		return es[i].seq < es[j].seq
	})
}
