package scheduler

import (
	"container/heap"
	"time"
)

// entry is one scheduled callback.
type entry struct {
	token Token
	at    time.Time
	fn    func()
	// seq breaks ties so entries with equal deadlines fire in schedule order.
	seq   uint64
	index int
}

// deadlineQueue implements heap.Interface as a min-heap ordered by at.
type deadlineQueue []*entry

func (dq deadlineQueue) Len() int { return len(dq) }

func (dq deadlineQueue) Less(i, j int) bool {
	if dq[i].at.Equal(dq[j].at) {
		return dq[i].seq < dq[j].seq
	}
	return dq[i].at.Before(dq[j].at)
}

func (dq deadlineQueue) Swap(i, j int) {
	dq[i], dq[j] = dq[j], dq[i]
	dq[i].index = i
	dq[j].index = j
}

func (dq *deadlineQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*dq)
	*dq = append(*dq, e)
}

func (dq *deadlineQueue) Pop() any {
	old := *dq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*dq = old[:n-1]
	return e
}

// peek returns the earliest entry without removing it, or nil.
func (dq deadlineQueue) peek() *entry {
	if len(dq) == 0 {
		return nil
	}
	return dq[0]
}

// popExpired removes and returns every entry due at or before now,
// earliest first.
func (dq *deadlineQueue) popExpired(now time.Time) []*entry {
	var expired []*entry
	for dq.Len() > 0 {
		if dq.peek().at.After(now) {
			break
		}
		expired = append(expired, heap.Pop(dq).(*entry))
	}
	return expired
}

// remove drops e if it is still queued.
func (dq *deadlineQueue) remove(e *entry) bool {
	if e.index < 0 || e.index >= dq.Len() || (*dq)[e.index] != e {
		return false
	}
	heap.Remove(dq, e.index)
	return true
}
