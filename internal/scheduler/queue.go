package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token identifies one scheduled entry.
type Token uuid.UUID

// String implements fmt.Stringer.
func (t Token) String() string {
	return uuid.UUID(t).String()
}

// Queue is a timer queue drained by Run.
//
// Thread Safety:
//   - Schedule, Cancel, Clear and Len are safe from any goroutine,
//     including from inside a callback.
type Queue struct {
	clock Clock

	mu      sync.Mutex
	items   deadlineQueue
	byToken map[Token]*entry
	seq     uint64

	// wake nudges Run when the earliest deadline may have changed.
	wake chan struct{}
}

// NewQueue creates an empty queue. A nil clock means RealClock.
func NewQueue(clock Clock) *Queue {
	if clock == nil {
		clock = RealClock()
	}
	return &Queue{
		clock:   clock,
		byToken: make(map[Token]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Schedule arranges for fn to run once at the given time. A time in the
// past fires on the next pass of Run.
func (q *Queue) Schedule(at time.Time, fn func()) Token {
	tok := Token(uuid.New())

	q.mu.Lock()
	q.seq++
	e := &entry{token: tok, at: at, fn: fn, seq: q.seq}
	heap.Push(&q.items, e)
	q.byToken[tok] = e
	q.mu.Unlock()

	q.notify()
	return tok
}

// Cancel removes the entry for tok. It returns false when the entry has
// already fired, was cancelled, or never existed.
func (q *Queue) Cancel(tok Token) bool {
	q.mu.Lock()
	e, ok := q.byToken[tok]
	if ok {
		delete(q.byToken, tok)
		q.items.remove(e)
	}
	q.mu.Unlock()

	if ok {
		q.notify()
	}
	return ok
}

// Clear cancels every pending entry and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.byToken = make(map[Token]*entry)
	q.mu.Unlock()
	return n
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Now returns the queue clock's current time.
func (q *Queue) Now() time.Time {
	return q.clock.Now()
}

// Run dispatches due entries until ctx is done, then drops whatever is
// still pending so nothing fires after shutdown.
func (q *Queue) Run(ctx context.Context) {
	defer q.Clear()

	for {
		q.mu.Lock()
		now := q.clock.Now()
		due := q.items.popExpired(now)
		for _, e := range due {
			delete(q.byToken, e.token)
		}
		var (
			wait    time.Duration
			pending bool
		)
		if next := q.items.peek(); next != nil {
			wait = next.at.Sub(now)
			pending = true
		}
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		for _, e := range due {
			go e.fn()
		}
		if len(due) > 0 {
			continue
		}

		var (
			timer  Timer
			timerC <-chan time.Time
		)
		if pending {
			timer = q.clock.NewTimer(wait)
			timerC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-q.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
