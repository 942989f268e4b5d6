package scheduler

import (
	"sort"
	"sync"
	"time"
)

// TimerQueue is what Jobs needs from a Queue.
type TimerQueue interface {
	Schedule(at time.Time, fn func()) Token
	Cancel(tok Token) bool
}

// Jobs is a set of named one-shot jobs backed by a TimerQueue. Each
// coordinator owns one, so names only need to be unique per device.
type Jobs struct {
	queue TimerQueue

	mu     sync.Mutex
	jobs   map[string]job
	nextID uint64
}

type job struct {
	id    uint64
	token Token
	at    time.Time
}

// NewJobs creates an empty registry on queue.
func NewJobs(queue TimerQueue) *Jobs {
	return &Jobs{
		queue: queue,
		jobs:  make(map[string]job),
	}
}

// Schedule registers fn to run once at the given time under name,
// cancelling any job already registered under that name.
func (j *Jobs) Schedule(name string, at time.Time, fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if old, ok := j.jobs[name]; ok {
		j.queue.Cancel(old.token)
	}

	j.nextID++
	id := j.nextID
	tok := j.queue.Schedule(at, func() { j.fire(name, id, fn) })
	j.jobs[name] = job{id: id, token: tok, at: at}
}

// fire unregisters the job and runs fn, unless the job was cancelled or
// replaced after the queue released it.
func (j *Jobs) fire(name string, id uint64, fn func()) {
	j.mu.Lock()
	cur, ok := j.jobs[name]
	if !ok || cur.id != id {
		j.mu.Unlock()
		return
	}
	delete(j.jobs, name)
	j.mu.Unlock()

	fn()
}

// Cancel removes the job registered under name. Unknown names are a no-op.
func (j *Jobs) Cancel(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	cur, ok := j.jobs[name]
	if !ok {
		return false
	}
	delete(j.jobs, name)
	j.queue.Cancel(cur.token)
	return true
}

// CancelAll cancels every job in the registry and returns how many there were.
func (j *Jobs) CancelAll() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.jobs)
	for name, cur := range j.jobs {
		j.queue.Cancel(cur.token)
		delete(j.jobs, name)
	}
	return n
}

// IsScheduled reports whether a job is registered under name.
func (j *Jobs) IsScheduled(name string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.jobs[name]
	return ok
}

// ScheduledAt returns the fire time of the job under name.
func (j *Jobs) ScheduledAt(name string) (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cur, ok := j.jobs[name]
	return cur.at, ok
}

// ScheduledJobs returns the registered names, sorted.
func (j *Jobs) ScheduledJobs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	names := make([]string, 0, len(j.jobs))
	for name := range j.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
