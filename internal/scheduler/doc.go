// Package scheduler runs one-shot callbacks at absolute times.
//
// Queue is a timer queue: a min-heap of entries keyed by fire time, drained
// by a single goroutine (Run). Scheduling returns a Token that cancels the
// entry. Due callbacks are dispatched on their own goroutine so a slow
// callback never holds up the queue.
//
// Jobs layers names on top of a Queue: scheduling under a name replaces any
// job already registered under it, and a firing job unregisters itself
// before its callback runs, so the callback may schedule the same name again.
//
//	queue := scheduler.NewQueue(nil)
//	go queue.Run(ctx)
//
//	jobs := scheduler.NewJobs(queue)
//	jobs.Schedule("end_time_refresh", end.Add(time.Second), coordinator.RequestRefresh)
package scheduler
