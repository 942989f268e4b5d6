package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/scheduler"
)

// Defaults applied by New when an option is left zero.
const (
	DefaultInterval         = 15 * time.Second
	DefaultFailureThreshold = 2
	DefaultPostExpiryDelay  = time.Second
	DefaultRequestTimeout   = 5 * time.Second

	// EndTimeJob names the post-expiry refresh job.
	EndTimeJob = "end_time_refresh"
)

// Logger is the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator.
type Options struct {
	// Device is the display to poll.
	Device device.Device

	// Queue runs the post-expiry job. Required.
	Queue scheduler.TimerQueue

	// Fetcher performs polls. Defaults to an HTTPFetcher with RequestTimeout.
	Fetcher TimerFetcher

	// Interval between polls. Defaults to DefaultInterval.
	Interval time.Duration

	// FailureThreshold is the number of consecutive failed polls at which
	// the update is reported as failed. Defaults to DefaultFailureThreshold.
	FailureThreshold int

	// PostExpiryDelay is added to a timer's end time when scheduling the
	// post-expiry refresh. Defaults to DefaultPostExpiryDelay.
	PostExpiryDelay time.Duration

	// RequestTimeout bounds the default fetcher's requests.
	RequestTimeout time.Duration

	// Logger is optional.
	Logger Logger

	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// PollStats describes the most recent poll.
type PollStats struct {
	At      time.Time
	OK      bool
	Latency time.Duration
}

// Coordinator polls one device and owns its cached TimerData.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	dev       device.Device
	fetcher   TimerFetcher
	jobs      *scheduler.Jobs
	interval  time.Duration
	threshold int
	delay     time.Duration
	now       func() time.Time
	logger    Logger

	// refreshMu serializes refreshes so each applies its state transition
	// before the next one starts.
	refreshMu sync.Mutex

	mu                sync.RWMutex
	data              device.TimerData
	hasData           bool
	lastUpdateSuccess bool
	lastErr           error
	failures          int
	scheduledEnd      time.Time
	hasScheduledEnd   bool
	lastPoll          PollStats

	listenerMu   sync.Mutex
	listeners    map[uint64]func()
	nextListener uint64

	// requests carries refresh requests to the loop; one pending request
	// absorbs any further ones.
	requests chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a coordinator. Call FirstRefresh before exposing it and Start
// to begin polling.
func New(opts Options) (*Coordinator, error) {
	if opts.Queue == nil {
		return nil, ErrNoQueue
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.PostExpiryDelay <= 0 {
		opts.PostExpiryDelay = DefaultPostExpiryDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(nil, opts.RequestTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		dev:       opts.Device,
		fetcher:   opts.Fetcher,
		jobs:      scheduler.NewJobs(opts.Queue),
		interval:  opts.Interval,
		threshold: opts.FailureThreshold,
		delay:     opts.PostExpiryDelay,
		now:       opts.Now,
		logger:    opts.Logger,
		listeners: make(map[uint64]func()),
		requests:  make(chan struct{}, 1),
	}, nil
}

// FirstRefresh performs the initial poll. Unlike Refresh it tolerates no
// failures: any fetch error is returned wrapped in ErrFirstRefresh.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	data, stats, err := c.fetch(ctx)

	c.mu.Lock()
	c.lastPoll = stats
	if err != nil {
		c.lastUpdateSuccess = false
		c.lastErr = err
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrFirstRefresh, c.dev.Name, err)
	}
	c.applySuccess(data)
	c.mu.Unlock()

	c.notifyListeners()
	return nil
}

// Refresh performs one poll and applies the failure-tolerance policy. It
// returns an error wrapping ErrUpdateFailed only once consecutive failures
// reach the threshold; tolerated failures return nil. A poll cut short by
// ctx leaves the state untouched and returns ctx.Err().
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	data, stats, err := c.fetch(ctx)
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a device failure.
		return ctx.Err()
	}

	c.mu.Lock()
	c.lastPoll = stats
	var surfaced error
	if err == nil {
		c.applySuccess(data)
	} else {
		surfaced = c.applyFailure(err)
	}
	failures := c.failures
	c.mu.Unlock()

	switch {
	case err == nil:
		c.logger.Debug("timer refreshed", "device", c.dev.Name, "latency", stats.Latency)
	case surfaced != nil:
		c.logger.Warn("timer update failed", "device", c.dev.Name, "failures", failures, "error", err)
	default:
		c.logger.Debug("tolerating poll failure", "device", c.dev.Name, "failures", failures, "error", err)
	}

	c.notifyListeners()
	return surfaced
}

func (c *Coordinator) fetch(ctx context.Context) (device.TimerData, PollStats, error) {
	start := c.now()
	data, err := c.fetcher.Fetch(ctx, c.dev)
	return data, PollStats{At: start, OK: err == nil, Latency: c.now().Sub(start)}, err
}

// applySuccess must be called with mu held.
func (c *Coordinator) applySuccess(data device.TimerData) {
	c.failures = 0
	c.data = data
	c.hasData = true
	c.lastUpdateSuccess = true
	c.lastErr = nil
	c.scheduleEndTimeRefresh(data)
}

// applyFailure must be called with mu held. It returns the surfaced error,
// or nil when the failure is tolerated.
func (c *Coordinator) applyFailure(err error) error {
	c.failures++
	if c.failures < c.threshold {
		if !c.hasData {
			c.data = device.IdleData()
			c.hasData = true
		}
		c.lastUpdateSuccess = true
		return nil
	}

	surfaced := fmt.Errorf("%w: %s: %w", ErrUpdateFailed, c.dev.Name, err)
	c.lastUpdateSuccess = false
	c.lastErr = surfaced
	return surfaced
}

// scheduleEndTimeRefresh keeps exactly one post-expiry job in line with the
// reported end time. Must be called with mu held.
func (c *Coordinator) scheduleEndTimeRefresh(data device.TimerData) {
	end, ok := data.EndTime()
	if !ok {
		if c.jobs.Cancel(EndTimeJob) {
			c.logger.Debug("cancelled post-expiry refresh", "device", c.dev.Name)
		}
		c.hasScheduledEnd = false
		c.scheduledEnd = time.Time{}
		return
	}

	if c.hasScheduledEnd && c.scheduledEnd.Equal(end) {
		return
	}

	at := end.Add(c.delay)
	c.jobs.Schedule(EndTimeJob, at, c.RequestRefresh)
	c.scheduledEnd = end
	c.hasScheduledEnd = true
	c.logger.Debug("scheduled post-expiry refresh", "device", c.dev.Name, "at", at)
}

// RequestRefresh asks the polling loop for a refresh without waiting for
// it. Requests made while one is pending are merged.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Start launches the polling loop. The first interval poll happens one
// interval after Start; FirstRefresh covers the initial state.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.done = make(chan struct{})
		go c.run(loopCtx)
	})
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-c.requests:
		}

		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Debug("refresh reported failure", "device", c.dev.Name, "error", err)
		}

		// The next interval poll counts from the end of this refresh.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.interval)
	}
}

// Stop ends the polling loop and cancels the post-expiry job. It waits for
// an in-flight loop refresh to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		// Waits for a concurrent Start and keeps a later one from
		// launching the loop.
		c.startOnce.Do(func() {})
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		c.jobs.CancelAll()

		c.mu.Lock()
		c.hasScheduledEnd = false
		c.scheduledEnd = time.Time{}
		c.mu.Unlock()
	})
}

// AddListener registers fn to run after every refresh. The returned
// function removes it.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.listenerMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

func (c *Coordinator) notifyListeners() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Device returns the polled device.
func (c *Coordinator) Device() device.Device {
	return c.dev
}

// Data returns a copy of the last reported data.
func (c *Coordinator) Data() device.TimerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// LastUpdateSuccess reports whether the last refresh succeeded or had its
// failure tolerated.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

// LastError returns the last surfaced failure, or nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ConsecutiveFailures returns the current failure count.
func (c *Coordinator) ConsecutiveFailures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failures
}

// ScheduledEndTime returns the end time the post-expiry job is tracking.
func (c *Coordinator) ScheduledEndTime() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scheduledEnd, c.hasScheduledEnd
}

// NextEndRefresh returns when the post-expiry job will fire: the tracked
// end time plus the post-expiry delay.
func (c *Coordinator) NextEndRefresh() (time.Time, bool) {
	return c.jobs.ScheduledAt(EndTimeJob)
}

// LastPoll returns statistics for the most recent poll.
func (c *Coordinator) LastPoll() PollStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPoll
}

// ScheduledJobs lists the coordinator's pending job names.
func (c *Coordinator) ScheduledJobs() []string {
	return c.jobs.ScheduledJobs()
}
