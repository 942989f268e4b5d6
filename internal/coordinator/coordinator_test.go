package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/scheduler"
)

// fetchResult is one scripted poll outcome.
type fetchResult struct {
	data device.TimerData
	err  error
}

// mockFetcher returns scripted results in order, repeating the last one.
type mockFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	pos     int
	calls   int
}

func (m *mockFetcher) Fetch(_ context.Context, _ device.Device) (device.TimerData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	r := m.results[m.pos]
	if m.pos < len(m.results)-1 {
		m.pos++
	}
	return r.data, r.err
}

// push replaces the rest of the script.
func (m *mockFetcher) push(results ...fetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	m.pos = 0
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingQueue records what the coordinator's job registry asks for.
type recordingQueue struct {
	mu        sync.Mutex
	pending   map[scheduler.Token]queued
	scheduled int
	cancelled int
	next      byte
}

type queued struct {
	at time.Time
	fn func()
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{pending: make(map[scheduler.Token]queued)}
}

func (q *recordingQueue) Schedule(at time.Time, fn func()) scheduler.Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	tok := scheduler.Token{q.next}
	q.pending[tok] = queued{at: at, fn: fn}
	q.scheduled++
	return tok
}

func (q *recordingQueue) Cancel(tok scheduler.Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[tok]; !ok {
		return false
	}
	delete(q.pending, tok)
	q.cancelled++
	return true
}

func (q *recordingQueue) pendingTimes() []time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]time.Time, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.at)
	}
	return out
}

func (q *recordingQueue) fireAll() {
	q.mu.Lock()
	var fns []func()
	for tok, e := range q.pending {
		fns = append(fns, e.fn)
		delete(q.pending, tok)
	}
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (q *recordingQueue) counts() (scheduled, cancelled int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scheduled, q.cancelled
}

var errRefused = &FetchError{Err: errors.New("connection refused")}

func running(endMs int64) fetchResult {
	return fetchResult{data: device.TimerData{
		Available:  true,
		Properties: device.NewProperties("name", "Timer"),
		EndMs:      device.Int64Ptr(endMs),
	}}
}

func idle() fetchResult {
	return fetchResult{data: device.IdleData()}
}

func failed() fetchResult {
	return fetchResult{err: errRefused}
}

func newTestCoordinator(t *testing.T, f TimerFetcher, q scheduler.TimerQueue, threshold int) *Coordinator {
	t.Helper()
	c, err := New(Options{
		Device:           device.New("Timerly Office TV", "192.168.10.37", 8181),
		Queue:            q,
		Fetcher:          f,
		FailureThreshold: threshold,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestNew_RequiresQueue(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNoQueue) {
		t.Errorf("New() error = %v, want ErrNoQueue", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Options{Queue: newRecordingQueue()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultInterval)
	}
	if c.threshold != DefaultFailureThreshold {
		t.Errorf("threshold = %d, want %d", c.threshold, DefaultFailureThreshold)
	}
	if c.delay != DefaultPostExpiryDelay {
		t.Errorf("delay = %v, want %v", c.delay, DefaultPostExpiryDelay)
	}
	if _, ok := c.fetcher.(*HTTPFetcher); !ok {
		t.Errorf("fetcher = %T, want *HTTPFetcher", c.fetcher)
	}
}

func TestFirstRefresh(t *testing.T) {
	t.Run("success adopts data", func(t *testing.T) {
		end := time.Now().Add(time.Minute).UnixMilli()
		c := newTestCoordinator(t, &mockFetcher{results: []fetchResult{running(end)}}, newRecordingQueue(), 2)

		if err := c.FirstRefresh(context.Background()); err != nil {
			t.Fatalf("FirstRefresh() error = %v", err)
		}
		if !c.LastUpdateSuccess() {
			t.Error("LastUpdateSuccess() = false")
		}
		if got := c.Data(); got.EndMs == nil || *got.EndMs != end {
			t.Errorf("Data().EndMs = %v, want %d", got.EndMs, end)
		}
	})

	t.Run("single failure is not tolerated", func(t *testing.T) {
		c := newTestCoordinator(t, &mockFetcher{results: []fetchResult{failed()}}, newRecordingQueue(), 2)

		err := c.FirstRefresh(context.Background())
		if !errors.Is(err, ErrFirstRefresh) {
			t.Fatalf("FirstRefresh() error = %v, want ErrFirstRefresh", err)
		}
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Errorf("FirstRefresh() error does not wrap *FetchError: %v", err)
		}
		if c.LastUpdateSuccess() {
			t.Error("LastUpdateSuccess() = true after failed first refresh")
		}
	})
}

func TestRefresh_FailureThreshold(t *testing.T) {
	end := time.Now().Add(time.Minute).UnixMilli()
	f := &mockFetcher{results: []fetchResult{running(end)}}
	c := newTestCoordinator(t, f, newRecordingQueue(), 2)
	ctx := context.Background()

	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	before := c.Data()

	// First failure: tolerated, previous data kept.
	f.push(failed())
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() #1 error = %v, want tolerated", err)
	}
	if !c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = false after one failure")
	}
	if c.ConsecutiveFailures() != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want 1", c.ConsecutiveFailures())
	}
	if got := c.Data(); got.EndMs == nil || *got.EndMs != *before.EndMs {
		t.Errorf("Data() changed while tolerating: %+v", got)
	}

	// Second failure: surfaced.
	err := c.Refresh(ctx)
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() #2 error = %v, want ErrUpdateFailed", err)
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true at threshold")
	}
	if !errors.Is(c.LastError(), ErrUpdateFailed) {
		t.Errorf("LastError() = %v", c.LastError())
	}

	// Success resets.
	f.push(idle())
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() #3 error = %v", err)
	}
	if !c.LastUpdateSuccess() || c.ConsecutiveFailures() != 0 || c.LastError() != nil {
		t.Errorf("state after recovery: success=%v failures=%d err=%v",
			c.LastUpdateSuccess(), c.ConsecutiveFailures(), c.LastError())
	}
	if c.Data().EndMs != nil {
		t.Error("Data() not replaced by fresh result")
	}
}

func TestRefresh_ConfigurableThreshold(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{idle(), failed()}}
	c := newTestCoordinator(t, f, newRecordingQueue(), 3)
	ctx := context.Background()

	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	for i := 1; i <= 2; i++ {
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() #%d error = %v, want tolerated", i, err)
		}
	}
	if err := c.Refresh(ctx); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() #3 error = %v, want ErrUpdateFailed", err)
	}
}

func TestRefresh_ToleratedFailureWithoutDataUsesIdle(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{failed()}}
	c := newTestCoordinator(t, f, newRecordingQueue(), 2)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	got := c.Data()
	if !got.Available || got.EndMs != nil || got.Properties.Len() != 0 {
		t.Errorf("Data() = %+v, want idle placeholder", got)
	}
}

func TestRefresh_CancelledContextLeavesState(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{idle(), failed()}}
	c := newTestCoordinator(t, f, newRecordingQueue(), 2)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Refresh() error = %v, want context.Canceled", err)
	}
	if c.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", c.ConsecutiveFailures())
	}
}

func TestEndTimeScheduling(t *testing.T) {
	ctx := context.Background()
	endA := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	endB := endA.Add(30 * time.Second)

	t.Run("same end time schedules once", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(endA.UnixMilli())}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)
		_ = c.Refresh(ctx)
		_ = c.Refresh(ctx)

		scheduled, _ := q.counts()
		if scheduled != 1 {
			t.Errorf("scheduled %d jobs, want 1", scheduled)
		}
		times := q.pendingTimes()
		if len(times) != 1 || !times[0].Equal(endA.Add(time.Second)) {
			t.Errorf("pending = %v, want one at %v", times, endA.Add(time.Second))
		}
		if got, ok := c.ScheduledEndTime(); !ok || !got.Equal(endA) {
			t.Errorf("ScheduledEndTime() = %v, %v", got, ok)
		}
		if got, ok := c.NextEndRefresh(); !ok || !got.Equal(endA.Add(time.Second)) {
			t.Errorf("NextEndRefresh() = %v, %v, want %v", got, ok, endA.Add(time.Second))
		}
	})

	t.Run("changed end time replaces job", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(endA.UnixMilli())}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)
		f.push(running(endB.UnixMilli()))
		_ = c.Refresh(ctx)

		scheduled, cancelled := q.counts()
		if scheduled != 2 || cancelled != 1 {
			t.Errorf("scheduled=%d cancelled=%d, want 2 and 1", scheduled, cancelled)
		}
		times := q.pendingTimes()
		if len(times) != 1 || !times[0].Equal(endB.Add(time.Second)) {
			t.Errorf("pending = %v, want one at %v", times, endB.Add(time.Second))
		}
	})

	t.Run("idle cancels job", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(endA.UnixMilli())}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)
		f.push(idle())
		_ = c.Refresh(ctx)

		if len(q.pendingTimes()) != 0 {
			t.Error("post-expiry job still pending after idle poll")
		}
		if _, ok := c.ScheduledEndTime(); ok {
			t.Error("ScheduledEndTime() still set")
		}
		if len(c.ScheduledJobs()) != 0 {
			t.Errorf("ScheduledJobs() = %v", c.ScheduledJobs())
		}
	})

	t.Run("zero end time counts as idle", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(0)}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)

		if scheduled, _ := q.counts(); scheduled != 0 {
			t.Errorf("scheduled %d jobs for zero end time", scheduled)
		}
	})

	t.Run("tolerated failure keeps job", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(endA.UnixMilli())}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)
		f.push(failed())
		_ = c.Refresh(ctx)

		if len(q.pendingTimes()) != 1 {
			t.Error("post-expiry job dropped on tolerated failure")
		}
	})

	t.Run("fired job after expiry does not reschedule", func(t *testing.T) {
		q := newRecordingQueue()
		f := &mockFetcher{results: []fetchResult{running(endA.UnixMilli())}}
		c := newTestCoordinator(t, f, q, 2)

		_ = c.FirstRefresh(ctx)
		q.fireAll()
		// Device still reports the same, now elapsed, end time.
		_ = c.Refresh(ctx)

		if scheduled, _ := q.counts(); scheduled != 1 {
			t.Errorf("scheduled %d jobs, want 1", scheduled)
		}
	})
}

func TestPostExpiryJobRequestsRefresh(t *testing.T) {
	q := newRecordingQueue()
	end := time.Now().Add(time.Minute).UnixMilli()
	f := &mockFetcher{results: []fetchResult{running(end)}}
	c := newTestCoordinator(t, f, q, 2)

	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	q.fireAll()

	select {
	case <-c.requests:
	default:
		t.Fatal("post-expiry job did not queue a refresh request")
	}
}

func TestRequestRefresh_Coalesces(t *testing.T) {
	c := newTestCoordinator(t, &mockFetcher{results: []fetchResult{idle()}}, newRecordingQueue(), 2)

	c.RequestRefresh()
	c.RequestRefresh()
	c.RequestRefresh()

	if len(c.requests) != 1 {
		t.Errorf("pending requests = %d, want 1", len(c.requests))
	}
}

func TestListeners(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{idle(), failed()}}
	c := newTestCoordinator(t, f, newRecordingQueue(), 2)

	var calls atomic.Int32
	remove := c.AddListener(func() { calls.Add(1) })

	_ = c.FirstRefresh(context.Background())
	_ = c.Refresh(context.Background())
	if calls.Load() != 2 {
		t.Errorf("listener calls = %d, want 2", calls.Load())
	}

	remove()
	_ = c.Refresh(context.Background())
	if calls.Load() != 2 {
		t.Errorf("listener called after removal")
	}
}

func TestStartLoop_RefreshOnRequestAndInterval(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{idle()}}
	c, err := New(Options{
		Device:   device.New("Kitchen", "127.0.0.1", 1),
		Queue:    newRecordingQueue(),
		Fetcher:  f,
		Interval: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	refreshed := make(chan struct{}, 16)
	c.AddListener(func() {
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	c.Start(context.Background())
	defer c.Stop()

	c.RequestRefresh()
	for i := 0; i < 3; i++ {
		select {
		case <-refreshed:
		case <-time.After(time.Second):
			t.Fatalf("refresh %d did not happen", i+1)
		}
	}
}

func TestStop_CancelsJobsAndIsIdempotent(t *testing.T) {
	q := newRecordingQueue()
	end := time.Now().Add(time.Minute).UnixMilli()
	c := newTestCoordinator(t, &mockFetcher{results: []fetchResult{running(end)}}, q, 2)

	_ = c.FirstRefresh(context.Background())
	c.Start(context.Background())
	c.Stop()
	c.Stop()

	if len(q.pendingTimes()) != 0 {
		t.Error("post-expiry job survived Stop")
	}
	if len(c.ScheduledJobs()) != 0 {
		t.Errorf("ScheduledJobs() = %v after Stop", c.ScheduledJobs())
	}
}

func TestStop_BeforeStartPreventsLoop(t *testing.T) {
	f := &mockFetcher{results: []fetchResult{idle()}}
	c, _ := New(Options{Queue: newRecordingQueue(), Fetcher: f, Interval: 10 * time.Millisecond})

	c.Stop()
	c.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	if f.callCount() != 0 {
		t.Errorf("fetch calls = %d after Stop then Start", f.callCount())
	}
}

// TestScenario_HTTPDevice drives a coordinator against a fake display:
// two HTTP 500s surface unavailability, a 200 restores it.
func TestScenario_HTTPDevice(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`{"properties":{"name":"Homework"}}`))
		}
	}))
	defer srv.Close()

	q := newRecordingQueue()
	c, err := New(Options{
		Device:  deviceFor(t, srv),
		Queue:   q,
		Fetcher: NewFetcher(srv.Client(), time.Second),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Stop()
	ctx := context.Background()

	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}

	status.Store(http.StatusInternalServerError)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("first 500 surfaced: %v", err)
	}
	err = c.Refresh(ctx)
	if !errors.Is(err, ErrUpdateFailed) || !hasFetchStatus(err, http.StatusInternalServerError) {
		t.Fatalf("second 500: error = %v", err)
	}
	if c.LastUpdateSuccess() {
		t.Fatal("device still available after two 500s")
	}

	status.Store(http.StatusOK)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("recovery Refresh() error = %v", err)
	}
	if !c.LastUpdateSuccess() {
		t.Error("device not available after recovery")
	}
	if name, _ := c.Data().Properties.String("name"); name != "Homework" {
		t.Errorf("properties name = %q", name)
	}
	if !c.LastPoll().OK {
		t.Error("LastPoll().OK = false after success")
	}
}

func hasFetchStatus(err error, status int) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == status
}
