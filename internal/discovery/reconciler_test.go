package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/scheduler"
)

// mockFetcher serves per-device results.
type mockFetcher struct {
	mu      sync.Mutex
	results map[string]device.TimerData
	failing map[string]bool
	calls   map[string]int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		results: make(map[string]device.TimerData),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (m *mockFetcher) Fetch(_ context.Context, dev device.Device) (device.TimerData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[dev.Name]++
	if m.failing[dev.Name] {
		return device.TimerData{}, &coordinator.FetchError{Err: errors.New("connection refused")}
	}
	if d, ok := m.results[dev.Name]; ok {
		return d, nil
	}
	return device.IdleData(), nil
}

func (m *mockFetcher) set(name string, data device.TimerData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[name] = data
}

func (m *mockFetcher) fail(name string, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[name] = failing
}

// mockAdder records every batch.
type mockAdder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (m *mockAdder) AddEntities(_ context.Context, coords []*coordinator.Coordinator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range coords {
		ids = append(ids, c.Device().UniqueID)
	}
	m.batches = append(m.batches, ids)
	return m.err
}

func (m *mockAdder) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ device.Device) (device.TimerData, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return device.IdleData(), nil
	case <-ctx.Done():
		return device.TimerData{}, ctx.Err()
	}
}

func (r *Reconciler) isKnown(uniqueID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[uniqueID]
}

func (r *Reconciler) knownIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.known))
	for uid := range r.known {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

type reconcilerFixture struct {
	cache   *Cache
	coords  *Coordinators
	fetcher *mockFetcher
	adder   *mockAdder
	queue   *scheduler.Queue
	rec     *Reconciler
	created int
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		cache:   NewCache(nil),
		coords:  NewCoordinators(),
		fetcher: newMockFetcher(),
		adder:   &mockAdder{},
		queue:   scheduler.NewQueue(nil),
	}
	rec, err := NewReconciler(ReconcilerOptions{
		Cache:        f.cache,
		Coordinators: f.coords,
		Factory:      f.factory,
		Adder:        f.adder,
		Activate:     func(*coordinator.Coordinator) {},
	})
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	f.rec = rec
	t.Cleanup(func() {
		for _, c := range f.coords.Drain() {
			c.Stop()
		}
	})
	return f
}

func (f *reconcilerFixture) factory(dev device.Device) (*coordinator.Coordinator, error) {
	f.created++
	return coordinator.New(coordinator.Options{
		Device:  dev,
		Queue:   f.queue,
		Fetcher: f.fetcher,
	})
}

func TestNewReconciler_Validation(t *testing.T) {
	if _, err := NewReconciler(ReconcilerOptions{}); err == nil {
		t.Error("NewReconciler() accepted missing cache")
	}
	if _, err := NewReconciler(ReconcilerOptions{Cache: NewCache(nil), Coordinators: NewCoordinators()}); err == nil {
		t.Error("NewReconciler() accepted missing factory")
	}
}

func TestReconciler_Idempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.cache.Add(device.New("Timerly Office TV", "192.168.10.37", 8181))
	f.cache.Add(device.New("Timerly Kitchen", "192.168.10.38", 8181))

	n, err := f.rec.TryAddNewEntities(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first pass = %d, %v, want 2", n, err)
	}
	n, err = f.rec.TryAddNewEntities(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second pass = %d, %v, want 0", n, err)
	}

	if len(f.adder.batches) != 1 {
		t.Errorf("batches = %d, want 1", len(f.adder.batches))
	}
	if f.created != 2 {
		t.Errorf("coordinators created = %d, want 2", f.created)
	}
	want := []string{"timerly_kitchen", "timerly_office_tv"}
	got := f.rec.knownIDs()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("knownIDs() = %v, want %v", got, want)
	}
}

func TestReconciler_FirstRefreshFailureSkipsDevice(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.cache.Add(device.New("Bedroom", "10.0.0.1", 8181))
	f.cache.Add(device.New("Lounge", "10.0.0.2", 8181))
	f.fetcher.fail("Bedroom", true)

	n, err := f.rec.TryAddNewEntities(ctx)
	if err != nil || n != 1 {
		t.Fatalf("pass = %d, %v, want 1", n, err)
	}
	if _, ok := f.coords.Get("Bedroom"); ok {
		t.Error("failed device was stored")
	}
	if f.rec.isKnown("timerly_bedroom") {
		t.Error("failed device marked known")
	}

	f.fetcher.fail("Bedroom", false)
	n, err = f.rec.TryAddNewEntities(ctx)
	if err != nil || n != 1 {
		t.Fatalf("retry pass = %d, %v, want 1", n, err)
	}
	if !f.rec.isKnown("timerly_bedroom") {
		t.Error("recovered device not added")
	}
}

func TestReconciler_ReusesCoordinatorStoredDuringFirstRefresh(t *testing.T) {
	f := newReconcilerFixture(t)
	dev := device.New("Study", "10.0.0.3", 8181)
	f.cache.Add(dev)

	winner, err := coordinator.New(coordinator.Options{Device: dev, Queue: f.queue, Fetcher: f.fetcher})
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}
	var loser *coordinator.Coordinator
	f.rec.factory = func(d device.Device) (*coordinator.Coordinator, error) {
		c, err := f.factory(d)
		loser = c
		// Another pass stores its coordinator first.
		f.coords.GetOrAdd(d.Name, winner)
		return c, err
	}

	if _, err := f.rec.TryAddNewEntities(context.Background()); err != nil {
		t.Fatalf("TryAddNewEntities() error = %v", err)
	}
	got, _ := f.coords.Get("Study")
	if got != winner {
		t.Error("stored coordinator replaced")
	}
	if loser == nil || loser == winner {
		t.Fatal("factory did not build a separate coordinator")
	}
	if len(f.adder.all()) != 1 {
		t.Errorf("added = %v, want exactly one entity", f.adder.all())
	}
}

func TestReconciler_NoAdderDefersEntities(t *testing.T) {
	f := newReconcilerFixture(t)
	f.rec.SetAdder(nil)
	f.cache.Add(device.New("Hall", "10.0.0.4", 8181))

	n, err := f.rec.TryAddNewEntities(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("pass without adder = %d, %v", n, err)
	}
	if f.coords.Len() != 1 {
		t.Errorf("coordinators = %d, want 1", f.coords.Len())
	}

	f.rec.SetAdder(f.adder)
	n, _ = f.rec.TryAddNewEntities(context.Background())
	if n != 1 {
		t.Errorf("pass after SetAdder = %d, want 1", n)
	}
	if f.created != 1 {
		t.Errorf("coordinators created = %d, want 1", f.created)
	}
}

func TestReconciler_SetAdderDuringFirstRefresh(t *testing.T) {
	f := newReconcilerFixture(t)
	f.rec.SetAdder(nil)
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	f.rec.factory = func(dev device.Device) (*coordinator.Coordinator, error) {
		return coordinator.New(coordinator.Options{Device: dev, Queue: f.queue, Fetcher: fetcher})
	}
	f.cache.Add(device.New("Hall", "10.0.0.4", 8181))

	type result struct {
		n   int
		err error
	}
	pass := make(chan result, 1)
	go func() {
		n, err := f.rec.TryAddNewEntities(context.Background())
		pass <- result{n, err}
	}()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never started")
	}

	installed := make(chan struct{})
	go func() {
		f.rec.SetAdder(f.adder)
		close(installed)
	}()
	select {
	case <-installed:
	case <-time.After(time.Second):
		close(fetcher.release)
		t.Fatal("SetAdder() blocked behind a first refresh")
	}

	close(fetcher.release)
	select {
	case res := <-pass:
		if res.err != nil || res.n != 1 {
			t.Errorf("pass = %d, %v, want 1", res.n, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not finish")
	}
	if !f.rec.isKnown("timerly_hall") {
		t.Error("entity not added with the adder installed mid-pass")
	}
}

func TestReconciler_AdderErrorIsReturned(t *testing.T) {
	f := newReconcilerFixture(t)
	f.adder.err = errors.New("disk full")
	f.cache.Add(device.New("Hall", "10.0.0.4", 8181))

	n, err := f.rec.TryAddNewEntities(context.Background())
	if err == nil || n != 1 {
		t.Fatalf("TryAddNewEntities() = %d, %v, want 1 and error", n, err)
	}
	// The entity was handed over; it is not offered again.
	n, _ = f.rec.TryAddNewEntities(context.Background())
	if n != 0 {
		t.Errorf("second pass = %d, want 0", n)
	}
}

func TestReconciler_ConcurrentPasses(t *testing.T) {
	f := newReconcilerFixture(t)
	for _, n := range []string{"A", "B", "C", "D"} {
		f.cache.Add(device.New(n, "10.0.0.1", 8181))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.rec.TryAddNewEntities(context.Background())
			f.cache.Add(device.New("A", "10.0.0.1", 8181))
		}()
	}
	wg.Wait()

	if got := f.adder.all(); len(got) != 4 {
		t.Errorf("added %v, want 4 unique entities", got)
	}
}

// TestReconciler_AnnouncementScenario follows a display through discovery,
// a running timer, a re-announcement and the timer finishing.
func TestReconciler_AnnouncementScenario(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	end := time.Now().Add(60 * time.Second).Truncate(time.Millisecond)
	f.fetcher.set("Office TV", device.TimerData{
		Available:  true,
		Properties: device.NewProperties("name", "Bedtime"),
		EndMs:      device.Int64Ptr(end.UnixMilli()),
	})

	f.cache.Add(Added("Timerly Office TV._tvtimer._tcp.local.", "192.168.10.37", 8181, "test").Device())
	if n, _ := f.rec.TryAddNewEntities(ctx); n != 1 {
		t.Fatalf("entities added = %d, want 1", n)
	}
	c, _ := f.coords.Get("Office TV")
	if f.queue.Len() != 1 {
		t.Fatalf("queued jobs = %d, want 1", f.queue.Len())
	}
	if at, ok := c.ScheduledEndTime(); !ok || !at.Equal(end) {
		t.Errorf("ScheduledEndTime() = %v, %v", at, ok)
	}

	// Re-announced with the same end time.
	f.cache.Add(device.New("Timerly Office TV._tvtimer._tcp.local.", "192.168.10.37", 8181))
	if n, _ := f.rec.TryAddNewEntities(ctx); n != 0 {
		t.Errorf("re-announcement added %d entities", n)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queued jobs = %d after same end time, want 1", f.queue.Len())
	}

	// Timer finished.
	f.fetcher.set("Office TV", device.IdleData())
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queued jobs = %d after timer finished, want 0", f.queue.Len())
	}
	if c.Data().Running(time.Now()) {
		t.Error("timer still running")
	}
}
