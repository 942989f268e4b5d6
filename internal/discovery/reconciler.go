package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
)

// Logger is the logging interface used by this package.
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

// CoordinatorFactory builds an unstarted coordinator for a device.
type CoordinatorFactory func(dev device.Device) (*coordinator.Coordinator, error)

// EntityAdder receives each batch of new entities, one coordinator per
// entity. Coordinators passed here are never passed again.
type EntityAdder interface {
	AddEntities(ctx context.Context, coords []*coordinator.Coordinator) error
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Cache        *Cache
	Coordinators *Coordinators
	Factory      CoordinatorFactory
	Adder        EntityAdder

	// Activate starts a coordinator once it has been stored. Defaults to
	// starting it on a background context.
	Activate func(c *coordinator.Coordinator)

	Logger Logger
}

// Reconciler turns cached devices into entities.
//
// Thread Safety: TryAddNewEntities may be called concurrently; passes run
// one at a time. SetAdder does not wait for a running pass.
type Reconciler struct {
	cache    *Cache
	coords   *Coordinators
	factory  CoordinatorFactory
	adder    EntityAdder
	activate func(c *coordinator.Coordinator)
	logger   Logger

	// passMu serializes passes. mu guards adder and known and is never
	// held across a first refresh or AddEntities.
	passMu sync.Mutex
	mu     sync.Mutex
	known  map[string]bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Cache == nil || opts.Coordinators == nil {
		return nil, fmt.Errorf("discovery: cache and coordinators are required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("discovery: coordinator factory is required")
	}
	if opts.Activate == nil {
		opts.Activate = func(c *coordinator.Coordinator) { c.Start(context.Background()) }
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Reconciler{
		cache:    opts.Cache,
		coords:   opts.Coordinators,
		factory:  opts.Factory,
		adder:    opts.Adder,
		activate: opts.Activate,
		logger:   opts.Logger,
		known:    make(map[string]bool),
	}, nil
}

// SetAdder installs the entity adder. Passes run before an adder exists
// still create coordinators; their entities are added on the first pass
// after SetAdder.
func (r *Reconciler) SetAdder(adder EntityAdder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adder = adder
}

// TryAddNewEntities runs one reconciliation pass over a snapshot of the
// cache and returns how many entities were added. A device whose first
// refresh fails is skipped until the next pass. Running it again with no
// new devices adds nothing.
func (r *Reconciler) TryAddNewEntities(ctx context.Context) (int, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var ready []*coordinator.Coordinator
	for _, e := range r.cache.Entries() {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if c, ok := r.coordinatorFor(ctx, e.Device); ok {
			ready = append(ready, c)
		}
	}

	adder, batch := r.claim(ready)
	if len(batch) == 0 {
		return 0, nil
	}

	r.logger.Info("adding timer entities", "count", len(batch))
	if err := adder.AddEntities(ctx, batch); err != nil {
		return len(batch), fmt.Errorf("adding entities: %w", err)
	}
	return len(batch), nil
}

// claim marks the coordinators not yet handed to an adder as known and
// returns them with the current adder. Nothing is claimed without an adder.
func (r *Reconciler) claim(ready []*coordinator.Coordinator) (EntityAdder, []*coordinator.Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adder == nil {
		return nil, nil
	}
	var batch []*coordinator.Coordinator
	for _, c := range ready {
		uid := c.Device().UniqueID
		if r.known[uid] {
			r.logger.Debug("entity already known", "unique_id", uid)
			continue
		}
		r.known[uid] = true
		batch = append(batch, c)
	}
	return r.adder, batch
}

// coordinatorFor returns the coordinator for dev, creating, first
// refreshing and storing one if needed.
func (r *Reconciler) coordinatorFor(ctx context.Context, dev device.Device) (*coordinator.Coordinator, bool) {
	if c, ok := r.coords.Get(dev.Name); ok {
		return c, true
	}

	r.logger.Info("creating coordinator", "device", dev.Name, "address", dev.HostPort())
	c, err := r.factory(dev)
	if err != nil {
		r.logger.Error("creating coordinator failed", "device", dev.Name, "error", err)
		return nil, false
	}
	if err := c.FirstRefresh(ctx); err != nil {
		r.logger.Warn("first refresh failed, will retry on next discovery", "device", dev.Name, "error", err)
		c.Stop()
		return nil, false
	}

	// Another caller may have stored one while the first refresh ran.
	actual, loaded := r.coords.GetOrAdd(dev.Name, c)
	if loaded {
		c.Stop()
		return actual, true
	}
	r.activate(c)
	return c, true
}
