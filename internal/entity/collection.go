package entity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
)

// Collection is the set of exposed timer entities.
//
// Thread Safety: All methods are safe for concurrent use.
type Collection struct {
	registry  Registry
	publisher *Publisher
	logger    Logger

	mu       sync.RWMutex
	entities map[string]*TimerEntity
	removers []func()
}

// NewCollection creates an empty collection. registry and publisher may be nil.
func NewCollection(registry Registry, publisher *Publisher, logger Logger) *Collection {
	if logger == nil {
		logger = noopLogger{}
	}
	if publisher == nil {
		publisher = NewPublisher(PublisherOptions{Logger: logger})
	}
	return &Collection{
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		entities:  make(map[string]*TimerEntity),
	}
}

// AddEntities creates one entity per coordinator, subscribes it to the
// coordinator's updates and publishes its initial state. Entities are
// added even when the registry write fails; those errors are joined and
// returned.
func (c *Collection) AddEntities(ctx context.Context, coords []*coordinator.Coordinator) error {
	var errs []error
	for _, co := range coords {
		e := NewTimerEntity(co)

		c.mu.Lock()
		if _, exists := c.entities[e.UniqueID()]; exists {
			c.mu.Unlock()
			continue
		}
		c.entities[e.UniqueID()] = e
		c.removers = append(c.removers, co.AddListener(func() { c.publish(context.Background(), e) }))
		c.mu.Unlock()

		if c.registry != nil {
			dev := e.Device()
			err := c.registry.Register(ctx, Record{
				UniqueID:   e.UniqueID(),
				EntityID:   e.EntityID(),
				DeviceName: dev.Name,
				Address:    dev.Address,
				Port:       dev.Port,
				LastSeenAt: time.Now(),
			})
			if err != nil {
				errs = append(errs, err)
			}
		}

		c.logger.Info("timer entity added", "entity_id", e.EntityID(), "unique_id", e.UniqueID())
		c.publish(ctx, e)
	}
	return errors.Join(errs...)
}

func (c *Collection) publish(ctx context.Context, e *TimerEntity) {
	co := e.Coordinator()
	c.publisher.Publish(ctx, e.Snapshot(), co.LastPoll(), co.ConsecutiveFailures())
}

// Get returns the entity for uniqueID.
func (c *Collection) Get(uniqueID string) (*TimerEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[uniqueID]
	return e, ok
}

// List returns all entities ordered by device name.
func (c *Collection) List() []*TimerEntity {
	c.mu.RLock()
	out := make([]*TimerEntity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device().Name < out[j].Device().Name })
	return out
}

// States returns a snapshot of every entity.
func (c *Collection) States() []State {
	list := c.List()
	out := make([]State, 0, len(list))
	for _, e := range list {
		out = append(out, e.Snapshot())
	}
	return out
}

// Len returns the number of entities.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Close unsubscribes every entity from its coordinator.
func (c *Collection) Close() {
	c.mu.Lock()
	removers := c.removers
	c.removers = nil
	c.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}
