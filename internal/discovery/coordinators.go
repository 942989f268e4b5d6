package discovery

import (
	"sort"
	"sync"

	"github.com/nerrad567/timerly-core/internal/coordinator"
)

// Coordinators maps device names to their running coordinator.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinators struct {
	mu     sync.RWMutex
	byName map[string]*coordinator.Coordinator
}

// NewCoordinators creates an empty set.
func NewCoordinators() *Coordinators {
	return &Coordinators{byName: make(map[string]*coordinator.Coordinator)}
}

// Get returns the coordinator for name.
func (s *Coordinators) Get(name string) (*coordinator.Coordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	return c, ok
}

// GetOrAdd stores c under name unless a coordinator is already there. It
// returns the stored coordinator and whether it was already present.
func (s *Coordinators) GetOrAdd(name string, c *coordinator.Coordinator) (*coordinator.Coordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byName[name]; ok {
		return existing, true
	}
	s.byName[name] = c
	return c, false
}

// ByUniqueID finds a coordinator by its device unique ID.
func (s *Coordinators) ByUniqueID(uniqueID string) (*coordinator.Coordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byName {
		if c.Device().UniqueID == uniqueID {
			return c, true
		}
	}
	return nil, false
}

// All returns every coordinator ordered by device name.
func (s *Coordinators) All() []*coordinator.Coordinator {
	s.mu.RLock()
	out := make([]*coordinator.Coordinator, 0, len(s.byName))
	for _, c := range s.byName {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device().Name < out[j].Device().Name })
	return out
}

// Len returns the number of coordinators.
func (s *Coordinators) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}

// Drain removes and returns every coordinator.
func (s *Coordinators) Drain() []*coordinator.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*coordinator.Coordinator, 0, len(s.byName))
	for name, c := range s.byName {
		out = append(out, c)
		delete(s.byName, name)
	}
	return out
}
