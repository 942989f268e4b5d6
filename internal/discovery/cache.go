package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
)

// Entry is a cached device with the time it was last announced.
type Entry struct {
	Device   device.Device `json:"device"`
	LastSeen time.Time     `json:"last_seen"`
}

// Cache holds discovered devices keyed by cleaned name.
//
// Thread Safety: All methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewCache creates an empty cache. A nil now uses time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]Entry),
		now:     now,
	}
}

// Add upserts dev. A device already cached keeps its stored identity and
// only has LastSeen refreshed. It reports whether the device was new.
func (c *Cache) Add(dev device.Device) bool {
	now := c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[dev.Name]; ok {
		e.LastSeen = now
		c.entries[dev.Name] = e
		return false
	}
	c.entries[dev.Name] = Entry{Device: dev, LastSeen: now}
	return true
}

// Remove deletes the device whose cleaned name matches rawName. Only the
// name is used.
func (c *Cache) Remove(rawName string) bool {
	name := device.CleanName(rawName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok {
		return false
	}
	delete(c.entries, name)
	return true
}

// Get returns the entry for a cleaned or raw name.
func (c *Cache) Get(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[device.CleanName(name)]
	return e, ok
}

// Snapshot returns a copy of the cache keyed by name.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Entry, len(c.entries))
	for name, e := range c.entries {
		out[name] = e
	}
	return out
}

// Entries returns a copy of the cache ordered by name.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device.Name < out[j].Device.Name })
	return out
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
