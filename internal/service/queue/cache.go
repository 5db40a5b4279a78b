package queue

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/queue-api/internal/model"
)

const snapshotKey = "patients"

// SnapshotCache holds the last full read of the patients table for a short
// TTL. A generation counter keeps a read that raced with a mutation from
// repopulating the cache with pre-mutation data.
type SnapshotCache struct {
	store      *cache.Cache
	mu         sync.Mutex
	generation uint64
}

func NewSnapshotCache(ttl, cleanupInterval time.Duration) *SnapshotCache {
	return &SnapshotCache{
		store: cache.New(ttl, cleanupInterval),
	}
}

// Load returns the cached snapshot, if any, and the generation a later
// Store must present.
func (c *SnapshotCache) Load() ([]*model.Patient, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, found := c.store.Get(snapshotKey); found {
		return cached.([]*model.Patient), c.generation, true
	}
	return nil, c.generation, false
}

// Store caches patients unless the cache was invalidated after generation was read.
func (c *SnapshotCache) Store(patients []*model.Patient, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.store.Set(snapshotKey, patients, cache.DefaultExpiration)
	return true
}

func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.store.Delete(snapshotKey)
}
