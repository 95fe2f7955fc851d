package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a cached participant set may serve reads before a
// store refresh, and doubles as the sweep interval.
const DefaultTTL = 5 * time.Minute

// ParticipantLoader loads the active participant set from the store on a cache
// miss. The conversation repository satisfies this.
type ParticipantLoader interface {
	ActiveParticipantIDs(conversationID uuid.UUID) ([]uuid.UUID, error)
}

type entry struct {
	ids       []uuid.UUID
	fetchedAt time.Time
}

// ParticipantCache answers "which users are active participants of C" without
// a store read on every fan-out. Entries expire after the TTL; any code path
// that changes membership must call Invalidate before the change is considered
// complete, so staleness is bounded by the TTL only for over-broadcast, never
// for a completed removal.
type ParticipantCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry

	loader ParticipantLoader
	ttl    time.Duration

	stop chan struct{}
	done chan struct{}

	// store-read counter, exposed for tests and reconciliation checks
	loads int64
}

// NewParticipantCache creates a cache backed by the given loader. ttl <= 0
// selects the default.
func NewParticipantCache(loader ParticipantLoader, ttl time.Duration) *ParticipantCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ParticipantCache{
		entries: make(map[uuid.UUID]entry),
		loader:  loader,
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Resolve returns the active participant ids for the conversation, serving the
// cached set while it is younger than the TTL and loading from the store
// otherwise. A loader failure is returned to the caller; nothing stale is
// served in its place.
func (c *ParticipantCache) Resolve(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	c.mu.RLock()
	e, ok := c.entries[conversationID]
	c.mu.RUnlock()

	if ok && time.Since(e.fetchedAt) < c.ttl {
		return e.ids, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := c.loader.ActiveParticipantIDs(conversationID)
	if err != nil {
		// Degrade to always-miss: drop whatever we had rather than risk
		// serving a stale set.
		c.Invalidate(conversationID)
		return nil, err
	}

	c.mu.Lock()
	c.entries[conversationID] = entry{ids: ids, fetchedAt: time.Now()}
	c.loads++
	c.mu.Unlock()

	return ids, nil
}

// Invalidate drops the cached entry immediately. Membership writers call this
// synchronously before reporting success.
func (c *ParticipantCache) Invalidate(conversationID uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}

// Start launches the periodic sweep that evicts entries older than the TTL,
// bounding memory independent of invalidation traffic.
func (c *ParticipantCache) Start() {
	go func() {
		ticker := time.NewTicker(c.ttl)
		defer ticker.Stop()
		defer close(c.done)

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				evicted := c.sweep()
				if evicted > 0 {
					log.Debug().Int("evicted", evicted).Msg("participant cache sweep")
				}
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (c *ParticipantCache) Stop() {
	close(c.stop)
	<-c.done
}

func (c *ParticipantCache) sweep() int {
	now := time.Now()
	evicted := 0

	c.mu.Lock()
	for id, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, id)
			evicted++
		}
	}
	c.mu.Unlock()

	return evicted
}

// Len returns the number of cached conversations
func (c *ParticipantCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Loads returns how many store reads the cache has performed
func (c *ParticipantCache) Loads() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}
