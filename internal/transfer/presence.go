package transfer

import (
	"container/list"
	"sync"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
)

// presenceCacheTTL is the destination presence check's fixed cache lifetime.
const presenceCacheTTL = 30 * time.Second

// presenceCacheMaxEntries bounds the in-process cache, which is
// size-bounded with LRU eviction.
const presenceCacheMaxEntries = 4096

// PresenceCache is the tenant-wide presence cache interface Manager uses.
// An implementation must be safe for concurrent use — it is shared across
// every call on the process, not owned by one Manager.
type PresenceCache interface {
	Get(tenant model.TenantId, destination string) (online bool, ok bool)
	Set(tenant model.TenantId, destination string, online bool, ttl time.Duration)
}

type presenceKey struct {
	tenant      model.TenantId
	destination string
}

type presenceEntry struct {
	key       presenceKey
	online    bool
	expiresAt time.Time
}

// InProcessPresenceCache is a mutex-guarded LRU+TTL cache keyed by
// (tenant, destination), grounded on
// cache/providers/inmemory.InMemoryCache: a map to *list.Element backed by
// a doubly-linked list for O(1) get/set/evict, lazy expiration on access,
// least-recently-used eviction once MaxEntries is exceeded.
type InProcessPresenceCache struct {
	mu         sync.Mutex
	items      map[presenceKey]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
}

// NewInProcessPresenceCache constructs an empty cache. It is the default
// PresenceCache when REDIS_HOST is unset.
func NewInProcessPresenceCache() *InProcessPresenceCache {
	return &InProcessPresenceCache{
		items:      make(map[presenceKey]*list.Element),
		order:      list.New(),
		maxEntries: presenceCacheMaxEntries,
		now:        time.Now,
	}
}

func (c *InProcessPresenceCache) Get(tenant model.TenantId, destination string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := presenceKey{tenant: tenant, destination: destination}
	elem, ok := c.items[key]
	if !ok {
		return false, false
	}
	e := elem.Value.(*presenceEntry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		return false, false
	}
	c.order.MoveToFront(elem)
	return e.online, true
}

func (c *InProcessPresenceCache) Set(tenant model.TenantId, destination string, online bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := presenceKey{tenant: tenant, destination: destination}
	expiresAt := c.now().Add(ttl)

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*presenceEntry)
		e.online = online
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	e := &presenceEntry{key: key, online: online, expiresAt: expiresAt}
	elem := c.order.PushFront(e)
	c.items[key] = elem

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.evictLocked()
	}
}

func (c *InProcessPresenceCache) evictLocked() {
	oldest := c.order.Back()
	if oldest != nil {
		c.removeLocked(oldest)
	}
}

func (c *InProcessPresenceCache) removeLocked(elem *list.Element) {
	e := elem.Value.(*presenceEntry)
	delete(c.items, e.key)
	c.order.Remove(elem)
}

// Len reports the current entry count, including not-yet-lazily-expired
// ones. Exposed for tests.
func (c *InProcessPresenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
