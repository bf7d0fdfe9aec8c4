package eventbus

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CacheEntry is what the lifecycle cache remembers about a registered subscriber.
type CacheEntry struct {
	Subscriber   Subscriber
	Priority     Priority
	RegisteredAt time.Time
}

// ContextID returns the bound context ID, if the subscriber has one.
func (e CacheEntry) ContextID() (string, bool) {
	bound, ok := e.Subscriber.(ContextBound)
	if !ok {
		return "", false
	}

	return bound.ContextID(), true
}

// SubscriberCache remembers registered subscribers so stale ones can be enumerated and
// evicted. The ttl applies to context-bound entries only; other subscribers stay until
// they are removed. A zero ttl keeps every entry.
type SubscriberCache struct {
	cache *gocache.Cache
}

func NewSubscriberCache(ttl, cleanupInterval time.Duration) *SubscriberCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	return &SubscriberCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *SubscriberCache) Add(subscriber Subscriber, priority Priority) {
	ttl := gocache.DefaultExpiration
	if _, bound := subscriber.(ContextBound); !bound {
		ttl = gocache.NoExpiration
	}

	c.cache.Set(subscriber.SubscriberID(), CacheEntry{
		Subscriber:   subscriber,
		Priority:     priority,
		RegisteredAt: time.Now().UTC(),
	}, ttl)
}

func (c *SubscriberCache) Get(subscriberID string) (CacheEntry, bool) {
	v, found := c.cache.Get(subscriberID)
	if !found {
		return CacheEntry{}, false
	}

	entry, ok := v.(CacheEntry)

	return entry, ok
}

func (c *SubscriberCache) Remove(subscriberID string) {
	c.cache.Delete(subscriberID)
}

func (c *SubscriberCache) Entries() []CacheEntry {
	items := c.cache.Items()

	entries := make([]CacheEntry, 0, len(items))
	for _, item := range items {
		if entry, ok := item.Object.(CacheEntry); ok {
			entries = append(entries, entry)
		}
	}

	return entries
}

func (c *SubscriberCache) Len() int {
	return c.cache.ItemCount()
}
