package application

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// publishedCache stores recent public catalogue pages so repeated browse
// queries skip the store while no listing enters or leaves APPROVED.
//
// The cache is per process. Invalidate only reaches this instance, so with
// several replicas a page may lag another replica's moderation by up to ttl.
type publishedCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	generation uint64
	entries    map[string]publishedCacheEntry
}

type publishedCacheEntry struct {
	listings  []Listing
	expiresAt time.Time
}

func newPublishedCache(ttl time.Duration, maxEntries int, now func() time.Time) *publishedCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &publishedCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]publishedCacheEntry),
	}
}

func (c *publishedCache) Get(key string) ([]Listing, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return cloneListings(entry.listings), true
}

// Generation identifies the current invalidation epoch. Readers capture it
// before querying the store and hand it back to Store.
func (c *publishedCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Store caches listings under key unless an Invalidate happened after
// generation was read, in which case the page may predate the change.
func (c *publishedCache) Store(key string, generation uint64, listings []Listing) {
	if c == nil {
		return
	}
	cloned := cloneListings(listings)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}
	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = publishedCacheEntry{listings: cloned, expiresAt: expiry}
}

func (c *publishedCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generation++
	c.entries = make(map[string]publishedCacheEntry)
	c.mu.Unlock()
}

func (c *publishedCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *publishedCache) evictOneLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	delete(c.entries, oldestKey)
}

// cloneListings copies the slice and the slice-valued fields of every
// listing so callers cannot mutate cached state.
func cloneListings(listings []Listing) []Listing {
	out := make([]Listing, len(listings))
	for i, listing := range listings {
		listing.Images = cloneStrings(listing.Images)
		listing.Amenities = cloneStrings(listing.Amenities)
		out[i] = listing
	}
	return out
}

func buildPublishedCacheKey(city string, minBedrooms *int, maxPriceCents *int64, limit int) string {
	var builder strings.Builder
	builder.WriteString(strings.ToLower(city))
	builder.WriteString("|")
	if minBedrooms != nil {
		builder.WriteString(strconv.Itoa(*minBedrooms))
	}
	builder.WriteString("|")
	if maxPriceCents != nil {
		builder.WriteString(strconv.FormatInt(*maxPriceCents, 10))
	}
	builder.WriteString("|")
	builder.WriteString(strconv.Itoa(limit))
	return builder.String()
}
