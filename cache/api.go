package cache

import (
	"context"
	"time"

	"github.com/eriknylund/flightcache/internal/util"
)

// Cache is a fixed-partition, in-memory key/value cache that suppresses
// stampedes on hot keys: for any given key, Read ensures at most one
// Producer runs at a time across the whole process, and every concurrent
// caller for that key observes the same terminal result.
//
// All methods are safe for concurrent use by multiple goroutines.
type Cache[K comparable, V any] struct {
	partitions []*partition[K, V]
	hash       func(K) uint64
}

// Get returns the value for key and whether it is present and live. It
// never returns an entry whose deadline is in the past, regardless of
// whether a purge has run.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.partitionFor(key).get(key)
}

// Put installs key→value with the given TTL (Never disables expiration).
// It always reports success: Put is a best-effort installation that loses
// races to any concurrent single-flight producer for the same key, by
// design — see partition.put.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) bool {
	return c.partitionFor(key).put(key, value, ttl)
}

// Read is the stampede-safe path. On a hit it returns the resident value.
// On a miss, the calling goroutine either becomes the single elected owner
// that runs producer, or becomes a waiter that receives the owner's
// terminal outcome once it releases. See errors.go for the CacheError
// reasons a waiter may observe.
func (c *Cache[K, V]) Read(ctx context.Context, key K, ttl time.Duration, producer Producer[V]) (V, error) {
	return c.partitionFor(key).read(ctx, key, ttl, producer)
}

// DirtyRead is the explicit, stampede-unsafe fast path: on a miss it
// invokes producer directly with no coordination, so concurrent misses for
// the same key may run producer concurrently. Use Read unless you have
// already reasoned about why you don't need single-flight here.
func (c *Cache[K, V]) DirtyRead(ctx context.Context, key K, ttl time.Duration, producer Producer[V]) (V, error) {
	return c.partitionFor(key).dirtyRead(ctx, key, ttl, producer)
}

// Len returns the total number of resident entries across all partitions.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, p := range c.partitions {
		n, _, _ := p.stats()
		total += n
	}
	return total
}

// Stats aggregates hit/miss counters and resident entries across all
// partitions.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats reports the cache's aggregate hit/miss counters and resident size.
func (c *Cache[K, V]) Stats() Stats {
	var s Stats
	for _, p := range c.partitions {
		n, h, m := p.stats()
		s.Entries += n
		s.Hits += h
		s.Misses += m
	}
	return s
}

// Close stops every partition's background purger. It is the engine's only
// lifecycle hook — process supervision and restart policy are the host
// runtime's concern, not the cache's.
func (c *Cache[K, V]) Close() error {
	for _, p := range c.partitions {
		p.stop()
	}
	return nil
}

func (c *Cache[K, V]) partitionFor(key K) *partition[K, V] {
	idx := util.PartitionIndex(c.hash(key), len(c.partitions))
	return c.partitions[idx]
}
