package cache

import "github.com/eriknylund/flightcache/internal/util"

// New constructs a Cache with the given Options and starts every
// partition's background purger (if PurgeInterval is set). Each key is
// routed to exactly one partition by hash(key) mod Partitions, stable for
// the instance's lifetime.
func New[K comparable, V any](opt Options) *Cache[K, V] {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	n := opt.partitions()
	ps := make([]*partition[K, V], n)
	for i := range ps {
		ps[i] = newPartition[K, V](opt)
	}

	c := &Cache[K, V]{
		partitions: ps,
		hash:       util.Fnv64a[K],
	}
	for _, p := range ps {
		p.start()
	}
	return c
}

// RecommendedPartitionCount suggests an auto-sized partition count
// (nextPow2(2×GOMAXPROCS), clamped to [1, 256]) for callers who would
// rather not hardcode Options.Partitions. The engine's own default
// (Options.Partitions unset) remains 1, as specified.
func RecommendedPartitionCount() int {
	return util.ReasonablePartitionCount()
}
