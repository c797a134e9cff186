// Package cache provides an in-process, in-memory key/value cache built
// around a single idea: for any given key, at most one producer runs at a
// time across the whole process, and every concurrent reader that missed
// that key observes the same result. This is what keeps a flood of
// concurrent misses on one hot key (a "stampede") from turning into a
// flood of concurrent calls to whatever expensive function fills it.
//
// Design
//
//   - Partitioning: the cache is a fixed-size array of N independent
//     partitions, selected at construction (Options.Partitions, default 1).
//     Each key is routed to exactly one partition by hash(key) mod N.
//     Partitions share no mutable state, so operations on unrelated keys in
//     different partitions never contend.
//
//   - Store: each partition keeps its entries in a sync.Map, giving
//     lock-free reads. insertIfAbsent — not an unconditional insert — is
//     used on every write path that single-flight relies on, so a stale,
//     slow-to-finish producer can never clobber a fresher value.
//
//   - KeyLock: the single-flight coordinator (internal/keylock). Per
//     partition, a mutex-guarded map elects exactly one owner per in-flight
//     key; every other concurrent caller for that key becomes a waiter.
//     The owner's context is how the coordinator observes its liveness: if
//     it concludes before the owner releases, every waiter is released
//     with an owner_failure error instead of blocking forever.
//
//   - Replier: waiter delivery happens outside the coordinator's mutex, so
//     a slow or abandoned waiter can never stall later Acquire/Release
//     processing on the partition.
//
//   - Purger: each partition runs an optional periodic sweep
//     (Options.PurgeInterval) that deletes expired entries. Purging is
//     purely memory hygiene — Get always honors deadlines observationally,
//     whether or not a purge has run yet.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options{Partitions: 4})
//	defer c.Close()
//
//	c.Put("a", []byte("1"), cache.Never)
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//
// Stampede-safe fill
//
//	v, err := c.Read(ctx, "user:42", 5*time.Minute, func(ctx context.Context) ([]byte, error) {
//	    return fetchFromDB(ctx, "user:42")
//	})
//	// However many goroutines call Read for "user:42" concurrently while it
//	// is missing, fetchFromDB runs at most once; the rest wait for its result.
//
// Exporting metrics (example Prometheus adapter)
//
//	m := prom.New(nil, "flightcache", "demo", nil) // implements cache.Metrics
//	c := cache.New[string, []byte](cache.Options{Metrics: m})
//
// Thread-safety
//
// All methods on Cache are safe for concurrent use. See cache.Options,
// cache.Metrics, and package keylock for the concurrency contract that
// Read relies on.
package cache
