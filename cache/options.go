package cache

import "time"

// Never disables a duration-shaped option: no expiration for Put, no
// background purging for PurgeInterval.
const Never time.Duration = 0

// Clock provides the current time; useful for deterministic tests (see
// fakeClock in cache_test.go). A nil Options.Clock means time.Now.
type Clock interface{ Now() time.Time }

// Options configures a Cache instance. Zero values are safe; defaults are
// applied in New():
//   - Partitions <= 0       => 1 (see RecommendedPartitionCount for an
//     opt-in auto-sized alternative)
//   - PurgeInterval == Never => background purging disabled; Get still
//     honors deadlines observationally
//   - nil Metrics            => NoopMetrics
type Options struct {
	// Partitions is the fixed number of independent shards. Each key is
	// routed to exactly one partition for the cache instance's lifetime.
	// Defaults to 1.
	Partitions int

	// PurgeInterval is how often each partition's background purger scans
	// for expired entries. Never (the zero value) disables it; Get always
	// honors deadlines regardless of purge scheduling — purging is purely
	// memory hygiene.
	PurgeInterval time.Duration

	// AcquireTimeout bounds how long a waiter blocks waiting for the owner's
	// release. That wait includes the owner's producer run, so a waiter
	// whose owner takes longer than this receives coordinator_timeout; the
	// owner's producer itself is never interrupted. Defaults to 60s.
	AcquireTimeout time.Duration

	// Metrics receives Hit/Miss/Produced/Purge/failure signals. Defaults
	// to NoopMetrics.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now.
	Clock Clock
}

func (o Options) partitions() int {
	if o.Partitions <= 0 {
		return 1
	}
	return o.Partitions
}

func (o Options) acquireTimeout() time.Duration {
	if o.AcquireTimeout <= 0 {
		return defaultAcquireTimeout
	}
	return o.AcquireTimeout
}

const defaultAcquireTimeout = 60 * time.Second
