package cache

import (
	"context"
	"time"

	"github.com/eriknylund/flightcache/internal/keylock"
	"github.com/eriknylund/flightcache/internal/util"
)

// Producer computes a value on a cache miss. It is an external
// collaborator: the engine invokes it and interprets its success/error
// return, but defines none of its semantics beyond that contract.
type Producer[V any] func(ctx context.Context) (V, error)

// partition is one independent shard: its own store, single-flight
// coordinator, and purger. Partitions share no mutable state; all
// contention reduction comes from routing keys to exactly one partition.
type partition[K comparable, V any] struct {
	store *store[K, V]
	locks *keylock.Coordinator[K, V]
	purge *purger[K, V]

	opt Options

	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

func newPartition[K comparable, V any](opt Options) *partition[K, V] {
	p := &partition[K, V]{
		store: newStore[K, V](),
		locks: keylock.NewCoordinator[K, V](),
		opt:   opt,
	}
	p.purge = newPurger(p, opt.PurgeInterval)
	return p
}

func (p *partition[K, V]) start() {
	p.purge.start()
}

func (p *partition[K, V]) stop() {
	p.purge.stop()
}

// stats reports this partition's resident entry count and cumulative
// hit/miss counters.
func (p *partition[K, V]) stats() (entries int, hits, misses int64) {
	return p.store.len(), p.hits.Load(), p.misses.Load()
}

func (p *partition[K, V]) now() time.Time {
	if p.opt.Clock != nil {
		return p.opt.Clock.Now()
	}
	return time.Now()
}

// get is the hot read path: a direct Store lookup. hits/misses are kept in
// cache-line-padded atomics (independent of Options.Metrics) so that
// Cache.Stats works even with NoopMetrics, without the counters of one
// partition falsely sharing a cache line with another's.
func (p *partition[K, V]) get(key K) (V, bool) {
	v, ok := p.store.lookup(key, p.now())
	if ok {
		p.hits.Add(1)
		p.opt.Metrics.Hit()
	} else {
		p.misses.Add(1)
		p.opt.Metrics.Miss()
	}
	return v, ok
}

// put is a best-effort installation: it always reports success to the
// caller even when it lost the race to a concurrent producer or another
// Put, because the "already present" outcome must stay internal — if Put
// instead forced an overwrite it would invalidate the single-flight
// contract (a stale Put could clobber a value a producer just installed
// for a key it is still the elected owner of).
func (p *partition[K, V]) put(key K, value V, ttl time.Duration) bool {
	p.store.insertIfAbsent(key, value, ttl, p.now())
	p.opt.Metrics.Size(p.store.len())
	return true
}

// read is the stampede-safe path: Get, then single-flight election,
// invoking producer at most once per in-flight key regardless of how many
// concurrent callers arrive for it.
func (p *partition[K, V]) read(ctx context.Context, key K, ttl time.Duration, producer Producer[V]) (V, error) {
	if v, ok := p.get(key); ok {
		return v, nil
	}

	lease, wait := p.locks.Acquire(ctx, key, &CacheError{Reason: ReasonOwnerFailure})
	if lease == nil {
		return p.await(ctx, key, wait)
	}
	return p.produce(ctx, key, ttl, producer, lease)
}

// await blocks a waiter until the owner (or the liveness watcher) releases
// the key, bounded by ctx and by the coordinator's own safety-net timeout.
func (p *partition[K, V]) await(ctx context.Context, key K, wait <-chan keylock.Result[V]) (V, error) {
	var zero V
	select {
	case res := <-wait:
		if isRetry(res.Err) {
			if v, ok := p.get(key); ok {
				return v, nil
			}
			p.opt.Metrics.RetryFailure()
			return zero, &CacheError{Reason: ReasonRetryFailure}
		}
		if err, ok := res.Err.(*CacheError); ok && err.Reason == ReasonOwnerFailure {
			p.opt.Metrics.OwnerFailure()
		}
		return res.Value, res.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-time.After(p.opt.acquireTimeout()):
		p.opt.Metrics.CoordinatorTimeout()
		return zero, &CacheError{Reason: ReasonCoordinatorTimeout}
	}
}

// produce runs as the elected owner: it invokes producer exactly once,
// installs a successful result with insertIfAbsent, and releases every
// waiter with the retry sentinel on success or with the verbatim/ tagged
// failure otherwise. A producer panic is recovered, tagged
// callback_failure for the waiters, and re-raised to the owner's own
// caller — the engine never swallows a producer crash, it only makes sure
// it does not leave waiters stranded.
func (p *partition[K, V]) produce(ctx context.Context, key K, ttl time.Duration, producer Producer[V], lease *keylock.Lease[K, V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			cerr := &CacheError{Reason: ReasonCallbackFailure, Cause: r}
			p.opt.Metrics.CallbackFailure()
			p.locks.Release(lease, keylock.Result[V]{Err: cerr})
			panic(r)
		}
	}()

	p.opt.Metrics.Produced()
	v, err = producer(ctx)
	if err != nil {
		p.locks.Release(lease, keylock.Result[V]{Err: err})
		return v, err
	}

	p.store.insertIfAbsent(key, v, ttl, p.now())
	p.opt.Metrics.Size(p.store.len())
	p.locks.Release(lease, keylock.Result[V]{Err: errRetry})
	return v, nil
}

// dirtyRead is the explicit, documented stampede-unsafe fast path: on a
// miss, the caller invokes producer directly with no coordination, so
// concurrent misses for the same key may invoke producer concurrently.
func (p *partition[K, V]) dirtyRead(ctx context.Context, key K, ttl time.Duration, producer Producer[V]) (V, error) {
	if v, ok := p.get(key); ok {
		return v, nil
	}
	p.opt.Metrics.Produced()
	v, err := producer(ctx)
	if err != nil {
		return v, err
	}
	p.store.insertIfAbsent(key, v, ttl, p.now())
	p.opt.Metrics.Size(p.store.len())
	return v, nil
}
