package cache

import (
	"sync"
	"time"
)

// entry is a stored value plus an optional expiration deadline. A zero
// deadline means "never expires".
type entry[V any] struct {
	value    V
	deadline time.Time // zero value means no TTL
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// store is one partition's concurrent key/value mapping. Lookups are
// lock-free against each other and against purges: it is backed by
// sync.Map rather than an RWMutex-guarded map, which is the "lock-free map"
// idiom the design calls out as the intended realization when reads must
// never serialize against each other.
type store[K comparable, V any] struct {
	m sync.Map // K -> *entry[V]
}

func newStore[K comparable, V any]() *store[K, V] {
	return &store[K, V]{}
}

// lookup returns the value for key and whether it is present and live. An
// entry whose deadline has passed is reported as not_found even though it
// may still be physically present until the next purge — the contract is
// observational, not a guarantee about residency.
func (s *store[K, V]) lookup(key K, now time.Time) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	e := v.(*entry[V])
	if e.expired(now) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// insertIfAbsent installs (value, ttl) for key only if key is not already
// present with a live entry; otherwise it is a no-op. Returns true if the
// entry was installed. Using insertIfAbsent rather than an unconditional
// insert on the single-flight success path is deliberate: it prevents a
// stale, slow-to-finish producer from overwriting a fresher value already
// installed by a later round (or by a racing Put).
func (s *store[K, V]) insertIfAbsent(key K, value V, ttl time.Duration, now time.Time) bool {
	deadline := deadlineFrom(ttl, now)
	next := &entry[V]{value: value, deadline: deadline}

	for {
		existing, loaded := s.m.LoadOrStore(key, next)
		if !loaded {
			return true
		}
		e := existing.(*entry[V])
		if !e.expired(now) {
			return false
		}
		// The resident entry is expired: it is observationally absent, so
		// this call is still entitled to install. Race losers of this CAS
		// simply retry against whatever is there now.
		if s.m.CompareAndSwap(key, existing, next) {
			return true
		}
	}
}

// delete removes key if present.
func (s *store[K, V]) delete(key K) {
	s.m.Delete(key)
}

// purgeExpired deletes every entry whose deadline is at or before now and
// reports how many were removed. It never removes a non-expiring entry.
func (s *store[K, V]) purgeExpired(now time.Time) int {
	removed := 0
	s.m.Range(func(key, value any) bool {
		e := value.(*entry[V])
		if !e.deadline.IsZero() && !e.deadline.After(now) {
			// CompareAndDelete avoids racing ahead of a concurrent writer
			// that has already replaced this key with a fresh entry.
			if s.m.CompareAndDelete(key, value) {
				removed++
			}
		}
		return true
	})
	return removed
}

// len reports the number of resident entries, expired or not (purely a
// memory-hygiene/observability figure — Get never relies on it).
func (s *store[K, V]) len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func deadlineFrom(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
