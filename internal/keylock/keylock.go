// Package keylock implements the per-partition single-flight coordinator:
// for any given key, at most one producer is ever in flight at a time, and
// every concurrent caller for that key observes the same terminal result.
//
// This is grounded on a classic Go single-flight Group (one mutex-guarded
// map, one-shot done channels per in-flight call) but extends it with the
// two properties a cache partition needs on top of plain call coalescing:
// an explicit Owner/Waiter distinction (Acquire returns a Lease to the
// elected owner rather than running the work itself), and owner-liveness
// observation so a producer that panics, errors, or is abandoned by its
// caller's context still releases every waiter.
package keylock

import (
	"context"
	"sync"
)

// Result is the terminal outcome passed to Release and delivered to every
// waiter of the released key.
type Result[V any] struct {
	Value V
	Err   error
}

// record is the bookkeeping kept for one in-flight key — the InFlight
// record: an implicit owner (the caller that received a non-nil Lease from
// Acquire) plus the ordered set of waiters attached after election.
type record[V any] struct {
	waiters []chan Result[V]
	done    chan struct{} // closed by release; stops the owner-liveness watcher
}

// Lease is the opaque token handed to an elected owner. It must be passed
// back to Release exactly once, in finite time. It plays the role of the
// InFlight record's ownerToken: the coordinator uses it to recognize which
// in-flight record a given Release call is allowed to retire, so a stale
// liveness failure can never retire a key's *later* owner.
type Lease[K comparable, V any] struct {
	key K
	rec *record[V]
}

// Coordinator is the KeyLock: single-flight election and waiter
// registration for one partition. Every mutation of the in-flight map
// happens start-to-finish under mu — that total order is the only
// synchronization primitive the design relies on: between any two
// overlapping Acquire calls for the same key, exactly one observes "not in
// flight" and becomes owner.
type Coordinator[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*record[V]
}

// NewCoordinator constructs an empty KeyLock.
func NewCoordinator[K comparable, V any]() *Coordinator[K, V] {
	return &Coordinator[K, V]{m: make(map[K]*record[V])}
}

// Acquire elects an owner for key if none is currently in flight, or
// registers the caller as a waiter otherwise.
//
// On election, lease is non-nil and must be passed to
// Release exactly once; wait is nil. ownerCtx's cancellation is how the
// coordinator observes the elected owner's liveness: if ownerCtx concludes
// before Release is called, the coordinator synthesizes ownerFailure as the
// result delivered to every waiter.
//
// On joining an in-flight call, lease is nil and wait
// receives exactly one Result once the owner (or the liveness watcher)
// releases the key.
func (c *Coordinator[K, V]) Acquire(ownerCtx context.Context, key K, ownerFailure error) (lease *Lease[K, V], wait <-chan Result[V]) {
	c.mu.Lock()
	rec, inFlight := c.m[key]
	if !inFlight {
		rec = &record[V]{done: make(chan struct{})}
		c.m[key] = rec
		c.mu.Unlock()

		lease = &Lease[K, V]{key: key, rec: rec}
		go c.watch(ownerCtx, lease, ownerFailure)
		return lease, nil
	}

	ch := make(chan Result[V], 1)
	rec.waiters = append(rec.waiters, ch)
	c.mu.Unlock()
	return nil, ch
}

// watch observes the owner's context for the lifetime of its lease. If the
// context concludes before Release retires the lease, the owner is
// considered to have vanished and every waiter is released with
// ownerFailure instead of being left blocked indefinitely.
func (c *Coordinator[K, V]) watch(ownerCtx context.Context, lease *Lease[K, V], ownerFailure error) {
	select {
	case <-lease.rec.done:
	case <-ownerCtx.Done():
		c.release(lease, Result[V]{Err: ownerFailure})
	}
}

// Release retires lease and delivers res to every waiter that joined it.
// It is idempotent with respect to a racing liveness failure: whichever of
// the real Release call or the watcher's synthesized one runs first retires
// the record; the other finds the lease already retired and is a no-op.
func (c *Coordinator[K, V]) Release(lease *Lease[K, V], res Result[V]) {
	c.release(lease, res)
}

func (c *Coordinator[K, V]) release(lease *Lease[K, V], res Result[V]) {
	c.mu.Lock()
	current, ok := c.m[lease.key]
	if !ok || current != lease.rec {
		// Already retired by the other race participant (owner vs. watcher),
		// or — in principle — a programming error calling Release twice.
		c.mu.Unlock()
		return
	}
	delete(c.m, lease.key)
	waiters := lease.rec.waiters
	c.mu.Unlock()

	close(lease.rec.done)
	deliverAsync(waiters, res)
}
