package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time      { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t = f.t.Add(d) }

// Uses a fake clock to avoid timing flakiness.
// Ensures that per-entry TTL is respected.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	c := New[string, string](Options{Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("x", "v", 100*time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(200 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("expired hit")
	}
}

// Put always reports success and never overwrites a resident value: the
// "already present" outcome is internal-only (see partition.put).
func TestCache_Put_NeverOverwrites(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options{})
	t.Cleanup(func() { _ = c.Close() })

	if ok := c.Put("a", 1, Never); !ok {
		t.Fatal("first Put must report success")
	}
	if ok := c.Put("a", 2, Never); !ok {
		t.Fatal("Put must report success even when it loses the race")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Put must not overwrite: want 1, got %v ok=%v", v, ok)
	}
}

// Concurrent Read calls for the same key coalesce into exactly one producer
// invocation; an unrelated key's producer runs independently.
func TestCache_Read_SingleFlight(t *testing.T) {
	t.Parallel()

	var k1Calls, k2Calls int64
	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	var g errgroup.Group
	var results [3]string

	g.Go(func() error {
		v, err := c.Read(ctx, "k1", time.Minute, func(context.Context) (string, error) {
			atomic.AddInt64(&k1Calls, 1)
			time.Sleep(60 * time.Millisecond)
			return "foo", nil
		})
		results[0] = v
		return err
	})
	time.Sleep(5 * time.Millisecond)
	g.Go(func() error {
		v, err := c.Read(ctx, "k1", time.Minute, func(context.Context) (string, error) {
			atomic.AddInt64(&k1Calls, 1)
			return "foo", nil
		})
		results[1] = v
		return err
	})
	g.Go(func() error {
		v, err := c.Read(ctx, "k2", time.Minute, func(context.Context) (string, error) {
			atomic.AddInt64(&k2Calls, 1)
			return "foo", nil
		})
		results[2] = v
		return err
	})

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, v := range results {
		if v != "foo" {
			t.Fatalf("result[%d] = %q, want foo", i, v)
		}
	}
	if got := atomic.LoadInt64(&k1Calls); got != 1 {
		t.Fatalf("k1 producer must run exactly once, got %d", got)
	}
	if got := atomic.LoadInt64(&k2Calls); got != 1 {
		t.Fatalf("k2 producer must run exactly once, got %d", got)
	}
}

// A waiter that joins an in-flight key whose owner fails receives the same
// error verbatim, and its own producer never runs.
func TestCache_Read_SharedError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	var waiterCalls int64
	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	var g errgroup.Group
	var ownerErr, waiterErr error

	g.Go(func() error {
		_, err := c.Read(ctx, "k", time.Minute, func(context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "", wantErr
		})
		ownerErr = err
		return nil
	})
	time.Sleep(5 * time.Millisecond)
	g.Go(func() error {
		_, err := c.Read(ctx, "k", time.Minute, func(context.Context) (string, error) {
			atomic.AddInt64(&waiterCalls, 1)
			return "unused", nil
		})
		waiterErr = err
		return nil
	})

	_ = g.Wait()
	if !errors.Is(ownerErr, wantErr) {
		t.Fatalf("owner error = %v, want %v", ownerErr, wantErr)
	}
	if !errors.Is(waiterErr, wantErr) {
		t.Fatalf("waiter error = %v, want %v", waiterErr, wantErr)
	}
	if got := atomic.LoadInt64(&waiterCalls); got != 0 {
		t.Fatalf("waiter's own producer must never run, ran %d times", got)
	}
}

// The owner's panic is re-raised to its own caller; a concurrent waiter
// instead receives a tagged callback_failure.
func TestCache_Read_ProducerPanic(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	var waiterErr error
	waiterDone := make(chan struct{})

	go func() {
		defer close(waiterDone)
		time.Sleep(20 * time.Millisecond)
		_, waiterErr = c.Read(ctx, "k", time.Minute, func(context.Context) (string, error) {
			t.Error("waiter's own producer must never run")
			return "", nil
		})
	}()

	ownerPanicked := func() (panicked bool) {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		_, _ = c.Read(ctx, "k", time.Minute, func(context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			panic("producer exploded")
		})
		return false
	}()

	if !ownerPanicked {
		t.Fatal("owner's panic must be re-raised to its own caller")
	}

	<-waiterDone
	var cerr *CacheError
	if !errors.As(waiterErr, &cerr) || cerr.Reason != ReasonCallbackFailure {
		t.Fatalf("waiter error = %v, want ReasonCallbackFailure", waiterErr)
	}
}

// If the owner's context concludes before it releases, waiters receive
// owner_failure instead of blocking forever.
func TestCache_Read_OwnerFailure(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	producerStarted := make(chan struct{})
	producerUnblocked := make(chan struct{})
	ownerDone := make(chan struct{})

	go func() {
		defer close(ownerDone)
		_, _ = c.Read(ownerCtx, "k", time.Minute, func(context.Context) (string, error) {
			close(producerStarted)
			// Stays blocked past the owner's cancellation, so the waiter can
			// only be released by the coordinator's liveness watcher.
			<-producerUnblocked
			return "", errors.New("owner gave up")
		})
	}()

	<-producerStarted
	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
			t.Error("waiter's own producer must never run")
			return "", nil
		})
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the waiter actually join
	cancelOwner()

	err := <-waiterErr
	close(producerUnblocked)
	<-ownerDone

	var cerr *CacheError
	if !errors.As(err, &cerr) || cerr.Reason != ReasonOwnerFailure {
		t.Fatalf("waiter error = %v, want ReasonOwnerFailure", err)
	}
}

// Get honors deadlines observationally even before the background purger
// would have run.
func TestCache_Expiration_BeforePurge(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options{PurgeInterval: time.Hour})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("k", "v", 10*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh miss")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry must be reported as absent even though no purge has run")
	}
}

// A slow producer for one key must not delay Read for a key routed to a
// different partition.
func TestCache_PartitionIsolation(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options{Partitions: 8})
	t.Cleanup(func() { _ = c.Close() })

	k1, k2 := distinctPartitionKeys(c, "p1-", "p2-")

	ctx := context.Background()
	slowStarted := make(chan struct{})
	go func() {
		_, _ = c.Read(ctx, k1, time.Minute, func(context.Context) (string, error) {
			close(slowStarted)
			time.Sleep(300 * time.Millisecond)
			return "slow", nil
		})
	}()
	<-slowStarted

	start := time.Now()
	v, err := c.Read(ctx, k2, time.Minute, func(context.Context) (string, error) {
		return "fast", nil
	})
	elapsed := time.Since(start)

	if err != nil || v != "fast" {
		t.Fatalf("Read(k2) = %q, %v", v, err)
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("Read(k2) took %v; a different partition's slow producer must not delay it", elapsed)
	}
}

// distinctPartitionKeys returns two keys, built from the given prefixes,
// that route to different partitions of c.
func distinctPartitionKeys[V any](c *Cache[string, V], prefixA, prefixB string) (string, string) {
	for i := 0; i < 10_000; i++ {
		a := fmt.Sprintf("%s%d", prefixA, i)
		b := fmt.Sprintf("%s%d", prefixB, i)
		if c.partitionFor(a) != c.partitionFor(b) {
			return a, b
		}
	}
	panic("could not find two keys in distinct partitions")
}

// DirtyRead is explicitly stampede-unsafe: concurrent misses may invoke the
// producer more than once.
func TestCache_DirtyRead_AllowsConcurrentProduction(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := c.DirtyRead(ctx, "k", time.Minute, func(context.Context) (string, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "v", nil
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got < 2 {
		t.Fatalf("DirtyRead should allow more than one concurrent producer invocation, got %d", got)
	}
}

// Stats aggregates hits/misses/entries across partitions.
func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options{Partitions: 4})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("a", 1, Never)
	c.Put("b", 2, Never)
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Entries != 2 {
		t.Fatalf("Entries = %d, want 2", s.Entries)
	}
	if s.Hits != 1 {
		t.Fatalf("Hits = %d, want 1", s.Hits)
	}
	if s.Misses != 1 {
		t.Fatalf("Misses = %d, want 1", s.Misses)
	}
}
