package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Put/Get/Read on random keys.
// Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options{Partitions: 32})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Put with a short TTL
					c.Put(k, []byte("x"), time.Duration(10+r.Intn(20))*time.Millisecond)
				case 5, 6, 7, 8, 9: // ~5% — Put, no expiry
					c.Put(k, []byte("x"), Never)
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% — Read (may become owner or waiter)
					_, _ = c.Read(ctx, k, 50*time.Millisecond, func(context.Context) ([]byte, error) {
						return []byte("loaded"), nil
					})
				default: // ~80% — Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
}

// One hundred goroutines call Read on the same missing key concurrently.
// The producer must run at most once (single-flight coalescing); every
// goroutine must observe the owner's value.
func TestRace_Read_SingleFlight(t *testing.T) {
	var calls int64

	c := New[string, string](Options{})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := c.Read(context.Background(), key, time.Minute, func(context.Context) (string, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(2 * time.Millisecond) // simulate I/O
				return "v:" + key, nil
			})
			if err != nil {
				t.Errorf("Read error: %v", err)
				return
			}
			if v != "v:"+key {
				t.Errorf("unexpected value: %q", v)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("producer must run exactly once, got %d", got)
	}

	if v, err := c.Read(context.Background(), key, time.Minute, func(context.Context) (string, error) {
		t.Error("producer must not run again on a resident key")
		return "", nil
	}); err != nil || v != "v:"+key {
		t.Fatalf("second Read failed: v=%q err=%v", v, err)
	}
}

// Concurrent Read calls racing against a context whose owner is cancelled
// mid-flight must never deadlock: every waiter eventually resolves.
func TestRace_Read_OwnerCancellation(t *testing.T) {
	c := New[string, string](Options{AcquireTimeout: time.Second})
	t.Cleanup(func() { _ = c.Close() })

	const goroutines = 32
	key := "cancel-key"

	ownerCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			// Whichever goroutine wins ownership must still unblock once
			// ownerCtx expires; sharing it across all callers guarantees
			// that regardless of which one is elected.
			_, _ = c.Read(ownerCtx, key, time.Minute, func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})
		}()
	}
	wg.Wait()
}
