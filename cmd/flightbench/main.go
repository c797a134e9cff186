// Command flightbench runs a synthetic stampede workload against the
// single-flight Read path and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eriknylund/flightcache/cache"
	pmet "github.com/eriknylund/flightcache/metrics/prom"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var (
		partitions = flag.Int("partitions", 0, "number of partitions (0=auto)")

		workers  = flag.Int("workers", 8*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 95, "Read percentage [0..100]; the rest are Put")

		keys     = flag.Int("keys", 10_000, "keyspace size")
		zipfS    = flag.Float64("zipf_s", 1.3, "Zipf s > 1 (skew; higher concentrates traffic on fewer hot keys)")
		zipfV    = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		prodCost = flag.Duration("producer_latency", 5*time.Millisecond, "simulated producer latency, to surface stampedes if single-flight were absent")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "flightcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	part := *partitions
	if part <= 0 {
		part = cache.RecommendedPartitionCount()
	}
	c := cache.New[string, string](cache.Options{
		Partitions: part,
		Metrics:    metrics,
	})
	defer func() { _ = c.Close() }()

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	producerCost := *prodCost

	var reads, writes, succeeded, failed, producerCalls, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	producer := func(ctx context.Context) (string, error) {
		atomic.AddUint64(&producerCalls, 1)
		select {
		case <-time.After(producerCost):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "produced", nil
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, err := c.Read(ctx, keyByZipf(), time.Minute, producer); err == nil {
						atomic.AddUint64(&succeeded, 1)
					} else {
						atomic.AddUint64(&failed, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					c.Put(keyByZipf(), "v"+strconv.Itoa(localR.Int()), time.Minute)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	succeededN := atomic.LoadUint64(&succeeded)
	failedN := atomic.LoadUint64(&failed)
	producerCallsN := atomic.LoadUint64(&producerCalls)

	successRate := 0.0
	if readsN > 0 {
		successRate = float64(succeededN) / float64(readsN) * 100
	}

	fmt.Printf("partitions=%d workers=%d keys=%d dur=%v seed=%d zipf_s=%.2f\n",
		part, workersN, *keys, elapsed, seedBase, zipfSVal)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("read successes=%d  failures=%d  success-rate=%.2f%%\n", succeededN, failedN, successRate)
	fmt.Printf("producer invocations=%d (single-flight suppressed %d stampeding calls)\n",
		producerCallsN, readsN-producerCallsN)
	fmt.Printf("Len()=%d\n", c.Len())
}
