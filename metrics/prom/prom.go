package prom

import (
	"github.com/eriknylund/flightcache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges
// for both the hot Get path and the single-flight coordinator's outcomes.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	produced   prometheus.Counter
	purged     prometheus.Counter
	coordFails *prometheus.CounterVec
	sizeEnt    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		produced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "produced_total",
			Help:        "Producer invocations (one per elected Read owner, one per DirtyRead miss)",
			ConstLabels: constLabels,
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "purged_total",
			Help:        "Entries removed by the background purger",
			ConstLabels: constLabels,
		}),
		coordFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "coordinator_failures_total",
				Help:        "Single-flight coordinator failure outcomes by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.produced, a.purged, a.coordFails, a.sizeEnt)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Produced increments the producer-invocation counter.
func (a *Adapter) Produced() { a.produced.Inc() }

// OwnerFailure increments the coordinator-failures counter with reason "owner_failure".
func (a *Adapter) OwnerFailure() { a.coordFails.WithLabelValues("owner_failure").Inc() }

// CallbackFailure increments the coordinator-failures counter with reason "callback_failure".
func (a *Adapter) CallbackFailure() { a.coordFails.WithLabelValues("callback_failure").Inc() }

// RetryFailure increments the coordinator-failures counter with reason "retry_failure".
func (a *Adapter) RetryFailure() { a.coordFails.WithLabelValues("retry_failure").Inc() }

// CoordinatorTimeout increments the coordinator-failures counter with reason "coordinator_timeout".
func (a *Adapter) CoordinatorTimeout() { a.coordFails.WithLabelValues("coordinator_timeout").Inc() }

// Purged adds removed to the purge counter.
func (a *Adapter) Purged(removed int) { a.purged.Add(float64(removed)) }

// Size sets the resident-entries gauge.
func (a *Adapter) Size(entries int) { a.sizeEnt.Set(float64(entries)) }

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
