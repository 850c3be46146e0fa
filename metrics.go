package ioreactor

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus collector for a Reactor, restructured from the
// teacher's atomic-counter Metrics struct onto prometheus/client_golang's
// Collector interface, the way nabbar-golib/prometheus wires its own
// counters onto the same library.
type Metrics struct {
	PoolFree        prometheus.Gauge
	PoolInUse       prometheus.Gauge
	Accepts         prometheus.Counter
	AcceptsAborted  prometheus.Counter
	StaleEventDrops prometheus.Counter
	TimerExpirations prometheus.Counter
	AcceptDisabled  prometheus.Gauge
	ReclaimAttempts prometheus.Counter
	ReclaimFailures prometheus.Counter
	NotifyCount     prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set on reg, labeled with
// the given worker id so multiple reactors in one process (spec.md §5's
// goroutine-per-worker substitution) don't collide on metric names.
func NewMetrics(reg prometheus.Registerer, worker string) *Metrics {
	labels := prometheus.Labels{"worker": worker}
	m := &Metrics{
		PoolFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ioreactor", Name: "pool_free_connections", ConstLabels: labels,
			Help: "Connection slots currently on the freelist.",
		}),
		PoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ioreactor", Name: "pool_in_use_connections", ConstLabels: labels,
			Help: "Connection slots currently in use.",
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "accepts_total", ConstLabels: labels,
			Help: "Connections accepted.",
		}),
		AcceptsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "accepts_aborted_total", ConstLabels: labels,
			Help: "Accepts that failed with ECONNABORTED.",
		}),
		StaleEventDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "stale_event_drops_total", ConstLabels: labels,
			Help: "Readiness notifications discarded as stale.",
		}),
		TimerExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "timer_expirations_total", ConstLabels: labels,
			Help: "Timers that fired.",
		}),
		AcceptDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ioreactor", Name: "accept_disabled", ConstLabels: labels,
			Help: "Current accept_disabled backpressure counter (the larger of N/8 - free_count and the EMFILE/ENFILE backoff turns left).",
		}),
		ReclaimAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "reclaim_attempts_total", ConstLabels: labels,
			Help: "Reusable-LRU reclamation passes attempted.",
		}),
		ReclaimFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "reclaim_failures_total", ConstLabels: labels,
			Help: "Reclamation passes that did not free a slot.",
		}),
		NotifyCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioreactor", Name: "notify_total", ConstLabels: labels,
			Help: "Cross-thread Notify calls accepted by the backend.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.PoolFree, m.PoolInUse, m.Accepts, m.AcceptsAborted, m.StaleEventDrops,
			m.TimerExpirations, m.AcceptDisabled, m.ReclaimAttempts, m.ReclaimFailures, m.NotifyCount,
		} {
			_ = reg.Register(c)
		}
	}
	return m
}
