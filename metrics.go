package symcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports kernel activity to Prometheus. A nil *Metrics records
// nothing, so kernels without WithMetrics pay only a nil check.
type Metrics struct {
	allocs      prometheus.Counter
	allocBytes  prometheus.Counter
	compactions prometheus.Counter
	evals       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	evalSeconds prometheus.Histogram
	arenaBytes  prometheus.Gauge
	regions     prometheus.Gauge
}

// NewMetrics creates the kernel collectors and registers them on reg. The
// collectors are shared by every kernel given the returned value, such as
// the workers of a Pool.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		allocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symcore_node_allocations_total",
			Help: "Nodes allocated in kernel arenas",
		}),
		allocBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symcore_node_allocated_bytes_total",
			Help: "Bytes allocated in kernel arenas",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symcore_compactions_total",
			Help: "Regions closed by compact, keep or release",
		}),
		evals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symcore_evaluations_total",
			Help: "Top-level evaluations by outcome",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symcore_errors_total",
			Help: "Kernel errors by kind",
		}, []string{"kind"}),
		evalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symcore_eval_duration_seconds",
			Help:    "Duration of top-level evaluations",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		arenaBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symcore_arena_bytes",
			Help: "Bytes in use by the most recently active arena",
		}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symcore_arena_regions",
			Help: "Open regions of the most recently active arena",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.allocs, m.allocBytes, m.compactions, m.evals, m.errors, m.evalSeconds, m.arenaBytes, m.regions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeAlloc(size int) {
	if m == nil {
		return
	}
	m.allocs.Inc()
	m.allocBytes.Add(float64(size))
}

func (m *Metrics) observeArena(a *arena) {
	if m == nil {
		return
	}
	m.arenaBytes.Set(float64(a.bytes))
	m.regions.Set(float64(len(a.regions)))
}

func (m *Metrics) observeCompact(a *arena) {
	if m == nil {
		return
	}
	m.compactions.Inc()
	m.observeArena(a)
}

func (m *Metrics) observeEval(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.evals.WithLabelValues(outcome).Inc()
	m.evalSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeError(kind ErrorKind) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind.String()).Inc()
}
