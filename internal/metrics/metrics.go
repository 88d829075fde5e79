// Package metrics exposes sandbox counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tv_sandbox"

// Metrics groups every collector the service updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	RunsStarted    prometheus.Counter
	RunsFinished   *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	ActiveContexts prometheus.Gauge
	RPCCalls       *prometheus.CounterVec
	RPCErrors      *prometheus.CounterVec
	ArtifactWrites prometheus.Counter
	ArtifactClears prometheus.Counter
	ProgramCache   prometheus.Gauge
}

// New builds the collectors on a private registry so several services can
// coexist in one process (and in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h := helpers{reg}

	return &Metrics{
		reg:            reg,
		RunsStarted:    h.counter(prometheus.CounterOpts{Name: "runs_started_total", Help: "Execution contexts started"}),
		RunsFinished:   h.counterVec(prometheus.CounterOpts{Name: "runs_finished_total", Help: "Runs settled, by final state"}, []string{"state"}),
		RunDuration:    h.hist(prometheus.HistogramOpts{Name: "run_duration_seconds", Help: "Wall time from start to done", Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}}),
		ActiveContexts: h.gauge(prometheus.GaugeOpts{Name: "active_contexts", Help: "Execution contexts not yet exited"}),
		RPCCalls:       h.counterVec(prometheus.CounterOpts{Name: "rpc_calls_total", Help: "Capability calls received, by method"}, []string{"method"}),
		RPCErrors:      h.counterVec(prometheus.CounterOpts{Name: "rpc_errors_total", Help: "Capability calls answered with an error, by method"}, []string{"method"}),
		ArtifactWrites: h.counter(prometheus.CounterOpts{Name: "artifact_writes_total", Help: "Artifacts committed to the store"}),
		ArtifactClears: h.counter(prometheus.CounterOpts{Name: "artifact_clears_total", Help: "Artifacts removed from the store"}),
		ProgramCache:   h.gauge(prometheus.GaugeOpts{Name: "program_cache_entries", Help: "Compiled programs held in the cache"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveContexts.Inc()
}

func (m *Metrics) RunFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(state).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ContextExited() {
	if m == nil {
		return
	}
	m.ActiveContexts.Dec()
}

func (m *Metrics) RPC(method string, failed bool) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(method).Inc()
	if failed {
		m.RPCErrors.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) Artifacts(written, removed int) {
	if m == nil {
		return
	}
	m.ArtifactWrites.Add(float64(written))
	m.ArtifactClears.Add(float64(removed))
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.ProgramCache.Set(float64(n))
}

type helpers struct {
	reg prometheus.Registerer
}

func (h helpers) counter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = namespace
	c := prometheus.NewCounter(opts)
	h.reg.MustRegister(c)
	return c
}

func (h helpers) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = namespace
	c := prometheus.NewCounterVec(opts, labels)
	h.reg.MustRegister(c)
	return c
}

func (h helpers) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = namespace
	g := prometheus.NewGauge(opts)
	h.reg.MustRegister(g)
	return g
}

func (h helpers) hist(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = namespace
	hi := prometheus.NewHistogram(opts)
	h.reg.MustRegister(hi)
	return hi
}
