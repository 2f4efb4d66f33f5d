// Package metrics exposes request outcomes, background failures and the
// deferred-write backlog as Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/cachehandle/internal/proxy"
)

// DefaultNamespace 是所有指标名的前缀。
const DefaultNamespace = "cachehandle"

// Default histogram buckets for request duration (in seconds)
var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Recorder 实现 proxy.Observer，并提供失败计数与抓取 handler。
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        prometheus.GaugeFunc
}

// New builds a Recorder. inflight reports the current deferred-write backlog;
// nil means the gauge always reads zero.
func New(namespace string, inflight func() float64) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if inflight == nil {
		inflight = func() float64 { return 0 }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests by cache outcome (hit, miss, bypass)",
			},
			[]string{"outcome"},
		),

		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Background failures by kind (lookup, write, task)",
			},
			[]string{"kind"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent deciding and producing a response",
				Buckets:   defaultBuckets,
			},
			[]string{"outcome"},
		),

		inflight: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deferred_inflight",
				Help:      "Deferred cache writes that have not settled yet",
			},
			inflight,
		),
	}

	registry.MustRegister(
		r.requestsTotal,
		r.failuresTotal,
		r.requestDuration,
		r.inflight,
	)
	return r
}

// ObserveRequest implements proxy.Observer.
func (r *Recorder) ObserveRequest(outcome proxy.Outcome, elapsed time.Duration) {
	r.requestsTotal.WithLabelValues(string(outcome)).Inc()
	r.requestDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// RecordFailure 按 proxy.FailureKind 分类计数，适合作为 deferred.Options.OnFailure。
func (r *Recorder) RecordFailure(err error) {
	if err == nil {
		return
	}
	r.failuresTotal.WithLabelValues(proxy.FailureKind(err)).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler for Prometheus scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
