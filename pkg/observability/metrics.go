// Package observability exposes query lifecycle metrics to Prometheus.
package observability

import (
	"net/http"
	"time"

	"github.com/illmade-knight/go-queryflow/pkg/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for the query store and satisfies
// query.Recorder. Each Collector owns its registry, so tests can create as
// many as they like.
type Collector struct {
	registry *prometheus.Registry

	FetchesStarted  *prometheus.CounterVec
	FetchesDeduped  *prometheus.CounterVec
	FetchesResolved *prometheus.CounterVec
	StaleResults    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
}

var _ query.Recorder = (*Collector)(nil)

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		FetchesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_started_total",
			Help:      "Fetches started, by query key.",
		}, []string{"key"}),
		FetchesDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_deduplicated_total",
			Help:      "Triggers absorbed by an in-flight fetch, by query key.",
		}, []string{"key"}),
		FetchesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_resolved_total",
			Help:      "Fetches whose result was applied, by query key and outcome.",
		}, []string{"key", "outcome"}),
		StaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Results dropped because a newer fetch had started, by query key.",
		}, []string{"key"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time from fetch start to applied result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"key", "outcome"}),
	}

	registry.MustRegister(
		c.FetchesStarted,
		c.FetchesDeduped,
		c.FetchesResolved,
		c.StaleResults,
		c.FetchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) FetchStarted(key query.Key) {
	c.FetchesStarted.WithLabelValues(string(key)).Inc()
}

func (c *Collector) FetchDeduped(key query.Key) {
	c.FetchesDeduped.WithLabelValues(string(key)).Inc()
}

func (c *Collector) FetchResolved(key query.Key, outcome query.Outcome, elapsed time.Duration) {
	c.FetchesResolved.WithLabelValues(string(key), string(outcome)).Inc()
	c.FetchDuration.WithLabelValues(string(key), string(outcome)).Observe(elapsed.Seconds())
}

func (c *Collector) StaleDiscarded(key query.Key) {
	c.StaleResults.WithLabelValues(string(key)).Inc()
}

// Registry returns the registry holding this collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
