// Package metrics exposes the worker's run counters over Prometheus,
// following the GaugeVec/CounterVec-struct-plus-registry style used by
// HouzuoGuo-laitos's daemon/maintenance ActivityMonitorMetrics, adapted
// to the probe engine's own observables instead of process activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this worker registers. Construct once
// per process with New and register it with a *prometheus.Registry (or
// the default one) before serving /metrics.
type Metrics struct {
	ProbesTotal      *prometheus.CounterVec
	MXDialSeconds    *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
	RetryQueueDepth  prometheus.Gauge
	GreylistDeferred *prometheus.CounterVec
}

// New constructs the collector set. Call Register to attach it to a
// registry; left unregistered, the returned Metrics is still safe to
// update (useful in tests that don't care about scraping).
func New() *Metrics {
	return &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpverify",
			Name:      "probes_total",
			Help:      "Total RCPT probes completed, by final verdict kind.",
		}, []string{"verdict"}),
		MXDialSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smtpverify",
			Name:      "mx_dial_seconds",
			Help:      "Time to establish and greet an MX connection, by domain.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smtpverify",
			Name:      "queue_depth",
			Help:      "Approximate number of jobs waiting in the intake queue.",
		}),
		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smtpverify",
			Name:      "retry_queue_depth",
			Help:      "Number of jobs currently deferred awaiting greylist retry.",
		}),
		GreylistDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smtpverify",
			Name:      "greylist_deferred_total",
			Help:      "Jobs deferred to the retry queue because of a greylisting response, by domain.",
		}, []string{"domain"}),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		m.ProbesTotal,
		m.MXDialSeconds,
		m.QueueDepth,
		m.RetryQueueDepth,
		m.GreylistDeferred,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
