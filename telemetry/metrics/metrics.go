// Package metrics instruments the core's three always-on singletons (the
// RunEngine, the document publisher, and the ring buffer) with Prometheus
// collectors. A Recorder owns its own prometheus.Registry rather than
// registering against the global default registry, matching this
// "no ambient global references" rule for injected singletons: callers that
// want an HTTP exposition endpoint take Recorder.Registry() and wire it
// into their own promhttp.Handler (an external collaborator; wire encoding
// is out of this core's scope).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is nil-safe: every method on a nil *Recorder is a no-op, so
// components can carry an optional Metrics field and call through it
// unconditionally instead of branching on whether metrics were configured.
type Recorder struct {
	reg *prometheus.Registry

	msgTotal    *prometheus.CounterVec
	msgDuration *prometheus.HistogramVec
	runsTotal   *prometheus.CounterVec

	publisherPublished prometheus.Gauge
	publisherDropped   prometheus.Gauge
	publisherSubs      prometheus.Gauge

	ringOverflow *prometheus.GaugeVec
}

// NewRecorder constructs a Recorder backed by a fresh, private registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	return &Recorder{
		reg: reg,
		msgTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rudaq",
			Subsystem: "runengine",
			Name:      "msg_total",
			Help:      "Msgs dispatched by the RunEngine, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		msgDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rudaq",
			Subsystem: "runengine",
			Name:      "msg_duration_seconds",
			Help:      "Dispatch latency per Msg kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		runsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rudaq",
			Subsystem: "runengine",
			Name:      "runs_total",
			Help:      "Completed runs, by Stop.exit_status.",
		}, []string{"status"}),
		publisherPublished: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "rudaq",
			Subsystem: "publisher",
			Name:      "published_total",
			Help:      "Cumulative documents published across all subscribers.",
		}),
		publisherDropped: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "rudaq",
			Subsystem: "publisher",
			Name:      "dropped_total",
			Help:      "Cumulative documents dropped by drop-oldest subscribers.",
		}),
		publisherSubs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "rudaq",
			Subsystem: "publisher",
			Name:      "subscribers",
			Help:      "Current subscriber count.",
		}),
		ringOverflow: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rudaq",
			Subsystem: "ring",
			Name:      "consumer_overflow_total",
			Help:      "Per-consumer ring overflow count (entries skipped past).",
		}, []string{"consumer"}),
	}
}

// Registry exposes the private registry for an external exposition adapter.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObserveMsg records one dispatched Msg's outcome and latency.
func (r *Recorder) ObserveMsg(kind string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.msgTotal.WithLabelValues(kind, outcome).Inc()
	r.msgDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRunStop records a completed run's terminal status.
func (r *Recorder) ObserveRunStop(status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
}

// ObservePublisherStats snapshots the publisher's running counters
// (publisher.Stats, which are themselves cumulative), overwriting the
// recorder's gauges with the latest totals.
func (r *Recorder) ObservePublisherStats(subscribers int, published, dropped uint64) {
	if r == nil {
		return
	}
	r.publisherSubs.Set(float64(subscribers))
	r.publisherPublished.Set(float64(published))
	r.publisherDropped.Set(float64(dropped))
}

// ObserveRingOverflow records a consumer's cumulative overflow count.
func (r *Recorder) ObserveRingOverflow(consumer string, count uint64) {
	if r == nil {
		return
	}
	r.ringOverflow.WithLabelValues(consumer).Set(float64(count))
}
