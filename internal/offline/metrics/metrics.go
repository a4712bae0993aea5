// Package metrics exposes Prometheus instrumentation for devotional saves
// and queue drains. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Save outcomes.
const (
	ModeOnline  = "online"
	ModeOffline = "offline"
	ModeFailed  = "failed"
)

// Sync outcomes.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	// Saved counts Save calls by outcome.
	// Labels:
	//   - mode: "online", "offline", "failed"
	Saved *prometheus.CounterVec

	// Synced counts queue items processed by drains.
	// Labels:
	//   - result: "success", "failure"
	Synced *prometheus.CounterVec

	// Pending is the queue depth observed after the last mutation.
	Pending prometheus.Gauge

	// Drains counts completed drains that attempted at least one write.
	Drains prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Saved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "koinonia",
				Name:      "devotionals_saved_total",
				Help:      "Devotional saves by outcome",
			},
			[]string{"mode"},
		),
		Synced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "koinonia",
				Name:      "devotionals_synced_total",
				Help:      "Queued devotionals processed by drains, by result",
			},
			[]string{"result"},
		),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "koinonia",
			Name:      "devotionals_pending",
			Help:      "Devotionals waiting in the offline queue",
		}),
		Drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "koinonia",
			Name:      "offline_drains_total",
			Help:      "Queue drains that attempted at least one remote write",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Saved, m.Synced, m.Pending, m.Drains)
	}
	return m
}

// ObserveSave records one Save outcome.
func (m *Metrics) ObserveSave(mode string) {
	if m == nil {
		return
	}
	m.Saved.WithLabelValues(mode).Inc()
}

// ObserveDrain records the counts of one drain.
func (m *Metrics) ObserveDrain(success, failed int) {
	if m == nil {
		return
	}
	m.Synced.WithLabelValues(ResultSuccess).Add(float64(success))
	m.Synced.WithLabelValues(ResultFailure).Add(float64(failed))
	m.Drains.Inc()
}

// SetPending records the current queue depth.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
