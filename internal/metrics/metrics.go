// Package metrics exposes Prometheus counters for session transitions,
// synchronization and recovery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geoattend"

// Set holds the collectors. A nil *Set is valid and records nothing, so
// components can take one unconditionally.
type Set struct {
	Transitions   *prometheus.CounterVec
	SyncRecords   *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	RecoveryRuns  *prometheus.CounterVec
	ActiveSession prometheus.Gauge
	Tracking      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep runs isolated.
func New(reg *prometheus.Registry) *Set {
	f := promauto.With(reg)
	return &Set{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session state machine events by kind and outcome",
		}, []string{"event", "outcome"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records processed by synchronization runs by result",
		}, []string{"result"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Synchronization run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		RecoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_runs_total",
			Help:      "Recovery procedure runs by resulting action",
		}, []string{"action"}),
		ActiveSession: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session",
			Help:      "1 while a session is open for the configured user",
		}),
		Tracking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_running",
			Help:      "1 while session tracking timers are scheduled",
		}),
		gatherer: reg,
	}
}

// Transition counts one state machine event.
func (s *Set) Transition(event, outcome string) {
	if s == nil {
		return
	}
	s.Transitions.WithLabelValues(event, outcome).Inc()
}

// SyncResult adds n records to the given result bucket.
func (s *Set) SyncResult(result string, n int) {
	if s == nil || n == 0 {
		return
	}
	s.SyncRecords.WithLabelValues(result).Add(float64(n))
}

// ObserveSync records the duration of one synchronization run.
func (s *Set) ObserveSync(d time.Duration) {
	if s == nil {
		return
	}
	s.SyncDuration.Observe(d.Seconds())
}

// Recovery counts one recovery run.
func (s *Set) Recovery(action string) {
	if s == nil {
		return
	}
	s.RecoveryRuns.WithLabelValues(action).Inc()
}

// SetActive sets the active session gauge.
func (s *Set) SetActive(active bool) {
	if s == nil {
		return
	}
	s.ActiveSession.Set(boolFloat(active))
}

// SetTracking sets the tracking gauge.
func (s *Set) SetTracking(running bool) {
	if s == nil {
		return
	}
	s.Tracking.Set(boolFloat(running))
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	if s == nil || s.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
