package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of idem_guard_outcomes_total.
const (
	OutcomeAdmitted   = "admitted"
	OutcomeRepeat     = "repeat"
	OutcomeReplayed   = "replayed"
	OutcomeLockFailed = "lock_failed"
	OutcomeStoreError = "store_error"
	OutcomeWorkFailed = "work_failed"
	OutcomeInvalidKey = "invalid_key"
)

// Release labels of idem_lock_release_total.
const (
	ReleaseReleased = "released"
	ReleaseNotOwner = "not_owner"
	ReleaseError    = "error"
)

// Metrics groups the guard collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Outcomes     *prometheus.CounterVec
	WorkDuration *prometheus.HistogramVec
	Releases     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg (if not nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idem_guard_outcomes_total",
				Help: "Idempotency guard decisions by outcome",
			},
			[]string{"prefix", "outcome"},
		),
		WorkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idem_work_duration_seconds",
				Help:    "Duration of guarded work",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"prefix"},
		),
		Releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idem_lock_release_total",
				Help: "Admission lock releases by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.WorkDuration, m.Releases)
	}
	return m
}

// Outcome counts one guard decision.
func (m *Metrics) Outcome(prefix, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(prefix, outcome).Inc()
}

// ObserveWork records how long the guarded work ran.
func (m *Metrics) ObserveWork(prefix string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkDuration.WithLabelValues(prefix).Observe(d.Seconds())
}

// Release counts one lock release.
func (m *Metrics) Release(result string) {
	if m == nil {
		return
	}
	m.Releases.WithLabelValues(result).Inc()
}
