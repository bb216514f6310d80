// Package metrics exposes the ceremony counters. Outcomes are labelled by the
// failure category so dashboards can split user cancellations from backend
// rejections without parsing log lines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"arcbank/device-core/internal/faults"
)

type Set struct {
	Registrations  *prometheus.CounterVec
	Logins         *prometheus.CounterVec
	StepUpRetries  *prometheus.CounterVec
	IntegrityWipes prometheus.Counter
}

// New builds and registers the counter set. Pass prometheus.DefaultRegisterer
// in the agent, a fresh registry in tests.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_core_registrations_total",
			Help: "Registration ceremony outcomes.",
		}, []string{"outcome"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_core_logins_total",
			Help: "Authentication ceremony outcomes.",
		}, []string{"outcome"}),
		StepUpRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_core_stepup_retries_total",
			Help: "Step-up resubmission outcomes after a fraud block.",
		}, []string{"outcome"}),
		IntegrityWipes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_core_integrity_wipes_total",
			Help: "Local store wipes triggered by a fingerprint mismatch.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Registrations, s.Logins, s.StepUpRetries, s.IntegrityWipes)
	}
	return s
}

// Outcome reduces an error to a counter label: "ok" for nil, the failure
// category otherwise.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return faults.Category(err)
}
