package metrics

import "github.com/prometheus/client_golang/prometheus"

// WizardMetrics exposes counters/histograms for the registration wizard and
// its calls to the registration API.
type WizardMetrics struct {
	stepOutcomes    *prometheus.CounterVec
	completions     prometheus.Counter
	gatewayCalls    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	kioskResetTotal prometheus.Counter
}

func NewWizardMetrics(reg prometheus.Registerer) *WizardMetrics {
	m := &WizardMetrics{
		stepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediway",
			Subsystem: "wizard",
			Name:      "step_outcomes_total",
			Help:      "Wizard step submits by step and outcome",
		}, []string{"step", "outcome"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediway",
			Subsystem: "wizard",
			Name:      "registrations_completed_total",
			Help:      "Registrations completed at a kiosk",
		}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediway",
			Subsystem: "registration_api",
			Name:      "calls_total",
			Help:      "Registration API calls by operation and outcome",
		}, []string{"op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediway",
			Subsystem: "registration_api",
			Name:      "call_latency_seconds",
			Help:      "Latency of registration API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		kioskResetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediway",
			Subsystem: "wizard",
			Name:      "kiosk_resets_total",
			Help:      "Staff-initiated kiosk resets",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepOutcomes, m.completions, m.gatewayCalls, m.gatewayLatency, m.kioskResetTotal)
	return m
}

func (m *WizardMetrics) ObserveStep(step, outcome string) {
	if m == nil {
		return
	}
	m.stepOutcomes.WithLabelValues(step, outcome).Inc()
}

func (m *WizardMetrics) ObserveCompletion() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

func (m *WizardMetrics) ObserveGatewayCall(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(seconds)
}

func (m *WizardMetrics) ObserveKioskReset() {
	if m == nil {
		return
	}
	m.kioskResetTotal.Inc()
}
