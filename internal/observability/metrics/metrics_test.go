package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWizardMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWizardMetrics(reg)
	m.ObserveStep("personal_info", "succeeded")
	m.ObserveStep("personal_info", "succeeded")
	m.ObserveStep("document_upload", "rejected")
	m.ObserveCompletion()
	m.ObserveGatewayCall("start", "success", 0.12)
	m.ObserveKioskReset()

	if got := testutil.ToFloat64(m.stepOutcomes.WithLabelValues("personal_info", "succeeded")); got != 2 {
		t.Fatalf("expected 2 personal_info successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.completions); got != 1 {
		t.Fatalf("expected 1 completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.gatewayCalls.WithLabelValues("start", "success")); got != 1 {
		t.Fatalf("expected 1 start call, got %v", got)
	}
	if n := testutil.CollectAndCount(m.gatewayLatency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
}

func TestWizardMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewWizardMetrics(nil)
	m.ObserveCompletion()
	if got := testutil.ToFloat64(m.completions); got != 1 {
		t.Fatalf("expected 1 completion, got %v", got)
	}
}

func TestWizardMetricsNilSafe(t *testing.T) {
	var m *WizardMetrics
	m.ObserveStep("personal_info", "failed")
	m.ObserveCompletion()
	m.ObserveGatewayCall("complete", "error", 0.1)
	m.ObserveKioskReset()
}
