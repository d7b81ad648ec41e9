package metrics_test

import (
	"testing"

	"github.com/artpar/billgate/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.PaymentsCreated == nil {
		t.Error("PaymentsCreated is nil")
	}
	if m.WebhookEvents == nil {
		t.Error("WebhookEvents is nil")
	}
	if m.QuotaConsumed == nil {
		t.Error("QuotaConsumed is nil")
	}
	if m.RenewalAttempts == nil {
		t.Error("RenewalAttempts is nil")
	}
	if m.SweepRuns == nil {
		t.Error("SweepRuns is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestPaymentCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.PaymentsCreated.WithLabelValues("payvn", "false").Inc()
	m.PaymentsCreated.WithLabelValues("stripe", "true").Add(3)
	m.PaymentsCompleted.WithLabelValues("payvn").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "billgate_payments_created_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("billgate_payments_created_total metric not found")
	}
}

func TestWebhookDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.WebhookDuration.WithLabelValues("payvn").Observe(0.01)
	m.WebhookDuration.WithLabelValues("payvn").Observe(0.05)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	for _, f := range families {
		if f.GetName() == "billgate_webhook_duration_seconds" {
			if f.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 samples, got %d", f.GetMetric()[0].GetHistogram().GetSampleCount())
			}
			return
		}
	}
	t.Error("billgate_webhook_duration_seconds metric not found")
}
