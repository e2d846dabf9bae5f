package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveOperation("create", "success", 0.02)
	m.ObserveOperation("create", "conflict", 0.01)
	m.ObserveConflict("create")
	m.ObserveReminder("email")

	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("create", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %f", got)
	}
	if got := testutil.ToFloat64(m.conflictsTotal.WithLabelValues("create")); got != 1 {
		t.Fatalf("expected 1 conflict, got %f", got)
	}
	if got := testutil.ToFloat64(m.remindersTotal.WithLabelValues("email")); got != 1 {
		t.Fatalf("expected 1 reminder, got %f", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveOperation("create", "success", 0)
	m.ObserveConflict("create")
	m.ObserveReminder("sms")
}
