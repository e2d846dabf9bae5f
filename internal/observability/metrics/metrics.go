package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking flows.
type BookingMetrics struct {
	operationsTotal *prometheus.CounterVec
	conflictsTotal  *prometheus.CounterVec
	bookingLatency  *prometheus.HistogramVec
	remindersTotal  *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Total booking operations by outcome",
		}, []string{"operation", "outcome"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "booking",
			Name:      "conflicts_total",
			Help:      "Total interval conflicts reported to callers",
		}, []string{"operation"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cabinet",
			Subsystem: "booking",
			Name:      "operation_latency_seconds",
			Help:      "Latency of booking operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "reminders",
			Name:      "derived_total",
			Help:      "Total reminder rows written alongside bookings",
		}, []string{"type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.conflictsTotal, m.bookingLatency, m.remindersTotal)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.bookingLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveConflict(operation string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(operation).Inc()
}

func (m *BookingMetrics) ObserveReminder(reminderType string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(reminderType).Inc()
}

// DispatchMetrics exposes counters for the reminder dispatch worker.
type DispatchMetrics struct {
	dispatchedTotal *prometheus.CounterVec
	pollLatency     prometheus.Histogram
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cabinet",
			Subsystem: "reminders",
			Name:      "dispatched_total",
			Help:      "Reminder delivery attempts by channel and outcome",
		}, []string{"type", "outcome"}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cabinet",
			Subsystem: "reminders",
			Name:      "poll_latency_seconds",
			Help:      "Latency of one dispatch poll cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchedTotal, m.pollLatency)
	return m
}

func (m *DispatchMetrics) ObserveDispatch(reminderType, outcome string) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(reminderType, outcome).Inc()
}

func (m *DispatchMetrics) ObservePoll(seconds float64) {
	if m == nil {
		return
	}
	m.pollLatency.Observe(seconds)
}
