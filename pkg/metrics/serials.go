package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the serial counters.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SerialMetrics tracks the serial state machine, the allocation guard and stock drift.
type SerialMetrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	stockDrift  *prometheus.CounterVec
	delivery    *prometheus.CounterVec
}

// NewSerialMetrics registers the serial metrics; a nil registerer yields a no-op recorder.
func NewSerialMetrics(reg prometheus.Registerer) *SerialMetrics {
	if reg == nil {
		return &SerialMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serials_transitions_total",
		Help: "Serial unit transitions by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serials_allocation_rejections_total",
		Help: "Assign/allocate batches rejected for exceeding the order item quantity.",
	}, []string{"operation"})
	stockDrift := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serials_stock_drift_corrections_total",
		Help: "Products whose cached available count was corrected.",
	}, []string{"source"})
	delivery := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serials_outbox_deliveries_total",
		Help: "Outbox deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(transitions, rejections, stockDrift, delivery)
	return &SerialMetrics{
		transitions: transitions,
		rejections:  rejections,
		stockDrift:  stockDrift,
		delivery:    delivery,
	}
}

// ObserveTransition counts n units moved by trigger with the given outcome.
func (m *SerialMetrics) ObserveTransition(trigger, outcome string, n int) {
	if m == nil || m.transitions == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Add(float64(n))
}

func (m *SerialMetrics) IncAllocationRejected(operation string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *SerialMetrics) AddStockDrift(source string, products int) {
	if m == nil || m.stockDrift == nil || products <= 0 {
		return
	}
	m.stockDrift.WithLabelValues(normalizeLabel(source)).Add(float64(products))
}

func (m *SerialMetrics) IncDelivery(eventType, outcome string) {
	if m == nil || m.delivery == nil {
		return
	}
	m.delivery.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
