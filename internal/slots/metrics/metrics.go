package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the slot ledger.
type Metrics struct {
	SlotsCredited     prometheus.Counter
	SlotsDebited      prometheus.Counter
	InsufficientSlots prometheus.Counter

	// Purchase orders reaching a terminal state, by status.
	OrdersFinalized *prometheus.CounterVec

	GatewayErrors   *prometheus.CounterVec
	OutboxPublished prometheus.Counter
	VerifyLatency   prometheus.Histogram
}

// New creates a Metrics instance with all slot ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		SlotsCredited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examreg_slots_credited_total",
			Help: "Total slots credited to coordinator accounts",
		}),
		SlotsDebited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examreg_slots_debited_total",
			Help: "Total slots debited from coordinator accounts",
		}),
		InsufficientSlots: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examreg_insufficient_slot_failures_total",
			Help: "Debits rejected because the balance was too low",
		}),
		OrdersFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examreg_purchase_orders_finalized_total",
			Help: "Purchase orders reaching a terminal state",
		}, []string{"status"}), // status: "completed", "failed", "abandoned"
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examreg_gateway_errors_total",
			Help: "Payment gateway call failures by kind",
		}, []string{"kind"}), // kind: "unavailable", "rejected"
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examreg_notification_outbox_published_total",
			Help: "Notification events published from the outbox",
		}),
		VerifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examreg_payment_verify_duration_seconds",
			Help:    "Duration of payment verification including gateway calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementOrderFinalized records a terminal order transition.
func (m *Metrics) IncrementOrderFinalized(status string) {
	if m != nil {
		m.OrdersFinalized.WithLabelValues(status).Inc()
	}
}

// IncrementGatewayError records a gateway failure.
func (m *Metrics) IncrementGatewayError(kind string) {
	if m != nil {
		m.GatewayErrors.WithLabelValues(kind).Inc()
	}
}

// AddSlotsCredited records slots added by a completed purchase.
func (m *Metrics) AddSlotsCredited(n int) {
	if m != nil {
		m.SlotsCredited.Add(float64(n))
	}
}

// AddSlotsDebited records slots consumed by registrations.
func (m *Metrics) AddSlotsDebited(n int) {
	if m != nil {
		m.SlotsDebited.Add(float64(n))
	}
}

// IncrementInsufficient records a rejected debit.
func (m *Metrics) IncrementInsufficient() {
	if m != nil {
		m.InsufficientSlots.Inc()
	}
}

// IncrementOutboxPublished records a published notification.
func (m *Metrics) IncrementOutboxPublished() {
	if m != nil {
		m.OutboxPublished.Inc()
	}
}

// ObserveVerifyLatency records how long one verification round trip took.
func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
