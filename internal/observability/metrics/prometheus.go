// Package metrics provides Prometheus metrics for the medication engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated      prometheus.Counter
	PrescriptionsSuperseded   prometheus.Counter
	PrescriptionsDiscontinued prometheus.Counter
	PrescriptionsExpired      prometheus.Counter
	SlotsGenerated            prometheus.Counter
	SlotsResolved             *prometheus.CounterVec
	SlotsMissed               prometheus.Counter
	ScreeningsPerformed       prometheus.Counter
	ScreeningsBlocked         prometheus.Counter
	CustodyEntries            prometheus.Counter
	CustodyDiscrepancies      prometheus.Counter
	AlertsRaised              *prometheus.CounterVec
	AlertRefires              prometheus.Counter
	SweepDuration             prometheus.Histogram
	KafkaMessagesProduced     prometheus.Counter
	KafkaMessagesConsumed     prometheus.Counter
	OutboxPending             prometheus.Gauge
	CircuitBreakerState       *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PrescriptionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_superseded_total",
			Help: "Total prescriptions replaced by a modification",
		}),
		PrescriptionsDiscontinued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_discontinued_total",
			Help: "Total prescriptions discontinued",
		}),
		PrescriptionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_expired_total",
			Help: "Total prescriptions expired by sweeps",
		}),
		SlotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "administration_slots_generated_total",
			Help: "Total administration slots generated",
		}),
		SlotsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "administration_slots_resolved_total",
			Help: "Total slots resolved, by outcome",
		}, []string{"outcome"}),
		SlotsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "administration_slots_missed_total",
			Help: "Total slots marked missed past the grace window",
		}),
		ScreeningsPerformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_screenings_total",
			Help: "Total clinical safety screenings performed",
		}),
		ScreeningsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_screenings_blocked_total",
			Help: "Total screenings that blocked an operation",
		}),
		CustodyEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "custody_entries_total",
			Help: "Total controlled-substance custody entries appended",
		}),
		CustodyDiscrepancies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "custody_discrepancies_total",
			Help: "Total reconciliation discrepancies detected",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_raised_total",
			Help: "Total alerts raised, by severity",
		}, []string{"severity"}),
		AlertRefires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alert_refires_total",
			Help: "Total escalation re-fires of unacknowledged alerts",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Slot and expiry sweep duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.PrescriptionsSuperseded,
		m.PrescriptionsDiscontinued,
		m.PrescriptionsExpired,
		m.SlotsGenerated,
		m.SlotsResolved,
		m.SlotsMissed,
		m.ScreeningsPerformed,
		m.ScreeningsBlocked,
		m.CustodyEntries,
		m.CustodyDiscrepancies,
		m.AlertsRaised,
		m.AlertRefires,
		m.SweepDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
