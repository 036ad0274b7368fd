// Package metrics exposes Prometheus counters for the alerting core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pfm_alerts"

var (
	// EvaluationsTotal counts evaluation passes by path and outcome.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluations_total",
			Help:      "Total evaluation passes",
		},
		[]string{"path", "outcome"},
	)

	// TriggersTotal counts emitted trigger events by alert type.
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "triggers_total",
			Help:      "Total trigger events emitted",
		},
		[]string{"type"},
	)

	// DeliveryAttempts counts send attempts by channel and outcome.
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_attempts_total",
			Help:      "Total delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	// DeliveriesSkipped counts deliberate skips by channel and reason.
	DeliveriesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_skipped_total",
			Help:      "Total deliveries skipped before contacting a provider",
		},
		[]string{"channel", "reason"},
	)

	// DeadLetters counts exhausted deliveries routed to the dead-letter
	// store.
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dead_letters_total",
			Help:      "Total deliveries dead-lettered after exhausting retries",
		},
		[]string{"channel"},
	)

	// BreakerState exposes each provider circuit's position:
	// 0 closed, 1 half_open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half_open, 2 open)",
		},
		[]string{"provider"},
	)

	// QueueDepth tracks the number of work items waiting in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Work items currently waiting in the queue",
		},
	)
)
