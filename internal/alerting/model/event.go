package model

import "time"

// TriggerEvent is the ephemeral output of the evaluator: one alert
// condition that newly became true. It is consumed once by the
// delivery orchestrator and not persisted beyond the deliveries it
// spawns.
type TriggerEvent struct {
	AlertID     string            `json:"alertId"`
	UserID      string            `json:"userId"`
	Type        AlertType         `json:"type"`
	Fingerprint string            `json:"fingerprint"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Context     map[string]string `json:"context,omitempty"`
	TriggeredAt time.Time         `json:"triggeredAt"`
}

// DomainEventType names an upstream event that can start a real-time
// evaluation pass.
type DomainEventType string

const (
	EventTransactionPosted DomainEventType = "transaction.posted"
	EventBalanceUpdated    DomainEventType = "balance.updated"
	EventGoalUpdated       DomainEventType = "goal.updated"
)

// DomainEvent is the payload the transaction-write path (and friends)
// hands to the trigger ingress.
type DomainEvent struct {
	UserID     string            `json:"userId"`
	EventType  DomainEventType   `json:"eventType"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}
