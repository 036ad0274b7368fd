package model

import (
	"time"
)

// AlertType enumerates the closed set of alert rule types. Dispatch on
// this type must be exhaustive: adding a type is a compile-time change
// in the evaluator, not a config entry.
type AlertType string

const (
	TypeAccountThreshold AlertType = "account_threshold"
	TypeGoal             AlertType = "goal"
	TypeMerchantName     AlertType = "merchant_name"
	TypeSpendingTarget   AlertType = "spending_target"
	TypeTransactionLimit AlertType = "transaction_limit"
	TypeUpcomingBill     AlertType = "upcoming_bill"
)

// AllAlertTypes lists every known type, in evaluation order.
var AllAlertTypes = []AlertType{
	TypeAccountThreshold,
	TypeGoal,
	TypeMerchantName,
	TypeSpendingTarget,
	TypeTransactionLimit,
	TypeUpcomingBill,
}

// RealtimeTypes are evaluated on the event-triggered path, bypassing
// the periodic cadence.
var RealtimeTypes = []AlertType{TypeTransactionLimit, TypeMerchantName}

func (t AlertType) Valid() bool {
	switch t {
	case TypeAccountThreshold, TypeGoal, TypeMerchantName,
		TypeSpendingTarget, TypeTransactionLimit, TypeUpcomingBill:
		return true
	}
	return false
}

// Realtime reports whether the type is latency-sensitive and served by
// the event-triggered evaluation path.
func (t AlertType) Realtime() bool {
	return t == TypeTransactionLimit || t == TypeMerchantName
}

// ThresholdDirection selects which side of an account threshold fires.
type ThresholdDirection string

const (
	DirectionAbove ThresholdDirection = "above"
	DirectionBelow ThresholdDirection = "below"
)

// Condition carries the type-specific parameters of an alert. Only the
// fields relevant to the alert's type are populated.
type Condition struct {
	AccountID string             `json:"accountId,omitempty"`
	Threshold float64            `json:"threshold,omitempty"`
	Direction ThresholdDirection `json:"direction,omitempty"`

	GoalID string `json:"goalId,omitempty"`

	MerchantPattern string `json:"merchantPattern,omitempty"`
	ExactMatch      bool   `json:"exactMatch,omitempty"`

	BudgetID string `json:"budgetId,omitempty"`

	Limit float64 `json:"limit,omitempty"`

	BillID   string `json:"billId,omitempty"`
	LeadDays int    `json:"leadDays,omitempty"`
}

// Alert is a user-owned rule instance. It is created and mutated by the
// CRUD API; this subsystem only reads it.
type Alert struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Type          AlertType     `json:"type"`
	Condition     Condition     `json:"condition"`
	Channels      []Channel     `json:"channels"`
	Active        bool          `json:"active"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered *time.Time    `json:"lastTriggered,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// HasChannel reports whether the alert enables the given channel.
func (a *Alert) HasChannel(ch Channel) bool {
	for _, c := range a.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// GoalMilestones are the goal-progress percentages that trigger a
// one-time notification each.
var GoalMilestones = []int{25, 50, 75, 100}

// SpendingMilestones are the budget-consumption percentages that
// trigger a one-time notification each.
var SpendingMilestones = []int{50, 80, 90, 100}
