package model

import "time"

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelInApp
}

// External reports whether the channel goes through an outside provider
// and is therefore subject to rate limiting, retries and circuit
// breaking. The in-app channel is a local write.
func (c Channel) External() bool { return c != ChannelInApp }

// DeliveryStatus is the lifecycle state of one channel delivery.
// Transitions are monotonic; bounced is reachable only from sent.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusBounced   DeliveryStatus = "bounced"
)

// CanTransition reports whether moving from s to next is a legal
// delivery state change.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusDelivered || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusFailed || next == StatusBounced
	default:
		return false
	}
}

// SkipReason annotates deliveries that were deliberately not attempted.
type SkipReason string

const (
	SkipRateLimited   SkipReason = "rate_limited"
	SkipProviderDown  SkipReason = "provider_unavailable"
	SkipNoDestination SkipReason = "no_destination"
	SkipQuietHours    SkipReason = "quiet_hours"
	// SkipLimiterUnavailable marks a limiter infrastructure failure,
	// as opposed to an exhausted quota.
	SkipLimiterUnavailable SkipReason = "limiter_unavailable"
)

// Notification is the parent record for one trigger event's fan-out.
// Fingerprint is unique: inserting a duplicate is the orchestrator's
// existing-delivery idempotency check.
type Notification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AlertID     string    `json:"alertId"`
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NotificationDelivery records one channel's delivery lifecycle for a
// notification. AttemptCount only ever increases.
type NotificationDelivery struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notificationId"`
	Channel        Channel        `json:"channel"`
	Destination    string         `json:"destination"`
	Status         DeliveryStatus `json:"status"`
	SkipReason     SkipReason     `json:"skipReason,omitempty"`
	AttemptCount   int            `json:"attemptCount"`
	ProviderMsgID  string         `json:"providerMessageId,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	NextAttemptAt  *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DeliveryStats is the operational counters view, grouped by channel
// and status.
type DeliveryStats struct {
	ByStatus     map[DeliveryStatus]int64 `json:"byStatus"`
	ByChannel    map[Channel]int64        `json:"byChannel"`
	DeadLettered int64                    `json:"deadLettered"`
}
