package dispatch

import (
	"context"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// SendResult is a provider's synchronous answer to one send attempt.
// Delivered means the provider confirmed final delivery inline;
// otherwise the message was accepted and sits at "sent" until a
// provider event moves it on.
type SendResult struct {
	MessageID string
	Delivered bool
}

// ChannelAdapter is the one capability interface the orchestrator
// needs per channel: send, and classify failures by wrapping them as
// model.Transient / model.Permanent. Orchestration logic never
// branches on provider identity.
type ChannelAdapter interface {
	Channel() model.Channel
	// Provider names the external provider for circuit-breaker
	// bookkeeping.
	Provider() string
	Send(ctx context.Context, destination string, n *model.Notification) (SendResult, error)
}
