package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// eventTypeMap narrows a domain event to the alert types it can affect
// so the real-time path evaluates only what the event could trigger.
var eventTypeMap = map[model.DomainEventType][]model.AlertType{
	model.EventTransactionPosted: {
		model.TypeTransactionLimit,
		model.TypeMerchantName,
		model.TypeSpendingTarget,
	},
	model.EventBalanceUpdated: {
		model.TypeAccountThreshold,
	},
	model.EventGoalUpdated: {
		model.TypeGoal,
	},
}

// Ingress turns incoming domain events into user-scoped evaluation
// tasks.
type Ingress struct {
	queue Queue
}

func NewIngress(q Queue) *Ingress {
	return &Ingress{queue: q}
}

// Accept enqueues a real-time evaluation for the event's user. Unknown
// event types are rejected.
func (in *Ingress) Accept(ctx context.Context, ev *model.DomainEvent) error {
	types, ok := eventTypeMap[ev.EventType]
	if !ok {
		return fmt.Errorf("unsupported event type %q", ev.EventType)
	}
	if ev.UserID == "" {
		return fmt.Errorf("event is missing user id")
	}
	task := &Task{Kind: TaskEvaluateUser, UserID: ev.UserID, Types: types}
	if err := in.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue event task: %w", err)
	}
	log.Debug().
		Str("user_id", ev.UserID).
		Str("event_type", string(ev.EventType)).
		Msg("ingress: evaluation enqueued")
	return nil
}
