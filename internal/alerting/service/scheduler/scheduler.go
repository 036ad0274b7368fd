// Package scheduler drives periodic batch evaluation and real-time
// event-triggered evaluation through a durable work queue feeding the
// evaluator and the delivery orchestrator.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/metrics"
)

// AlertSource is the read side the scheduler needs from the alert
// store.
type AlertSource interface {
	ListActive(ctx context.Context, offset, limit int) ([]*model.Alert, error)
	ListActiveForUser(ctx context.Context, userID string, types []model.AlertType) ([]*model.Alert, error)
	Get(ctx context.Context, id string) (*model.Alert, error)
	CountActive(ctx context.Context) (int, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// Evaluator is the batch evaluation contract.
type Evaluator interface {
	Evaluate(ctx context.Context, alerts []*model.Alert) ([]model.TriggerEvent, error)
}

// Deliverer is the orchestrator contract the workers drive.
type Deliverer interface {
	Deliver(ctx context.Context, ev *model.TriggerEvent) error
	RetryDelivery(ctx context.Context, deliveryID string) error
}

// maxBatchAttempts bounds scheduler-level retries of an aborted batch.
const maxBatchAttempts = 5

// Deps carries everything a scheduler instance needs.
type Deps struct {
	Alerts    AlertSource
	Evaluator Evaluator
	Deliverer Deliverer
	Queue     Queue
	Batch     int
	Interval  time.Duration
	PollIdle  time.Duration
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

// Scheduler owns the periodic tick and the worker pool.
type Scheduler struct {
	deps Deps
}

func New(deps Deps) *Scheduler {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Minute
	}
	if deps.Batch <= 0 {
		deps.Batch = 200
	}
	if deps.PollIdle <= 0 {
		deps.PollIdle = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Scheduler{deps: deps}
}

// StartTicker enqueues a full evaluation sweep every interval. Run it
// in its own goroutine.
func (s *Scheduler) StartTicker(ctx context.Context) {
	t := time.NewTicker(s.deps.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.enqueueSweep(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler: enqueue sweep failed")
			}
		}
	}
}

// enqueueSweep splits the active alert set into bounded batches.
func (s *Scheduler) enqueueSweep(ctx context.Context) error {
	total, err := s.deps.Alerts.CountActive(ctx)
	if err != nil {
		return err
	}
	for off := 0; off < total; off += s.deps.Batch {
		t := &Task{Kind: TaskEvaluateBatch, Offset: off, Limit: s.deps.Batch}
		if err := s.deps.Queue.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	if n, err := s.deps.Queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
	log.Debug().Int("total_alerts", total).Int("batch", s.deps.Batch).Msg("scheduler: sweep enqueued")
	return nil
}

// StartWorker pulls tasks until the context is cancelled. Run one
// goroutine per configured worker.
func (s *Scheduler) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task, err := s.deps.Queue.Dequeue(ctx)
		if err != nil {
			log.Error().Err(err).Msg("scheduler: dequeue failed")
			sleepCtx(ctx, s.deps.PollIdle)
			continue
		}
		if task == nil {
			sleepCtx(ctx, s.deps.PollIdle)
			continue
		}
		s.process(ctx, task)
	}
}

func (s *Scheduler) process(ctx context.Context, t *Task) {
	switch t.Kind {
	case TaskEvaluateBatch:
		alerts, err := s.deps.Alerts.ListActive(ctx, t.Offset, t.Limit)
		if err != nil {
			log.Error().Err(err).Int("offset", t.Offset).Msg("scheduler: list batch failed")
			s.retryBatch(ctx, t)
			return
		}
		s.evaluateAndDeliver(ctx, t, alerts, "periodic")

	case TaskEvaluateUser:
		alerts, err := s.deps.Alerts.ListActiveForUser(ctx, t.UserID, t.Types)
		if err != nil {
			log.Error().Err(err).Str("user_id", t.UserID).Msg("scheduler: list user alerts failed")
			s.retryBatch(ctx, t)
			return
		}
		s.evaluateAndDeliver(ctx, t, alerts, "realtime")

	case TaskEvaluateAlert:
		a, err := s.deps.Alerts.Get(ctx, t.AlertID)
		if err != nil {
			log.Error().Err(err).Str("alert_id", t.AlertID).Msg("scheduler: load alert failed")
			s.retryBatch(ctx, t)
			return
		}
		if a == nil {
			log.Warn().Str("alert_id", t.AlertID).Msg("scheduler: alert not found, dropping task")
			return
		}
		s.evaluateAndDeliver(ctx, t, []*model.Alert{a}, "admin")

	case TaskDeliverEvent:
		if t.Event == nil {
			log.Warn().Msg("scheduler: deliver task without event, dropping")
			return
		}
		if err := s.deps.Deliverer.Deliver(ctx, t.Event); err != nil {
			log.Error().Err(err).Str("fingerprint", t.Event.Fingerprint).Msg("scheduler: deliver failed")
			s.retryBatch(ctx, t)
		}

	case TaskRetryDelivery:
		if err := s.deps.Deliverer.RetryDelivery(ctx, t.DeliveryID); err != nil {
			log.Error().Err(err).Str("delivery_id", t.DeliveryID).Msg("scheduler: retry delivery failed")
			s.retryBatch(ctx, t)
		}

	default:
		log.Warn().Str("kind", string(t.Kind)).Msg("scheduler: unknown task kind, dropping")
	}
}

func (s *Scheduler) evaluateAndDeliver(ctx context.Context, t *Task, alerts []*model.Alert, path string) {
	events, err := s.deps.Evaluator.Evaluate(ctx, alerts)
	if err != nil {
		// systemic context failure: the whole batch retries at this level
		metrics.EvaluationsTotal.WithLabelValues(path, "aborted").Inc()
		log.Error().Err(err).Str("path", path).Msg("scheduler: evaluation aborted")
		s.retryBatch(ctx, t)
		return
	}
	metrics.EvaluationsTotal.WithLabelValues(path, "ok").Inc()
	for i := range events {
		ev := &events[i]
		metrics.TriggersTotal.WithLabelValues(string(ev.Type)).Inc()
		if err := s.deps.Alerts.MarkTriggered(ctx, ev.AlertID, ev.TriggeredAt); err != nil {
			log.Warn().Err(err).Str("alert_id", ev.AlertID).Msg("scheduler: mark triggered failed")
		}
		if err := s.deps.Deliverer.Deliver(ctx, ev); err != nil {
			// The cooldown mark for this trigger is already consumed, so
			// a re-run of the evaluation task would emit nothing. The
			// event retries on its own task; re-delivery is idempotent
			// through the fingerprint-unique notification record.
			log.Error().Err(err).Str("fingerprint", ev.Fingerprint).Msg("scheduler: deliver failed, re-enqueueing event")
			s.retryBatch(ctx, &Task{Kind: TaskDeliverEvent, Event: ev})
		}
	}
}

// retryBatch re-enqueues a failed task with a growing delay, up to the
// attempt cap.
func (s *Scheduler) retryBatch(ctx context.Context, t *Task) {
	t.Attempts++
	if t.Attempts >= maxBatchAttempts {
		log.Error().Str("kind", string(t.Kind)).Int("attempts", t.Attempts).Msg("scheduler: task dropped after repeated failures")
		return
	}
	at := s.deps.Now().Add(time.Duration(t.Attempts) * 30 * time.Second)
	if err := s.deps.Queue.EnqueueAt(ctx, t, at); err != nil {
		log.Error().Err(err).Str("kind", string(t.Kind)).Msg("scheduler: re-enqueue failed")
	}
}

// EnqueueAlertEvaluation services the administrative "evaluate now"
// trigger.
func (s *Scheduler) EnqueueAlertEvaluation(ctx context.Context, alertID string) error {
	return s.deps.Queue.Enqueue(ctx, &Task{Kind: TaskEvaluateAlert, AlertID: alertID})
}

// QueueRetryScheduler implements the orchestrator's RetryScheduler
// against the work queue. It only needs the queue, so it can be wired
// before the scheduler itself exists.
type QueueRetryScheduler struct {
	Queue Queue
}

func (s QueueRetryScheduler) ScheduleRetry(ctx context.Context, deliveryID string, at time.Time) error {
	return s.Queue.EnqueueAt(ctx, &Task{Kind: TaskRetryDelivery, DeliveryID: deliveryID}, at)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
