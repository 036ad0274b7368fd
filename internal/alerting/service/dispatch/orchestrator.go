// Package dispatch turns trigger events into per-channel delivery
// attempts, applying rate limits, circuit breaking, retry backoff and
// dead-lettering against unreliable external providers.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/database"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/metrics"
)

// AlertSource re-reads alert state so deactivation takes effect before
// dispatch.
type AlertSource interface {
	Get(ctx context.Context, id string) (*model.Alert, error)
}

// NotificationStore persists parent notification records.
type NotificationStore interface {
	Create(ctx context.Context, ev *model.TriggerEvent) (*model.Notification, error)
	Get(ctx context.Context, id string) (*model.Notification, error)
}

// DeliveryStore persists per-channel delivery records.
type DeliveryStore interface {
	Insert(ctx context.Context, d *model.NotificationDelivery) error
	Get(ctx context.Context, id string) (*model.NotificationDelivery, error)
	MarkAttempt(ctx context.Context, id string, status model.DeliveryStatus, attempt int, providerMsgID, lastError string, nextAttemptAt *time.Time) error
	DeadLetter(ctx context.Context, d *model.NotificationDelivery, reason string) error
}

// PreferenceSource resolves per-user channel destinations and quiet
// hours.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (*database.Preferences, error)
}

// RetryScheduler re-enqueues a delivery for a future eligible time.
// Retries are never busy-waited inline.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, deliveryID string, at time.Time) error
}

// Orchestrator fans one trigger event out over the alert's enabled
// channels.
type Orchestrator struct {
	Alerts        AlertSource
	Notifications NotificationStore
	Deliveries    DeliveryStore
	Prefs         PreferenceSource
	Limiter       RateLimiter
	Breaker       *Breaker
	Retry         RetryScheduler
	Backoff       Backoff
	MaxAttempts   int
	SendTimeout   time.Duration
	Now           func() time.Time

	adapters map[model.Channel]ChannelAdapter
}

func NewOrchestrator(alerts AlertSource, notifications NotificationStore, deliveries DeliveryStore, prefs PreferenceSource, limiter RateLimiter, breaker *Breaker, retry RetryScheduler) *Orchestrator {
	return &Orchestrator{
		Alerts:        alerts,
		Notifications: notifications,
		Deliveries:    deliveries,
		Prefs:         prefs,
		Limiter:       limiter,
		Breaker:       breaker,
		Retry:         retry,
		Backoff:       DefaultBackoff(),
		MaxAttempts:   5,
		SendTimeout:   10 * time.Second,
		Now:           time.Now,
		adapters:      map[model.Channel]ChannelAdapter{},
	}
}

// RegisterAdapter wires one channel adapter. The in-app channel needs
// none: it is a direct local write.
func (o *Orchestrator) RegisterAdapter(a ChannelAdapter) {
	o.adapters[a.Channel()] = a
}

// Deliver fans the trigger event out to every channel the alert
// enables. Per-channel failures never fail the overall event; only
// systemic store errors propagate. Re-delivering an already-processed
// event is a no-op thanks to the fingerprint-unique parent record.
func (o *Orchestrator) Deliver(ctx context.Context, ev *model.TriggerEvent) error {
	alert, err := o.Alerts.Get(ctx, ev.AlertID)
	if err != nil {
		return fmt.Errorf("deliver %s: re-check alert: %w", ev.Fingerprint, err)
	}
	if alert == nil || !alert.Active {
		log.Info().Str("alert_id", ev.AlertID).Str("fingerprint", ev.Fingerprint).Msg("deliver: alert deactivated, aborting with no side effects")
		return nil
	}

	n, err := o.Notifications.Create(ctx, ev)
	if err != nil {
		return fmt.Errorf("deliver %s: create notification: %w", ev.Fingerprint, err)
	}
	if n == nil {
		// fingerprint already delivered; idempotent re-run
		log.Debug().Str("fingerprint", ev.Fingerprint).Msg("deliver: notification exists, skipping")
		return nil
	}

	prefs, err := o.Prefs.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("deliver %s: load preferences: %w", ev.Fingerprint, err)
	}

	// Channels are independent side effects; deliver them concurrently.
	var wg sync.WaitGroup
	for _, ch := range alert.Channels {
		if !ch.Valid() {
			log.Warn().Str("alert_id", alert.ID).Str("channel", string(ch)).Msg("deliver: unknown channel, skipping")
			continue
		}
		wg.Add(1)
		go func(ch model.Channel) {
			defer wg.Done()
			o.deliverChannel(ctx, n, prefs, ch)
		}(ch)
	}
	wg.Wait()
	return nil
}

func (o *Orchestrator) deliverChannel(ctx context.Context, n *model.Notification, prefs *database.Preferences, ch model.Channel) {
	if ch == model.ChannelInApp {
		// The parent notification row is the in-app write; record the
		// delivery as done. Never retried, never rolled back by
		// external-channel outcomes.
		o.recordDelivery(ctx, n, ch, "", model.StatusDelivered, "")
		return
	}

	pref, ok := prefs.Channels[ch]
	if !ok || !pref.Enabled || pref.Destination == "" {
		o.recordDelivery(ctx, n, ch, "", model.StatusFailed, model.SkipNoDestination)
		return
	}

	if prefs.QuietAt(o.Now().UTC().Hour()) {
		// defer to the end of quiet hours rather than dropping
		at := nextQuietEnd(o.Now().UTC(), prefs)
		o.deferDelivery(ctx, n, ch, pref.Destination, at, model.SkipQuietHours)
		return
	}

	res, err := o.Limiter.Check(ctx, n.UserID, ch)
	if err != nil {
		// limiter outage, not an exhausted quota; audit it as such
		log.Error().Err(err).Str("notification_id", n.ID).Str("channel", string(ch)).Msg("deliver: rate limit check failed")
		metrics.DeliveriesSkipped.WithLabelValues(string(ch), string(model.SkipLimiterUnavailable)).Inc()
		o.recordDelivery(ctx, n, ch, pref.Destination, model.StatusFailed, model.SkipLimiterUnavailable)
		return
	}
	if !res.Allowed {
		// deliberate skip, not a failure; does not touch the breaker
		log.Info().Str("user_id", n.UserID).Str("channel", string(ch)).Msg("deliver: rate limited")
		metrics.DeliveriesSkipped.WithLabelValues(string(ch), string(model.SkipRateLimited)).Inc()
		o.recordDelivery(ctx, n, ch, pref.Destination, model.StatusFailed, model.SkipRateLimited)
		return
	}

	adapter, ok := o.adapters[ch]
	if !ok {
		log.Error().Str("channel", string(ch)).Msg("deliver: no adapter registered")
		o.recordDelivery(ctx, n, ch, pref.Destination, model.StatusFailed, model.SkipProviderDown)
		return
	}

	if !o.Breaker.Allow(adapter.Provider()) {
		// circuit open: fail fast without contacting the provider
		metrics.DeliveriesSkipped.WithLabelValues(string(ch), string(model.SkipProviderDown)).Inc()
		o.recordDelivery(ctx, n, ch, pref.Destination, model.StatusFailed, model.SkipProviderDown)
		return
	}

	d := &model.NotificationDelivery{
		NotificationID: n.ID,
		Channel:        ch,
		Destination:    pref.Destination,
		Status:         model.StatusPending,
	}
	if err := o.Deliveries.Insert(ctx, d); err != nil {
		// no attempt will follow; give back any half-open trial slot
		// Allow handed out above
		o.Breaker.ReleaseTrial(adapter.Provider())
		log.Error().Err(err).Str("notification_id", n.ID).Str("channel", string(ch)).Msg("deliver: insert delivery failed")
		return
	}
	o.attempt(ctx, n, d, adapter)
}

// RetryDelivery is the re-entry point for a scheduled retry. It is
// idempotent: a delivery that already reached a terminal state is left
// alone.
func (o *Orchestrator) RetryDelivery(ctx context.Context, deliveryID string) error {
	d, err := o.Deliveries.Get(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("retry %s: %w", deliveryID, err)
	}
	if d == nil || d.Status != model.StatusPending {
		return nil
	}
	n, err := o.Notifications.Get(ctx, d.NotificationID)
	if err != nil {
		return fmt.Errorf("retry %s: load notification: %w", deliveryID, err)
	}
	if n == nil {
		log.Warn().Str("delivery_id", deliveryID).Msg("retry: notification gone, dropping")
		return nil
	}

	// cooperative cancellation: deactivation wins at the next check
	alert, err := o.Alerts.Get(ctx, n.AlertID)
	if err != nil {
		return fmt.Errorf("retry %s: re-check alert: %w", deliveryID, err)
	}
	if alert == nil || !alert.Active {
		return o.Deliveries.MarkAttempt(ctx, d.ID, model.StatusFailed, d.AttemptCount, "", "alert deactivated before dispatch", nil)
	}

	adapter, ok := o.adapters[d.Channel]
	if !ok {
		return fmt.Errorf("retry %s: no adapter for channel %s", deliveryID, d.Channel)
	}

	if !o.Breaker.Allow(adapter.Provider()) {
		// fast skip; does not consume retry budget, try again after
		// the breaker cooldown
		at := o.Now().UTC().Add(o.Backoff.Delay(d.AttemptCount + 1))
		if err := o.Deliveries.MarkAttempt(ctx, d.ID, model.StatusPending, d.AttemptCount, "", "provider unavailable, retry deferred", &at); err != nil {
			return err
		}
		return o.Retry.ScheduleRetry(ctx, d.ID, at)
	}

	o.attempt(ctx, n, d, adapter)
	return nil
}

// attempt performs one send and records its outcome. Every outcome
// feeds the provider's circuit breaker.
func (o *Orchestrator) attempt(ctx context.Context, n *model.Notification, d *model.NotificationDelivery, adapter ChannelAdapter) {
	attemptNo := d.AttemptCount + 1
	sendCtx, cancel := context.WithTimeout(ctx, o.SendTimeout)
	res, err := adapter.Send(sendCtx, d.Destination, n)
	cancel()

	now := o.Now().UTC()
	switch {
	case err == nil:
		status := model.StatusSent
		if res.Delivered {
			status = model.StatusDelivered
		}
		o.Breaker.RecordSuccess(adapter.Provider())
		metrics.DeliveryAttempts.WithLabelValues(string(d.Channel), "success").Inc()
		if merr := o.Deliveries.MarkAttempt(ctx, d.ID, status, attemptNo, res.MessageID, "", nil); merr != nil {
			log.Error().Err(merr).Str("delivery_id", d.ID).Msg("attempt: mark success failed")
		}
		log.Info().Str("delivery_id", d.ID).Str("channel", string(d.Channel)).Int("attempt", attemptNo).Msg("delivery succeeded")

	case model.IsPermanent(err):
		// client-side rejection: no retry, flag for preference review.
		// The provider answered conclusively, so this is not a
		// provider failure.
		o.Breaker.RecordSuccess(adapter.Provider())
		metrics.DeliveryAttempts.WithLabelValues(string(d.Channel), "permanent_failure").Inc()
		if merr := o.Deliveries.MarkAttempt(ctx, d.ID, model.StatusFailed, attemptNo, "", err.Error(), nil); merr != nil {
			log.Error().Err(merr).Str("delivery_id", d.ID).Msg("attempt: mark permanent failure failed")
		}
		log.Warn().Err(err).Str("delivery_id", d.ID).Str("destination", d.Destination).Msg("delivery failed permanently")

	default:
		// transient (timeouts, server-side errors, anything unclassified)
		o.Breaker.RecordFailure(adapter.Provider())
		metrics.DeliveryAttempts.WithLabelValues(string(d.Channel), "transient_failure").Inc()
		if attemptNo >= o.MaxAttempts {
			d.AttemptCount = attemptNo
			reason := fmt.Sprintf("retries exhausted after %d attempts: %v", attemptNo, err)
			if merr := o.Deliveries.MarkAttempt(ctx, d.ID, model.StatusFailed, attemptNo, "", reason, nil); merr != nil {
				log.Error().Err(merr).Str("delivery_id", d.ID).Msg("attempt: mark exhausted failed")
			}
			if dlerr := o.Deliveries.DeadLetter(ctx, d, reason); dlerr != nil {
				log.Error().Err(dlerr).Str("delivery_id", d.ID).Msg("attempt: dead-letter failed")
			}
			metrics.DeadLetters.WithLabelValues(string(d.Channel)).Inc()
			log.Error().Err(err).Str("delivery_id", d.ID).Int("attempts", attemptNo).Msg("delivery dead-lettered")
			return
		}
		at := now.Add(o.Backoff.Delay(attemptNo))
		if merr := o.Deliveries.MarkAttempt(ctx, d.ID, model.StatusPending, attemptNo, "", err.Error(), &at); merr != nil {
			log.Error().Err(merr).Str("delivery_id", d.ID).Msg("attempt: mark retry failed")
			return
		}
		if rerr := o.Retry.ScheduleRetry(ctx, d.ID, at); rerr != nil {
			log.Error().Err(rerr).Str("delivery_id", d.ID).Msg("attempt: schedule retry failed")
			return
		}
		log.Info().Err(err).Str("delivery_id", d.ID).Int("attempt", attemptNo).Time("next_attempt", at).Msg("delivery will retry")
	}
}

// recordDelivery writes an audit row for a delivery that was resolved
// without contacting a provider (in-app writes, skips).
func (o *Orchestrator) recordDelivery(ctx context.Context, n *model.Notification, ch model.Channel, destination string, status model.DeliveryStatus, skip model.SkipReason) {
	d := &model.NotificationDelivery{
		NotificationID: n.ID,
		Channel:        ch,
		Destination:    destination,
		Status:         status,
		SkipReason:     skip,
	}
	if err := o.Deliveries.Insert(ctx, d); err != nil {
		log.Error().Err(err).Str("notification_id", n.ID).Str("channel", string(ch)).Msg("deliver: record delivery failed")
	}
}

// deferDelivery parks an external delivery until quiet hours end.
func (o *Orchestrator) deferDelivery(ctx context.Context, n *model.Notification, ch model.Channel, destination string, at time.Time, skip model.SkipReason) {
	d := &model.NotificationDelivery{
		NotificationID: n.ID,
		Channel:        ch,
		Destination:    destination,
		Status:         model.StatusPending,
		SkipReason:     skip,
		NextAttemptAt:  &at,
	}
	if err := o.Deliveries.Insert(ctx, d); err != nil {
		log.Error().Err(err).Str("notification_id", n.ID).Str("channel", string(ch)).Msg("deliver: defer delivery failed")
		return
	}
	if err := o.Retry.ScheduleRetry(ctx, d.ID, at); err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("deliver: schedule deferred delivery failed")
	}
	log.Info().Str("delivery_id", d.ID).Time("at", at).Msg("delivery deferred for quiet hours")
}

// nextQuietEnd computes when the user's quiet window ends, relative to
// now.
func nextQuietEnd(now time.Time, prefs *database.Preferences) time.Time {
	end := time.Date(now.Year(), now.Month(), now.Day(), prefs.QuietEnd, 0, 0, 0, now.Location())
	if !end.After(now) {
		end = end.Add(24 * time.Hour)
	}
	return end
}
