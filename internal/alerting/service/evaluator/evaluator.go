// Package evaluator decides which user-configured alerts have newly
// become true. It applies per-type trigger predicates against current
// financial context and dedupes firings through an atomic cooldown
// check-and-set per condition fingerprint.
package evaluator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// Evaluator applies trigger predicates to batches of alerts.
type Evaluator struct {
	Data      DataProvider
	Cooldowns CooldownStore
	Policy    *Policy
	// Lookback bounds the transaction scan on the periodic path. The
	// overlap with the previous pass is safe: fingerprints dedupe.
	Lookback time.Duration
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func New(data DataProvider, cooldowns CooldownStore, policy *Policy) *Evaluator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Evaluator{
		Data:      data,
		Cooldowns: cooldowns,
		Policy:    policy,
		Lookback:  15 * time.Minute,
		Now:       time.Now,
	}
}

// Evaluate runs every alert in the batch and returns the trigger
// events that won their cooldown acquisition. A malformed or missing
// context for a single alert is logged and skipped; a systemic
// data-provider failure aborts the whole batch so the scheduler can
// retry it.
func (e *Evaluator) Evaluate(ctx context.Context, alerts []*model.Alert) ([]model.TriggerEvent, error) {
	now := e.Now().UTC()
	var events []model.TriggerEvent
	for _, a := range alerts {
		if !a.Active {
			continue
		}
		cands, err := e.candidatesFor(ctx, a, now)
		if err != nil {
			if model.IsContextUnavailable(err) {
				log.Error().Err(err).Str("alert_id", a.ID).Msg("evaluate: data provider unavailable, aborting batch")
				return nil, err
			}
			log.Warn().Err(err).Str("alert_id", a.ID).Str("type", string(a.Type)).Msg("evaluate: skipping alert")
			continue
		}
		for _, c := range cands {
			ev, ok, err := e.tryFire(ctx, a, c, now)
			if err != nil {
				log.Error().Err(err).Str("alert_id", a.ID).Msg("evaluate: cooldown check failed")
				continue
			}
			if ok {
				events = append(events, ev)
			}
		}
	}
	log.Debug().Int("alerts", len(alerts)).Int("events", len(events)).Msg("evaluate: batch complete")
	return events, nil
}

// tryFire performs the atomic set-if-not-already-set-within-window
// against the cooldown store; only on success is the event emitted.
// This is what prevents double-firing when the periodic and real-time
// paths race on the same user.
func (e *Evaluator) tryFire(ctx context.Context, a *model.Alert, c candidate, now time.Time) (model.TriggerEvent, bool, error) {
	fp := Fingerprint(a.ID, c.discriminator)
	ttl := e.Policy.CooldownFor(a)
	if c.idempotent {
		ttl = e.Policy.IdempotencyTTL
	}
	ok, err := e.Cooldowns.TryAcquire(ctx, fp, ttl)
	if err != nil || !ok {
		return model.TriggerEvent{}, false, err
	}
	log.Info().
		Str("alert_id", a.ID).
		Str("user_id", a.UserID).
		Str("type", string(a.Type)).
		Str("fingerprint", fp).
		Msg("alert triggered")
	return model.TriggerEvent{
		AlertID:     a.ID,
		UserID:      a.UserID,
		Type:        a.Type,
		Fingerprint: fp,
		Title:       c.title,
		Body:        c.body,
		Context:     c.context,
		TriggeredAt: now,
	}, true, nil
}
