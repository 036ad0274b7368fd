package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// DeliveryRepo persists per-channel delivery records and the
// dead-letter store. Every skipped, failed or suppressed delivery
// leaves a row here; silent loss is not permitted.
type DeliveryRepo struct {
	DB *Database
}

func NewDeliveryRepo(db *Database) *DeliveryRepo { return &DeliveryRepo{DB: db} }

const deliveryColumns = `id, notification_id, channel, destination, status, skip_reason, attempt_count, provider_message_id, last_error, next_attempt_at, created_at, updated_at`

// Insert creates a delivery record. Status is whatever the caller
// decided at gating time (pending, or failed with a skip reason).
func (r *DeliveryRepo) Insert(ctx context.Context, d *model.NotificationDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	const q = `
	INSERT INTO notification_deliveries(` + deliveryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.DB.ExecContext(ctx, q, d.ID, d.NotificationID, d.Channel, d.Destination,
		d.Status, nullString(string(d.SkipReason)), d.AttemptCount, nullString(d.ProviderMsgID),
		nullString(d.LastError), d.NextAttemptAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Get returns a delivery by id, or nil when absent.
func (r *DeliveryRepo) Get(ctx context.Context, id string) (*model.NotificationDelivery, error) {
	const q = `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE id = $1`
	rows, err := r.DB.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	defer rows.Close()
	if rows.Next() {
		return scanDelivery(rows.Scan)
	}
	return nil, rows.Err()
}

func scanDelivery(scan func(dest ...any) error) (*model.NotificationDelivery, error) {
	var d model.NotificationDelivery
	var skip, providerID, lastErr sql.NullString
	var nextAt sql.NullTime
	if err := scan(&d.ID, &d.NotificationID, &d.Channel, &d.Destination, &d.Status,
		&skip, &d.AttemptCount, &providerID, &lastErr, &nextAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.SkipReason = model.SkipReason(skip.String)
	d.ProviderMsgID = providerID.String
	d.LastError = lastErr.String
	if nextAt.Valid {
		t := nextAt.Time
		d.NextAttemptAt = &t
	}
	return &d, nil
}

// MarkAttempt records the outcome of one send attempt. The status
// update is guarded so a terminal row is never resurrected and the
// attempt count only grows.
func (r *DeliveryRepo) MarkAttempt(ctx context.Context, id string, status model.DeliveryStatus, attempt int, providerMsgID, lastError string, nextAttemptAt *time.Time) error {
	const q = `
	UPDATE notification_deliveries
	SET status = $2,
	    attempt_count = GREATEST(attempt_count, $3),
	    provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id),
	    last_error = $5,
	    next_attempt_at = $6,
	    updated_at = now()
	WHERE id = $1 AND status IN ('pending', 'sent')
	`
	res, err := r.DB.ExecContext(ctx, q, id, status, attempt, providerMsgID, nullString(lastError), nextAttemptAt)
	if err != nil {
		return fmt.Errorf("mark delivery attempt %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("mark delivery attempt %s: illegal transition to %s", id, status)
	}
	return nil
}

// DeadLetter copies an exhausted delivery into the dead-letter store
// for manual inspection.
func (r *DeliveryRepo) DeadLetter(ctx context.Context, d *model.NotificationDelivery, reason string) error {
	const q = `
	INSERT INTO delivery_dead_letters(id, delivery_id, notification_id, channel, destination, attempt_count, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	_, err := r.DB.ExecContext(ctx, q, uuid.NewString(), d.ID, d.NotificationID, d.Channel, d.Destination, d.AttemptCount, reason)
	if err != nil {
		return fmt.Errorf("dead-letter delivery %s: %w", d.ID, err)
	}
	return nil
}

// Stats returns delivery counts grouped by status and channel plus the
// dead-letter count.
func (r *DeliveryRepo) Stats(ctx context.Context) (*model.DeliveryStats, error) {
	stats := &model.DeliveryStats{
		ByStatus:  map[model.DeliveryStatus]int64{},
		ByChannel: map[model.Channel]int64{},
	}

	const qStatus = `SELECT status, COUNT(*) FROM notification_deliveries GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, qStatus)
	if err != nil {
		return nil, fmt.Errorf("delivery stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s model.DeliveryStatus
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const qChannel = `SELECT channel, COUNT(*) FROM notification_deliveries GROUP BY channel`
	chRows, err := r.DB.QueryContext(ctx, qChannel)
	if err != nil {
		return nil, fmt.Errorf("delivery stats by channel: %w", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var c model.Channel
		var n int64
		if err := chRows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("scan channel count: %w", err)
		}
		stats.ByChannel[c] = n
	}
	if err := chRows.Err(); err != nil {
		return nil, err
	}

	const qDead = `SELECT COUNT(*) FROM delivery_dead_letters`
	if err := r.DB.QueryRowContext(ctx, qDead).Scan(&stats.DeadLettered); err != nil {
		return nil, fmt.Errorf("dead-letter count: %w", err)
	}
	return stats, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
