package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// NotificationRepo persists parent notification records. The
// notifications table doubles as the in-app inbox read by the API
// layer, and its fingerprint uniqueness is the orchestrator's
// existing-delivery idempotency check.
type NotificationRepo struct {
	DB *Database
}

func NewNotificationRepo(db *Database) *NotificationRepo { return &NotificationRepo{DB: db} }

// Create inserts the parent record for a trigger event. It returns
// (nil, nil) when a notification with the same fingerprint already
// exists, which makes re-processing a delivered trigger a no-op.
func (r *NotificationRepo) Create(ctx context.Context, ev *model.TriggerEvent) (*model.Notification, error) {
	n := &model.Notification{
		ID:          uuid.NewString(),
		UserID:      ev.UserID,
		AlertID:     ev.AlertID,
		Fingerprint: ev.Fingerprint,
		Title:       ev.Title,
		Body:        ev.Body,
		CreatedAt:   time.Now().UTC(),
	}
	const q = `
	INSERT INTO notifications(id, user_id, alert_id, fingerprint, title, body, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := r.DB.ExecContext(ctx, q, n.ID, n.UserID, n.AlertID, n.Fingerprint, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, nil
	}
	return n, nil
}

// Get returns a notification by id, or nil when absent.
func (r *NotificationRepo) Get(ctx context.Context, id string) (*model.Notification, error) {
	const q = `SELECT id, user_id, alert_id, fingerprint, title, body, created_at
FROM notifications WHERE id = $1`
	rows, err := r.DB.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	defer rows.Close()
	if rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.AlertID, &n.Fingerprint, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		return &n, nil
	}
	return nil, rows.Err()
}
