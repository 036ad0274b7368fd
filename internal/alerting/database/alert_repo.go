package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// AlertRepo reads user alert rules. The rules are owned by the CRUD
// API; this subsystem only reads them and stamps last_triggered_at.
type AlertRepo struct {
	DB *Database
}

func NewAlertRepo(db *Database) *AlertRepo { return &AlertRepo{DB: db} }

const alertColumns = `id, user_id, type, condition, channels, active, cooldown, last_triggered_at, created_at, updated_at`

func (r *AlertRepo) scanAlert(scan func(dest ...any) error) (*model.Alert, error) {
	var a model.Alert
	var conditionRaw, channelsRaw []byte
	var cooldown pgtype.Interval
	var lastTriggered sql.NullTime
	if err := scan(&a.ID, &a.UserID, &a.Type, &conditionRaw, &channelsRaw,
		&a.Active, &cooldown, &lastTriggered, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditionRaw, &a.Condition); err != nil {
		return nil, fmt.Errorf("decode alert condition %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(channelsRaw, &a.Channels); err != nil {
		return nil, fmt.Errorf("decode alert channels %s: %w", a.ID, err)
	}
	a.Cooldown = PgIntervalToDuration(cooldown)
	if lastTriggered.Valid {
		t := lastTriggered.Time
		a.LastTriggered = &t
	}
	return &a, nil
}

// ListActive returns a stable page of active alerts for the periodic
// evaluation pass.
func (r *AlertRepo) ListActive(ctx context.Context, offset, limit int) ([]*model.Alert, error) {
	const q = `SELECT ` + alertColumns + `
FROM alerts
WHERE active = TRUE
ORDER BY id ASC
OFFSET $1 LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	out := make([]*model.Alert, 0, limit)
	for rows.Next() {
		a, err := r.scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveForUser returns the user's active alerts, optionally
// restricted to the given types (for the real-time path).
func (r *AlertRepo) ListActiveForUser(ctx context.Context, userID string, types []model.AlertType) ([]*model.Alert, error) {
	typesJSON, _ := json.Marshal(types)
	const q = `SELECT ` + alertColumns + `
FROM alerts
WHERE active = TRUE AND user_id = $1
  AND ($2::jsonb = '[]'::jsonb OR $2::jsonb ? type::text)
ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, q, userID, string(typesJSON))
	if err != nil {
		return nil, fmt.Errorf("list alerts for user %s: %w", userID, err)
	}
	defer rows.Close()
	var out []*model.Alert
	for rows.Next() {
		a, err := r.scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns one alert by id, or nil when it no longer exists.
func (r *AlertRepo) Get(ctx context.Context, id string) (*model.Alert, error) {
	const q = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	rows, err := r.DB.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	defer rows.Close()
	if rows.Next() {
		return r.scanAlert(rows.Scan)
	}
	return nil, rows.Err()
}

// CountActive returns the number of active alerts, used to bound the
// periodic batch fan-out.
func (r *AlertRepo) CountActive(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM alerts WHERE active = TRUE`
	var n int
	if err := r.DB.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return n, nil
}

// MarkTriggered stamps last_triggered_at after a trigger event is
// emitted. Best-effort; the cooldown store is the dedup authority.
func (r *AlertRepo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE alerts SET last_triggered_at = $2, updated_at = now() WHERE id = $1`
	if _, err := r.DB.ExecContext(ctx, q, id, at); err != nil {
		return fmt.Errorf("mark alert triggered %s: %w", id, err)
	}
	return nil
}
