package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// ChannelPreference is a user's per-channel delivery configuration.
type ChannelPreference struct {
	Enabled     bool
	Destination string
}

// Preferences is the per-user view the orchestrator consults when
// resolving destinations and quiet hours.
type Preferences struct {
	UserID     string
	Channels   map[model.Channel]ChannelPreference
	QuietStart int // hour of day, 0-23; -1 when unset
	QuietEnd   int
}

// QuietAt reports whether the given hour falls inside the user's quiet
// hours. Windows may wrap past midnight.
func (p *Preferences) QuietAt(hour int) bool {
	if p.QuietStart < 0 || p.QuietEnd < 0 || p.QuietStart == p.QuietEnd {
		return false
	}
	if p.QuietStart < p.QuietEnd {
		return hour >= p.QuietStart && hour < p.QuietEnd
	}
	return hour >= p.QuietStart || hour < p.QuietEnd
}

// PreferenceRepo reads the user preference store.
type PreferenceRepo struct {
	DB *Database
}

func NewPreferenceRepo(db *Database) *PreferenceRepo { return &PreferenceRepo{DB: db} }

// Get loads a user's channel preferences. Missing rows yield an empty
// preference set, which the orchestrator treats as "skip channel".
func (r *PreferenceRepo) Get(ctx context.Context, userID string) (*Preferences, error) {
	p := &Preferences{
		UserID:     userID,
		Channels:   map[model.Channel]ChannelPreference{},
		QuietStart: -1,
		QuietEnd:   -1,
	}

	const q = `SELECT channel, enabled, destination, quiet_start_hour, quiet_end_hour
FROM user_notification_preferences
WHERE user_id = $1`
	rows, err := r.DB.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("get preferences for %s: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ch model.Channel
		var enabled bool
		var destination sql.NullString
		var quietStart, quietEnd sql.NullInt64
		if err := rows.Scan(&ch, &enabled, &destination, &quietStart, &quietEnd); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.Channels[ch] = ChannelPreference{Enabled: enabled, Destination: destination.String}
		if quietStart.Valid && quietEnd.Valid {
			p.QuietStart = int(quietStart.Int64)
			p.QuietEnd = int(quietEnd.Int64)
		}
	}
	return p, rows.Err()
}
