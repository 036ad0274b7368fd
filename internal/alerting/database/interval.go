package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// PgIntervalToDuration converts a Postgres interval to a duration.
// Months are approximated as 30 days.
func PgIntervalToDuration(iv pgtype.Interval) time.Duration {
	if !iv.Valid {
		return 0
	}
	days := int64(iv.Days) + int64(iv.Months)*30
	return time.Duration(iv.Microseconds)*time.Microsecond +
		time.Duration(days)*24*time.Hour
}
