package accounting

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from the remote store.
var ErrNotFound = errors.New("accounting: record not found")

// Client is the engine's view of the remote accounting service. Every
// write is individually retryable and may fail; callers log and move on.
// SetTotalTime is an absolute overwrite, so a failed write self-heals on
// the next flush. The additive writes carry a flush ID so the remote side
// can reject a delta it has already applied.
type Client interface {
	// SetTotalTime overwrites the user's lifetime total of active seconds.
	SetTotalTime(ctx context.Context, userID string, seconds int64) error

	// AddPoints adds a point delta to the user's balance.
	AddPoints(ctx context.Context, userID string, delta int64) error

	// AddGroupDailyTime adds deltaSeconds to the user's contribution for
	// (groupID, date). date is formatted 2006-01-02. Deltas sharing a
	// flushID are applied at most once per group.
	AddGroupDailyTime(ctx context.Context, userID, groupID, date string, deltaSeconds int64, flushID string) error

	// UserTotals reads back the user's stored totals.
	UserTotals(ctx context.Context, userID string) (*UserTotals, error)

	// GroupDailyLeaderboard returns a group's contributions for a date,
	// ordered by seconds descending.
	GroupDailyLeaderboard(ctx context.Context, groupID, date string) ([]LeaderboardEntry, error)

	Close() error
}

// UserTotals is the remote per-user accounting row.
type UserTotals struct {
	UserID       string    `json:"user_id"`
	TotalSeconds int64     `json:"total_seconds"`
	Points       int64     `json:"points"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LeaderboardEntry is one row of a group's daily ranking.
type LeaderboardEntry struct {
	UserID  string `json:"user_id"`
	Seconds int64  `json:"seconds"`
	Rank    int    `json:"rank"`
}

// DateKey formats a time as the calendar-day key used by the daily
// contribution records. The day boundary is the local midnight; a new key
// is an implicit reset, no explicit reset operation exists.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
