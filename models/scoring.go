package models

import (
	"time"

	"gorm.io/datatypes"
)

// DayFormat is the canonical calendar-date key used for all per-day rows.
const DayFormat = "2006-01-02"

// Day formats an instant as a UTC calendar-date key.
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// DailyScore stores one startup's base points for one tournament day.
// Shared across every entrant holding that startup; upserts are idempotent
// on the natural key so a re-run replaces rather than adds.
type DailyScore struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID int64          `json:"tournament_id" gorm:"not null;uniqueIndex:idx_daily_score_key"`
	StartupID    int64          `json:"startup_id" gorm:"not null;uniqueIndex:idx_daily_score_key"`
	Date         string         `json:"date" gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_score_key"`
	BasePoints   int64          `json:"base_points" gorm:"not null;default:0"`
	Events       datatypes.JSON `json:"events,omitempty"` // raw ingestor events, audit only

	Timestamps
}

// ScoreHistory is the append-friendly per-entrant per-day score log. The
// leaderboard is always reconstructible from these rows.
type ScoreHistory struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID int64          `json:"tournament_id" gorm:"not null;uniqueIndex:idx_score_history_key"`
	EntrantID    string         `json:"entrant_id" gorm:"not null;uniqueIndex:idx_score_history_key;index"`
	Date         string         `json:"date" gorm:"type:varchar(10);not null;uniqueIndex:idx_score_history_key"`
	PointsEarned int64          `json:"points_earned" gorm:"not null;default:0"`
	Breakdown    datatypes.JSON `json:"breakdown,omitempty"` // per-card contribution, audit only

	Timestamps
}

// CardContribution is one element of ScoreHistory.Breakdown.
type CardContribution struct {
	TokenID          int64 `json:"token_id"`
	StartupID        int64 `json:"startup_id"`
	BasePoints       int64 `json:"base_points"`
	RarityMultiplier int64 `json:"rarity_multiplier"`
	Points           int64 `json:"points"`
}

// LeaderboardEntry caches an entrant's running total and rank for live
// standings. Invariant: TotalScore == Σ ScoreHistory.PointsEarned for the
// same (tournament, entrant); the aggregator recomputes it from the log on
// every update instead of incrementing in place.
type LeaderboardEntry struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID int64     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_leaderboard_key"`
	EntrantID    string    `json:"entrant_id" gorm:"not null;uniqueIndex:idx_leaderboard_key;index"`
	TotalScore   int64     `json:"total_score" gorm:"not null;default:0"`
	Rank         int       `json:"rank" gorm:"not null;default:0"`
	LastUpdated  time.Time `json:"last_updated"`

	Timestamps
}
