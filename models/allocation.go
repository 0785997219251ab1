package models

import "time"

// PrizeAllocation records an entrant's settled share of the prize pool.
// Written exactly once per tournament at finalization, immutable after.
type PrizeAllocation struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID int64     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_allocation_key"`
	EntrantID    string    `json:"entrant_id" gorm:"not null;uniqueIndex:idx_allocation_key;index"`
	Score        int64     `json:"score" gorm:"not null;default:0"`
	PrizeAmount  int64     `json:"prize_amount" gorm:"not null;default:0"`
	SettledAt    time.Time `json:"settled_at"`

	Timestamps
}
