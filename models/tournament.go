package models

import (
	"time"

	"gorm.io/gorm"
)

// TournamentStatus values mirror the collateral ledger's lifecycle states.
type TournamentStatus string

const (
	TournamentCreated   TournamentStatus = "created"
	TournamentActive    TournamentStatus = "active"
	TournamentFinalized TournamentStatus = "finalized"
	TournamentCancelled TournamentStatus = "cancelled"
)

// Tournament is the local mirror of a ledger tournament. The ledger assigns
// the integer ID; the mirror is refreshed by the tournament sync worker and
// is never trusted over the ledger for collateral or funds.
type Tournament struct {
	ID                int64            `json:"id" gorm:"primaryKey;autoIncrement:false"`
	RegistrationStart time.Time        `json:"registration_start" gorm:"not null"`
	StartTime         time.Time        `json:"start_time" gorm:"not null;index"`
	EndTime           time.Time        `json:"end_time" gorm:"not null;index"`
	PrizePool         int64            `json:"prize_pool" gorm:"not null;default:0"` // smallest currency unit
	EntryCount        int              `json:"entry_count" gorm:"default:0"`
	Status            TournamentStatus `json:"status" gorm:"type:varchar(16);default:'created';index"`
	FinalizedAt       *time.Time       `json:"finalized_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`

	Timestamps
}

// EffectiveStatus derives the registration/active phase from the wall clock
// rather than the cached Status column, so entry/cancel checks never race a
// stale mirror. Terminal states always win.
func (t *Tournament) EffectiveStatus(now time.Time) TournamentStatus {
	switch t.Status {
	case TournamentFinalized, TournamentCancelled:
		return t.Status
	}
	if now.Before(t.StartTime) {
		return TournamentCreated
	}
	return TournamentActive
}

// RegistrationOpen reports whether an entrant may still register or cancel a
// lineup: inside [registrationStart, startTime) and not terminal.
func (t *Tournament) RegistrationOpen(now time.Time) bool {
	if t.Status == TournamentFinalized || t.Status == TournamentCancelled {
		return false
	}
	return !now.Before(t.RegistrationStart) && now.Before(t.StartTime)
}

// LineupSize is the exact number of cards an entrant locks per tournament.
const LineupSize = 5

// Lineup is one entrant's locked hand of five cards for one tournament.
// Created on entry, flagged on cancel or claim, never deleted.
type Lineup struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID int64     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_lineup_tournament_entrant"`
	EntrantID    string    `json:"entrant_id" gorm:"not null;uniqueIndex:idx_lineup_tournament_entrant;index"`
	Card1        int64     `json:"card1" gorm:"not null"`
	Card2        int64     `json:"card2" gorm:"not null"`
	Card3        int64     `json:"card3" gorm:"not null"`
	Card4        int64     `json:"card4" gorm:"not null"`
	Card5        int64     `json:"card5" gorm:"not null"`
	RegisteredAt time.Time `json:"registered_at" gorm:"not null"`
	Cancelled    bool      `json:"cancelled" gorm:"default:false"`
	Claimed      bool      `json:"claimed" gorm:"default:false"`

	Timestamps
}

// CardIDs returns the five locked card ids in slot order.
func (l *Lineup) CardIDs() []int64 {
	return []int64{l.Card1, l.Card2, l.Card3, l.Card4, l.Card5}
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
