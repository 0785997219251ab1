package models

import (
	"encoding/json"
	"time"
)

// Read-only views sourced from the collateral ledger. These are never
// persisted directly; the ledger stays the source of truth for collateral
// and funds and the core re-reads them on every scoring/settlement pass.

// LedgerTournament is the ledger's answer to getTournament(id).
type LedgerTournament struct {
	ID                int64            `json:"id"`
	Status            TournamentStatus `json:"status"`
	RegistrationStart time.Time        `json:"registration_start"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	PrizePool         int64            `json:"prize_pool"`
	EntryCount        int              `json:"entry_count"`
}

// LedgerLineup is the ledger's record of which cards an entrant locked.
type LedgerLineup struct {
	EntrantID string  `json:"entrant_id"`
	CardIDs   []int64 `json:"card_ids"`
	Cancelled bool    `json:"cancelled"`
	Claimed   bool    `json:"claimed"`
}

// CardSnapshot is a point-in-time read of one card. The rarity multiplier is
// fixed at mint but must be read per run, never cached across runs, so an
// upstream data correction is picked up by the next scoring pass.
type CardSnapshot struct {
	TokenID          int64 `json:"token_id"`
	StartupID        int64 `json:"startup_id"`
	RarityMultiplier int64 `json:"rarity_multiplier"`
}

// DailyPoints is the signal ingestor's answer to fetchDailyPoints. A day
// with no activity comes back as BasePoints 0, which is distinct from a
// failed fetch (an error, handled as a retryable gap).
type DailyPoints struct {
	StartupID  int64           `json:"startup_id"`
	Date       string          `json:"date"`
	BasePoints int64           `json:"base_points"`
	Events     json.RawMessage `json:"events,omitempty"`
}

// SubmitOutcome is the ledger's verdict on a settlement submission.
type SubmitOutcome string

const (
	SubmitAccepted         SubmitOutcome = "success"
	SubmitAlreadyFinalized SubmitOutcome = "already-finalized"
)
