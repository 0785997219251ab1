package models

import "time"

// ItemStatus classifies the outcome of one entrant or startup within a batch
// run, so callers can see exactly which subset failed without parsing logs.
type ItemStatus string

const (
	ItemOK        ItemStatus = "ok"
	ItemRetryable ItemStatus = "retryable"
	ItemFatal     ItemStatus = "fatal"
)

// ItemResult is one line of a batch report.
type ItemResult struct {
	Kind   string     `json:"kind"` // "entrant" or "startup"
	Key    string     `json:"key"`
	Status ItemStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// ScoringReport summarizes one daily aggregation pass.
type ScoringReport struct {
	TournamentID int64        `json:"tournament_id"`
	Date         string       `json:"date"`
	Scored       int          `json:"scored"`
	Skipped      int          `json:"skipped"`
	Items        []ItemResult `json:"items,omitempty"`
	RanAt        time.Time    `json:"ran_at"`
}

// Add appends an item result and bumps the counters.
func (r *ScoringReport) Add(kind, key string, status ItemStatus, reason string) {
	r.Items = append(r.Items, ItemResult{Kind: kind, Key: key, Status: status, Reason: reason})
	if status == ItemOK {
		r.Scored++
	} else {
		r.Skipped++
	}
}

// Retryables returns the keys that should be re-attempted on the next run.
func (r *ScoringReport) Retryables() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Status == ItemRetryable {
			out = append(out, it)
		}
	}
	return out
}

// FinalizeResult reports one settlement attempt.
type FinalizeResult struct {
	TournamentID     int64             `json:"tournament_id"`
	AlreadyFinalized bool              `json:"already_finalized"`
	TotalScore       int64             `json:"total_score"`
	PrizePool        int64             `json:"prize_pool"`
	Distributed      int64             `json:"distributed"`
	Remainder        int64             `json:"remainder"`
	Allocations      []PrizeAllocation `json:"allocations,omitempty"`
	UnlockFailures   []ItemResult      `json:"unlock_failures,omitempty"`
	SettledAt        time.Time         `json:"settled_at"`
}
