// services/ledger.go
package services

import (
	"context"
	"errors"
	"sync"

	"startup-fantasy-core/models"
)

// CollateralLedger is the chain-backed source of truth for participants,
// locked cards, card rarities and the prize pool. The core only ever talks
// to it through this contract; workers/ledger_client.go is the HTTP
// implementation and tests substitute an in-memory fake.
type CollateralLedger interface {
	GetTournament(ctx context.Context, id int64) (*models.LedgerTournament, error)
	GetParticipants(ctx context.Context, tournamentID int64) ([]string, error)
	GetLineup(ctx context.Context, tournamentID int64, entrantID string) (*models.LedgerLineup, error)
	GetCardInfo(ctx context.Context, cardID int64) (*models.CardSnapshot, error)
	LockCards(ctx context.Context, cardIDs []int64) error
	UnlockCards(ctx context.Context, cardIDs []int64) error
	SubmitFinalization(ctx context.Context, tournamentID int64, winners []string, amounts []int64) (models.SubmitOutcome, error)
}

// SignalSource is the external social-signal ingestor.
type SignalSource interface {
	FetchDailyPoints(ctx context.Context, startupID int64, date string) (*models.DailyPoints, error)
}

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrTooEarly     = errors.New("tournament window not closed yet")
	ErrIntegrity    = errors.New("integrity violation")
)

// TournamentLocks serializes scoring and settlement per tournament. Both the
// aggregator and the settlement engine lock the tournament id, so a scoring
// pass and a finalize for the same tournament can never interleave.
type TournamentLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewTournamentLocks() *TournamentLocks {
	return &TournamentLocks{locks: make(map[int64]*sync.Mutex)}
}

func (t *TournamentLocks) Lock(id int64) func() {
	t.mu.Lock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}
