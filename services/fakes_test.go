package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"startup-fantasy-core/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "core.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.Lineup{},
		&models.DailyScore{},
		&models.ScoreHistory{},
		&models.LeaderboardEntry{},
		&models.PrizeAllocation{},
		&models.StartupMirror{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

type submission struct {
	TournamentID int64
	Winners      []string
	Amounts      []int64
}

// fakeLedger is an in-memory collateral ledger for tests.
type fakeLedger struct {
	mu sync.Mutex

	tournament   *models.LedgerTournament
	participants []string
	lineups      map[string]*models.LedgerLineup
	cards        map[int64]*models.CardSnapshot

	lineupErr map[string]error
	lockErr   error
	unlockErr error
	submitErr error

	finalized   bool
	locked      map[int64]bool
	unlockCalls [][]int64
	submissions []submission
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		lineups:   make(map[string]*models.LedgerLineup),
		cards:     make(map[int64]*models.CardSnapshot),
		lineupErr: make(map[string]error),
		locked:    make(map[int64]bool),
	}
}

func (f *fakeLedger) addEntrant(entrantID string, cards ...models.CardSnapshot) {
	f.participants = append(f.participants, entrantID)
	var ids []int64
	for _, c := range cards {
		c := c
		f.cards[c.TokenID] = &c
		ids = append(ids, c.TokenID)
	}
	f.lineups[entrantID] = &models.LedgerLineup{EntrantID: entrantID, CardIDs: ids}
}

func (f *fakeLedger) GetTournament(ctx context.Context, id int64) (*models.LedgerTournament, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tournament == nil || f.tournament.ID != id {
		return nil, fmt.Errorf("tournament %d not on ledger", id)
	}
	t := *f.tournament
	return &t, nil
}

func (f *fakeLedger) GetParticipants(ctx context.Context, tournamentID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.participants...), nil
}

func (f *fakeLedger) GetLineup(ctx context.Context, tournamentID int64, entrantID string) (*models.LedgerLineup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lineupErr[entrantID]; err != nil {
		return nil, err
	}
	lineup, ok := f.lineups[entrantID]
	if !ok {
		return nil, fmt.Errorf("no lineup for %s", entrantID)
	}
	cp := *lineup
	return &cp, nil
}

func (f *fakeLedger) GetCardInfo(ctx context.Context, cardID int64) (*models.CardSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return nil, fmt.Errorf("card %d not found", cardID)
	}
	cp := *card
	return &cp, nil
}

func (f *fakeLedger) LockCards(ctx context.Context, cardIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	for _, id := range cardIDs {
		if f.locked[id] {
			return fmt.Errorf("card %d already locked", id)
		}
	}
	for _, id := range cardIDs {
		f.locked[id] = true
	}
	return nil
}

func (f *fakeLedger) UnlockCards(ctx context.Context, cardIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlockCalls = append(f.unlockCalls, append([]int64(nil), cardIDs...))
	if f.unlockErr != nil {
		return f.unlockErr
	}
	for _, id := range cardIDs {
		f.locked[id] = false // already-unlocked cards are a no-op
	}
	return nil
}

func (f *fakeLedger) SubmitFinalization(ctx context.Context, tournamentID int64, winners []string, amounts []int64) (models.SubmitOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.finalized {
		return models.SubmitAlreadyFinalized, nil
	}
	f.finalized = true
	f.submissions = append(f.submissions, submission{
		TournamentID: tournamentID,
		Winners:      append([]string(nil), winners...),
		Amounts:      append([]int64(nil), amounts...),
	})
	return models.SubmitAccepted, nil
}

// fakeSignals is an in-memory signal ingestor for tests.
type fakeSignals struct {
	mu     sync.Mutex
	points map[string]int64 // "startupID:date" -> basePoints
	errs   map[int64]error
	calls  map[int64]int
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{
		points: make(map[string]int64),
		errs:   make(map[int64]error),
		calls:  make(map[int64]int),
	}
}

func (f *fakeSignals) set(startupID int64, date string, points int64) {
	f.points[fmt.Sprintf("%d:%s", startupID, date)] = points
}

func (f *fakeSignals) FetchDailyPoints(ctx context.Context, startupID int64, date string) (*models.DailyPoints, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[startupID]++
	if err := f.errs[startupID]; err != nil {
		return nil, err
	}
	return &models.DailyPoints{
		StartupID:  startupID,
		Date:       date,
		BasePoints: f.points[fmt.Sprintf("%d:%s", startupID, date)],
	}, nil
}

func card(tokenID, startupID, multiplier int64) models.CardSnapshot {
	return models.CardSnapshot{TokenID: tokenID, StartupID: startupID, RarityMultiplier: multiplier}
}
