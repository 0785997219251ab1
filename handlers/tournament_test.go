package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"startup-fantasy-core/models"
	"startup-fantasy-core/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubLedger covers the subset of ledger calls the HTTP layer makes.
type stubLedger struct {
	tournament  *models.LedgerTournament
	lockErr     error
	locked      map[int64]bool
	unlockCalls [][]int64
}

func (s *stubLedger) GetTournament(ctx context.Context, id int64) (*models.LedgerTournament, error) {
	if s.tournament == nil || s.tournament.ID != id {
		return nil, fmt.Errorf("tournament %d not on ledger", id)
	}
	t := *s.tournament
	return &t, nil
}

func (s *stubLedger) GetParticipants(ctx context.Context, tournamentID int64) ([]string, error) {
	return nil, nil
}

func (s *stubLedger) GetLineup(ctx context.Context, tournamentID int64, entrantID string) (*models.LedgerLineup, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubLedger) GetCardInfo(ctx context.Context, cardID int64) (*models.CardSnapshot, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubLedger) LockCards(ctx context.Context, cardIDs []int64) error {
	if s.lockErr != nil {
		return s.lockErr
	}
	if s.locked == nil {
		s.locked = make(map[int64]bool)
	}
	for _, id := range cardIDs {
		s.locked[id] = true
	}
	return nil
}

func (s *stubLedger) UnlockCards(ctx context.Context, cardIDs []int64) error {
	s.unlockCalls = append(s.unlockCalls, append([]int64(nil), cardIDs...))
	for _, id := range cardIDs {
		delete(s.locked, id)
	}
	return nil
}

func (s *stubLedger) SubmitFinalization(ctx context.Context, tournamentID int64, winners []string, amounts []int64) (models.SubmitOutcome, error) {
	return models.SubmitAccepted, nil
}

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB, *stubLedger) {
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
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	ledger := &stubLedger{}
	locks := services.NewTournamentLocks()
	scoring := services.NewScoringService(db, ledger, nil, locks)
	settlement := services.NewSettlementService(db, ledger, locks)
	tournamentService := services.NewTournamentService(db, ledger, scoring, settlement)

	app := fiber.New()
	SetupTournamentRoutes(app, tournamentService)
	return app, db, ledger
}

func openLedgerTournament(id int64) *models.LedgerTournament {
	now := time.Now().UTC()
	return &models.LedgerTournament{
		ID:                id,
		RegistrationStart: now.Add(-time.Hour),
		StartTime:         now.Add(time.Hour),
		EndTime:           now.Add(72 * time.Hour),
		PrizePool:         10000,
		Status:            models.TournamentCreated,
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path, entrant string, roles string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if entrant != "" {
		req.Header.Set("X-Entrant-ID", entrant)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func readStatus(t *testing.T, resp *http.Response, want int) []byte {
	t.Helper()
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, payload)
	}
	return payload
}

func TestRegisterLineupLocksCardsAndPersists(t *testing.T) {
	app, db, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	body := map[string]interface{}{"card_ids": []int64{11, 12, 13, 14, 15}}
	resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", body)
	payload := readStatus(t, resp, 201)

	var lineup models.Lineup
	if err := json.Unmarshal(payload, &lineup); err != nil {
		t.Fatalf("failed to decode lineup: %v", err)
	}
	if lineup.EntrantID != "alice" || lineup.Card1 != 11 || lineup.Card5 != 15 {
		t.Fatalf("unexpected lineup %+v", lineup)
	}
	for _, id := range []int64{11, 12, 13, 14, 15} {
		if !ledger.locked[id] {
			t.Errorf("card %d was not locked", id)
		}
	}

	var tournament models.Tournament
	if err := db.First(&tournament, "id = ?", 1).Error; err != nil {
		t.Fatalf("mirror row was not created: %v", err)
	}
	if tournament.EntryCount != 1 {
		t.Errorf("entry count = %d, want 1", tournament.EntryCount)
	}
}

func TestRegisterLineupValidation(t *testing.T) {
	app, _, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	cases := []struct {
		name  string
		cards []int64
	}{
		{"too few", []int64{1, 2, 3}},
		{"too many", []int64{1, 2, 3, 4, 5, 6}},
		{"duplicate", []int64{1, 2, 3, 4, 4}},
		{"non-positive", []int64{0, 2, 3, 4, 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": tc.cards})
			readStatus(t, resp, 400)
		})
	}

	// Identity is mandatory on secured routes.
	resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}})
	readStatus(t, resp, 401)
}

func TestRegisterLineupClosedWindow(t *testing.T) {
	app, _, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)
	ledger.tournament.StartTime = time.Now().UTC().Add(-time.Minute) // already started

	resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}})
	readStatus(t, resp, 409)
}

func TestRegisterLineupRejectsDoubleEntry(t *testing.T) {
	app, _, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	first := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}})
	readStatus(t, first, 201)

	second := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{6, 7, 8, 9, 10}})
	readStatus(t, second, 409)

	if ledger.locked[6] {
		t.Error("rejected entry must not leave cards locked")
	}
}

func TestCancelLineupBeforeStartReleasesCards(t *testing.T) {
	app, db, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}})
	readStatus(t, resp, 201)

	resp = doJSON(t, app, "DELETE", "/tournaments/1/lineups", "alice", "", nil)
	readStatus(t, resp, 200)

	var lineup models.Lineup
	db.Where("tournament_id = ? AND entrant_id = ?", 1, "alice").First(&lineup)
	if !lineup.Cancelled {
		t.Fatal("lineup not flagged cancelled")
	}
	var tournament models.Tournament
	db.First(&tournament, "id = ?", 1)
	if tournament.EntryCount != 0 {
		t.Errorf("entry count = %d, want 0 after cancel", tournament.EntryCount)
	}
	if len(ledger.unlockCalls) != 1 {
		t.Fatalf("unlock called %d times, want 1", len(ledger.unlockCalls))
	}

	// A second cancel finds no active lineup.
	resp = doJSON(t, app, "DELETE", "/tournaments/1/lineups", "alice", "", nil)
	readStatus(t, resp, 404)
}

func TestCancelLineupAfterStartRejected(t *testing.T) {
	app, db, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	resp := doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}})
	readStatus(t, resp, 201)

	ledger.tournament.StartTime = time.Now().UTC().Add(-time.Minute)
	resp = doJSON(t, app, "DELETE", "/tournaments/1/lineups", "alice", "", nil)
	readStatus(t, resp, 409)

	var lineup models.Lineup
	db.Where("tournament_id = ? AND entrant_id = ?", 1, "alice").First(&lineup)
	if lineup.Cancelled {
		t.Fatal("lineup cancelled after the start time")
	}
}

func TestClaimPrizeOnce(t *testing.T) {
	app, db, _ := newTestApp(t)

	now := time.Now().UTC()
	tournament := models.Tournament{
		ID:                1,
		RegistrationStart: now.Add(-96 * time.Hour),
		StartTime:         now.Add(-72 * time.Hour),
		EndTime:           now.Add(-time.Hour),
		Status:            models.TournamentFinalized,
		FinalizedAt:       &now,
	}
	db.Create(&tournament)
	db.Create(&models.Lineup{
		ID: uuid.NewString(), TournamentID: 1, EntrantID: "alice",
		Card1: 1, Card2: 2, Card3: 3, Card4: 4, Card5: 5,
		RegisteredAt: now.Add(-90 * time.Hour),
	})
	db.Create(&models.PrizeAllocation{
		ID: uuid.NewString(), TournamentID: 1, EntrantID: "alice",
		Score: 100, PrizeAmount: 5000, SettledAt: now,
	})

	resp := doJSON(t, app, "POST", "/tournaments/1/claim", "alice", "", nil)
	readStatus(t, resp, 200)

	resp = doJSON(t, app, "POST", "/tournaments/1/claim", "alice", "", nil)
	readStatus(t, resp, 409)

	// No allocation for this entrant.
	resp = doJSON(t, app, "POST", "/tournaments/1/claim", "bob", "", nil)
	readStatus(t, resp, 404)
}

func TestClaimPrizeRequiresFinalized(t *testing.T) {
	app, db, _ := newTestApp(t)

	now := time.Now().UTC()
	db.Create(&models.Tournament{
		ID:                1,
		RegistrationStart: now.Add(-48 * time.Hour),
		StartTime:         now.Add(-24 * time.Hour),
		EndTime:           now.Add(24 * time.Hour),
		Status:            models.TournamentActive,
	})

	resp := doJSON(t, app, "POST", "/tournaments/1/claim", "alice", "", nil)
	readStatus(t, resp, 409)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	app, db, _ := newTestApp(t)

	now := time.Now().UTC()
	db.Create(&models.Tournament{
		ID:                1,
		RegistrationStart: now.Add(-48 * time.Hour),
		StartTime:         now.Add(-24 * time.Hour),
		EndTime:           now.Add(24 * time.Hour),
		Status:            models.TournamentActive,
	})

	resp := doJSON(t, app, "POST", "/admin/tournaments/1/cancel", "alice", "", nil)
	readStatus(t, resp, 403)

	resp = doJSON(t, app, "POST", "/admin/tournaments/1/cancel", "alice", "entrant,admin", nil)
	readStatus(t, resp, 200)
}

func TestCancelTournamentReleasesLineupsOnce(t *testing.T) {
	app, db, ledger := newTestApp(t)
	ledger.tournament = openLedgerTournament(1)

	readStatus(t, doJSON(t, app, "POST", "/tournaments/1/lineups", "alice", "", map[string]interface{}{"card_ids": []int64{1, 2, 3, 4, 5}}), 201)
	readStatus(t, doJSON(t, app, "POST", "/tournaments/1/lineups", "bob", "", map[string]interface{}{"card_ids": []int64{6, 7, 8, 9, 10}}), 201)

	unlocksBefore := len(ledger.unlockCalls)
	resp := doJSON(t, app, "POST", "/admin/tournaments/1/cancel", "ops", "admin", nil)
	readStatus(t, resp, 200)

	var tournament models.Tournament
	db.First(&tournament, "id = ?", 1)
	if tournament.Status != models.TournamentCancelled || tournament.CancelledAt == nil {
		t.Fatalf("status = %s cancelled_at = %v, want cancelled with timestamp", tournament.Status, tournament.CancelledAt)
	}
	if got := len(ledger.unlockCalls) - unlocksBefore; got != 2 {
		t.Fatalf("unlock called %d times, want once per lineup", got)
	}

	// Cancel is terminal: a replay is refused.
	resp = doJSON(t, app, "POST", "/admin/tournaments/1/cancel", "ops", "admin", nil)
	readStatus(t, resp, 409)
}
