// services/tournament_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"startup-fantasy-core/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TournamentService owns the entrant-facing lifecycle operations: register a
// lineup (locking collateral), cancel it before the start, claim a settled
// prize, plus the standings read surface and admin cancel/trigger paths.
type TournamentService struct {
	DB         *gorm.DB
	Ledger     CollateralLedger
	Scoring    *ScoringService
	Settlement *SettlementService
}

func NewTournamentService(db *gorm.DB, ledger CollateralLedger, scoring *ScoringService, settlement *SettlementService) *TournamentService {
	return &TournamentService{DB: db, Ledger: ledger, Scoring: scoring, Settlement: settlement}
}

func parseTournamentID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tournament id %q", c.Params("id"))
	}
	return id, nil
}

// GetAllTournaments lists the local tournament mirror.
func (s *TournamentService) GetAllTournaments(c *fiber.Ctx) error {
	var tournaments []models.Tournament
	if err := s.DB.Order("start_time DESC").Find(&tournaments).Error; err != nil {
		log.Printf("ERROR fetching tournaments: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch tournaments"})
	}
	return c.JSON(tournaments)
}

// GetTournamentByID returns one mirror row plus its derived phase.
func (s *TournamentService) GetTournamentByID(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{
		"tournament":       tournament,
		"effective_status": tournament.EffectiveStatus(time.Now()),
	})
}

// GetStandings returns the live leaderboard in rank order. Readers tolerate
// eventually-consistent ranks; only the aggregator writes this table.
func (s *TournamentService) GetStandings(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	entries, err := RankedEntries(s.DB, id)
	if err != nil {
		log.Printf("ERROR fetching standings for tournament %d: %v", id, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch standings"})
	}
	return c.JSON(entries)
}

// GetEntrantHistory returns one entrant's per-day score rows with breakdowns.
func (s *TournamentService) GetEntrantHistory(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	entrantID := c.Params("entrant_id")
	var history []models.ScoreHistory
	if err := s.DB.Where("tournament_id = ? AND entrant_id = ?", id, entrantID).
		Order("date ASC").
		Find(&history).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch score history"})
	}
	return c.JSON(history)
}

// GetAllocations lists settled prize allocations for a tournament.
func (s *TournamentService) GetAllocations(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	var allocations []models.PrizeAllocation
	if err := s.DB.Where("tournament_id = ?", id).
		Order("prize_amount DESC, entrant_id ASC").
		Find(&allocations).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch allocations"})
	}
	return c.JSON(allocations)
}

// RegisterLineup enters the authenticated entrant with exactly five cards.
// The five cards are locked on the ledger before the lineup row exists, so
// the ledger, not the mirror, is what guarantees a card is never double-used.
func (s *TournamentService) RegisterLineup(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	entrantID, _ := c.Locals("entrant_id").(string)
	if entrantID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "entrant identity missing"})
	}

	var req struct {
		CardIDs []int64 `json:"card_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if len(req.CardIDs) != models.LineupSize {
		return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("exactly %d card_ids required", models.LineupSize)})
	}
	seen := make(map[int64]bool, models.LineupSize)
	for _, cardID := range req.CardIDs {
		if cardID <= 0 || seen[cardID] {
			return c.Status(400).JSON(fiber.Map{"error": "card_ids must be distinct positive token ids"})
		}
		seen[cardID] = true
	}

	// Registration windows are checked against the ledger's clock data, not
	// the cached mirror status, to avoid stale-state races near startTime.
	ledgerT, err := s.Ledger.GetTournament(c.Context(), id)
	if err != nil {
		log.Printf("❌ [ENTRY] Ledger unreachable for tournament %d: %v", id, err)
		return c.Status(502).JSON(fiber.Map{"error": "collateral ledger unavailable"})
	}
	now := time.Now()
	if ledgerT.Status == models.TournamentCancelled || ledgerT.Status == models.TournamentFinalized {
		return c.Status(409).JSON(fiber.Map{"error": "tournament is closed"})
	}
	if now.Before(ledgerT.RegistrationStart) || !now.Before(ledgerT.StartTime) {
		return c.Status(409).JSON(fiber.Map{"error": "registration window is closed"})
	}

	var existing models.Lineup
	if err := s.DB.Where("tournament_id = ? AND entrant_id = ? AND cancelled = ?", id, entrantID, false).
		First(&existing).Error; err == nil {
		return c.Status(409).JSON(fiber.Map{"error": "already entered", "lineup": existing})
	}

	// Lock collateral first. The ledger rejects cards the entrant does not
	// own or that are already locked elsewhere.
	if err := s.Ledger.LockCards(c.Context(), req.CardIDs); err != nil {
		log.Printf("❌ [ENTRY] Lock failed for entrant %s in tournament %d: %v", entrantID, id, err)
		return c.Status(409).JSON(fiber.Map{"error": "failed to lock cards", "details": err.Error()})
	}

	lineup := models.Lineup{
		ID:           uuid.NewString(),
		TournamentID: id,
		EntrantID:    entrantID,
		Card1:        req.CardIDs[0],
		Card2:        req.CardIDs[1],
		Card3:        req.CardIDs[2],
		Card4:        req.CardIDs[3],
		Card5:        req.CardIDs[4],
		RegisteredAt: now,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.upsertMirror(tx, ledgerT); err != nil {
			return err
		}
		if err := tx.Create(&lineup).Error; err != nil {
			return err
		}
		return tx.Model(&models.Tournament{}).
			Where("id = ?", id).
			Update("entry_count", gorm.Expr("entry_count + 1")).Error
	})
	if err != nil {
		// The cards are locked but the entry did not persist; release them
		// so the entrant is not stuck with frozen collateral.
		if unlockErr := s.Ledger.UnlockCards(c.Context(), req.CardIDs); unlockErr != nil {
			log.Printf("⚠️ [ENTRY] Rollback unlock failed for entrant %s: %v", entrantID, unlockErr)
		}
		log.Printf("❌ [ENTRY] DB insert failed for entrant %s in tournament %d: %v", entrantID, id, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to register lineup"})
	}

	log.Printf("✅ [ENTRY] Entrant %s registered in tournament %d with cards %v", entrantID, id, req.CardIDs)
	return c.Status(201).JSON(lineup)
}

// CancelLineup withdraws an entry strictly before startTime and releases the
// locked cards. A failed unlock is logged for retry, never fatal: the cards
// are released again at finalization or cancellation.
func (s *TournamentService) CancelLineup(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	entrantID, _ := c.Locals("entrant_id").(string)
	if entrantID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "entrant identity missing"})
	}

	ledgerT, err := s.Ledger.GetTournament(c.Context(), id)
	if err != nil {
		return c.Status(502).JSON(fiber.Map{"error": "collateral ledger unavailable"})
	}
	if !time.Now().Before(ledgerT.StartTime) {
		return c.Status(409).JSON(fiber.Map{"error": "tournament has started, lineup can no longer be cancelled"})
	}

	var lineup models.Lineup
	if err := s.DB.Where("tournament_id = ? AND entrant_id = ? AND cancelled = ?", id, entrantID, false).
		First(&lineup).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no active lineup for this tournament"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Lineup{}).
			Where("id = ? AND cancelled = ?", lineup.ID, false).
			Update("cancelled", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(409, "lineup already cancelled")
		}
		return tx.Model(&models.Tournament{}).
			Where("id = ? AND entry_count > 0", id).
			Update("entry_count", gorm.Expr("entry_count - 1")).Error
	})
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		return c.Status(500).JSON(fiber.Map{"error": "cancel failed"})
	}

	if err := s.Ledger.UnlockCards(c.Context(), lineup.CardIDs()); err != nil {
		log.Printf("⚠️ [ENTRY] Unlock after cancel failed for entrant %s in tournament %d: %v (will release at settlement)", entrantID, id, err)
	}

	log.Printf("✅ [ENTRY] Entrant %s cancelled lineup in tournament %d", entrantID, id)
	return c.JSON(fiber.Map{"message": "lineup cancelled"})
}

// ClaimPrize marks a settled allocation claimed, once.
func (s *TournamentService) ClaimPrize(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	entrantID, _ := c.Locals("entrant_id").(string)
	if entrantID == "" {
		return c.Status(401).JSON(fiber.Map{"error": "entrant identity missing"})
	}

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	if tournament.Status != models.TournamentFinalized {
		return c.Status(409).JSON(fiber.Map{"error": "tournament is not finalized"})
	}

	var allocation models.PrizeAllocation
	if err := s.DB.Where("tournament_id = ? AND entrant_id = ?", id, entrantID).
		First(&allocation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no allocation for this entrant"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	res := s.DB.Model(&models.Lineup{}).
		Where("tournament_id = ? AND entrant_id = ? AND claimed = ?", id, entrantID, false).
		Update("claimed", true)
	if res.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "claim failed"})
	}
	if res.RowsAffected == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "prize already claimed"})
	}

	log.Printf("✅ [CLAIM] Entrant %s claimed %d from tournament %d", entrantID, allocation.PrizeAmount, id)
	return c.JSON(fiber.Map{"message": "prize claimed", "allocation": allocation})
}

// CancelTournament is the admin cancel path: terminal, no payouts, releases
// every still-locked lineup. Per-lineup unlock failures are logged and
// skipped so one stuck unlock cannot leave everyone else frozen.
func (s *TournamentService) CancelTournament(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	now := time.Now().UTC()
	res := s.DB.Model(&models.Tournament{}).
		Where("id = ? AND status IN ?", id, []models.TournamentStatus{models.TournamentCreated, models.TournamentActive}).
		Updates(map[string]interface{}{
			"status":       models.TournamentCancelled,
			"cancelled_at": now,
		})
	if res.Error != nil {
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	if res.RowsAffected == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "tournament cannot be cancelled from its current state"})
	}

	var lineups []models.Lineup
	if err := s.DB.Where("tournament_id = ? AND cancelled = ?", id, false).Find(&lineups).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "DB error loading lineups"})
	}
	var failures []models.ItemResult
	for _, lineup := range lineups {
		if err := s.Ledger.UnlockCards(c.Context(), lineup.CardIDs()); err != nil {
			log.Printf("⚠️ [CANCEL] Unlock failed for entrant %s in tournament %d: %v", lineup.EntrantID, id, err)
			failures = append(failures, models.ItemResult{
				Kind: "entrant", Key: lineup.EntrantID, Status: models.ItemRetryable, Reason: err.Error(),
			})
		}
	}

	log.Printf("✅ [CANCEL] Tournament %d cancelled, %d lineup(s) released, %d unlock failure(s)", id, len(lineups)-len(failures), len(failures))
	return c.JSON(fiber.Map{
		"message":         "tournament cancelled",
		"released":        len(lineups) - len(failures),
		"unlock_failures": failures,
	})
}

// SyncTournament force-refreshes the local mirror from the ledger.
func (s *TournamentService) SyncTournament(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	ledgerT, err := s.Ledger.GetTournament(c.Context(), id)
	if err != nil {
		return c.Status(502).JSON(fiber.Map{"error": "collateral ledger unavailable", "details": err.Error()})
	}
	if err := s.upsertMirror(s.DB, ledgerT); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to upsert tournament mirror"})
	}
	var tournament models.Tournament
	s.DB.First(&tournament, "id = ?", id)
	return c.JSON(tournament)
}

// TriggerScoring runs the daily aggregation for one tournament and date.
// Exposed for the external scheduler and for manual gap re-runs.
func (s *TournamentService) TriggerScoring(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	date := c.Query("date", models.Day(time.Now()))
	report, err := s.Scoring.RunDailyScoring(c.Context(), id, date)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return c.Status(404).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrInvalidState):
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(report)
}

// TriggerFinalize runs settlement for one tournament.
func (s *TournamentService) TriggerFinalize(c *fiber.Ctx) error {
	id, err := parseTournamentID(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	result, err := s.Settlement.Finalize(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return c.Status(404).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrTooEarly):
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrIntegrity):
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "alert": "settlement halted, totals cannot be reconciled"})
		default:
			return c.Status(502).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(result)
}

// upsertMirror writes the ledger view of a tournament into the local mirror.
// A locally terminal status is never overwritten backwards.
func (s *TournamentService) upsertMirror(db *gorm.DB, t *models.LedgerTournament) error {
	row := models.Tournament{
		ID:                t.ID,
		RegistrationStart: t.RegistrationStart,
		StartTime:         t.StartTime,
		EndTime:           t.EndTime,
		PrizePool:         t.PrizePool,
		EntryCount:        t.EntryCount,
		Status:            t.Status,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"registration_start": t.RegistrationStart,
			"start_time":         t.StartTime,
			"end_time":           t.EndTime,
			"prize_pool":         t.PrizePool,
		}),
	}).Create(&row).Error
}
