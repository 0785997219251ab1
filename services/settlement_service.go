// services/settlement_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"startup-fantasy-core/models"
	"startup-fantasy-core/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementService drives the one-time, retry-safe settlement of a closed
// tournament: recompute authoritative scores, split the pool, commit to the
// ledger, then mark the tournament finalized locally.
type SettlementService struct {
	DB     *gorm.DB
	Ledger CollateralLedger
	Locks  *TournamentLocks

	RetryAttempts int
	RetryDelay    time.Duration
	ArchiveReport bool // upload FinalizeResult JSON to the audit archive
}

func NewSettlementService(db *gorm.DB, ledger CollateralLedger, locks *TournamentLocks) *SettlementService {
	return &SettlementService{
		DB:            db,
		Ledger:        ledger,
		Locks:         locks,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
	}
}

// Finalize settles one tournament. Safe to invoke repeatedly: a second call
// after success detects the finalized status and no-ops, and a call after a
// failed ledger submission recomputes steps 1-4 from scratch — they are pure
// functions of the ledger lineups and accumulated per-startup totals, so
// every retry derives the same allocation.
func (s *SettlementService) Finalize(ctx context.Context, tournamentID int64) (*models.FinalizeResult, error) {
	unlock := s.Locks.Lock(tournamentID)
	defer unlock()

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("tournament %d: %w", tournamentID, ErrNotFound)
		}
		return nil, fmt.Errorf("DB error fetching tournament %d: %w", tournamentID, err)
	}

	if tournament.Status == models.TournamentFinalized {
		log.Printf("[SETTLE] ↩️ Tournament %d already finalized, nothing to do", tournamentID)
		return &models.FinalizeResult{TournamentID: tournamentID, AlreadyFinalized: true}, nil
	}
	if tournament.Status == models.TournamentCancelled {
		return nil, fmt.Errorf("cannot finalize cancelled tournament %d: %w", tournamentID, ErrInvalidState)
	}
	if time.Now().Before(tournament.EndTime) {
		return nil, fmt.Errorf("tournament %d ends at %s: %w", tournamentID, tournament.EndTime.Format(time.RFC3339), ErrTooEarly)
	}

	// Step 1: participants and lineups from the ledger — the freshest source
	// for which cards were actually locked. The local leaderboard may be
	// stale or missing entrants whose aggregation runs lagged.
	var participants []string
	err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
		var err error
		participants, err = s.Ledger.GetParticipants(ctx, tournamentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger unreachable for tournament %d participants: %w", tournamentID, err)
	}

	// Step 2: authoritative recomputation from whole-window per-startup
	// totals, not from the cached leaderboard, so off-chain drift heals here.
	totals, err := s.startupWindowTotals(tournamentID)
	if err != nil {
		return nil, fmt.Errorf("DB error loading startup totals for tournament %d: %w", tournamentID, err)
	}

	cardCache := make(map[int64]models.CardSnapshot)
	scores := make([]EntrantScore, 0, len(participants))
	cardsByEntrant := make(map[string][]int64)
	for _, entrantID := range participants {
		var lineup *models.LedgerLineup
		err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
			var err error
			lineup, err = s.Ledger.GetLineup(ctx, tournamentID, entrantID)
			return err
		})
		if err != nil {
			// Settlement cannot pay out against a partially known field.
			return nil, fmt.Errorf("ledger lineup fetch failed for entrant %s: %w", entrantID, err)
		}
		if lineup.Cancelled {
			continue
		}
		cards := make([]models.CardSnapshot, 0, len(lineup.CardIDs))
		for _, cardID := range lineup.CardIDs {
			snap, ok := cardCache[cardID]
			if !ok {
				var fetched *models.CardSnapshot
				err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
					var err error
					fetched, err = s.Ledger.GetCardInfo(ctx, cardID)
					return err
				})
				if err != nil {
					return nil, fmt.Errorf("ledger card fetch failed for card %d: %w", cardID, err)
				}
				snap = *fetched
				cardCache[cardID] = snap
			}
			cards = append(cards, snap)
		}
		score, _ := ScoreLineup(cards, totals)
		scores = append(scores, EntrantScore{EntrantID: entrantID, Score: score})
		cardsByEntrant[entrantID] = lineup.CardIDs
	}

	// The cached leaderboard is only a cache, but if it has an entry it must
	// agree exactly with the recomputation — a mismatch means the two sides
	// would pay different figures, so halt and alert instead of paying.
	if err := s.checkIntegrity(tournamentID, scores); err != nil {
		return nil, err
	}

	// Steps 3-4: proportional split, integer floor, remainder retained.
	allocs, totalScore, distributed := ComputeAllocations(scores, tournament.PrizePool)

	// Step 5: single batch submission to the ledger settlement entry point.
	winners := make([]string, 0, len(allocs))
	amounts := make([]int64, 0, len(allocs))
	for _, a := range allocs {
		winners = append(winners, a.EntrantID)
		amounts = append(amounts, a.Prize)
	}
	outcome, err := s.Ledger.SubmitFinalization(ctx, tournamentID, winners, amounts)
	if err != nil {
		// Nothing is marked locally: the next scheduler tick re-runs the
		// whole finalize and derives the identical allocation.
		return nil, fmt.Errorf("settlement submission failed for tournament %d: %w", tournamentID, err)
	}
	if outcome == models.SubmitAlreadyFinalized {
		// The ledger settled on a previous attempt whose ack was lost.
		// Adopt the result instead of double-paying.
		log.Printf("[SETTLE] ↩️ Tournament %d was already finalized on the ledger, adopting", tournamentID)
	}

	// Step 6: durable local commit. The status guard makes the write
	// idempotent even if two processes raced past the in-memory lock.
	now := time.Now().UTC()
	result := &models.FinalizeResult{
		TournamentID: tournamentID,
		TotalScore:   totalScore,
		PrizePool:    tournament.PrizePool,
		Distributed:  distributed,
		Remainder:    tournament.PrizePool - distributed,
		SettledAt:    now,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tournament{}).
			Where("id = ? AND status <> ?", tournamentID, models.TournamentFinalized).
			Updates(map[string]interface{}{
				"status":       models.TournamentFinalized,
				"finalized_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		for _, a := range allocs {
			row := models.PrizeAllocation{
				ID:           uuid.NewString(),
				TournamentID: tournamentID,
				EntrantID:    a.EntrantID,
				Score:        a.Score,
				PrizeAmount:  a.Prize,
				SettledAt:    now,
			}
			// Written exactly once: a re-run that already wrote rows leaves
			// them untouched.
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "entrant_id"}},
				DoNothing: true,
			}).Create(&row).Error; err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("DB error committing finalization of tournament %d: %w", tournamentID, err)
	}

	// Best-effort collateral release. One stuck unlock must not block the
	// finalized status or anyone else's payout; failures are logged for the
	// next poll.
	for entrantID, cardIDs := range cardsByEntrant {
		if err := s.Ledger.UnlockCards(ctx, cardIDs); err != nil {
			log.Printf("[SETTLE] ⚠️ Failed to unlock cards for entrant %s in tournament %d: %v", entrantID, tournamentID, err)
			result.UnlockFailures = append(result.UnlockFailures, models.ItemResult{
				Kind: "entrant", Key: entrantID, Status: models.ItemRetryable, Reason: err.Error(),
			})
		}
	}

	if s.ArchiveReport {
		if payload, err := json.Marshal(result); err == nil {
			key := fmt.Sprintf("settlements/%d/%s.json", tournamentID, now.Format("20060102T150405Z"))
			if err := utils.ArchiveJSON(ctx, key, payload); err != nil {
				log.Printf("[SETTLE] ⚠️ Failed to archive finalize report for tournament %d: %v", tournamentID, err)
			}
		}
	}

	log.Printf("[SETTLE] ✅ Tournament %d finalized: totalScore=%d distributed=%d remainder=%d over %d entrant(s)",
		tournamentID, totalScore, distributed, result.Remainder, len(allocs))
	return result, nil
}

// startupWindowTotals sums every daily base-points row per startup for the
// tournament — the whole-window totals the authoritative score derives from.
func (s *SettlementService) startupWindowTotals(tournamentID int64) (map[int64]int64, error) {
	type row struct {
		StartupID int64
		Total     int64
	}
	var rows []row
	err := s.DB.Model(&models.DailyScore{}).
		Select("startup_id, COALESCE(SUM(base_points), 0) AS total").
		Where("tournament_id = ?", tournamentID).
		Group("startup_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int64, len(rows))
	for _, r := range rows {
		totals[r.StartupID] = r.Total
	}
	return totals, nil
}

// checkIntegrity compares recomputed scores against cached leaderboard
// totals. A cached entry that disagrees is fatal for this finalize attempt.
func (s *SettlementService) checkIntegrity(tournamentID int64, scores []EntrantScore) error {
	var entries []models.LeaderboardEntry
	if err := s.DB.Where("tournament_id = ?", tournamentID).Find(&entries).Error; err != nil {
		return fmt.Errorf("DB error loading leaderboard for tournament %d: %w", tournamentID, err)
	}
	cached := make(map[string]int64, len(entries))
	for _, e := range entries {
		cached[e.EntrantID] = e.TotalScore
	}
	for _, sc := range scores {
		if total, ok := cached[sc.EntrantID]; ok && total != sc.Score {
			return fmt.Errorf(
				"tournament %d entrant %s: cached total %d != recomputed %d: %w",
				tournamentID, sc.EntrantID, total, sc.Score, ErrIntegrity,
			)
		}
	}
	return nil
}
