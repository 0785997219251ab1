// services/scoring_service.go
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

// ScoringService converts daily signal-ingestor output into per-entrant
// scores and keeps the leaderboard cache in sync with the score history log.
type ScoringService struct {
	DB      *gorm.DB
	Ledger  CollateralLedger
	Signals SignalSource
	Locks   *TournamentLocks

	RetryAttempts int
	RetryDelay    time.Duration
}

func NewScoringService(db *gorm.DB, ledger CollateralLedger, signals SignalSource, locks *TournamentLocks) *ScoringService {
	return &ScoringService{
		DB:            db,
		Ledger:        ledger,
		Signals:       signals,
		Locks:         locks,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
	}
}

// entrantLineup is one participant's ledger lineup resolved to card snapshots.
type entrantLineup struct {
	entrantID string
	cards     []models.CardSnapshot
}

// RunDailyScoring scores one tournament for one calendar date. Re-running
// with unchanged inputs is a no-op in effect: every write is an upsert on
// the row's natural key and the leaderboard total is recomputed from the
// score history log, never incremented.
func (s *ScoringService) RunDailyScoring(ctx context.Context, tournamentID int64, date string) (*models.ScoringReport, error) {
	if _, err := time.Parse(models.DayFormat, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	unlock := s.Locks.Lock(tournamentID)
	defer unlock()

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", tournamentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("tournament %d: %w", tournamentID, ErrNotFound)
		}
		return nil, fmt.Errorf("DB error fetching tournament %d: %w", tournamentID, err)
	}
	if tournament.Status == models.TournamentFinalized || tournament.Status == models.TournamentCancelled {
		return nil, fmt.Errorf("tournament %d is %s: %w", tournamentID, tournament.Status, ErrInvalidState)
	}
	if date < models.Day(tournament.StartTime) || date > models.Day(tournament.EndTime) {
		return nil, fmt.Errorf("date %s outside tournament %d window: %w", date, tournamentID, ErrInvalidState)
	}

	report := &models.ScoringReport{TournamentID: tournamentID, Date: date, RanAt: time.Now().UTC()}

	// Participants come from the ledger, not the local mirror: the off-chain
	// store may lag entries registered straight on-chain.
	var participants []string
	err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
		var err error
		participants, err = s.Ledger.GetParticipants(ctx, tournamentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger unreachable for tournament %d participants: %w", tournamentID, err)
	}

	log.Printf("[SCORING] 🏁 Tournament %d date %s: scoring %d participant(s)", tournamentID, date, len(participants))

	cardCache := make(map[int64]models.CardSnapshot)
	lineups := make([]entrantLineup, 0, len(participants))
	for _, entrantID := range participants {
		lineup, err := s.loadLineup(ctx, tournamentID, entrantID, cardCache)
		if err != nil {
			log.Printf("[SCORING] ⚠️ Skipping entrant %s for %s: %v", entrantID, date, err)
			report.Add("entrant", entrantID, models.ItemRetryable, err.Error())
			continue
		}
		if lineup == nil { // cancelled lineups never score
			continue
		}
		lineups = append(lineups, *lineup)
	}

	// One signal fetch per distinct startup, not per card: a tournament has
	// far fewer startups than entrants × 5.
	points := make(map[int64]int64)
	gaps := make(map[int64]string)
	for _, startupID := range distinctStartups(lineups) {
		var daily *models.DailyPoints
		err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
			var err error
			daily, err = s.Signals.FetchDailyPoints(ctx, startupID, date)
			return err
		})
		if err != nil {
			// A failed fetch is a gap, never a silent zero. Entrants holding
			// this startup are deferred to a re-run.
			reason := fmt.Sprintf("signal fetch failed for startup %d: %v", startupID, err)
			log.Printf("[SCORING] ❌ %s", reason)
			gaps[startupID] = reason
			report.Add("startup", fmt.Sprintf("%d", startupID), models.ItemRetryable, reason)
			continue
		}
		points[startupID] = daily.BasePoints
		if err := s.upsertDailyScore(tournamentID, startupID, date, daily); err != nil {
			return nil, fmt.Errorf("DB error writing daily score for startup %d: %w", startupID, err)
		}
	}

	for _, lu := range lineups {
		if reason, gapped := lineupGap(lu, gaps); gapped {
			report.Add("entrant", lu.entrantID, models.ItemRetryable, reason)
			continue
		}
		if err := s.scoreEntrant(tournamentID, date, lu, points); err != nil {
			return nil, fmt.Errorf("DB error scoring entrant %s: %w", lu.entrantID, err)
		}
		report.Add("entrant", lu.entrantID, models.ItemOK, "")
	}

	if err := s.rerank(tournamentID); err != nil {
		return nil, fmt.Errorf("DB error re-ranking tournament %d: %w", tournamentID, err)
	}

	log.Printf("[SCORING] ✅ Tournament %d date %s: %d scored, %d skipped", tournamentID, date, report.Scored, report.Skipped)
	return report, nil
}

// loadLineup reads an entrant's ledger lineup and resolves the five card
// snapshots. Returns (nil, nil) for cancelled lineups.
func (s *ScoringService) loadLineup(ctx context.Context, tournamentID int64, entrantID string, cache map[int64]models.CardSnapshot) (*entrantLineup, error) {
	var lineup *models.LedgerLineup
	err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
		var err error
		lineup, err = s.Ledger.GetLineup(ctx, tournamentID, entrantID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lineup fetch failed: %w", err)
	}
	if lineup.Cancelled {
		return nil, nil
	}
	if len(lineup.CardIDs) != models.LineupSize {
		return nil, fmt.Errorf("lineup has %d cards, want %d", len(lineup.CardIDs), models.LineupSize)
	}

	cards := make([]models.CardSnapshot, 0, models.LineupSize)
	for _, cardID := range lineup.CardIDs {
		snap, ok := cache[cardID]
		if !ok {
			var fetched *models.CardSnapshot
			err := utils.Retry(ctx, s.RetryAttempts, s.RetryDelay, func() error {
				var err error
				fetched, err = s.Ledger.GetCardInfo(ctx, cardID)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("card %d fetch failed: %w", cardID, err)
			}
			snap = *fetched
			cache[cardID] = snap
		}
		cards = append(cards, snap)
	}
	return &entrantLineup{entrantID: entrantID, cards: cards}, nil
}

func (s *ScoringService) upsertDailyScore(tournamentID, startupID int64, date string, daily *models.DailyPoints) error {
	row := models.DailyScore{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		StartupID:    startupID,
		Date:         date,
		BasePoints:   daily.BasePoints,
		Events:       []byte(daily.Events),
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "startup_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_points", "events", "updated_at"}),
	}).Create(&row).Error
}

// scoreEntrant writes the entrant's score-history row for the date, then
// rebuilds their leaderboard total from the log. History is written first so
// the cached total never references a day that is not yet durable.
func (s *ScoringService) scoreEntrant(tournamentID int64, date string, lu entrantLineup, points map[int64]int64) error {
	total, breakdown := ScoreLineup(lu.cards, points)
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	history := models.ScoreHistory{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		EntrantID:    lu.entrantID,
		Date:         date,
		PointsEarned: total,
		Breakdown:    breakdownJSON,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "entrant_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"points_earned", "breakdown", "updated_at"}),
	}).Create(&history).Error; err != nil {
		return err
	}

	var sum int64
	if err := s.DB.Model(&models.ScoreHistory{}).
		Where("tournament_id = ? AND entrant_id = ?", tournamentID, lu.entrantID).
		Select("COALESCE(SUM(points_earned), 0)").
		Scan(&sum).Error; err != nil {
		return err
	}

	entry := models.LeaderboardEntry{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		EntrantID:    lu.entrantID,
		TotalScore:   sum,
		LastUpdated:  time.Now().UTC(),
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}, {Name: "entrant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_score", "last_updated", "updated_at"}),
	}).Create(&entry).Error
}

// rerank rewrites every rank for the tournament. Ranks are 1-based and
// strictly sequential: ties on total score break by earliest lineup
// registration, then entrant id, so the order is a total order.
func (s *ScoringService) rerank(tournamentID int64) error {
	entries, err := RankedEntries(s.DB, tournamentID)
	if err != nil {
		return err
	}
	for i, e := range entries {
		rank := i + 1
		if e.Rank == rank {
			continue
		}
		if err := s.DB.Model(&models.LeaderboardEntry{}).
			Where("id = ?", e.ID).
			Update("rank", rank).Error; err != nil {
			return err
		}
	}
	return nil
}

// RankedEntries returns the tournament's leaderboard entries in final rank
// order. Shared with the read path so live standings and the stored ranks
// can never disagree on ordering.
func RankedEntries(db *gorm.DB, tournamentID int64) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := db.
		Joins("LEFT JOIN lineups ON lineups.tournament_id = leaderboard_entries.tournament_id AND lineups.entrant_id = leaderboard_entries.entrant_id").
		Where("leaderboard_entries.tournament_id = ?", tournamentID).
		Order("leaderboard_entries.total_score DESC, lineups.registered_at ASC, leaderboard_entries.entrant_id ASC").
		Find(&entries).Error
	return entries, err
}

func distinctStartups(lineups []entrantLineup) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, lu := range lineups {
		for _, card := range lu.cards {
			if !seen[card.StartupID] {
				seen[card.StartupID] = true
				out = append(out, card.StartupID)
			}
		}
	}
	return out
}

func lineupGap(lu entrantLineup, gaps map[int64]string) (string, bool) {
	for _, card := range lu.cards {
		if reason, ok := gaps[card.StartupID]; ok {
			return reason, true
		}
	}
	return "", false
}
