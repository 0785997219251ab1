package workers

import (
	"context"
	"log"
	"time"

	"startup-fantasy-core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PollTournaments keeps the local tournament mirror fresh against the
// ledger. The mirror powers listings and scheduler queries; collateral and
// funds are always re-read from the ledger at scoring/settlement time.
func PollTournaments(ctx context.Context, client *LedgerClient, db *gorm.DB, pollInterval time.Duration) {
	log.Println("Starting tournament polling (ledger → tournament mirror)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Tournament polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()

			tournaments, err := client.ListTournaments(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling tournaments: %v", err)
				continue
			}
			if len(tournaments) == 0 {
				continue
			}

			var failed int
			for _, t := range tournaments {
				if err := upsertTournamentMirror(db, t); err != nil {
					failed++
					log.Printf("❌ Failed to upsert tournament %d into mirror: %v", t.ID, err)
				}
			}
			if failed > 0 {
				// Retry the same window next tick rather than skipping rows.
				continue
			}

			lastSyncTime = logTime
			log.Printf("✅ Upserted %d tournament(s) into mirror.", len(tournaments))
		}
	}
}

// upsertTournamentMirror writes one ledger tournament into the mirror. The
// status column is updated only while the local row is not terminal: a
// finalized or cancelled mirror is immutable, so a lagging ledger read can
// never roll the lifecycle backwards.
func upsertTournamentMirror(db *gorm.DB, t models.LedgerTournament) error {
	row := models.Tournament{
		ID:                t.ID,
		RegistrationStart: t.RegistrationStart,
		StartTime:         t.StartTime,
		EndTime:           t.EndTime,
		PrizePool:         t.PrizePool,
		EntryCount:        t.EntryCount,
		Status:            t.Status,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"registration_start": t.RegistrationStart,
			"start_time":         t.StartTime,
			"end_time":           t.EndTime,
			"prize_pool":         t.PrizePool,
			"entry_count":        t.EntryCount,
		}),
	}).Create(&row).Error; err != nil {
		return err
	}
	return db.Model(&models.Tournament{}).
		Where("id = ? AND status NOT IN ?", t.ID,
			[]models.TournamentStatus{models.TournamentFinalized, models.TournamentCancelled}).
		Update("status", t.Status).Error
}
