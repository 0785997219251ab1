package workers

import (
	"context"
	"log"
	"time"

	"startup-fantasy-core/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StartupSyncWorker mirrors the signal service's startup directory into the
// local startup_mirrors table so standings pages can render names and slugs
// without a per-request call.
type StartupSyncWorker struct {
	db       *gorm.DB
	signals  *SignalClient
	interval time.Duration
}

func NewStartupSyncWorker(db *gorm.DB, signals *SignalClient) *StartupSyncWorker {
	return &StartupSyncWorker{
		db:       db,
		signals:  signals,
		interval: 10 * time.Minute,
	}
}

func (w *StartupSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Startup Sync Worker (signal-service → startup_mirrors)…")
	go w.run(ctx)
}

func (w *StartupSyncWorker) run(ctx context.Context) {
	if err := w.syncOnce(ctx); err != nil {
		log.Printf("⚠️ Initial startup sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncOnce(ctx); err != nil {
				log.Printf("❌ Startup sync failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Startup Sync Worker stopped")
			return
		}
	}
}

func (w *StartupSyncWorker) syncOnce(ctx context.Context) error {
	startups, err := w.signals.ListStartups(ctx)
	if err != nil {
		return err
	}
	if len(startups) == 0 {
		return nil
	}

	var upsertCount, errorCount int
	for _, startup := range startups {
		row := models.StartupMirror{
			StartupID: startup.StartupID,
			Name:      startup.Name,
			Slug:      slug.Make(startup.Name),
			Handle:    startup.Handle,
		}
		if err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "startup_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "slug", "handle", "updated_at"}),
		}).Create(&row).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] ⚠️ Failed to upsert startup_mirror (startup_id=%d, name=%q): %v",
				startup.StartupID, startup.Name, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[SYNC] ✅ Synced %d startup(s) (%d upserted, %d errors)", len(startups), upsertCount, errorCount)
	return nil
}
