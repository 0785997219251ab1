// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"startup-fantasy-core/models"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler drives the two batch entry points: the daily scoring pass and
// the hourly settlement poll. Per-tournament failures are isolated — a bad
// tournament is logged and the loop moves on.
type Scheduler struct {
	Scoring    *ScoringService
	Settlement *SettlementService

	ScoringHourUTC int           // daily scoring runs at this UTC hour
	PollInterval   time.Duration // settlement poll cadence
}

func NewScheduler(scoring *ScoringService, settlement *SettlementService) *Scheduler {
	return &Scheduler{
		Scoring:        scoring,
		Settlement:     settlement,
		ScoringHourUTC: 2,
		PollInterval:   1 * time.Hour,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	sched, _ := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	sched.Start()

	// Once a day: score yesterday for every running tournament. Yesterday,
	// because the ingestor's daily figures are only complete after midnight.
	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(s.ScoringHourUTC), 0, 0))),
		gocron.NewTask(func() {
			s.RunScoringPass(ctx, models.Day(time.Now().UTC().AddDate(0, 0, -1)))
		}),
	)

	// Hourly: settle every tournament whose window has closed.
	_, _ = sched.NewJob(
		gocron.DurationJob(s.PollInterval),
		gocron.NewTask(func() {
			s.RunSettlementPass(ctx)
		}),
	)

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
}

// RunScoringPass scores the given date for every tournament that is running
// and whose window covers it.
func (s *Scheduler) RunScoringPass(ctx context.Context, date string) {
	var tournaments []models.Tournament
	err := s.Scoring.DB.
		Where("status NOT IN ?", []models.TournamentStatus{models.TournamentFinalized, models.TournamentCancelled}).
		Where("start_time <= ?", time.Now()).
		Find(&tournaments).Error
	if err != nil {
		log.Printf("[Scheduler] DB error listing tournaments for scoring: %v", err)
		return
	}
	for _, t := range tournaments {
		if date < models.Day(t.StartTime) || date > models.Day(t.EndTime) {
			continue
		}
		report, err := s.Scoring.RunDailyScoring(ctx, t.ID, date)
		if err != nil {
			log.Printf("[Scheduler] ❌ Scoring failed for tournament %d date %s: %v", t.ID, date, err)
			continue
		}
		if gaps := report.Retryables(); len(gaps) > 0 {
			log.Printf("[Scheduler] ⚠️ Tournament %d date %s left %d gap(s) for re-run", t.ID, date, len(gaps))
		}
	}
}

// RunSettlementPass finalizes every tournament past its end time.
func (s *Scheduler) RunSettlementPass(ctx context.Context) {
	var tournaments []models.Tournament
	err := s.Settlement.DB.
		Where("status NOT IN ?", []models.TournamentStatus{models.TournamentFinalized, models.TournamentCancelled}).
		Where("end_time <= ?", time.Now()).
		Find(&tournaments).Error
	if err != nil {
		log.Printf("[Scheduler] DB error listing tournaments for settlement: %v", err)
		return
	}
	for _, t := range tournaments {
		if _, err := s.Settlement.Finalize(ctx, t.ID); err != nil {
			log.Printf("[Scheduler] ❌ Finalize failed for tournament %d: %v", t.ID, err)
		}
	}
}
