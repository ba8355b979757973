package worker

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"gdz-ai-bot/internal/ledger"
)

// Scheduler wakes every minute and lets the daily reset decide whether its
// boundary has passed. The one-minute interval only bounds how late after
// midnight the pass can start.
type Scheduler struct {
	Reset *ledger.DailyReset
}

func NewScheduler(reset *ledger.DailyReset) *Scheduler {
	return &Scheduler{Reset: reset}
}

func (s *Scheduler) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if err := s.Reset.RunIfDue(ctx, time.Now()); err != nil {
				log.Printf("[Scheduler] Daily reset error: %v", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Println("Background daily reset worker started")
	return sched, nil
}
