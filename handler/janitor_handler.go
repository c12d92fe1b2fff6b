package handler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/store"
)

// JanitorHandler schedules the daily sweep of processed-commit claims
// whose review results have expired. Results carry a TTL but set
// members cannot, so threads that never close would leak their
// members without this job.
type JanitorHandler struct {
	Store *store.Store

	scheduler gocron.Scheduler
}

func (jh *JanitorHandler) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	jh.scheduler = s

	_, err = s.NewJob(
		gocron.CronJob("30 3 * * *", false),
		gocron.NewTask(jh.sweep),
	)
	if err != nil {
		return err
	}
	s.Start()
	log.Info("Init Janitor Handler, daily sweep scheduled")
	return nil
}

func (jh *JanitorHandler) Stop() {
	if jh.scheduler != nil {
		if err := jh.scheduler.Shutdown(); err != nil {
			log.Errorf("Failed to shut down janitor scheduler: %v", err)
		}
	}
}

func (jh *JanitorHandler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := jh.Store.SweepOrphanedClaims(ctx)
	if err != nil {
		log.Errorf("Orphaned claim sweep failed: %v", err)
		return
	}
	log.Infof("Orphaned claim sweep removed %d entries", removed)
}
