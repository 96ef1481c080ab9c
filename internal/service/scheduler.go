package service

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// NewScheduler returns a UTC scheduler driven by clock, so that clean-up jobs
// follow the same clock as the rest of the engine.
func NewScheduler(clock clockwork.Clock) gocron.Scheduler {
	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		log.Fatal(err)
	}
	return scheduler
}
