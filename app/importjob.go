package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/config"
	"github.com/delve-search/delve/app/dump"
)

// Check for new registry dumps on an interval. Singleton mode keeps a slow
// import from overlapping with the next scheduled one.
func startImportJob(pipeline *dump.Pipeline, config *config.Config) {

	scheduler, err := gocron.NewScheduler()

	if err != nil {
		panic(fmt.Sprintf("Failed to create gocron scheduler: %v", err))
	}

	{
		_, err := scheduler.NewJob(
			gocron.DurationJob(time.Duration(config.Dump.IntervalMinutes)*time.Minute),
			gocron.NewTask(func() {
				ctx := slogctx.Append(context.Background(), "job", "import")
				if err := pipeline.RunCycle(ctx); err != nil {
					slogctx.Error(ctx, "Import cycle failed", "error", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)

		if err != nil {
			panic(fmt.Sprintf("Failed to create gocron job: %v\n", err))
		}
	}

	scheduler.Start()
}
