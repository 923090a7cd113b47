package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dashngshop/dash-jobs/internal/startstop"
)

type jobCleanerConfig struct {
	Queues   map[string]QueueConfig
	Schedule cron.Schedule
}

// jobCleaner periodically prunes finalized jobs beyond each queue's
// retention counts, keeping only the most recent completions and terminal
// failures.
type jobCleaner struct {
	startstop.BaseStartStop

	config *jobCleanerConfig
	driver Driver
	logger *slog.Logger
}

func newJobCleaner(config *jobCleanerConfig, driver Driver, logger *slog.Logger) *jobCleaner {
	return &jobCleaner{
		config: config,
		driver: driver,
		logger: logger,
	}
}

func (c *jobCleaner) Start(ctx context.Context) error {
	ctx, shouldStart, stopped := c.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	go func() {
		defer stopped()

		c.logger.DebugContext(ctx, "jobCleaner: run loop started")
		defer c.logger.DebugContext(ctx, "jobCleaner: run loop stopped")

		timer := time.NewTimer(time.Until(c.config.Schedule.Next(time.Now())))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			c.runOnce(ctx)
			timer.Reset(time.Until(c.config.Schedule.Next(time.Now())))
		}
	}()

	return nil
}

func (c *jobCleaner) runOnce(ctx context.Context) {
	for queue, queueConfig := range c.config.Queues {
		for state, keep := range map[JobState]int{
			JobStateCompleted: queueConfig.RetainCompleted,
			JobStateFailed:    queueConfig.RetainFailed,
		} {
			numDeleted, err := c.driver.JobPrune(ctx, queue, state, keep)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.ErrorContext(ctx, "jobCleaner: error pruning jobs",
						slog.String("queue", queue), slog.String("state", string(state)),
						slog.String("error", err.Error()))
				}
				continue
			}

			if numDeleted > 0 {
				c.logger.InfoContext(ctx, "jobCleaner: pruned finalized jobs",
					slog.String("queue", queue), slog.String("state", string(state)),
					slog.Int("num_deleted", numDeleted))
			}
		}
	}
}
