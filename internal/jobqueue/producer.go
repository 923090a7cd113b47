package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dashngshop/dash-jobs/internal/startstop"
)

type producerConfig struct {
	ClientJobTimeout  time.Duration
	FetchPollInterval time.Duration
	MaxWorkers        int
	Queue             string
	QueueConfig       QueueConfig
}

// producer is the consumer side of a single queue. It continuously claims
// eligible jobs from the store whenever it has a free concurrency slot and
// runs each through an executor on its own goroutine.
//
// Stop drains: no new jobs are claimed, but claimed jobs run to completion
// before Stop returns. An in-flight job's work context is deliberately
// detached from the producer's context so that cancellation never abandons
// it mid-execution.
type producer struct {
	startstop.BaseStartStop

	config  *producerConfig
	driver  Driver
	events  *subscriptionManager
	logger  *slog.Logger
	workers *Workers
}

func newProducer(config *producerConfig, driver Driver, workers *Workers, events *subscriptionManager, logger *slog.Logger) *producer {
	return &producer{
		config:  config,
		driver:  driver,
		events:  events,
		logger:  logger,
		workers: workers,
	}
}

func (p *producer) Start(ctx context.Context) error {
	ctx, shouldStart, stopped := p.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	go p.run(ctx, stopped)
	return nil
}

func (p *producer) run(ctx context.Context, stopped func()) {
	defer stopped()

	p.logger.InfoContext(ctx, "producer: run loop started",
		slog.String("queue", p.config.Queue), slog.Int("max_workers", p.config.MaxWorkers))
	defer p.logger.InfoContext(ctx, "producer: run loop stopped", slog.String("queue", p.config.Queue))

	// workSem bounds the number of jobs in flight; inFlight lets the drain
	// wait for them all.
	workSem := make(chan struct{}, p.config.MaxWorkers)
	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	ticker := time.NewTicker(p.config.FetchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case workSem <- struct{}{}:
		}

		jobRow, err := p.driver.JobClaim(ctx, p.config.Queue, time.Now().UTC())
		if err != nil || jobRow == nil {
			<-workSem

			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.ErrorContext(ctx, "producer: error claiming job",
					slog.String("queue", p.config.Queue), slog.String("error", err.Error()))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		inFlight.Add(1)
		go func() {
			defer inFlight.Done()
			defer func() { <-workSem }()

			executor := &jobExecutor{
				backoff:          p.config.QueueConfig.Backoff,
				clientJobTimeout: p.config.ClientJobTimeout,
				driver:           p.driver,
				events:           p.events,
				jobRow:           jobRow,
				logger:           p.logger,
				workUnit:         p.makeWorkUnit(jobRow),
			}

			// Detach from the run loop's context: a drain must not cancel
			// work that's already been claimed.
			executor.execute(context.WithoutCancel(ctx))
		}()
	}
}

func (p *producer) makeWorkUnit(jobRow *JobRow) workUnit {
	factory := p.workers.factoryFor(jobRow.Kind)
	if factory == nil {
		return nil
	}
	return factory.MakeUnit(jobRow)
}
