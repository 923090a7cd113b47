// Package jobqueue implements a small durable job queue: named queues with
// per-queue retry, backoff, and retention policy; bounded-concurrency
// consumers; and graceful drain on shutdown. Jobs survive process restarts
// in a SQL store reached through the Driver interface, and delivery is
// at-least-once, so workers are expected to be idempotent.
package jobqueue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	// FetchPollIntervalDefault is how often producers poll for eligible
	// jobs when not overridden in Config.
	FetchPollIntervalDefault = 250 * time.Millisecond

	// JobTimeoutDefault is the per-attempt timeout applied when neither the
	// client config nor the worker specifies one.
	JobTimeoutDefault = time.Minute

	// MaxAttemptsDefault is used for queues that don't configure a maximum
	// attempt count.
	MaxAttemptsDefault = 3

	// PriorityDefault is the priority assigned to jobs that don't specify
	// one. Priority 1 is the highest and 4 the lowest.
	PriorityDefault = 2

	priorityMin = 1
	priorityMax = 4
)

// cleanupScheduleDefault prunes finalized jobs once a minute.
const cleanupScheduleDefault = "* * * * *"

// QueueConfig is the declarative policy for a single named queue: how many
// jobs may run at once, how failures retry, and how many finalized jobs are
// retained. It's fixed at client construction.
type QueueConfig struct {
	// Backoff is the retry delay policy applied after failed attempts.
	Backoff BackoffPolicy

	// MaxAttempts is the default number of times jobs on this queue are
	// tried before being marked terminally failed. Defaults to
	// MaxAttemptsDefault.
	MaxAttempts int

	// MaxWorkers is the maximum number of jobs from this queue worked
	// concurrently. Must be at least 1.
	MaxWorkers int

	// RetainCompleted is how many of the most recent completed jobs to keep
	// before the cleaner prunes them.
	RetainCompleted int

	// RetainFailed is how many of the most recent terminally failed jobs to
	// keep before the cleaner prunes them.
	RetainFailed int
}

// Config is the configuration for a Client.
type Config struct {
	// CleanupSchedule determines when the retention cleaner runs. Defaults
	// to once a minute.
	CleanupSchedule cron.Schedule

	// FetchPollInterval is the interval at which idle producers poll the
	// store for newly eligible jobs. Defaults to FetchPollIntervalDefault.
	FetchPollInterval time.Duration

	// JobTimeout is the default per-attempt timeout. A worker's Timeout
	// overrides it; -1 disables the timeout. Defaults to JobTimeoutDefault.
	JobTimeout time.Duration

	// Logger is the structured logger used by the client and its services.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Queues is the set of named queues the client works, with their
	// policies. At least one queue is required for a working client.
	Queues map[string]QueueConfig

	// Workers is the registry of job workers, keyed by kind.
	Workers *Workers
}

// EnqueueOpts are optional settings for an individual enqueued job. They
// override defaults provided by the job args' EnqueueOpts, which in turn
// override the queue policy.
type EnqueueOpts struct {
	// Delay postpones the job's eligibility by the given duration from the
	// time of enqueue. Mutually exclusive with ScheduledAt.
	Delay time.Duration

	// MaxAttempts overrides the queue's default attempt limit.
	MaxAttempts int

	// Priority orders jobs eligible at the same instant; 1 is highest, 4
	// lowest. Defaults to PriorityDefault.
	Priority int

	// Queue is the name of the queue to insert the job into. Must be one of
	// the client's configured queues.
	Queue string

	// ScheduledAt sets an absolute earliest execution time.
	ScheduledAt time.Time
}

// QueueStats reports the number of jobs in each state for one queue. Used
// by the diagnostics surface; not meant for business logic.
type QueueStats struct {
	Name string `json:"name"`
	QueueCounts
}

// Client is both the enqueue and the consume side of the job queue in a
// single process. Enqueue is durable before it returns and doesn't depend
// on any consumer running; Start brings up one producer per configured
// queue plus the retention cleaner; Stop drains them all.
//
// Multiple processes may point clients at the same store: the claim
// protocol guarantees a job is only ever worked by one of them at a time.
type Client struct {
	config     *Config
	driver     Driver
	events     *subscriptionManager
	jobCleaner *jobCleaner
	logger     *slog.Logger
	producers  map[string]*producer

	mu      sync.Mutex
	started bool
}

// NewClient creates a new Client with the given durable store driver and
// config. The client is inert until Start is called; Enqueue works either
// way.
func NewClient(driver Driver, config *Config) (*Client, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Queues) < 1 {
		return nil, errors.New("at least one queue must be configured")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schedule := config.CleanupSchedule
	if schedule == nil {
		var err error
		if schedule, err = cron.ParseStandard(cleanupScheduleDefault); err != nil {
			return nil, fmt.Errorf("parsing default cleanup schedule: %w", err)
		}
	}

	workers := config.Workers
	if workers == nil {
		workers = NewWorkers()
	}

	queues := make(map[string]QueueConfig, len(config.Queues))
	for queue, queueConfig := range config.Queues {
		if queue == "" {
			return nil, errors.New("queue name must be non-empty")
		}
		if queueConfig.MaxWorkers < 1 {
			return nil, fmt.Errorf("queue %q: MaxWorkers must be at least 1", queue)
		}
		switch queueConfig.Backoff.Kind {
		case BackoffExponential, BackoffFixed:
		default:
			return nil, fmt.Errorf("queue %q: unknown backoff kind %q", queue, queueConfig.Backoff.Kind)
		}
		if queueConfig.Backoff.BaseDelay <= 0 {
			return nil, fmt.Errorf("queue %q: backoff base delay must be positive", queue)
		}
		queueConfig.MaxAttempts = cmp.Or(queueConfig.MaxAttempts, MaxAttemptsDefault)
		queues[queue] = queueConfig
	}

	resolvedConfig := &Config{
		CleanupSchedule:   schedule,
		FetchPollInterval: cmp.Or(config.FetchPollInterval, FetchPollIntervalDefault),
		JobTimeout:        cmp.Or(config.JobTimeout, JobTimeoutDefault),
		Logger:            logger,
		Queues:            queues,
		Workers:           workers,
	}

	client := &Client{
		config: resolvedConfig,
		driver: driver,
		events: newSubscriptionManager(),
		logger: logger,
	}

	client.producers = make(map[string]*producer, len(queues))
	for queue, queueConfig := range queues {
		client.producers[queue] = newProducer(&producerConfig{
			ClientJobTimeout:  resolvedConfig.JobTimeout,
			FetchPollInterval: resolvedConfig.FetchPollInterval,
			MaxWorkers:        queueConfig.MaxWorkers,
			Queue:             queue,
			QueueConfig:       queueConfig,
		}, driver, workers, client.events, logger)
	}

	client.jobCleaner = newJobCleaner(&jobCleanerConfig{
		Queues:   queues,
		Schedule: schedule,
	}, driver, logger)

	return client, nil
}

// Start starts the client's producers and maintenance services. Starting an
// already started client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	for _, prod := range c.producers {
		if err := prod.Start(ctx); err != nil {
			return err
		}
	}
	if err := c.jobCleaner.Start(ctx); err != nil {
		return err
	}

	c.started = true
	c.logger.InfoContext(ctx, "jobqueue: client started", slog.Int("num_queues", len(c.producers)))
	return nil
}

// Stop performs a graceful drain: producers stop claiming new jobs, every
// in-flight job runs to completion, and then maintenance services shut
// down. Stop is idempotent. The context bounds only how long this call
// waits; the drain itself keeps going in the background if the context
// expires first.
func (c *Client) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})

	go func() {
		defer close(stopDone)

		var wg errgroup.Group
		for _, prod := range c.producers {
			wg.Go(func() error {
				prod.Stop()
				return nil
			})
		}
		_ = wg.Wait()

		c.jobCleaner.Stop()
		c.events.stop()

		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
	}()

	select {
	case <-stopDone:
		c.logger.Info("jobqueue: client stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue durably inserts a new job and returns its stored row. The job is
// eligible for work once its delay (if any) elapses, whether or not this
// process has started its producers. An error means the job was not
// persisted; callers choose whether that's fatal.
func (c *Client) Enqueue(ctx context.Context, args JobArgs, opts *EnqueueOpts) (*JobRow, error) {
	params, err := c.insertParams(args, opts, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	jobRow, err := c.driver.JobInsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("inserting job kind %q: %w", params.Kind, err)
	}

	c.logger.DebugContext(ctx, "jobqueue: job enqueued",
		slog.Int64("job_id", jobRow.ID),
		slog.String("kind", jobRow.Kind),
		slog.String("queue", jobRow.Queue),
		slog.Time("scheduled_at", jobRow.ScheduledAt),
	)
	return jobRow, nil
}

func (c *Client) insertParams(args JobArgs, opts *EnqueueOpts, now time.Time) (*JobInsertParams, error) {
	if args == nil {
		return nil, errors.New("args are required")
	}
	if opts == nil {
		opts = &EnqueueOpts{}
	}

	var argsOpts EnqueueOpts
	if argsWithOpts, ok := args.(JobArgsWithEnqueueOpts); ok {
		argsOpts = argsWithOpts.EnqueueOpts()
	}

	queue := cmp.Or(opts.Queue, argsOpts.Queue)
	queueConfig, ok := c.config.Queues[queue]
	if !ok {
		return nil, fmt.Errorf("queue %q is not configured", queue)
	}

	priority := cmp.Or(opts.Priority, argsOpts.Priority, PriorityDefault)
	if priority < priorityMin || priority > priorityMax {
		return nil, fmt.Errorf("priority must be between %d and %d", priorityMin, priorityMax)
	}

	delay := cmp.Or(opts.Delay, argsOpts.Delay)
	if delay < 0 {
		return nil, errors.New("delay must not be negative")
	}

	scheduledAt := now.Add(delay)
	switch {
	case !opts.ScheduledAt.IsZero():
		scheduledAt = opts.ScheduledAt.UTC()
	case !argsOpts.ScheduledAt.IsZero():
		scheduledAt = argsOpts.ScheduledAt.UTC()
	}

	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling args for job kind %q: %w", args.Kind(), err)
	}

	return &JobInsertParams{
		EncodedArgs: encodedArgs,
		Kind:        args.Kind(),
		MaxAttempts: cmp.Or(opts.MaxAttempts, argsOpts.MaxAttempts, queueConfig.MaxAttempts),
		Priority:    priority,
		Queue:       queue,
		ScheduledAt: scheduledAt,
	}, nil
}

// Subscribe opens a channel of queue events of the requested kinds. The
// returned cancel function closes the channel and releases the
// subscription; it's also closed when the client stops. Events are dropped
// rather than delivered to a full channel.
func (c *Client) Subscribe(kinds ...EventKind) (<-chan *Event, func()) {
	for _, kind := range kinds {
		if _, ok := allEventKinds[kind]; !ok {
			panic(fmt.Errorf("unknown event kind: %s", kind))
		}
	}
	return c.events.subscribe(kinds...)
}

// QueueStats returns per-queue counts of jobs in each state, sorted by
// queue name.
func (c *Client) QueueStats(ctx context.Context) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(c.config.Queues))
	for queue := range c.config.Queues {
		counts, err := c.driver.JobCountsByState(ctx, queue)
		if err != nil {
			return nil, fmt.Errorf("counting jobs for queue %q: %w", queue, err)
		}
		stats = append(stats, QueueStats{Name: queue, QueueCounts: *counts})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, nil
}
