package jobqueue_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
	"github.com/dashngshop/dash-jobs/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testQueue = "default"

type callbackArgs struct {
	Name string `json:"name"`
}

func (callbackArgs) Kind() string { return "callback" }

// optedArgs carries its own enqueue defaults.
type optedArgs struct{}

func (optedArgs) Kind() string { return "opted" }

func (optedArgs) EnqueueOpts() jobqueue.EnqueueOpts {
	return jobqueue.EnqueueOpts{
		Queue:    testQueue,
		Priority: 1,
		Delay:    time.Minute,
	}
}

type unregisteredArgs struct{}

func (unregisteredArgs) Kind() string { return "mystery" }

func testQueues() map[string]jobqueue.QueueConfig {
	return map[string]jobqueue.QueueConfig{
		testQueue: {
			Backoff:         jobqueue.BackoffPolicy{Kind: jobqueue.BackoffExponential, BaseDelay: 10 * time.Millisecond},
			MaxAttempts:     3,
			MaxWorkers:      2,
			RetainCompleted: 100,
			RetainFailed:    100,
		},
	}
}

// setupClient opens a store in a temp dir and builds a client around it,
// filling in fast test defaults for anything config leaves unset.
func setupClient(t *testing.T, config *jobqueue.Config) (*jobqueue.Client, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "jobqueue-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.FetchPollInterval == 0 {
		config.FetchPollInterval = 10 * time.Millisecond
	}
	if config.Queues == nil {
		config.Queues = testQueues()
	}

	client, err := jobqueue.NewClient(st, config)
	require.NoError(t, err)
	return client, st
}

func startClient(t *testing.T, client *jobqueue.Client) {
	t.Helper()

	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, client.Stop(context.Background())) })
}

func waitForEvent(t *testing.T, eventCh <-chan *jobqueue.Event) *jobqueue.Event {
	t.Helper()

	select {
	case event := <-eventCh:
		require.NotNil(t, event)
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job event")
		return nil
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	newStore := func(t *testing.T) *store.Store {
		t.Helper()

		st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "jobqueue-test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, st.Close()) })
		return st
	}

	t.Run("NilDriver", func(t *testing.T) {
		t.Parallel()

		_, err := jobqueue.NewClient(nil, &jobqueue.Config{Queues: testQueues()})
		require.EqualError(t, err, "driver is required")
	})

	t.Run("NilConfig", func(t *testing.T) {
		t.Parallel()

		_, err := jobqueue.NewClient(newStore(t), nil)
		require.EqualError(t, err, "config is required")
	})

	t.Run("NoQueues", func(t *testing.T) {
		t.Parallel()

		_, err := jobqueue.NewClient(newStore(t), &jobqueue.Config{})
		require.EqualError(t, err, "at least one queue must be configured")
	})

	t.Run("ZeroMaxWorkers", func(t *testing.T) {
		t.Parallel()

		queues := testQueues()
		queueConfig := queues[testQueue]
		queueConfig.MaxWorkers = 0
		queues[testQueue] = queueConfig

		_, err := jobqueue.NewClient(newStore(t), &jobqueue.Config{Queues: queues})
		require.ErrorContains(t, err, "MaxWorkers must be at least 1")
	})

	t.Run("UnknownBackoffKind", func(t *testing.T) {
		t.Parallel()

		queues := testQueues()
		queueConfig := queues[testQueue]
		queueConfig.Backoff.Kind = "quadratic"
		queues[testQueue] = queueConfig

		_, err := jobqueue.NewClient(newStore(t), &jobqueue.Config{Queues: queues})
		require.ErrorContains(t, err, `unknown backoff kind "quadratic"`)
	})

	t.Run("NonPositiveBaseDelay", func(t *testing.T) {
		t.Parallel()

		queues := testQueues()
		queueConfig := queues[testQueue]
		queueConfig.Backoff.BaseDelay = 0
		queues[testQueue] = queueConfig

		_, err := jobqueue.NewClient(newStore(t), &jobqueue.Config{Queues: queues})
		require.ErrorContains(t, err, "backoff base delay must be positive")
	})
}

func TestClientEnqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("QueueDefaults", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		beforeEnqueue := time.Now().UTC()
		jobRow, err := client.Enqueue(ctx, callbackArgs{Name: "a"}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)

		require.Equal(t, jobqueue.JobStateWaiting, jobRow.State)
		require.Equal(t, "callback", jobRow.Kind)
		require.Equal(t, testQueue, jobRow.Queue)
		require.Equal(t, jobqueue.PriorityDefault, jobRow.Priority)
		require.Equal(t, 3, jobRow.MaxAttempts)
		require.Equal(t, 0, jobRow.Attempt)
		require.JSONEq(t, `{"name":"a"}`, string(jobRow.EncodedArgs))
		require.WithinDuration(t, beforeEnqueue, jobRow.ScheduledAt, 2*time.Second)
	})

	t.Run("Delay", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		beforeEnqueue := time.Now().UTC()
		jobRow, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, Delay: time.Minute})
		require.NoError(t, err)
		require.WithinDuration(t, beforeEnqueue.Add(time.Minute), jobRow.ScheduledAt, 2*time.Second)
	})

	t.Run("ScheduledAt", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		scheduledAt := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Millisecond)
		jobRow, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, ScheduledAt: scheduledAt})
		require.NoError(t, err)
		require.WithinDuration(t, scheduledAt, jobRow.ScheduledAt, time.Millisecond)
	})

	t.Run("ArgsEnqueueOpts", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		beforeEnqueue := time.Now().UTC()
		jobRow, err := client.Enqueue(ctx, optedArgs{}, nil)
		require.NoError(t, err)

		require.Equal(t, testQueue, jobRow.Queue)
		require.Equal(t, 1, jobRow.Priority)
		require.WithinDuration(t, beforeEnqueue.Add(time.Minute), jobRow.ScheduledAt, 2*time.Second)
	})

	t.Run("OptsOverrideArgsOpts", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		jobRow, err := client.Enqueue(ctx, optedArgs{}, &jobqueue.EnqueueOpts{Priority: 3, MaxAttempts: 7})
		require.NoError(t, err)

		require.Equal(t, 3, jobRow.Priority)
		require.Equal(t, 7, jobRow.MaxAttempts)
	})

	t.Run("UnknownQueue", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: "nope"})
		require.EqualError(t, err, `queue "nope" is not configured`)
	})

	t.Run("PriorityOutOfRange", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, Priority: 5})
		require.EqualError(t, err, "priority must be between 1 and 4")
	})

	t.Run("NegativeDelay", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, Delay: -time.Second})
		require.EqualError(t, err, "delay must not be negative")
	})

	t.Run("NilArgs", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		_, err := client.Enqueue(ctx, nil, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.EqualError(t, err, "args are required")
	})
}

func TestClientWorkJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		workedName atomic.Value
		workers    = jobqueue.NewWorkers()
	)
	jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
		workedName.Store(job.Args.Name)
		return nil
	}))

	client, _ := setupClient(t, &jobqueue.Config{Workers: workers})

	eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted)
	t.Cleanup(cancel)

	startClient(t, client)

	jobRow, err := client.Enqueue(ctx, callbackArgs{Name: "hello"}, &jobqueue.EnqueueOpts{Queue: testQueue})
	require.NoError(t, err)

	event := waitForEvent(t, eventCh)
	require.Equal(t, jobqueue.EventKindJobCompleted, event.Kind)
	require.Equal(t, jobRow.ID, event.Job.ID)
	require.Equal(t, jobqueue.JobStateCompleted, event.Job.State)
	require.Equal(t, 1, event.Job.Attempt)
	require.NotNil(t, event.Job.FinalizedAt)
	require.Equal(t, "hello", workedName.Load())
}

func TestClientJobFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("RetriesThenSucceeds", func(t *testing.T) {
		t.Parallel()

		var (
			numAttempts atomic.Int64
			workers     = jobqueue.NewWorkers()
		)
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			if numAttempts.Add(1) < 3 {
				return errors.New("transient failure")
			}
			return nil
		}))

		client, _ := setupClient(t, &jobqueue.Config{Workers: workers})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted, jobqueue.EventKindJobFailed)
		t.Cleanup(cancel)

		startClient(t, client)

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)

		event := waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.EventKindJobFailed, event.Kind)
		require.Equal(t, jobqueue.JobStateWaiting, event.Job.State)
		require.Equal(t, 1, event.Job.Attempt)
		require.Len(t, event.Job.Errors, 1)
		require.Equal(t, "transient failure", event.Job.Errors[0].Error)
		require.Nil(t, event.Job.FinalizedAt)

		event = waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.EventKindJobFailed, event.Kind)
		require.Equal(t, jobqueue.JobStateWaiting, event.Job.State)
		require.Equal(t, 2, event.Job.Attempt)

		event = waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.EventKindJobCompleted, event.Kind)
		require.Equal(t, 3, event.Job.Attempt)
		require.EqualValues(t, 3, numAttempts.Load())
	})

	t.Run("RetryScheduledWithBackoff", func(t *testing.T) {
		t.Parallel()

		workers := jobqueue.NewWorkers()
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			return errors.New("boom")
		}))

		// A long base delay so the retry is observable in the row rather
		// than racing the test.
		queues := testQueues()
		queueConfig := queues[testQueue]
		queueConfig.Backoff = jobqueue.BackoffPolicy{Kind: jobqueue.BackoffFixed, BaseDelay: time.Hour}
		queues[testQueue] = queueConfig

		client, _ := setupClient(t, &jobqueue.Config{Queues: queues, Workers: workers})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobFailed)
		t.Cleanup(cancel)

		startClient(t, client)

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)

		event := waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.JobStateWaiting, event.Job.State)
		require.WithinDuration(t, time.Now().UTC().Add(time.Hour), event.Job.ScheduledAt, 10*time.Second)
	})

	t.Run("FailsAfterMaxAttempts", func(t *testing.T) {
		t.Parallel()

		var (
			numAttempts atomic.Int64
			workers     = jobqueue.NewWorkers()
		)
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			numAttempts.Add(1)
			return fmt.Errorf("permanent failure %d", numAttempts.Load())
		}))

		client, _ := setupClient(t, &jobqueue.Config{Workers: workers})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobFailed)
		t.Cleanup(cancel)

		startClient(t, client)

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, MaxAttempts: 2})
		require.NoError(t, err)

		event := waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.JobStateWaiting, event.Job.State)

		event = waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.JobStateFailed, event.Job.State)
		require.Equal(t, 2, event.Job.Attempt)
		require.NotNil(t, event.Job.FinalizedAt)
		require.Len(t, event.Job.Errors, 2)
		require.Equal(t, "permanent failure 1", event.Job.Errors[0].Error)
		require.Equal(t, "permanent failure 2", event.Job.Errors[1].Error)

		// The failure is terminal: no further attempts happen.
		time.Sleep(100 * time.Millisecond)
		require.EqualValues(t, 2, numAttempts.Load())
	})

	t.Run("WorkerPanic", func(t *testing.T) {
		t.Parallel()

		workers := jobqueue.NewWorkers()
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			panic("worker bug")
		}))

		client, _ := setupClient(t, &jobqueue.Config{Workers: workers})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobFailed)
		t.Cleanup(cancel)

		startClient(t, client)

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, MaxAttempts: 1})
		require.NoError(t, err)

		event := waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.JobStateFailed, event.Job.State)
		require.Equal(t, "panic: worker bug", event.Job.Errors[0].Error)
	})

	t.Run("UnknownJobKind", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{Workers: jobqueue.NewWorkers()})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobFailed)
		t.Cleanup(cancel)

		startClient(t, client)

		_, err := client.Enqueue(ctx, unregisteredArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, MaxAttempts: 1})
		require.NoError(t, err)

		event := waitForEvent(t, eventCh)
		require.Equal(t, jobqueue.JobStateFailed, event.Job.State)
		require.Equal(t, `no worker registered for job kind "mystery"`, event.Job.Errors[0].Error)
	})
}

func TestClientJobTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	workers := jobqueue.NewWorkers()
	jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	client, _ := setupClient(t, &jobqueue.Config{JobTimeout: 50 * time.Millisecond, Workers: workers})

	eventCh, cancel := client.Subscribe(jobqueue.EventKindJobFailed)
	t.Cleanup(cancel)

	startClient(t, client)

	_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue, MaxAttempts: 1})
	require.NoError(t, err)

	event := waitForEvent(t, eventCh)
	require.Equal(t, jobqueue.JobStateFailed, event.Job.State)
	require.Contains(t, event.Job.Errors[0].Error, "context deadline exceeded")
}

func TestClientMaxWorkers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	const numJobs = 6

	var (
		numActive atomic.Int64
		maxActive atomic.Int64
		workers   = jobqueue.NewWorkers()
	)
	jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
		active := numActive.Add(1)
		defer numActive.Add(-1)

		for {
			observed := maxActive.Load()
			if active <= observed || maxActive.CompareAndSwap(observed, active) {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	client, _ := setupClient(t, &jobqueue.Config{Workers: workers})

	eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted)
	t.Cleanup(cancel)

	startClient(t, client)

	for range numJobs {
		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)
	}

	for range numJobs {
		waitForEvent(t, eventCh)
	}

	// MaxWorkers for the test queue is 2.
	require.LessOrEqual(t, maxActive.Load(), int64(2))
	require.Positive(t, maxActive.Load())
}

func TestClientExclusiveClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	const numJobs = 10

	var (
		mu         sync.Mutex
		numWorked  = make(map[int64]int)
		newWorkers = func() *jobqueue.Workers {
			workers := jobqueue.NewWorkers()
			jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
				mu.Lock()
				numWorked[job.ID]++
				mu.Unlock()
				return nil
			}))
			return workers
		}
	)

	client1, st := setupClient(t, &jobqueue.Config{Workers: newWorkers()})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client2, err := jobqueue.NewClient(st, &jobqueue.Config{
		FetchPollInterval: 10 * time.Millisecond,
		Logger:            logger,
		Queues:            testQueues(),
		Workers:           newWorkers(),
	})
	require.NoError(t, err)

	startClient(t, client1)
	startClient(t, client2)

	jobIDs := make([]int64, 0, numJobs)
	for range numJobs {
		jobRow, err := client1.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)
		jobIDs = append(jobIDs, jobRow.ID)
	}

	require.Eventually(t, func() bool {
		counts, err := st.JobCountsByState(ctx, testQueue)
		require.NoError(t, err)
		return counts.Completed == numJobs
	}, 5*time.Second, 10*time.Millisecond)

	// Both clients poll the same store, but every job was worked exactly
	// once.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, numWorked, numJobs)
	for _, jobID := range jobIDs {
		require.Equal(t, 1, numWorked[jobID], "job %d", jobID)
	}
}

func TestClientStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("DrainsInFlightJobs", func(t *testing.T) {
		t.Parallel()

		var (
			numStarted atomic.Int64
			release    = make(chan struct{})
			workers    = jobqueue.NewWorkers()
		)
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			numStarted.Add(1)
			<-release
			return nil
		}))

		client, st := setupClient(t, &jobqueue.Config{Workers: workers})
		require.NoError(t, client.Start(ctx))

		const numJobs = 5
		for range numJobs {
			_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
			require.NoError(t, err)
		}

		// Wait for the queue's two worker slots to fill.
		require.Eventually(t, func() bool { return numStarted.Load() == 2 }, 5*time.Second, 5*time.Millisecond)

		stopErrCh := make(chan error, 1)
		go func() { stopErrCh <- client.Stop(context.Background()) }()

		// Stop must block while jobs are still in flight.
		select {
		case err := <-stopErrCh:
			t.Fatalf("Stop returned with jobs in flight: %v", err)
		case <-time.After(200 * time.Millisecond):
		}

		close(release)

		select {
		case err := <-stopErrCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for Stop")
		}

		// The in-flight jobs finished; the rest were never claimed.
		counts, err := st.JobCountsByState(ctx, testQueue)
		require.NoError(t, err)
		require.Equal(t, &jobqueue.QueueCounts{Waiting: numJobs - 2, Completed: 2}, counts)
		require.EqualValues(t, 2, numStarted.Load())
	})

	t.Run("Idempotent", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		require.NoError(t, client.Start(ctx))
		require.NoError(t, client.Stop(ctx))
		require.NoError(t, client.Stop(ctx))
	})

	t.Run("StopBeforeStart", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})
		require.NoError(t, client.Stop(ctx))
	})

	t.Run("RestartAfterStop", func(t *testing.T) {
		t.Parallel()

		workers := jobqueue.NewWorkers()
		jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
			return nil
		}))

		client, st := setupClient(t, &jobqueue.Config{Workers: workers})

		require.NoError(t, client.Start(ctx))
		require.NoError(t, client.Stop(ctx))

		require.NoError(t, client.Start(ctx))
		t.Cleanup(func() { require.NoError(t, client.Stop(context.Background())) })

		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			counts, err := st.JobCountsByState(ctx, testQueue)
			require.NoError(t, err)
			return counts.Completed == 1
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestClientSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("CancelClosesChannel", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted)
		cancel()

		_, ok := <-eventCh
		require.False(t, ok)
	})

	t.Run("StopClosesChannels", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		client, _ := setupClient(t, &jobqueue.Config{})

		eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted)
		t.Cleanup(cancel)

		require.NoError(t, client.Start(ctx))
		require.NoError(t, client.Stop(ctx))

		_, ok := <-eventCh
		require.False(t, ok)
	})

	t.Run("UnknownEventKindPanics", func(t *testing.T) {
		t.Parallel()

		client, _ := setupClient(t, &jobqueue.Config{})

		require.Panics(t, func() { client.Subscribe(jobqueue.EventKind("job_vanished")) })
	})
}

func TestClientQueueStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	queues := map[string]jobqueue.QueueConfig{
		"alpha": {
			Backoff:    jobqueue.BackoffPolicy{Kind: jobqueue.BackoffFixed, BaseDelay: time.Second},
			MaxWorkers: 1,
		},
		"beta": {
			Backoff:    jobqueue.BackoffPolicy{Kind: jobqueue.BackoffFixed, BaseDelay: time.Second},
			MaxWorkers: 1,
		},
	}

	client, _ := setupClient(t, &jobqueue.Config{Queues: queues})

	for range 3 {
		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: "alpha"})
		require.NoError(t, err)
	}
	_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: "beta"})
	require.NoError(t, err)

	stats, err := client.QueueStats(ctx)
	require.NoError(t, err)
	require.Equal(t, []jobqueue.QueueStats{
		{Name: "alpha", QueueCounts: jobqueue.QueueCounts{Waiting: 3}},
		{Name: "beta", QueueCounts: jobqueue.QueueCounts{Waiting: 1}},
	}, stats)
}

// periodicSchedule fires at a fixed short interval so retention tests don't
// wait out the default cron schedule.
type periodicSchedule struct {
	interval time.Duration
}

func (s *periodicSchedule) Next(t time.Time) time.Time { return t.Add(s.interval) }

func TestClientRetentionCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	const numJobs, retain = 5, 2

	workers := jobqueue.NewWorkers()
	jobqueue.AddWorker(workers, jobqueue.WorkFunc(func(ctx context.Context, job *jobqueue.Job[callbackArgs]) error {
		return nil
	}))

	queues := testQueues()
	queueConfig := queues[testQueue]
	queueConfig.RetainCompleted = retain
	queues[testQueue] = queueConfig

	client, st := setupClient(t, &jobqueue.Config{
		CleanupSchedule: &periodicSchedule{interval: 20 * time.Millisecond},
		Queues:          queues,
		Workers:         workers,
	})

	eventCh, cancel := client.Subscribe(jobqueue.EventKindJobCompleted)
	t.Cleanup(cancel)

	startClient(t, client)

	for range numJobs {
		_, err := client.Enqueue(ctx, callbackArgs{}, &jobqueue.EnqueueOpts{Queue: testQueue})
		require.NoError(t, err)
	}
	for range numJobs {
		waitForEvent(t, eventCh)
	}

	require.Eventually(t, func() bool {
		counts, err := st.JobCountsByState(ctx, testQueue)
		require.NoError(t, err)
		return counts.Completed == retain
	}, 5*time.Second, 10*time.Millisecond)
}
