package workers

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// Service is anything the manager shuts down alongside the workers, e.g.
// the diagnostics HTTP server.
type Service interface {
	Stop(ctx context.Context) error
}

// Manager owns the lifecycle of every worker in the process: it starts the
// queue client (and with it all worker pools), logs job outcomes, and on
// the first termination signal drains everything exactly once before Run
// returns. Further signals during the drain are ignored rather than
// starting a second shutdown.
type Manager struct {
	client   *jobqueue.Client
	logger   *slog.Logger
	services []Service

	done         chan struct{}
	eventsDone   chan struct{}
	shutdownErr  error
	shutdownOnce sync.Once
}

// NewManager returns a manager owning the queue client plus any extra
// services that should stop with it.
func NewManager(client *jobqueue.Client, logger *slog.Logger, extraServices ...Service) *Manager {
	return &Manager{
		client:     client,
		logger:     logger,
		services:   append([]Service{client}, extraServices...),
		done:       make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
}

// Start brings up the queue client's worker pools and begins logging job
// outcome events.
func (m *Manager) Start(ctx context.Context) error {
	events, _ := m.client.Subscribe(jobqueue.EventKindJobCompleted, jobqueue.EventKindJobFailed)

	if err := m.client.Start(ctx); err != nil {
		return err
	}

	go func() {
		defer close(m.eventsDone)
		m.logEvents(ctx, events)
	}()

	m.logger.InfoContext(ctx, "workers: started")
	return nil
}

// Run starts the workers and blocks until a SIGINT/SIGTERM-triggered drain
// has completed, or until the context is cancelled (which triggers the same
// drain).
func (m *Manager) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := m.Start(ctx); err != nil {
		return err
	}

	ctxDone := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			m.logger.Info("workers: signal received; shutting down", slog.String("signal", sig.String()))
			m.beginShutdown()
		case <-ctxDone:
			m.beginShutdown()
			ctxDone = nil
		case <-m.done:
			return m.shutdownErr
		}
	}
}

// Shutdown drains all owned services and blocks until the drain completes
// or ctx expires. Safe to call concurrently and repeatedly; only the first
// call starts a drain.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.beginShutdown()

	select {
	case <-m.done:
		return m.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) beginShutdown() {
	m.shutdownOnce.Do(func() {
		go func() {
			defer close(m.done)
			m.shutdownErr = m.stopAll()
		}()
	})
}

func (m *Manager) stopAll() error {
	m.logger.Info("workers: draining")

	// Every service drains concurrently; the drain itself is unbounded by
	// design, since in-flight jobs must be allowed to finish.
	var wg errgroup.Group
	for _, service := range m.services {
		wg.Go(func() error {
			return service.Stop(context.Background())
		})
	}
	err := wg.Wait()

	// The subscription channel closes when the client stops, ending the
	// event loop.
	<-m.eventsDone

	m.logger.Info("workers: stopped")
	return err
}

func (m *Manager) logEvents(ctx context.Context, events <-chan *jobqueue.Event) {
	for event := range events {
		switch event.Kind {
		case jobqueue.EventKindJobCompleted:
			m.logger.InfoContext(ctx, "workers: job completed",
				slog.Int64("job_id", event.Job.ID),
				slog.String("kind", event.Job.Kind),
				slog.String("queue", event.Job.Queue),
			)
		case jobqueue.EventKindJobFailed:
			var lastError string
			if len(event.Job.Errors) > 0 {
				lastError = event.Job.Errors[len(event.Job.Errors)-1].Error
			}
			m.logger.ErrorContext(ctx, "workers: job failed",
				slog.Int64("job_id", event.Job.ID),
				slog.String("kind", event.Job.Kind),
				slog.String("queue", event.Job.Queue),
				slog.Int("attempt", event.Job.Attempt),
				slog.String("state", string(event.Job.State)),
				slog.String("error", lastError),
			)
		}
	}
}
