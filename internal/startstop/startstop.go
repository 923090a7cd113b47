// Package startstop provides a small helper for services that run a
// background goroutine between a Start and a Stop call.
package startstop

import (
	"context"
	"sync"
)

// Service is a long-running component that backgrounds itself on Start and
// whose Stop blocks until the background work has fully wound down.
type Service interface {
	// Start launches the service's run loop. It returns quickly; the caller
	// does not wait for the loop to finish. Starting an already started
	// service is a no-op.
	Start(ctx context.Context) error

	// Stop cancels the service's context and blocks until the run loop has
	// returned. Stop tolerates being called before Start and being called
	// more than once.
	Stop()
}

// BaseStartStop is meant to be embedded in a service struct to supply the
// bookkeeping needed to implement Service safely. The embedding service
// implements its own Start which calls StartInit first thing, and spawns its
// run loop only when told to proceed:
//
//	func (s *someService) Start(ctx context.Context) error {
//		ctx, shouldStart, stopped := s.StartInit(ctx)
//		if !shouldStart {
//			return nil
//		}
//		go func() {
//			defer stopped()
//			// run loop; exits when ctx is done
//		}()
//		return nil
//	}
//
// Stop is provided by the embed and doesn't need to be overridden.
type BaseStartStop struct {
	cancelFunc context.CancelFunc
	mu         sync.Mutex
	stopped    chan struct{}
}

// StartInit begins a service start. It returns a context the run loop should
// live under, whether the caller should proceed (false if the service is
// already running), and a function the run loop must call on its way out.
func (s *BaseStartStop) StartInit(ctx context.Context) (context.Context, bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped != nil {
		return ctx, false, nil
	}

	s.stopped = make(chan struct{})
	ctx, s.cancelFunc = context.WithCancel(ctx)

	stopped := s.stopped
	return ctx, true, sync.OnceFunc(func() { close(stopped) })
}

// Stop cancels the service context and waits for the run loop to signal that
// it has finished. Safe to call multiple times or without a prior Start.
func (s *BaseStartStop) Stop() {
	s.mu.Lock()
	stopped, cancelFunc := s.stopped, s.cancelFunc
	s.mu.Unlock()

	if stopped == nil {
		return
	}

	cancelFunc()
	<-stopped

	// Reset so the service can be started again, unless a concurrent
	// restart has already produced a new generation.
	s.mu.Lock()
	if s.stopped == stopped {
		s.stopped = nil
	}
	s.mu.Unlock()
}

// StopAllSequentially stops the given services one after another. Useful for
// teardown paths where ordering matters more than latency.
func StopAllSequentially(services ...Service) {
	for _, service := range services {
		service.Stop()
	}
}
