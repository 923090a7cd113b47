package jobqueue

import "sync"

// EventKind is a kind of queue event that can be subscribed to.
type EventKind string

const (
	// EventKindJobCompleted occurs when a job finishes successfully.
	EventKindJobCompleted EventKind = "job_completed"

	// EventKindJobFailed occurs when an attempt of a job fails. It's
	// emitted both when the job will be retried and when it has failed for
	// the last time; use the job's State and Attempt to tell them apart.
	EventKindJobFailed EventKind = "job_failed"
)

var allEventKinds = map[EventKind]struct{}{ //nolint:gochecknoglobals
	EventKindJobCompleted: {},
	EventKindJobFailed:    {},
}

// Event is a notification that something happened to a job. Events are
// observational only; delivery is best effort and a slow subscriber has
// events dropped rather than blocking the workers.
type Event struct {
	// Kind is the kind of event that occurred.
	Kind EventKind

	// Job is the job's row as of just after the event.
	Job *JobRow
}

// Capacity of each subscriber channel. Events beyond it are dropped.
const subscribeChanSize = 100

type eventSubscription struct {
	eventCh chan *Event
	kinds   map[EventKind]struct{}
}

func (s *eventSubscription) listensFor(kind EventKind) bool {
	_, ok := s.kinds[kind]
	return ok
}

// subscriptionManager fans job events out to subscriber channels.
type subscriptionManager struct {
	mu               sync.Mutex
	stopped          bool
	subscriptions    map[int]*eventSubscription
	subscriptionsSeq int
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{subscriptions: make(map[int]*eventSubscription)}
}

func (sm *subscriptionManager) subscribe(kinds ...EventKind) (<-chan *Event, func()) {
	kindSet := make(map[EventKind]struct{}, len(kinds))
	for _, kind := range kinds {
		kindSet[kind] = struct{}{}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sub := &eventSubscription{
		eventCh: make(chan *Event, subscribeChanSize),
		kinds:   kindSet,
	}

	if sm.stopped {
		// Late subscriber after shutdown: hand back a closed channel so the
		// caller's receive loop terminates immediately.
		close(sub.eventCh)
		return sub.eventCh, func() {}
	}

	sm.subscriptionsSeq++
	subID := sm.subscriptionsSeq
	sm.subscriptions[subID] = sub

	return sub.eventCh, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()

		if _, ok := sm.subscriptions[subID]; ok {
			close(sub.eventCh)
			delete(sm.subscriptions, subID)
		}
	}
}

func (sm *subscriptionManager) distribute(event *Event) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, sub := range sm.subscriptions {
		if !sub.listensFor(event.Kind) {
			continue
		}

		select {
		case sub.eventCh <- event:
		default: // subscriber fell behind; drop
		}
	}
}

func (sm *subscriptionManager) stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopped {
		return
	}
	sm.stopped = true

	for subID, sub := range sm.subscriptions {
		close(sub.eventCh)
		delete(sm.subscriptions, subID)
	}
}
