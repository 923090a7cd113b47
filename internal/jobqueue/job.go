package jobqueue

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a job. Jobs are inserted as `waiting`,
// move to `active` while a worker holds them, and finish as either
// `completed` or, once their attempts are exhausted, terminally `failed`. A
// failed attempt with retries remaining sends the job back to `waiting` with
// a scheduled time in the future.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStates returns all possible job states.
func JobStates() []JobState {
	return []JobState{JobStateWaiting, JobStateActive, JobStateCompleted, JobStateFailed}
}

// JobRow contains the properties of a job as persisted to the store.
// User-facing code like worker implementations will generally prefer the
// typed Job[T] instead.
type JobRow struct {
	// ID of the job, assigned by the store at enqueue time. Ascending, but
	// opaque to callers.
	ID int64

	// Attempt is the number of times the job has been worked. Jobs are
	// inserted at 0 and the counter increments each time a producer claims
	// the job. Never exceeds MaxAttempts.
	Attempt int

	// AttemptedAt is when the job was last claimed for work. Nil before the
	// first attempt.
	AttemptedAt *time.Time

	// CreatedAt is when the job record was inserted.
	CreatedAt time.Time

	// EncodedArgs is the job's args encoded as JSON.
	EncodedArgs []byte

	// Errors holds one entry per failed attempt, earliest first.
	Errors []AttemptError

	// FinalizedAt is when the job reached a terminal state (completed, or
	// failed with no attempts remaining). Nil until then.
	FinalizedAt *time.Time

	// Kind identifies the type of job and selects the worker that runs it.
	Kind string

	// MaxAttempts is the number of times the job will be tried before it's
	// marked failed for good.
	MaxAttempts int

	// Priority orders jobs that are eligible at the same instant. 1 is the
	// highest priority and 4 the lowest.
	Priority int

	// Queue is the name of the queue the job belongs to.
	Queue string

	// ScheduledAt is the earliest time the job may be claimed. Enqueue
	// delays and retry backoff both express themselves through this field.
	ScheduledAt time.Time

	// State is the current lifecycle state.
	State JobState
}

// AttemptError records a single failed attempt of a job.
type AttemptError struct {
	// At is the time the attempt failed.
	At time.Time `json:"at"`

	// Attempt is the attempt number that failed.
	Attempt int `json:"attempt"`

	// Error is the stringified error returned by the worker, or the panic
	// value if the worker panicked.
	Error string `json:"error"`
}

// JobArgs is an interface that should be implemented by the arguments to a
// job. The struct is serialized as JSON into the job's payload, and Kind
// selects the worker that will run the job.
type JobArgs interface {
	// Kind is a unique string that identifies the type of job. It's used to
	// route the job to its registered worker.
	Kind() string
}

// JobArgsWithEnqueueOpts is an extra interface job args can implement to
// provide default enqueue options for all jobs of their kind. Options passed
// directly to Client.Enqueue take precedence.
type JobArgsWithEnqueueOpts interface {
	JobArgs

	// EnqueueOpts returns options to use by default when enqueueing jobs of
	// this kind.
	EnqueueOpts() EnqueueOpts
}

// Job wraps a JobRow along with its decoded, typed args.
type Job[T JobArgs] struct {
	*JobRow

	// Args are the job's arguments, decoded from EncodedArgs.
	Args T
}

// UnknownJobKindError is returned when a job is claimed whose kind has no
// registered worker. The job fails and retries on its normal schedule, so a
// deploy that adds the missing worker can still pick it up.
type UnknownJobKindError struct {
	// Kind is the kind of the job that has no registered worker.
	Kind string
}

func (e *UnknownJobKindError) Error() string {
	return fmt.Sprintf("no worker registered for job kind %q", e.Kind)
}

func (e *UnknownJobKindError) Is(target error) bool {
	_, ok := target.(*UnknownJobKindError)
	return ok
}
