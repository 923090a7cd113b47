package jobqueue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by driver operations that target a job which
// doesn't exist.
var ErrNotFound = errors.New("job not found")

// JobInsertParams are the parameters for inserting a new job into the store.
type JobInsertParams struct {
	EncodedArgs []byte
	Kind        string
	MaxAttempts int
	Priority    int
	Queue       string
	ScheduledAt time.Time
}

// QueueCounts is the number of jobs in each state for a single queue.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Driver is the interface to the durable store backing the queue. The store
// is the single source of truth for job state and must be safe for
// concurrent use by multiple producers, including producers in other
// processes pointed at the same database.
type Driver interface {
	// JobInsert durably inserts a new job in the waiting state, returning
	// the full stored row. The job is visible to producers as soon as this
	// returns, subject to its scheduled time.
	JobInsert(ctx context.Context, params *JobInsertParams) (*JobRow, error)

	// JobClaim atomically claims the next eligible waiting job on the given
	// queue, transitioning it to active and incrementing its attempt
	// counter. Eligible means scheduled at or before now; ties order by
	// scheduled time, then priority, then id. Returns (nil, nil) when no
	// job is eligible. No two callers may claim the same job concurrently.
	JobClaim(ctx context.Context, queue string, now time.Time) (*JobRow, error)

	// JobComplete marks an active job completed.
	JobComplete(ctx context.Context, id int64, finalizedAt time.Time) (*JobRow, error)

	// JobRetry returns a failed attempt's job to the waiting state with a
	// new scheduled time, replacing its error list.
	JobRetry(ctx context.Context, id int64, errs []AttemptError, scheduledAt time.Time) (*JobRow, error)

	// JobFail marks a job terminally failed, replacing its error list. The
	// job will never be worked again.
	JobFail(ctx context.Context, id int64, errs []AttemptError, finalizedAt time.Time) (*JobRow, error)

	// JobGetByID fetches a single job. Returns ErrNotFound if absent.
	JobGetByID(ctx context.Context, id int64) (*JobRow, error)

	// JobCountsByState counts the queue's jobs in each state.
	JobCountsByState(ctx context.Context, queue string) (*QueueCounts, error)

	// JobPrune deletes the queue's jobs in the given terminal state beyond
	// the most recent keep, returning the number deleted.
	JobPrune(ctx context.Context, queue string, state JobState, keep int) (int, error)
}
