package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// Compile-time check that Store implements the queue's driver interface.
var _ jobqueue.Driver = (*Store)(nil)

const jobColumns = `id, queue, kind, args, state, attempt, max_attempts, priority, errors, created_at, scheduled_at, attempted_at, finalized_at`

func (s *Store) JobInsert(ctx context.Context, params *jobqueue.JobInsertParams) (*jobqueue.JobRow, error) {
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO jobs (queue, kind, args, state, max_attempts, priority, created_at, scheduled_at)
		VALUES (?, ?, ?, 'waiting', ?, ?, ?, ?)
		RETURNING `+jobColumns),
		params.Queue, params.Kind, string(params.EncodedArgs), params.MaxAttempts,
		params.Priority, millis(now), millis(params.ScheduledAt),
	)

	jobRow, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	return jobRow, nil
}

func (s *Store) JobClaim(ctx context.Context, queue string, now time.Time) (*jobqueue.JobRow, error) {
	// Single-statement claim: the inner select picks the job, the state
	// guard on the update keeps a concurrent claimer from stealing it. On
	// Postgres the row is additionally locked with SKIP LOCKED.
	lockSuffix := ""
	if s.dialect == dialectPostgres {
		lockSuffix = " FOR UPDATE SKIP LOCKED"
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		UPDATE jobs SET state = 'active', attempt = attempt + 1, attempted_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND state = 'waiting' AND scheduled_at <= ?
			ORDER BY scheduled_at ASC, priority ASC, id ASC
			LIMIT 1`+lockSuffix+`
		) AND state = 'waiting'
		RETURNING `+jobColumns),
		millis(now), queue, millis(now),
	)

	jobRow, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return jobRow, nil
}

func (s *Store) JobComplete(ctx context.Context, id int64, finalizedAt time.Time) (*jobqueue.JobRow, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		UPDATE jobs SET state = 'completed', finalized_at = ?
		WHERE id = ?
		RETURNING `+jobColumns),
		millis(finalizedAt), id,
	)

	jobRow, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("completing job %d: %w", id, err)
	}
	return jobRow, nil
}

func (s *Store) JobRetry(ctx context.Context, id int64, errs []jobqueue.AttemptError, scheduledAt time.Time) (*jobqueue.JobRow, error) {
	encodedErrs, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshaling attempt errors: %w", err)
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		UPDATE jobs SET state = 'waiting', errors = ?, scheduled_at = ?
		WHERE id = ?
		RETURNING `+jobColumns),
		string(encodedErrs), millis(scheduledAt), id,
	)

	jobRow, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("rescheduling job %d: %w", id, err)
	}
	return jobRow, nil
}

func (s *Store) JobFail(ctx context.Context, id int64, errs []jobqueue.AttemptError, finalizedAt time.Time) (*jobqueue.JobRow, error) {
	encodedErrs, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshaling attempt errors: %w", err)
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		UPDATE jobs SET state = 'failed', errors = ?, finalized_at = ?
		WHERE id = ?
		RETURNING `+jobColumns),
		string(encodedErrs), millis(finalizedAt), id,
	)

	jobRow, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("failing job %d: %w", id, err)
	}
	return jobRow, nil
}

func (s *Store) JobGetByID(ctx context.Context, id int64) (*jobqueue.JobRow, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)

	jobRow, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("fetching job %d: %w", id, err)
	}
	return jobRow, nil
}

func (s *Store) JobCountsByState(ctx context.Context, queue string) (*jobqueue.QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT state, COUNT(*) FROM jobs WHERE queue = ? GROUP BY state`), queue)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	var counts jobqueue.QueueCounts
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning job counts: %w", err)
		}

		switch jobqueue.JobState(state) {
		case jobqueue.JobStateWaiting:
			counts.Waiting = count
		case jobqueue.JobStateActive:
			counts.Active = count
		case jobqueue.JobStateCompleted:
			counts.Completed = count
		case jobqueue.JobStateFailed:
			counts.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}

	return &counts, nil
}

func (s *Store) JobPrune(ctx context.Context, queue string, state jobqueue.JobState, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM jobs
		WHERE queue = ? AND state = ? AND id NOT IN (
			SELECT id FROM jobs
			WHERE queue = ? AND state = ?
			ORDER BY finalized_at DESC, id DESC
			LIMIT ?
		)`),
		queue, string(state), queue, string(state), keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}

	numDeleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	return int(numDeleted), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*jobqueue.JobRow, error) {
	var (
		jobRow      jobqueue.JobRow
		args        string
		state       string
		encodedErrs string
		createdAt   int64
		scheduledAt int64
		attemptedAt sql.NullInt64
		finalizedAt sql.NullInt64
	)

	if err := row.Scan(
		&jobRow.ID, &jobRow.Queue, &jobRow.Kind, &args, &state, &jobRow.Attempt,
		&jobRow.MaxAttempts, &jobRow.Priority, &encodedErrs, &createdAt,
		&scheduledAt, &attemptedAt, &finalizedAt,
	); err != nil {
		return nil, err
	}

	jobRow.EncodedArgs = []byte(args)
	jobRow.State = jobqueue.JobState(state)
	jobRow.CreatedAt = timeFromMillis(createdAt)
	jobRow.ScheduledAt = timeFromMillis(scheduledAt)
	if attemptedAt.Valid {
		t := timeFromMillis(attemptedAt.Int64)
		jobRow.AttemptedAt = &t
	}
	if finalizedAt.Valid {
		t := timeFromMillis(finalizedAt.Int64)
		jobRow.FinalizedAt = &t
	}

	if err := json.Unmarshal([]byte(encodedErrs), &jobRow.Errors); err != nil {
		return nil, fmt.Errorf("unmarshaling job errors: %w", err)
	}

	return &jobRow, nil
}
