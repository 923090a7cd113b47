package jobqueue

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"
)

type jobExecutorResult struct {
	err      error
	panicVal any
}

func (r *jobExecutorResult) errored() bool { return r.err != nil || r.panicVal != nil }

// errorStr returns the string persisted to the job's error list. Panics if
// called on a non-errored result.
func (r *jobExecutorResult) errorStr() string {
	switch {
	case r.err != nil:
		return r.err.Error()
	case r.panicVal != nil:
		return fmt.Sprintf("panic: %v", r.panicVal)
	}

	panic("errorStr called on non-errored result")
}

// jobExecutor runs a single claimed job through its worker and reports the
// outcome back to the store. It always runs under an uncancellable context
// so that an in-flight job survives a shutdown-triggered cancellation; the
// per-attempt timeout is the only thing that cancels the work context.
type jobExecutor struct {
	backoff          BackoffPolicy
	clientJobTimeout time.Duration
	driver           Driver
	events           *subscriptionManager
	jobRow           *JobRow
	logger           *slog.Logger
	workUnit         workUnit
}

func (e *jobExecutor) execute(ctx context.Context) {
	res := e.work(ctx)
	e.reportResult(ctx, res)
}

// Runs the worker, converting a panic into a failed result. The named
// return is what lets the recover write the result.
//
//nolint:nonamedreturns
func (e *jobExecutor) work(ctx context.Context) (res *jobExecutorResult) {
	defer func() {
		if recovery := recover(); recovery != nil {
			e.logger.ErrorContext(ctx, "jobExecutor: panic recovery; possible bug in worker",
				slog.Int64("job_id", e.jobRow.ID),
				slog.String("kind", e.jobRow.Kind),
				slog.String("panic_val", fmt.Sprintf("%v", recovery)),
			)
			res = &jobExecutorResult{panicVal: recovery}
		}
	}()

	if e.workUnit == nil {
		e.logger.ErrorContext(ctx, "jobExecutor: unhandled job kind",
			slog.Int64("job_id", e.jobRow.ID),
			slog.String("kind", e.jobRow.Kind),
		)
		return &jobExecutorResult{err: &UnknownJobKindError{Kind: e.jobRow.Kind}}
	}

	if err := e.workUnit.UnmarshalJob(); err != nil {
		return &jobExecutorResult{err: err}
	}

	if timeout := cmp.Or(e.workUnit.Timeout(), e.clientJobTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return &jobExecutorResult{err: e.workUnit.Work(ctx)}
}

func (e *jobExecutor) reportResult(ctx context.Context, res *jobExecutorResult) {
	now := time.Now().UTC()

	if !res.errored() {
		updatedRow, err := e.driver.JobComplete(ctx, e.jobRow.ID, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "jobExecutor: error marking job completed",
				slog.Int64("job_id", e.jobRow.ID), slog.String("error", err.Error()))
			return
		}
		e.events.distribute(&Event{Kind: EventKindJobCompleted, Job: updatedRow})
		return
	}

	attemptErr := AttemptError{
		At:      now,
		Attempt: e.jobRow.Attempt,
		Error:   res.errorStr(),
	}
	errs := append(append([]AttemptError(nil), e.jobRow.Errors...), attemptErr)

	var (
		updatedRow *JobRow
		err        error
	)
	if e.jobRow.Attempt >= e.jobRow.MaxAttempts {
		updatedRow, err = e.driver.JobFail(ctx, e.jobRow.ID, errs, now)
	} else {
		scheduledAt := now.Add(e.backoff.Delay(e.jobRow.Attempt))
		updatedRow, err = e.driver.JobRetry(ctx, e.jobRow.ID, errs, scheduledAt)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "jobExecutor: error marking job failed",
			slog.Int64("job_id", e.jobRow.ID), slog.String("error", err.Error()))
		return
	}

	e.events.distribute(&Event{Kind: EventKindJobFailed, Job: updatedRow})
}
