// Package login records successful logins and kicks off their side
// effects. The side effects run as queued jobs so that the login response
// never waits on, or fails because of, geo lookups or mail delivery.
package login

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
	"github.com/dashngshop/dash-jobs/internal/workers"
)

// Enqueuer is the slice of the queue client the recorder needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, args jobqueue.JobArgs, opts *jobqueue.EnqueueOpts) (*jobqueue.JobRow, error)
}

// HistoryStore persists login-history documents.
type HistoryStore interface {
	LoginEntryInsert(ctx context.Context, id string, doc []byte) error
}

// Login describes a successful authentication.
type Login struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
}

// Recorder is the producer call site for login side effects.
type Recorder struct {
	history HistoryStore
	jobs    Enqueuer
	logger  *slog.Logger
}

// NewRecorder returns a Recorder writing to the given history store and
// queue client.
func NewRecorder(history HistoryStore, jobs Enqueuer, logger *slog.Logger) *Recorder {
	return &Recorder{history: history, jobs: jobs, logger: logger}
}

// RecordLogin creates the login-history entry and enqueues the geo-location
// and login-alert jobs, returning the entry's id.
//
// The history insert is synchronous: the geo job needs a record to update,
// so a failure here is the caller's problem. The enqueues are fire and
// forget: a queue outage must never fail a login, so enqueue errors are
// logged and dropped.
func (r *Recorder) RecordLogin(ctx context.Context, l Login) (string, error) {
	entryID := uuid.NewString()

	doc, err := json.Marshal(map[string]string{
		"userId":    l.UserID,
		"ipAddress": l.IPAddress,
		"userAgent": l.UserAgent,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("encoding login entry: %w", err)
	}

	if err := r.history.LoginEntryInsert(ctx, entryID, doc); err != nil {
		return "", fmt.Errorf("recording login for user %s: %w", l.UserID, err)
	}

	if _, err := r.jobs.Enqueue(ctx, workers.GeoArgs{
		LoginEntryID: entryID,
		IPAddress:    l.IPAddress,
		UserID:       l.UserID,
	}, nil); err != nil {
		r.logger.ErrorContext(ctx, "login: error enqueueing geo job",
			slog.String("login_entry_id", entryID), slog.String("error", err.Error()))
	}

	if _, err := r.jobs.Enqueue(ctx, workers.EmailAlertArgs{
		Email:     l.Email,
		IPAddress: l.IPAddress,
	}, nil); err != nil {
		r.logger.ErrorContext(ctx, "login: error enqueueing login alert job",
			slog.String("login_entry_id", entryID), slog.String("error", err.Error()))
	}

	return entryID, nil
}
