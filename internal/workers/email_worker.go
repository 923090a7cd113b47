package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// EmailAlertArgs is the payload of a login-alert email job.
type EmailAlertArgs struct {
	Email     string `json:"email"`
	IPAddress string `json:"ipAddress"`
}

func (EmailAlertArgs) Kind() string { return "login-alert" }

// EnqueueOpts gives alert mails priority over whatever else shares the
// email queue.
func (EmailAlertArgs) EnqueueOpts() jobqueue.EnqueueOpts {
	return jobqueue.EnqueueOpts{Queue: QueueEmail, Priority: 1}
}

// AlertSender delivers a login-alert mail. The sender retries transient
// delivery failures internally; an error here means delivery genuinely
// failed and the job should go through the queue's retry policy.
type AlertSender interface {
	SendLoginAlert(ctx context.Context, to, ipAddress string) error
}

// EmailAlertWorker sends the "your account was logged into" notification.
type EmailAlertWorker struct {
	jobqueue.WorkerDefaults[EmailAlertArgs]

	logger *slog.Logger
	sender AlertSender
}

// NewEmailAlertWorker returns a worker that delivers login alerts through
// the given sender.
func NewEmailAlertWorker(sender AlertSender, logger *slog.Logger) *EmailAlertWorker {
	return &EmailAlertWorker{logger: logger, sender: sender}
}

func (w *EmailAlertWorker) Work(ctx context.Context, job *jobqueue.Job[EmailAlertArgs]) error {
	if err := w.sender.SendLoginAlert(ctx, job.Args.Email, job.Args.IPAddress); err != nil {
		return fmt.Errorf("sending login alert: %w", err)
	}

	w.logger.InfoContext(ctx, "email worker: login alert sent", slog.String("email", job.Args.Email))
	return nil
}
