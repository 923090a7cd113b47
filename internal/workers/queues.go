// Package workers contains the job workers run by the backend's worker
// process and the manager that owns their lifecycle.
package workers

import (
	"time"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// Logical queue names. Producers enqueue by these names; each has its own
// policy and worker pool.
const (
	QueueEmail       = "email"
	QueueGeoLocation = "geo-location"
)

// DefaultQueues is the per-queue policy table: concurrency, attempt limits,
// backoff, and retention for every queue the process works.
func DefaultQueues() map[string]jobqueue.QueueConfig {
	return map[string]jobqueue.QueueConfig{
		QueueGeoLocation: {
			Backoff: jobqueue.BackoffPolicy{
				Kind:      jobqueue.BackoffExponential,
				BaseDelay: 2 * time.Second,
			},
			MaxAttempts:     3,
			MaxWorkers:      3,
			RetainCompleted: 100,
			RetainFailed:    50,
		},
		QueueEmail: {
			Backoff: jobqueue.BackoffPolicy{
				Kind:      jobqueue.BackoffFixed,
				BaseDelay: 5 * time.Second,
			},
			MaxAttempts:     2,
			MaxWorkers:      2,
			RetainCompleted: 50,
			RetainFailed:    25,
		},
	}
}
