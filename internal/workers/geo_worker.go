package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dashngshop/dash-jobs/internal/geoip"
	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// GeoArgs is the payload of a geo-location enrichment job, enqueued after a
// successful login.
type GeoArgs struct {
	LoginEntryID string `json:"loginEntryId"`
	IPAddress    string `json:"ipAddress"`
	UserID       string `json:"userId"`
}

func (GeoArgs) Kind() string { return "process-geo" }

// EnqueueOpts delays geo jobs slightly so the login response isn't racing
// its own enrichment.
func (GeoArgs) EnqueueOpts() jobqueue.EnqueueOpts {
	return jobqueue.EnqueueOpts{Queue: QueueGeoLocation, Delay: time.Second}
}

// GeoLookup resolves an IP address to a location.
type GeoLookup interface {
	Lookup(ctx context.Context, ipAddress string) (*geoip.Location, error)
}

// LoginHistoryStore is the slice of the store the geo worker writes to.
type LoginHistoryStore interface {
	LoginEntrySetLocation(ctx context.Context, id, city, region, country string) error
}

// GeoWorker resolves the login's IP address to a location and writes it
// onto the login-history entry. The write replaces the location wholesale,
// so re-running the job after a partial failure is safe.
type GeoWorker struct {
	jobqueue.WorkerDefaults[GeoArgs]

	history LoginHistoryStore
	logger  *slog.Logger
	lookup  GeoLookup
}

// NewGeoWorker returns a worker that enriches login-history entries via the
// given lookup service.
func NewGeoWorker(lookup GeoLookup, history LoginHistoryStore, logger *slog.Logger) *GeoWorker {
	return &GeoWorker{history: history, logger: logger, lookup: lookup}
}

// Timeout bounds a single attempt; the lookup service has been seen to hang
// past its own client timeout under load.
func (w *GeoWorker) Timeout(*jobqueue.Job[GeoArgs]) time.Duration { return 30 * time.Second }

func (w *GeoWorker) Work(ctx context.Context, job *jobqueue.Job[GeoArgs]) error {
	location, err := w.lookup.Lookup(ctx, job.Args.IPAddress)
	if err != nil {
		return fmt.Errorf("resolving location: %w", err)
	}

	if err := w.history.LoginEntrySetLocation(ctx, job.Args.LoginEntryID, location.City, location.Region, location.Country); err != nil {
		return fmt.Errorf("updating login entry %s: %w", job.Args.LoginEntryID, err)
	}

	w.logger.InfoContext(ctx, "geo worker: login entry location updated",
		slog.String("login_entry_id", job.Args.LoginEntryID),
		slog.String("city", location.City),
		slog.String("country", location.Country),
	)
	return nil
}
