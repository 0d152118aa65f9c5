// Package retention purges soft-deleted fields once they have been kept
// for the configured number of days.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubeflow/schema-registry/pkg/schema"
)

// Actor is recorded as the author of retention purges.
const Actor = "retention"

// Purger purges soft-deleted fields removed before a cutoff.
type Purger interface {
	PurgeExpiredFields(ctx context.Context, cutoff time.Time, actor string) (*schema.PurgeReport, error)
}

// Worker periodically sweeps expired soft-deleted fields.
type Worker struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorker creates a Worker keeping soft-deleted fields for retentionDays.
// A non-positive interval runs the sweep daily.
func NewWorker(purger Purger, retentionDays int, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{
		purger:    purger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once per interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.purger == nil || w.retention <= 0 {
		w.logger.Info("field retention worker disabled",
			"hasPurger", w.purger != nil,
			"retentionDays", int(w.retention.Hours()/24))
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("field retention worker started",
		"retentionDays", int(w.retention.Hours()/24),
		"interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("field retention worker stopped")
			return
		case <-ticker.C:
			_, _ = w.Sweep(ctx)
		}
	}
}

// Cutoff is the removal time before which soft-deleted fields expire.
func (w *Worker) Cutoff() time.Time {
	return w.now().Add(-w.retention)
}

// Sweep performs a single retention pass.
func (w *Worker) Sweep(ctx context.Context) (*schema.PurgeReport, error) {
	cutoff := w.Cutoff()
	report, err := w.purger.PurgeExpiredFields(ctx, cutoff, Actor)
	if err != nil {
		w.logger.Error("field retention sweep failed", "error", err, "cutoff", cutoff.Format(time.RFC3339))
	}
	if report != nil && report.Fields > 0 {
		w.logger.Info("field retention sweep completed",
			"fields", report.Fields,
			"values", report.Values,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return report, err
}
