package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"loom/internal/jobs"
	"loom/internal/logging"
)

// heartbeat renews one job's lease while its stages run. A stage that
// outlives the lease duration would otherwise let a second worker reclaim
// the job mid-run.
type heartbeat struct {
	store    *jobs.Store
	logger   *slog.Logger
	interval time.Duration
	duration time.Duration
}

// loop renews the lease until the context is cancelled or renewal reports
// that this worker lost the job. lost is closed in the latter case so the
// caller can abandon the run.
func (h *heartbeat) loop(ctx context.Context, wg *sync.WaitGroup, jobID, workerID string, lost chan<- struct{}) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := h.logger.With(
		logging.String(logging.FieldComponent, "lease-heartbeat"),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldWorkerID, workerID),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := h.store.RenewLease(ctx, jobID, workerID, h.duration)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("lease renewal failed", logging.Error(err))
				continue
			}
			if !renewed {
				logger.Warn("lease lost to another worker")
				close(lost)
				return
			}
		}
	}
}
