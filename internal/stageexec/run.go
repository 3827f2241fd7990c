package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/services"
)

// One unit of stage work gets its initial attempt plus exactly one retry.
const maxAttempts = 2

const retryDelay = 500 * time.Millisecond

// Options controls execution and failure persistence for one stage work unit.
type Options struct {
	Logger *slog.Logger
	Store  *jobs.Store
	JobID  string
	Stage  jobs.Step
}

// Run executes one unit of a stage's work, typically a single external call.
// Retryable failures are attempted exactly one more time; configuration and
// validation failures fail fast. When the budget is exhausted the failure is
// persisted to the job row before the error returns, so stored state reflects
// why the job stopped even if the process dies immediately after.
func Run(ctx context.Context, opts Options, unit func(context.Context) error) error {
	if unit == nil {
		return fmt.Errorf("stage %s: work unit is required", opts.Stage)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	err := retry.Do(
		func() error {
			return unit(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.RetryIf(services.Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn("stage unit retrying",
				logging.String(logging.FieldJobID, opts.JobID),
				logging.String(logging.FieldStage, string(opts.Stage)),
				logging.Int64("attempt", int64(attempt)+1),
				logging.Error(err),
			)
		}),
	)
	if err == nil {
		return nil
	}
	if services.Interrupted(err) {
		// A cancelled run is not a stage failure; the job stays resumable.
		return fmt.Errorf("stage %s interrupted: %w", opts.Stage, err)
	}

	message := fmt.Sprintf("%s: %v", opts.Stage, err)
	if opts.Store != nil && opts.JobID != "" {
		// The failure checkpoint must land even when the surrounding run
		// context was cancelled right after the unit failed.
		if persistErr := opts.Store.MarkFailed(context.WithoutCancel(ctx), opts.JobID, message); persistErr != nil {
			logger.Error("persist stage failure",
				logging.String(logging.FieldJobID, opts.JobID),
				logging.String(logging.FieldStage, string(opts.Stage)),
				logging.Error(persistErr),
			)
		}
	}
	logger.Error("stage unit failed",
		logging.String(logging.FieldJobID, opts.JobID),
		logging.String(logging.FieldStage, string(opts.Stage)),
		logging.Error(err),
	)
	return fmt.Errorf("stage %s exhausted retries: %w", opts.Stage, err)
}
