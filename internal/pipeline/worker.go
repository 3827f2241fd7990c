package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/ports"
	"loom/internal/services"
)

// Worker polls for pending jobs, claims them under a lease, and drives the
// coordinator end to end. One worker processes one job at a time; running
// several workers against the same database is safe because exclusion is
// enforced entirely by the lease.
type Worker struct {
	coordinator *Coordinator
	deps        *Deps
	id          string
	logger      *slog.Logger

	poll       time.Duration
	errorRetry time.Duration
	lease      time.Duration
	renew      time.Duration

	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewWorker builds a worker with a fresh identity.
func NewWorker(deps *Deps) (*Worker, error) {
	coordinator, err := NewCoordinator(deps)
	if err != nil {
		return nil, err
	}

	cfg := deps.Config.Worker
	poll := time.Duration(cfg.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	errorRetry := time.Duration(cfg.ErrorRetryInterval) * time.Second
	if errorRetry <= 0 {
		errorRetry = poll
	}
	lease := time.Duration(cfg.LeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	renew := time.Duration(cfg.LeaseRenewInterval) * time.Second
	if renew <= 0 || renew >= lease {
		renew = lease / 4
	}

	id := "worker-" + uuid.NewString()[:8]
	w := &Worker{
		coordinator: coordinator,
		deps:        deps,
		id:          id,
		logger: deps.Logger.With(
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldWorkerID, id),
		),
		poll:       poll,
		errorRetry: errorRetry,
		lease:      lease,
		renew:      renew,
		wake:       make(chan struct{}, 1),
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = w
	}
	return w, nil
}

// ID returns the worker identity used for leases.
func (w *Worker) ID() string {
	return w.id
}

// Enqueue satisfies the dispatch port: it wakes the poll loop so a freshly
// created job is picked up without waiting out the interval.
func (w *Worker) Enqueue(_ context.Context, _ ports.Message) error {
	w.Wake()
	return nil
}

// Wake nudges the poll loop.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start launches the poll loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		default:
		}

		if err := w.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("processing cycle failed", logging.Error(err))
			if notifyErr := w.deps.Notifier.NotifyError(ctx, err, "processing cycle"); notifyErr != nil {
				w.logger.Warn("error notification", logging.Error(notifyErr))
			}
			w.sleep(ctx, w.errorRetry)
			continue
		}
		w.sleep(ctx, w.poll)
	}
}

// Tick runs one poll cycle: reclaim expired leases, then claim and process
// the oldest pending job if any. Exposed for one-shot callers and tests.
func (w *Worker) Tick(ctx context.Context) error {
	reclaimed, err := w.deps.Store.ReclaimExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		w.logger.Info("reclaimed expired leases", logging.Int64("count", reclaimed))
	}

	job, err := w.deps.Store.NextPending(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	acquired, err := w.deps.Store.AcquireLease(ctx, job.ID, w.id, w.lease)
	if err != nil {
		return err
	}
	if !acquired {
		// Another worker got there first; an expected outcome, not an error.
		return nil
	}
	if runErr := w.process(ctx, job); runErr != nil && !services.Interrupted(runErr) {
		w.logger.Error("job failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(runErr),
		)
	}
	// A failed job is not a cycle error; the worker keeps polling.
	return nil
}

// ProcessJob claims one specific job and drives it to a terminal status under
// the same lease, heartbeat, and release discipline as the poll loop. It is
// the entry point for foreground runs that must not race a background worker.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) error {
	job, err := w.deps.Store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "worker", "process-job", "job "+jobID, nil)
	}
	if job.Status == jobs.StatusCompleted {
		return nil
	}
	if job.Status == jobs.StatusFailed {
		if _, err := w.deps.Store.RetryFailed(ctx, jobID); err != nil {
			return err
		}
	}
	// A crashed run may have left the job processing under a dead lease.
	if _, err := w.deps.Store.ReclaimExpiredLeases(ctx, time.Now().UTC()); err != nil {
		return err
	}

	acquired, err := w.deps.Store.AcquireLease(ctx, jobID, w.id, w.lease)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("job %s is already claimed by another worker", jobID)
	}
	return w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *jobs.Job) error {
	jobID := job.ID
	ctx = services.WithWorkerID(ctx, w.id)
	logger := w.logger.With(logging.String(logging.FieldJobID, jobID))
	logger.Info("claimed job")
	if err := w.deps.Notifier.NotifyJobStarted(ctx, jobID, job.SourceDocumentID); err != nil {
		logger.Warn("start notification", logging.Error(err))
	}

	hb := &heartbeat{
		store:    w.deps.Store,
		logger:   w.deps.Logger,
		interval: w.renew,
		duration: w.lease,
	}
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	lost := make(chan struct{})
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go hb.loop(hbCtx, &hbWG, jobID, w.id, lost)

	runCtx, cancelRun := context.WithCancel(ctx)
	go func() {
		select {
		case <-lost:
			cancelRun()
		case <-hbCtx.Done():
		}
	}()

	status, runErr := w.coordinator.Run(runCtx, jobID)
	stopHeartbeat()
	cancelRun()
	hbWG.Wait()

	// The exit path runs on a detached context: an interrupted run that left
	// the job in processing goes back to pending, and the lease is released
	// whenever this worker still holds it. Both writes are scoped to this
	// worker's id so a lost lease never clobbers the new holder.
	exitCtx := context.WithoutCancel(ctx)
	requeued, requeueErr := w.deps.Store.RequeueLeased(exitCtx, jobID, w.id)
	if requeueErr != nil {
		logger.Error("requeue interrupted job", logging.Error(requeueErr))
	}
	if err := w.deps.Store.ReleaseLease(exitCtx, jobID, w.id); err != nil {
		logger.Error("release lease", logging.Error(err))
	}

	switch {
	case requeued:
		logger.Info("job returned to pending", logging.Error(runErr))
	case runErr != nil:
		logger.Error("job run failed", logging.Error(runErr))
	default:
		logger.Info("job finished", logging.String("status", string(status)))
	}
	return runErr
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.wake:
	}
}

var _ ports.Dispatcher = (*Worker)(nil)
