package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/pipeline"
)

// Daemon runs the background worker and enforces single-instance execution
// through a lock file in the data directory. Lease exclusion in the database
// already keeps concurrent workers safe; the lock exists so operators do not
// accidentally run two daemons against one installation.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobs.Store
	worker *pipeline.Worker

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	WorkerID     string
	JobDBPath    string
	LockFilePath string
}

// New constructs a daemon around an already-built worker.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, worker *pipeline.Worker) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || worker == nil {
		return nil, errors.New("daemon requires config, store, logger, and worker")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "loomd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		worker:   worker,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the worker loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.worker.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start worker: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("loom daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldWorkerID, d.worker.ID()),
	)
	return nil
}

// Stop halts the worker and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.worker.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close stops the daemon and closes its store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns current runtime information.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		WorkerID:     d.worker.ID(),
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
