package pipeline

import (
	"errors"
	"log/slog"

	"loom/internal/boundary"
	"loom/internal/config"
	"loom/internal/jobs"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/ports"
)

// Deps carries every collaborator the pipeline needs. It is constructed once
// at startup and passed down explicitly; no package-level state exists.
type Deps struct {
	Config   *config.Config
	Store    *jobs.Store
	Content  ports.ContentStore
	Detector ports.BoundaryDetector
	Notifier notifications.Service
	Logger   *slog.Logger

	// Analyzer drives the per-segment analysis and layout stages.
	Analyzer StageAnalyzer

	// Resolver corrects detector output against persisted segments. Optional;
	// a default resolver is built from Logger when nil.
	Resolver *boundary.Resolver

	// Dispatcher receives a message whenever a job is created, so a running
	// worker picks it up without waiting out a poll interval. Optional;
	// NewWorker installs the worker itself when nothing else is wired.
	Dispatcher ports.Dispatcher
}

func (d *Deps) validate() error {
	switch {
	case d == nil:
		return errors.New("pipeline deps are required")
	case d.Config == nil:
		return errors.New("config is required")
	case d.Store == nil:
		return errors.New("job store is required")
	case d.Content == nil:
		return errors.New("content store is required")
	case d.Analyzer == nil:
		return errors.New("analyzer is required")
	case d.Detector == nil:
		return errors.New("boundary detector is required")
	}
	return nil
}

func (d *Deps) normalize() {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Resolver == nil {
		d.Resolver = boundary.NewResolver(d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = notifications.NewService(d.Config)
	}
}
