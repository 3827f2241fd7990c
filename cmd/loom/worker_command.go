package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/jobs"
	"loom/internal/pipeline"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background worker until interrupted",
		Long: "Worker polls for pending jobs, claims them under a lease, and " +
			"processes them one at a time. Multiple workers may run against the " +
			"same database from different machines; a lock file prevents two " +
			"daemons from sharing one installation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobs.Store) error {
				signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				logger := commandLogger(cfg)
				deps, err := buildDeps(cfg, store, logger)
				if err != nil {
					return err
				}
				worker, err := pipeline.NewWorker(deps)
				if err != nil {
					return err
				}

				d, err := daemon.New(cfg, store, logger, worker)
				if err != nil {
					return err
				}
				if err := d.Start(signalCtx); err != nil {
					return err
				}
				defer d.Stop()

				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s running; press Ctrl-C to stop\n", worker.ID())
				<-signalCtx.Done()
				return nil
			})
		},
	}
}
