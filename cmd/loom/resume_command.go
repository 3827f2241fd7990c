package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/jobs"
	"loom/internal/pipeline"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume an interrupted job from its last completed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.TrimSpace(args[0])
			return ctx.withStore(func(cfg *config.Config, store *jobs.Store) error {
				existing, err := store.GetByID(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				if existing == nil {
					return fmt.Errorf("job %q not found", jobID)
				}

				deps, err := buildDeps(cfg, store, commandLogger(cfg))
				if err != nil {
					return err
				}
				// Claim the job under a lease so a running daemon and a
				// foreground resume never drive the same job at once.
				worker, err := pipeline.NewWorker(deps)
				if err != nil {
					return err
				}

				if err := worker.ProcessJob(cmd.Context(), jobID); err != nil {
					return fmt.Errorf("job %s failed: %w", shortJobID(jobID), err)
				}
				final, err := store.GetByID(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s: %d segments, %d units, %d pages\n",
					shortJobID(final.ID), final.Status, final.SegmentCount, final.UnitCount, final.PageCount)
				return nil
			})
		},
	}
}
