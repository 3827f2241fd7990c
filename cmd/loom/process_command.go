package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/jobs"
	"loom/internal/pipeline"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "process [file]",
		Short: "Run a document through the pipeline",
		Long: "Process reads a document from the given file (or stdin when no file " +
			"is supplied), creates a job for it, and drives every pipeline stage to " +
			"completion in the foreground. With --job-id an existing job is resumed " +
			"from its last completed stage.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(source) == "" && strings.TrimSpace(jobID) == "" {
				return fmt.Errorf("no input: supply a file, pipe text on stdin, or resume with --job-id")
			}

			return ctx.withStore(func(cfg *config.Config, store *jobs.Store) error {
				deps, err := buildDeps(cfg, store, commandLogger(cfg))
				if err != nil {
					return err
				}
				coordinator, err := pipeline.NewCoordinator(deps)
				if err != nil {
					return err
				}
				// Foreground runs claim the job like the daemon does, so a
				// concurrent background worker never processes the same job.
				worker, err := pipeline.NewWorker(deps)
				if err != nil {
					return err
				}

				job, err := coordinator.CreateOrResume(cmd.Context(), source, strings.TrimSpace(jobID))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Processing job %s\n", job.ID)

				if err := worker.ProcessJob(cmd.Context(), job.ID); err != nil {
					return fmt.Errorf("job %s failed: %w", shortJobID(job.ID), err)
				}

				final, err := store.GetByID(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Job %s %s: %d segments, %d units, %d pages\n",
					shortJobID(final.ID), final.Status, final.SegmentCount, final.UnitCount, final.PageCount)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Resume an existing job instead of creating a new one")
	return cmd
}

func readSource(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read document %q: %w", args[0], err)
		}
		return string(data), nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return "", nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
