package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage pipeline jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobsHealthCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				statuses, err := parseStatuses(listStatuses)
				if err != nil {
					return err
				}
				items, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				rows := buildJobListRows(items)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				out := renderTable(
					[]string{"ID", "Status", "Step", "Progress", "Segments", "Pages", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				job, err := store.GetByID(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %q not found", args[0])
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:        %s\n", job.ID)
				fmt.Fprintf(out, "Source:    %s\n", job.SourceDocumentID)
				fmt.Fprintf(out, "Status:    %s\n", formatStatusLabel(string(job.Status)))
				fmt.Fprintf(out, "Step:      %s (%s)\n", formatStatusLabel(string(job.CurrentStep)), formatProgress(job))
				fmt.Fprintf(out, "Segments:  %d\n", job.SegmentCount)
				fmt.Fprintf(out, "Units:     %d\n", job.UnitCount)
				fmt.Fprintf(out, "Pages:     %d\n", job.PageCount)
				fmt.Fprintf(out, "Retries:   %d\n", job.RetryCount)
				fmt.Fprintf(out, "Created:   %s\n", formatDisplayTime(job.CreatedAt))
				fmt.Fprintf(out, "Updated:   %s\n", formatDisplayTime(job.UpdatedAt))
				for _, step := range jobs.Steps() {
					fmt.Fprintf(out, "  %-12s %s\n", string(step)+":", yesNo(job.StepDone(step)))
				}
				if job.LockedBy != "" {
					fmt.Fprintf(out, "Locked by: %s\n", job.LockedBy)
					if job.LeaseExpiresAt != nil {
						fmt.Fprintf(out, "Lease:     expires %s\n", formatDisplayTime(*job.LeaseExpiresAt))
					}
				}
				if job.LastError != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.LastError)
				}
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Return failed jobs to the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				ids := make([]string, 0, len(args))
				for _, arg := range args {
					if id := strings.TrimSpace(arg); id != "" {
						ids = append(ids, id)
					}
				}
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", count)
				return nil
			})
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job and all of its stage data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				id := strings.TrimSpace(args[0])
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("job %q not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", id)
				return nil
			})
		},
	}
}

func newJobsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregated job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total:      %d\n", health.Total)
				fmt.Fprintf(out, "Pending:    %d\n", health.Pending)
				fmt.Fprintf(out, "Processing: %d\n", health.Processing)
				fmt.Fprintf(out, "Completed:  %d\n", health.Completed)
				fmt.Fprintf(out, "Failed:     %d\n", health.Failed)
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs yet")
					return nil
				}
				out := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]jobs.Status, error) {
	statuses := make([]jobs.Status, 0, len(values))
	for _, value := range values {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
