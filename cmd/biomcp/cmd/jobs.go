package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newJobsCmd groups the job-queue inspection commands for operators
// who are not driving jobs through the HTTP surface.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queued/running jobs",
	}
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsCancelCmd())
	return cmd
}

func withJobQueue(cmd *cobra.Command, fn func(app *AppContext) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := setupLogging(*cfg, "")
	if err != nil {
		return err
	}
	defer cleanup()

	app, err := buildAppContext(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

func newJobsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job's state, progress, and result or error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobQueue(cmd, func(app *AppContext) error {
				job, err := app.Jobs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			})
		},
	}
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var tool, state string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by tool and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobQueue(cmd, func(app *AppContext) error {
				jobList, err := app.Jobs.List(cmd.Context(), tool, state, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd, jobList)
			})
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "filter by tool name")
	cmd.Flags().StringVar(&state, "state", "", "filter by job state (queued, running, succeeded, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	return cmd
}

func newJobsCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running or queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobQueue(cmd, func(app *AppContext) error {
				if err := app.Jobs.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s cancelled\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
