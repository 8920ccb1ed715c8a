package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/donor-import/internal/model"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsJSON   bool
	jobsReason string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel import jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent import jobs for the caller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := callerContext(cmd.Context())
		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Service.List(ctx, model.JobStatus(jobsStatus), jobsLimit)
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		if jobsJSON {
			return writeJSON(cmd.OutOrStdout(), jobs)
		}
		if len(jobs) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No import jobs found.")
			return nil
		}
		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the progress of an import job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := callerContext(cmd.Context())
		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Service.Status(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "job %s", args[0])
		}
		return writeJSON(cmd.OutOrStdout(), view)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running import job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := callerContext(cmd.Context())
		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.Cancel(ctx, args[0], jobsReason); err != nil {
			return eris.Wrapf(err, "cancel job %s", args[0])
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending, validating, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "max jobs to show")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "output as JSON")
	jobsCancelCmd.Flags().StringVar(&jobsReason, "reason", "", "reason recorded on the job")

	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func formatJobsList(out io.Writer, jobs []model.ImportJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tPROGRESS\tOK\tERRORS\tSKIPPED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t--\t------\t-------\t-------\t--------")

	for _, j := range jobs {
		name := j.FileName
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(j.ID),
			name,
			j.Status,
			j.ProcessedRows, j.TotalRows,
			j.SuccessfulRows,
			j.ErrorRows,
			j.SkippedRows,
			j.CreatedAt.Format("2006-01-02 15:04"),
			jobDuration(j),
		)
	}
	_ = w.Flush()
}

// jobDuration is the run time of a started job; blank until it starts.
func jobDuration(j model.ImportJob) string {
	if j.StartedAt == nil {
		return ""
	}
	end := j.UpdatedAt
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt).Round(time.Second).String()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
