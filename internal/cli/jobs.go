package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect jobs",
	Long: `List all jobs known to the server or inspect a specific job by ID.

Examples:
  docjobs jobs           # List all jobs
  docjobs jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return showJob(ctx, out, args[0])
	}
	return listJobs(ctx, out)
}

func listJobs(ctx context.Context, out io.Writer) error {
	jobs, err := apiClient.List(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %-10s %-9s %-20s %s\n", "ID", "KIND", "STATUS", "PROGRESS", "COLLECTION", "STARTED")
	fmt.Fprintln(out, "----------------------------------------------------------------------------")

	for _, job := range jobs {
		fmt.Fprintf(out, "%-10s %-10s %-10s %-9s %-20s %s\n",
			job.ID, job.Kind, job.Status, fmt.Sprintf("%d%%", job.Progress),
			job.Params.Collection, job.StartedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, out io.Writer, id string) error {
	job, err := apiClient.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJob(out, job)
	return nil
}

func printJob(out io.Writer, job *models.JobSnapshot) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Kind: %s\n", job.Kind)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Progress: %d%%\n", job.Progress)
	if job.Message != "" {
		fmt.Fprintf(out, "  Message: %s\n", job.Message)
	}
	fmt.Fprintf(out, "  Collection: %s (field %q)\n", job.Params.Collection, job.Params.TextField)
	fmt.Fprintf(out, "  Provider: %s %s\n", job.Params.Provider.Name, job.Params.Provider.Model)
	fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}

	if job.Error != nil {
		fmt.Fprintf(out, "  Error (%s): %s\n", job.Error.Class, job.Error.Message)
	}

	if len(job.Metrics) > 0 {
		fmt.Fprintln(out, "\nMetrics:")
		for _, name := range sortedKeys(job.Metrics) {
			fmt.Fprintf(out, "  %-24s %s\n", name+":", formatMetric(job.Metrics[name]))
		}
	}

	if len(job.Logs) > 0 {
		fmt.Fprintln(out, "\nRecent logs:")
		for _, line := range job.Logs {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// formatMetric prints whole numbers without a fractional part.
func formatMetric(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
