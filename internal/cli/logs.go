package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsLastN int

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Print the retained log lines of a job",
	Long: `Print the log lines the server retained for a job. Only the most recent
lines are kept per job; older lines are dropped.

Examples:
  docjobs logs abc123              # All retained lines
  docjobs logs abc123 --last-n 20  # Last 20 lines`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsLastN < -1 {
			return fmt.Errorf("--last-n must be -1 (all) or a non-negative number")
		}
		lines, err := apiClient.Logs(cmd.Context(), args[0], logsLastN)
		if err != nil {
			return fmt.Errorf("get logs: %w", err)
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLastN, "last-n", "n", -1, "number of lines to print (-1 for all)")
	rootCmd.AddCommand(logsCmd)
}
