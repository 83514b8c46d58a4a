package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Request cancellation of a job. The job stops between pages and ends as
failed with error class "canceled".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Cancel(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <job-id>...",
	Aliases: []string{"remove"},
	Short:   "Forget finished jobs",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := apiClient.Remove(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rmCmd)
}
