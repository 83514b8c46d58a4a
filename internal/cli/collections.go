package cli

import (
	"fmt"

	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections in the server's document store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := apiClient.Collections(cmd.Context())
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server job counts and operation timings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Uptime: %.0fs\n", snap.UptimeSeconds)
		fmt.Fprintf(out, "Jobs: %d submitted, %d completed, %d failed\n",
			snap.Jobs.Submitted, snap.Jobs.Completed, snap.Jobs.Failed)

		fmt.Fprintf(out, "\n%-10s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "AVG MS", "MAX MS", "ITEMS")
		for _, row := range []struct {
			name string
			op   *metrics.OperationSnapshot
		}{
			{metrics.OpLoad, snap.Load},
			{metrics.OpFetch, snap.Fetch},
			{metrics.OpTransform, snap.Transform},
			{metrics.OpPersist, snap.Persist},
		} {
			if row.op == nil {
				fmt.Fprintf(out, "%-10s %8d\n", row.name, 0)
				continue
			}
			items := "-"
			if row.op.TotalItems != nil {
				items = fmt.Sprintf("%d", *row.op.TotalItems)
			}
			fmt.Fprintf(out, "%-10s %8d %10.1f %10d %10s\n",
				row.name, row.op.Count, row.op.AvgTimeMs, row.op.MaxTimeMs, items)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(statsCmd)
}
