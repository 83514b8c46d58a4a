// Package cli provides the command-line interface for docjobs.
package cli

import (
	"fmt"

	"github.com/raphaelgruber/docjobs/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// Shared API client, created before any subcommand runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docjobs",
	Short: "Run embedding, extraction and tokenization jobs over document collections",
	Long: `docjobs submits long-running batch jobs to a docjobs server and follows
their progress. A job pages through a document collection, sends each batch
through an embedding, entity extraction or tokenization provider and writes
one output unit per batch.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		fmt.Sprintf("server URL (default $DOCJOBS_SERVER_URL or %s)", client.DefaultURL))
}
