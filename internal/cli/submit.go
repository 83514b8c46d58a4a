package cli

import (
	"fmt"

	"github.com/raphaelgruber/docjobs/internal/jobspec"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/spf13/cobra"
)

var (
	submitFile       string
	submitCollection string
	submitTextField  string
	submitIDField    string
	submitFilter     string
	submitBatchSize  int
	submitMaxBatches int
	submitProvider   string
	submitModel      string
	submitOptions    map[string]string
	submitWatch      bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [embed|extract|tokenize]",
	Short: "Submit a job",
	Long: `Submit a job to the server, either from a YAML or JSON job file or from flags.

Examples:
  docjobs submit -f job.yaml --watch
  docjobs submit embed --collection articles --text-field body --provider ollama --model nomic-embed-text
  docjobs submit tokenize --collection articles --text-field body --provider tiktoken --max-batches 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "job file (YAML or JSON)")
	submitCmd.Flags().StringVar(&submitCollection, "collection", "", "collection to read")
	submitCmd.Flags().StringVar(&submitTextField, "text-field", "", "field holding the text to transform")
	submitCmd.Flags().StringVar(&submitIDField, "id-field", "", "field holding the document id (default \"id\")")
	submitCmd.Flags().StringVar(&submitFilter, "filter", "", "store-specific filter expression")
	submitCmd.Flags().IntVar(&submitBatchSize, "batch-size", 0, "documents per page (server default when 0)")
	submitCmd.Flags().IntVar(&submitMaxBatches, "max-batches", 0, "stop after this many pages (0 for no limit)")
	submitCmd.Flags().StringVarP(&submitProvider, "provider", "p", "", "provider name")
	submitCmd.Flags().StringVarP(&submitModel, "model", "m", "", "provider model")
	submitCmd.Flags().StringToStringVarP(&submitOptions, "option", "o", nil, "provider option key=value (repeatable)")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow the job until it finishes")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := buildSubmitRequest(args)
	if err != nil {
		return err
	}

	id, err := apiClient.Submit(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	if !submitWatch {
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s job %s\n", req.Kind, id)
	return RunJobProgress(cmd.Context(), apiClient, id, cmd.OutOrStdout())
}

func buildSubmitRequest(args []string) (models.SubmitRequest, error) {
	if submitFile != "" {
		v, err := jobspec.NewValidator()
		if err != nil {
			return models.SubmitRequest{}, err
		}
		req, err := v.ParseFile(submitFile)
		if err != nil {
			return models.SubmitRequest{}, err
		}
		if len(args) == 1 && args[0] != req.Kind {
			return models.SubmitRequest{}, fmt.Errorf("job file declares kind %q, not %q", req.Kind, args[0])
		}
		return req, nil
	}

	if len(args) == 0 {
		return models.SubmitRequest{}, fmt.Errorf("job kind is required without --file")
	}

	var options map[string]any
	if len(submitOptions) > 0 {
		options = make(map[string]any, len(submitOptions))
		for k, v := range submitOptions {
			options[k] = v
		}
	}

	return models.SubmitRequest{
		Kind: args[0],
		Params: models.JobParams{
			Collection: submitCollection,
			TextField:  submitTextField,
			IDField:    submitIDField,
			Filter:     submitFilter,
			BatchSize:  submitBatchSize,
			MaxBatches: submitMaxBatches,
			Provider: models.ProviderSpec{
				Name:    submitProvider,
				Model:   submitModel,
				Options: options,
			},
		},
	}, nil
}
