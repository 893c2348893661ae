package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/experiments/internal/config"
	"github.com/xiaot623/gogo/experiments/internal/domain"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an experiment from a YAML definition",
	Long: `Create an experiment from a YAML file holding one experiment config.

Examples:
  expctl create -f greeting.yaml`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active experiment ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp domain.ListExperimentsResponse
		if err := NewClient(serverURL).Do(cmd.Context(), http.MethodGet, "/v1/experiments", nil, &resp); err != nil {
			return err
		}
		for _, id := range resp.Experiments {
			fmt.Println(id)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <experiment-id>",
	Short: "Show an active experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec domain.ExperimentRecord
		if err := NewClient(serverURL).Do(cmd.Context(), http.MethodGet, "/v1/experiments/"+args[0], nil, &rec); err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <experiment-id>",
	Short: "Run the variant assigned to a subject",
	Long: `Run the variant assigned to a subject and print the result.

Examples:
  expctl run exp_123 --subject user-42 --inputs '{"name":"Ada"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <experiment-id>",
	Short: "Show the analysis summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary domain.AnalysisSummary
		if err := NewClient(serverURL).Do(cmd.Context(), http.MethodGet, "/v1/experiments/"+args[0]+"/analysis", nil, &summary); err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "List recorded outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp domain.ResultsResponse
		if err := NewClient(serverURL).Do(cmd.Context(), http.MethodGet, "/v1/experiments/"+args[0]+"/results", nil, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

// Flags
var (
	createFile string
	runSubject string
	runRequest string
	runInputs  string
)

func init() {
	rootCmd.AddCommand(createCmd, listCmd, getCmd, runCmd, analyzeCmd, resultsCmd)

	createCmd.Flags().StringVarP(&createFile, "file", "f", "", "Experiment definition (YAML)")
	_ = createCmd.MarkFlagRequired("file")

	runCmd.Flags().StringVar(&runSubject, "subject", "", "Subject id; random when empty")
	runCmd.Flags().StringVar(&runRequest, "request-id", "", "Request id for idempotent retries")
	runCmd.Flags().StringVar(&runInputs, "inputs", "", "Inputs as a JSON object")
}

func runCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(createFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", createFile, err)
	}
	cfg, err := config.ParseExperiment(data)
	if err != nil {
		return err
	}

	var resp domain.CreateExperimentResponse
	if err := NewClient(serverURL).Do(cmd.Context(), http.MethodPost, "/v1/experiments", cfg, &resp); err != nil {
		return err
	}
	fmt.Println(resp.ExperimentID)
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	req := domain.RunRequest{SubjectID: runSubject, RequestID: runRequest}
	if runInputs != "" {
		if err := json.Unmarshal([]byte(runInputs), &req.Inputs); err != nil {
			return fmt.Errorf("invalid --inputs: %w", err)
		}
	}

	var resp domain.RunResponse
	if err := NewClient(serverURL).Do(cmd.Context(), http.MethodPost, "/v1/experiments/"+args[0]+"/run", req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}
