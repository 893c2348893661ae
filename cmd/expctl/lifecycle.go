package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

func statusCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <experiment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp domain.StatusResponse
			path := "/internal/experiments/" + args[0] + "/" + action
			if err := NewClient(internalURL).Do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", resp.ExperimentID, resp.Status)
			return nil
		},
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop <experiment-id>",
	Short: "Archive an experiment and print its final summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary domain.AnalysisSummary
		path := "/internal/experiments/" + args[0] + "/stop"
		if err := NewClient(internalURL).Do(cmd.Context(), http.MethodPost, path, nil, &summary); err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var splitCmd = &cobra.Command{
	Use:   "split <experiment-id> <variant=share>...",
	Short: "Replace the traffic split of a live experiment",
	Long: `Replace the traffic split of a live experiment. Existing subjects may
be reassigned.

Examples:
  expctl split exp_123 A=0.8 B=0.2`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		split, err := parseSplit(args[1:])
		if err != nil {
			return err
		}
		var rec domain.ExperimentRecord
		path := "/internal/experiments/" + args[0] + "/split"
		if err := NewClient(internalURL).Do(cmd.Context(), http.MethodPut, path, domain.TrafficSplitRequest{TrafficSplit: split}, &rec); err != nil {
			return err
		}
		return printJSON(rec.Config.TrafficSplit)
	},
}

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "List final summaries of archived experiments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp domain.ListSummariesResponse
		if err := NewClient(internalURL).Do(cmd.Context(), http.MethodGet, "/internal/summaries", nil, &resp); err != nil {
			return err
		}
		return printJSON(resp.Summaries)
	},
}

func init() {
	rootCmd.AddCommand(
		statusCommand("pause", "Stop new runs of an experiment"),
		statusCommand("resume", "Resume a paused experiment"),
		stopCmd,
		splitCmd,
		summariesCmd,
	)
}

// parseSplit parses "variant=share" pairs.
func parseSplit(pairs []string) (map[string]float64, error) {
	split := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid split %q, want variant=share", pair)
		}
		share, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid share for %s: %w", id, err)
		}
		split[id] = share
	}
	return split, nil
}
