// Command expctl is a command line client for the experiments engine HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	internalURL string
)

var rootCmd = &cobra.Command{
	Use:   "expctl",
	Short: "Manage A/B experiments",
	Long: `expctl talks to the experiments engine.

Public commands use --server; lifecycle commands (pause, resume, stop,
split, summaries) use the operator API at --internal.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("EXPCTL_SERVER", "http://localhost:8080"), "Public API base URL")
	rootCmd.PersistentFlags().StringVar(&internalURL, "internal", envOr("EXPCTL_INTERNAL", "http://localhost:8081"), "Operator API base URL")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
