package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "llmtrader",
	Short: "Backtest LLM-driven leveraged futures strategies",
	Long: `llmtrader replays historical bars through a decision-guarded portfolio.

Each bar the decision source (a fixture file or a live chat-completions
model) is asked for an instruction. The reply is sanitized, checked against
the risk policy and only then applied to an exact-decimal portfolio that
models linear and inverse contracts, margin and liquidation.

It provides tools for:
  - Backtesting one configuration against a bar CSV
  - Sweeping several policy variants concurrently
  - Sanitizing and validating a single model reply
  - Querying journaled runs and trades`,
	SilenceUsage: true,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation between bars.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (.yaml, .json or .toml); defaults when empty")
}
