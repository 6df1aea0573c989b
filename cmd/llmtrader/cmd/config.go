package cmd

import (
	"fmt"

	"github.com/rustyeddy/llmtrader/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage run configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  llmtrader config init --output llmtrader.yaml
  llmtrader config validate --file llmtrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The format follows
the extension: .yaml, .json or .toml.

Example:
  llmtrader config init --output llmtrader.toml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  llmtrader config validate --file llmtrader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "llmtrader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  llmtrader backtest --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Account:  %s (%.2f %s)\n", cfg.Account.ID, cfg.Account.Balance, cfg.Account.Currency)
	fmt.Fprintf(out, "  Market:   %s %s\n", cfg.Backtest.Symbol, cfg.Backtest.Timeframe)
	fmt.Fprintf(out, "  Policy:   max %.0fx, %.0f%% of equity, RR >= %.1f\n",
		cfg.Policy.MaxLeverage, cfg.Policy.MaxPositionPct, cfg.Policy.MinRiskReward)
	if cfg.Backtest.Decisions != "" {
		fmt.Fprintf(out, "  Source:   fixture %s\n", cfg.Backtest.Decisions)
	} else {
		fmt.Fprintf(out, "  Source:   oracle %s (cache: %s)\n", cfg.Oracle.Model, cfg.Cache.Type)
	}
	fmt.Fprintf(out, "  Journal:  %s\n", cfg.Journal.Type)
	if n := len(cfg.Sweep.Variants); n > 0 {
		fmt.Fprintf(out, "  Sweep:    %d variants, %d at a time\n", n, cfg.Sweep.Concurrency)
	}
	return nil
}
