package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/rustyeddy/llmtrader/risk"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <response-file|->",
	Short: "Sanitize and validate one model reply",
	Long: `Sanitize extracts the decision from a raw model reply, normalizes its
numbers and checks it against the configured risk policy.

Example:
  llmtrader sanitize reply.txt --price 50000 --equity 10000`,
	Args: cobra.ExactArgs(1),
	RunE: runSanitize,
}

var (
	snPrice  float64
	snEquity float64
)

func init() {
	rootCmd.AddCommand(sanitizeCmd)

	sanitizeCmd.Flags().Float64Var(&snPrice, "price", 0, "expected entry price (needed for open actions without entry_price)")
	sanitizeCmd.Flags().Float64Var(&snEquity, "equity", 10000, "account equity used for position size checks")
}

func runSanitize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	var raw []byte
	if args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	out := cmd.OutOrStdout()
	res := decision.Sanitize(string(raw))
	fmt.Fprintf(out, "Outcome:    %s\n", res.Kind)
	if res.Failure != nil {
		fmt.Fprintf(out, "Failure:    %s\n", res.Failure)
	}
	if res.Reasoning != "" {
		fmt.Fprintf(out, "Reasoning:  %s\n", res.Reasoning)
	}
	fields, err := json.MarshalIndent(res.Fields, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Fields:\n%s\n", fields)

	if res.IsFallback() {
		return nil
	}

	check := risk.Validate(res.Fields, cfg.RiskPolicy(), risk.Quote{
		EntryPrice: decimal.NewFromFloat(snPrice),
		Equity:     decimal.NewFromFloat(snEquity),
	})
	if !check.OK {
		fmt.Fprintln(out, "Validation: FAILED")
		for _, msg := range check.Errors() {
			fmt.Fprintf(out, "  - %s\n", msg)
		}
		return check.Err()
	}

	ins, err := decision.Build(res.Fields, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Validation: OK (%s)\n", ins.Action())
	if res.Fields.Action().IsOpen() {
		fmt.Fprintf(out, "  Risk/reward:  %s\n", check.PlannedRR.StringFixed(2))
		fmt.Fprintf(out, "  Risk (USD):   %s\n", check.PlannedRiskUSD.StringFixed(2))
		fmt.Fprintf(out, "  Position %%:   %s\n", check.PositionPct.StringFixed(2))
	}
	return nil
}
