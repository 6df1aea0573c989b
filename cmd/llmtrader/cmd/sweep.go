package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replay the same bars under several policy variants",
	Long: `Sweep runs every variant listed under sweep.variants against the same
bars, sweep.concurrency at a time. Each variant gets its own portfolio,
journal and trade ID sequence, so results are comparable and repeatable.

Example:
  llmtrader sweep --config sweep.yaml --data data/BTCUSDT-1h.csv`,
	RunE: runSweep,
}

var (
	swData        string
	swDecisions   string
	swJournal     string
	swConcurrency int
	swReport      string
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVarP(&swData, "data", "d", "", "bar CSV (overrides backtest.data)")
	sweepCmd.Flags().StringVar(&swDecisions, "decisions", "", "decision fixture (overrides backtest.decisions)")
	sweepCmd.Flags().StringVarP(&swJournal, "journal", "j", "", "journal type: memory, csv, sqlite or postgres")
	sweepCmd.Flags().IntVarP(&swConcurrency, "concurrency", "n", 0, "runs in flight (overrides sweep.concurrency)")
	sweepCmd.Flags().StringVarP(&swReport, "report", "r", "", "write all reports as JSON here")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, swData, swDecisions, "", swJournal); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if swConcurrency > 0 {
		cfg.Sweep.Concurrency = swConcurrency
	}
	log := newLogger(cfg)
	ctx := cmd.Context()

	bars, err := loadBars(cfg)
	if err != nil {
		return err
	}
	variants, err := cfg.Variants()
	if err != nil {
		return err
	}

	sources, err := newSourceFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sources.Close()

	results, err := backtest.Sweep(ctx, bars, variants, backtest.SweepOptions{
		Concurrency: cfg.Sweep.Concurrency,
		Logger:      log,
		Source:      sources.name,
		NewSource: func(v backtest.Variant) (backtest.DecisionSource, error) {
			return sources.For(v.Config.Policy), nil
		},
		NewJournal: func(v backtest.Variant) (journal.Journal, error) {
			return openJournal(ctx, cfg.Journal, v.Name)
		},
	})
	printSweep(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}

	if swReport != "" {
		reports := make(map[string]*backtest.Report, len(results))
		for _, r := range results {
			if r.Report != nil {
				reports[r.Variant] = r.Report
			}
		}
		if err := writeJSON(swReport, reports); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reports written to %s\n", swReport)
	}

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d variants failed", countFailed(results), len(results))
		}
	}
	return nil
}

func printSweep(w io.Writer, results []backtest.SweepResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tTRADES\tWIN%\tRETURN%\tMAXDD%\tSHARPE\tFALLBACKS\tREJECTED\tERROR")
	for _, r := range results {
		if r.Report == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t-\t%s\n", r.Variant, oneLine(r.Err))
			continue
		}
		m, c := r.Report.Metrics, r.Report.Counters
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%d\t%d\t%s\n",
			r.Variant, m.TotalTrades, m.WinRatePct, m.TotalReturnPct, m.MaxDrawdownPct, m.Sharpe,
			c.Fallbacks, c.ValidationFailures+c.RejectedOrders, oneLine(r.Err))
	}
	_ = tw.Flush()
}

func oneLine(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

func countFailed(results []backtest.SweepResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
