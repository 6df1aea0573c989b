package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/config"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/spf13/cobra"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay bars through the decision pipeline",
	Long: `Backtest replays a bar CSV (timestamp,open,high,low,close,volume) and asks
the decision source for an instruction on every bar.

Decisions come from a fixture file (--decisions) or, when none is given, from
the configured chat-completions endpoint.

Example:
  llmtrader backtest --data data/BTCUSDT-1h.csv --decisions decisions.yaml --report report.json`,
	RunE: runBacktest,
}

var (
	btData      string
	btDecisions string
	btSymbol    string
	btJournal   string
	btReport    string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btData, "data", "d", "", "bar CSV (overrides backtest.data)")
	backtestCmd.Flags().StringVar(&btDecisions, "decisions", "", "decision fixture, YAML or JSON (overrides backtest.decisions)")
	backtestCmd.Flags().StringVarP(&btSymbol, "symbol", "s", "", "symbol (overrides backtest.symbol)")
	backtestCmd.Flags().StringVarP(&btJournal, "journal", "j", "", "journal type: memory, csv, sqlite or postgres")
	backtestCmd.Flags().StringVarP(&btReport, "report", "r", "", "write the JSON report here")
}

// applyRunFlags layers command line overrides on cfg.
func applyRunFlags(cfg *config.Config, data, decisions, symbol, journalType string) error {
	if data != "" {
		cfg.Backtest.Data = data
	}
	if decisions != "" {
		cfg.Backtest.Decisions = decisions
	}
	if symbol != "" {
		cfg.Backtest.Symbol = symbol
	}
	if journalType != "" {
		cfg.Journal.Type = journalType
	}
	return cfg.Validate()
}

func loadBars(cfg *config.Config) ([]market.Bar, error) {
	from, to, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	bars, err := market.LoadBarsCSV(cfg.Backtest.Data, from, to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars in %s", cfg.Backtest.Data)
	}
	return bars, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg, btData, btDecisions, btSymbol, btJournal); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	log := newLogger(cfg)
	ctx := cmd.Context()

	bars, err := loadBars(cfg)
	if err != nil {
		return err
	}
	bc, err := cfg.BacktestRunConfig()
	if err != nil {
		return err
	}

	sources, err := newSourceFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sources.Close()

	j, err := openJournal(ctx, cfg.Journal, "")
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	eng, err := backtest.NewEngine(bc, sources.For(bc.Policy), backtest.Options{
		Journal:   j,
		Logger:    log,
		Source:    sources.name,
		ConfigDoc: configDoc(cfg),
	})
	if err != nil {
		_ = j.Close()
		return err
	}
	defer eng.Close()

	rep, err := eng.Run(ctx, bars)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	run := rep.BacktestRun(bc.InitialCapital)
	run.Dataset = bc.Dataset
	run.Source = sources.name
	backtest.PrintBacktestRun(cmd.OutOrStdout(), run)

	if btReport != "" {
		if err := writeJSON(btReport, rep); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", btReport)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
