package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/config"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query journaled runs and trades",
	Long: `Query run summaries and trades from the SQLite or Postgres journal.

Subcommands:
  run    - Show a run summary and its trades
  trade  - Get details of a specific trade by ID (SQLite)
  day    - List trades closed on a specific day (SQLite)

Examples:
  llmtrader journal run 01HQ...
  llmtrader journal day 2024-01-15 --db runs.sqlite`,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a run summary and its trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVar(&journalDBPath, "db", "", "SQLite journal (overrides journal.db_path)")
}

func openReader(cmd *cobra.Command) (journal.Reader, func() error, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	jc := cfg.Journal
	if journalDBPath != "" {
		jc = config.JournalConfig{Type: "sqlite", DBPath: journalDBPath}
	}
	j, err := openJournal(cmd.Context(), jc, "")
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	r, ok := j.(journal.Reader)
	if !ok || jc.Type == "memory" {
		_ = j.Close()
		return nil, nil, fmt.Errorf("journal type %q cannot be queried", jc.Type)
	}
	return r, j.Close, nil
}

func openSQLite(cmd *cobra.Command) (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		if cfg.Journal.Type != "sqlite" {
			return nil, fmt.Errorf("needs a SQLite journal (--db)")
		}
		path = cfg.Journal.DBPath
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	r, closeFn, err := openReader(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := r.GetBacktestRun(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	trades, err := r.ListTradesByRunID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}

	out := cmd.OutOrStdout()
	backtest.PrintBacktestRun(out, run)
	printTrades(out, trades)
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openSQLite(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Trade:    %s\n", rec.TradeID)
	fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
	fmt.Fprintf(out, "Symbol:   %s %s (%s)\n", rec.Symbol, rec.Side, rec.Settlement)
	fmt.Fprintf(out, "Entry:    %s @ %s\n", rec.EntryPrice, rec.OpenTime.Format(time.RFC3339))
	fmt.Fprintf(out, "Exit:     %s @ %s\n", rec.ExitPrice, rec.CloseTime.Format(time.RFC3339))
	fmt.Fprintf(out, "Quantity: %s\n", rec.Quantity)
	fmt.Fprintf(out, "P/L:      %s (%s%%)\n", rec.PnL.StringFixed(2), rec.PnLPct.StringFixed(2))
	fmt.Fprintf(out, "Reason:   %s\n", rec.Reason)
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	day, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return fmt.Errorf("bad day %q: %w", args[0], err)
	}
	j, err := openSQLite(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	trades, err := j.ListTradesClosedBetween(day, day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	printTrades(cmd.OutOrStdout(), trades)
	return nil
}

func printTrades(w io.Writer, trades []journal.TradeRecord) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No trades.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLOSED\tSYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tPNL\tREASON")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CloseTime.Format("2006-01-02 15:04"), t.Symbol, t.Side, t.Quantity,
			t.EntryPrice, t.ExitPrice, t.PnL.StringFixed(2), t.Reason)
	}
	_ = tw.Flush()
}
