package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/market"
	"golang.org/x/sync/errgroup"
)

// Variant is one configuration of a sweep.
type Variant struct {
	Name   string
	Config Config
}

type SweepResult struct {
	Variant string
	Report  *Report
	Err     error
}

type SweepOptions struct {
	Concurrency int // zero or less means one run at a time
	Logger      *slog.Logger
	Source      string // stored with each run summary

	// NewSource builds the decision source of a variant. Required.
	NewSource func(Variant) (DecisionSource, error)
	// NewJournal builds the journal of a variant; nil means in-memory.
	NewJournal func(Variant) (journal.Journal, error)
}

// Sweep replays the same bars under every variant. Runs share nothing but
// the read-only bars. A failing variant is reported in its result and does
// not stop the others; results keep the order of variants. The returned
// error is non-nil only when ctx ends first.
func Sweep(ctx context.Context, bars []market.Bar, variants []Variant, opts SweepOptions) ([]SweepResult, error) {
	if opts.NewSource == nil {
		return nil, fmt.Errorf("backtest: sweep needs a source factory")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	results := make([]SweepResult, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, v := range variants {
		results[i].Variant = v.Name
		g.Go(func() error {
			rep, err := runVariant(gctx, bars, v, opts)
			results[i].Report = rep
			results[i].Err = err
			if err != nil {
				opts.Logger.Warn("sweep variant failed", "variant", v.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return results, nil
}

func runVariant(ctx context.Context, bars []market.Bar, v Variant, opts SweepOptions) (*Report, error) {
	src, err := opts.NewSource(v)
	if err != nil {
		return nil, fmt.Errorf("variant %s: source: %w", v.Name, err)
	}
	var j journal.Journal
	if opts.NewJournal != nil {
		if j, err = opts.NewJournal(v); err != nil {
			return nil, fmt.Errorf("variant %s: journal: %w", v.Name, err)
		}
	}

	eng, err := NewEngine(v.Config, src, Options{
		Journal: j,
		Logger:  opts.Logger.With("variant", v.Name),
		Source:  opts.Source,
	})
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		return nil, fmt.Errorf("variant %s: %w", v.Name, err)
	}
	defer eng.Close()

	return eng.Run(ctx, bars)
}
