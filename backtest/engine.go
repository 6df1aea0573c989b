// Package backtest replays historical bars through the decision pipeline:
// mark to market, ask the decision source, sanitize, validate, apply,
// record equity. One Engine drives one run.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/metrics"
	"github.com/rustyeddy/llmtrader/pkg/id"
	"github.com/rustyeddy/llmtrader/portfolio"
	"github.com/rustyeddy/llmtrader/risk"
)

var (
	ErrCancelled = errors.New("backtest: run cancelled")
	ErrEngineRan = errors.New("backtest: engine already ran")
	ErrClosed    = errors.New("backtest: engine closed")
)

// Options are the collaborators of a run. The engine owns Journal and
// closes it in Close.
type Options struct {
	Journal   journal.Journal
	Logger    *slog.Logger
	Source    string // "fixture" or "oracle", stored with the run summary
	ConfigDoc []byte // config as loaded, stored with the run summary
}

type Engine struct {
	cfg  Config
	src  DecisionSource
	opts Options
	log  *slog.Logger
	pf   *portfolio.Portfolio

	mu     sync.RWMutex
	status Status
	ran    bool
	closed bool
}

func NewEngine(cfg Config, src DecisionSource, opts Options) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("backtest: decision source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = id.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Journal == nil {
		opts.Journal = journal.NewMemory()
	}
	log := opts.Logger.With("run_id", cfg.RunID, "symbol", cfg.Symbol)

	pf, err := portfolio.New(portfolio.Config{
		RunID:                 cfg.RunID,
		InitialCapital:        cfg.InitialCapital,
		MaintenanceMarginRate: cfg.Policy.MaintenanceMarginRate,
		Contracts:             cfg.Contracts,
		IDs:                   id.NewGenerator(cfg.Seed),
		Journal:               opts.Journal,
		Logger:                log,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	return &Engine{
		cfg:  cfg,
		src:  src,
		opts: opts,
		log:  log,
		pf:   pf,
		status: Status{
			RunID:  cfg.RunID,
			Symbol: cfg.Symbol,
			Equity: cfg.InitialCapital,
		},
	}, nil
}

func (e *Engine) RunID() string { return e.cfg.RunID }

// Portfolio exposes the run's portfolio for inspection.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// Close releases the journal. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.status.Running = false
	e.mu.Unlock()
	return e.opts.Journal.Close()
}

// Run replays bars in order. It fails only on a data gap, a journal error or
// cancellation; every decision problem turns into a wait for that bar.
// Cancellation is checked between bars.
func (e *Engine) Run(ctx context.Context, bars []market.Bar) (*Report, error) {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return nil, ErrClosed
	case e.ran:
		e.mu.Unlock()
		return nil, ErrEngineRan
	}
	e.ran = true
	e.status.Running = true
	e.status.Bars = len(bars)
	e.status.Started = time.Now()
	e.mu.Unlock()

	rep, err := e.run(ctx, bars)

	e.setStatus(func(s *Status) {
		s.Running = false
		s.Finished = time.Now()
		if err != nil {
			s.Err = err.Error()
		}
	})
	if err != nil {
		e.log.Error("backtest aborted", "error", err)
		return nil, err
	}
	return rep, nil
}

func (e *Engine) run(ctx context.Context, bars []market.Bar) (*Report, error) {
	step, err := market.TFDuration(e.cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, &market.DataGapError{Symbol: e.cfg.Symbol, Index: i, Time: b.Time, Reason: err.Error()}
		}
	}
	if err := market.CheckSeries(e.cfg.Symbol, bars, step, e.cfg.GapTolerance); err != nil {
		return nil, err
	}

	e.log.Info("backtest started", "bars", len(bars), "timeframe", e.cfg.Timeframe)

	rep := &Report{
		RunID:     e.cfg.RunID,
		Symbol:    e.cfg.Symbol,
		Timeframe: e.cfg.Timeframe,
	}
	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w before bar %d: %w", ErrCancelled, i, err)
		}
		if err := e.step(ctx, bars, i, rep); err != nil {
			return nil, err
		}
	}

	if e.cfg.CloseAtEnd && len(bars) > 0 {
		last := bars[len(bars)-1]
		if _, open := e.pf.Position(e.cfg.Symbol); open {
			if _, err := e.pf.Close(e.cfg.Symbol, last.Close, portfolio.ReasonEndOfRun, last.Time); err != nil {
				return nil, fmt.Errorf("backtest: close at end: %w", err)
			}
		}
	}

	ppy, err := market.PeriodsPerYear(e.cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	rep.Trades = e.pf.Trades()
	rep.EquityCurve = e.pf.EquityCurve()
	rep.Metrics = metrics.Compute(rep.EquityCurve, rep.Trades, e.cfg.InitialCapital, ppy)

	if rr, ok := e.opts.Journal.(journal.RunRecorder); ok {
		run := rep.BacktestRun(e.cfg.InitialCapital)
		run.Dataset = e.cfg.Dataset
		run.Source = e.opts.Source
		run.Config = e.opts.ConfigDoc
		if err := rr.RecordBacktest(ctx, run); err != nil {
			return nil, fmt.Errorf("backtest: record run: %w", err)
		}
	}

	e.log.Info("backtest finished",
		"trades", rep.Metrics.TotalTrades,
		"return_pct", rep.Metrics.TotalReturnPct,
		"max_dd_pct", rep.Metrics.MaxDrawdownPct,
		"fallbacks", rep.Counters.Fallbacks,
	)
	return rep, nil
}

// step processes one bar. Only journal failures come back as errors.
func (e *Engine) step(ctx context.Context, bars []market.Bar, i int, rep *Report) error {
	bar := bars[i]
	rep.Counters.Bars++

	tr, err := e.pf.MarkToMarket(e.cfg.Symbol, bar)
	if err != nil {
		return fmt.Errorf("backtest: bar %d: %w", i, err)
	}
	if tr != nil {
		rep.Counters.exit(tr.Reason)
	}

	entry, err := e.decide(ctx, bars, i, rep)
	if err != nil {
		return fmt.Errorf("backtest: bar %d: %w", i, err)
	}
	rep.Decisions = append(rep.Decisions, entry)

	pt, err := e.pf.RecordEquity(bar.Time)
	if err != nil {
		return fmt.Errorf("backtest: bar %d: %w", i, err)
	}

	e.setStatus(func(s *Status) {
		s.Bar = i + 1
		s.LastBar = bar.Time
		s.Equity = pt.TotalEquity
		s.LastAction = entry.Action
	})
	return nil
}

// decide obtains, checks and applies the decision for bar i. Decision
// problems are recorded in the entry; only journal failures are returned.
func (e *Engine) decide(ctx context.Context, bars []market.Bar, i int, rep *Report) (DecisionEntry, error) {
	bar := bars[i]
	entry := DecisionEntry{Time: bar.Time, Action: decision.ActionWait, Status: StatusWait}

	req := Request{
		RunID:     e.cfg.RunID,
		Symbol:    e.cfg.Symbol,
		Timeframe: e.cfg.Timeframe,
		Index:     i,
		Bar:       bar,
		Recent:    recent(bars, i, e.cfg.Lookback),
		Equity:    e.pf.Equity(),
		Available: e.pf.Available(),
	}
	if pos, ok := e.pf.Position(e.cfg.Symbol); ok {
		req.Position = &pos
	}

	text, err := e.ask(ctx, req)
	switch {
	case errors.Is(err, ErrNoDecision):
		rep.Counters.Waits++
		return entry, nil
	case err != nil:
		rep.Counters.OracleErrors++
		rep.Counters.Fallbacks++
		entry.Status = StatusOracleError
		entry.Errors = []string{err.Error()}
		e.log.Warn("decision source failed, waiting", "bar", i, "error", err)
		return entry, nil
	}
	rep.Counters.Decisions++

	out := decision.Sanitize(text)
	if out.IsFallback() {
		rep.Counters.ParseFailures++
		rep.Counters.Fallbacks++
		entry.Status = StatusFallback
		entry.Errors = []string{out.Failure.Error()}
		e.log.Warn("unparseable decision, waiting", "bar", i, "reason", out.Failure.Reason)
		return entry, nil
	}
	entry.Action = out.Fields.Action()

	quote := risk.Quote{EntryPrice: bar.Close, Equity: req.Equity}
	if pos := req.Position; pos != nil && heldSide(entry.Action) == pos.Side {
		quote.Held = pos.Notional()
	}
	res := risk.Validate(out.Fields, e.cfg.Policy, quote)
	if !res.OK {
		rep.Counters.ValidationFailures++
		entry.Status = StatusRejected
		entry.Errors = res.Errors()
		e.log.Warn("decision failed validation, waiting", "bar", i, "action", entry.Action, "violations", entry.Errors)
		return entry, nil
	}

	ins, err := decision.Build(out.Fields, bar.Time)
	if err != nil {
		rep.Counters.ValidationFailures++
		entry.Status = StatusRejected
		entry.Errors = []string{err.Error()}
		return entry, nil
	}
	if sym := ins.Info().Symbol; sym != "" {
		spec, err := e.cfg.Contracts.Lookup(sym)
		if err != nil || spec.Symbol != e.cfg.Symbol {
			rep.Counters.ValidationFailures++
			entry.Status = StatusRejected
			entry.Errors = []string{fmt.Sprintf("decision is for %s, run trades %s", sym, e.cfg.Symbol)}
			return entry, nil
		}
	}
	entry.Confidence = ins.Info().Confidence

	if err := e.apply(ins, bar, req); err != nil {
		if errors.Is(err, portfolio.ErrJournal) {
			return entry, err
		}
		rep.Counters.RejectedOrders++
		entry.Status = StatusRejected
		entry.Errors = []string{err.Error()}
		e.log.Warn("order rejected", "bar", i, "action", entry.Action, "error", err)
		return entry, nil
	}

	switch ins.(type) {
	case decision.Hold, decision.Wait:
		rep.Counters.Waits++
	default:
		rep.Counters.Applied++
		entry.Status = StatusApplied
	}
	return entry, nil
}

// heldSide is the position side an open action adds to.
func heldSide(a decision.Action) portfolio.Side {
	switch a {
	case decision.ActionOpenLong:
		return portfolio.Long
	case decision.ActionOpenShort:
		return portfolio.Short
	}
	return ""
}

type answer struct {
	text string
	err  error
}

// ask bounds the source call by the decision timeout even when the source
// ignores its context. An abandoned call finishes in the background.
func (e *Engine) ask(ctx context.Context, req Request) (string, error) {
	if e.cfg.DecisionTimeout <= 0 {
		return e.src.Decide(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	done := make(chan answer, 1)
	go func() {
		text, err := e.src.Decide(ctx, req)
		done <- answer{text, err}
	}()

	select {
	case a := <-done:
		return a.text, a.err
	case <-ctx.Done():
		return "", fmt.Errorf("backtest: decision source: %w", ctx.Err())
	}
}

// apply executes a validated instruction at the bar close.
func (e *Engine) apply(ins decision.Instruction, bar market.Bar, req Request) error {
	switch in := ins.(type) {
	case decision.OpenLong:
		return e.open(portfolio.Long, in.OpenParams, bar, req)
	case decision.OpenShort:
		return e.open(portfolio.Short, in.OpenParams, bar, req)
	case decision.CloseLong:
		return e.close(portfolio.Long, bar)
	case decision.CloseShort:
		return e.close(portfolio.Short, bar)
	case decision.Hold, decision.Wait:
		return nil
	default:
		return fmt.Errorf("backtest: unhandled instruction %T", ins)
	}
}

func (e *Engine) open(side portfolio.Side, p decision.OpenParams, bar market.Bar, req Request) error {
	_, err := e.pf.Open(portfolio.OpenRequest{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Price:      bar.Close,
		Leverage:   p.Leverage,
		SizeUSD:    p.Notional(req.Equity),
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Time:       bar.Time,
	})
	return err
}

func (e *Engine) close(side portfolio.Side, bar market.Bar) error {
	pos, ok := e.pf.Position(e.cfg.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", portfolio.ErrNoPosition, e.cfg.Symbol)
	}
	if pos.Side != side {
		return fmt.Errorf("%w: asked to close %s, holding %s", portfolio.ErrSideConflict, side, pos.Side)
	}
	_, err := e.pf.Close(e.cfg.Symbol, bar.Close, portfolio.ReasonSignal, bar.Time)
	return err
}
