package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/pkg/id"
	"github.com/rustyeddy/llmtrader/precision"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

type Config struct {
	RunID                 string
	InitialCapital        decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
	Contracts             *market.Registry
	IDs                   *id.Generator   // nil means NewGenerator(1)
	Journal               journal.Journal // nil means discard
	Logger                *slog.Logger
}

// Portfolio is the cash, position and ledger state of one run. It is safe
// for concurrent use but a run drives it from a single goroutine.
type Portfolio struct {
	mu    sync.Mutex
	runID string
	cfg   Config
	log   *slog.Logger

	available  decimal.Decimal // cash not locked as margin
	marginUsed decimal.Decimal
	realized   decimal.Decimal
	peak       decimal.Decimal

	positions map[string]*Position
	trades    []Trade
	curve     []EquityPoint
}

func New(cfg Config) (*Portfolio, error) {
	if !cfg.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("portfolio: initial capital must be positive")
	}
	if cfg.MaintenanceMarginRate.IsNegative() || cfg.MaintenanceMarginRate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("portfolio: maintenance margin rate must be in [0, 1)")
	}
	if cfg.Contracts == nil {
		cfg.Contracts = market.DefaultRegistry()
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewGenerator(1)
	}
	if cfg.Journal == nil {
		cfg.Journal = discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Portfolio{
		runID:     cfg.RunID,
		cfg:       cfg,
		log:       cfg.Logger.With("run_id", cfg.RunID),
		available: cfg.InitialCapital,
		peak:      cfg.InitialCapital,
		positions: make(map[string]*Position),
	}, nil
}

// OpenRequest opens or adds to a position. SizeUSD is the notional.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Leverage   decimal.Decimal
	SizeUSD    decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Time       time.Time
}

// Open debits margin and creates the position, or adds to a position on the
// same side. Opening against an existing position on the other side fails
// with ErrSideConflict.
func (p *Portfolio) Open(req OpenRequest) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, err := p.cfg.Contracts.Lookup(req.Symbol)
	if err != nil {
		return Position{}, err
	}
	if !req.Price.IsPositive() {
		return Position{}, ErrBadPrice
	}
	if !req.SizeUSD.IsPositive() {
		return Position{}, ErrBadSize
	}
	if req.Leverage.LessThan(one) {
		return Position{}, fmt.Errorf("%w: %s", ErrLeverage, req.Leverage)
	}
	if p.cfg.MaintenanceMarginRate.GreaterThanOrEqual(one.Div(req.Leverage)) {
		return Position{}, fmt.Errorf("%w: %sx is inside maintenance margin", ErrLeverage, req.Leverage)
	}

	price := precision.RoundPrice(req.Price, spec.TickSize)
	var qty decimal.Decimal
	if spec.IsInverse() {
		qty = precision.RoundQty(req.SizeUSD.Div(spec.ContractSize), spec.QtyStep)
	} else {
		qty = precision.RoundQty(req.SizeUSD.Div(price.Mul(spec.ContractSize)), spec.QtyStep)
	}
	if !qty.IsPositive() || qty.LessThan(spec.MinQty) {
		return Position{}, fmt.Errorf("%w: %s < %s", ErrBelowMinQty, qty, spec.MinQty)
	}

	margin := notional(spec, qty, price).Div(req.Leverage)
	if margin.GreaterThan(p.available) {
		return Position{}, &InsufficientMarginError{Symbol: spec.Symbol, Required: margin, Available: p.available}
	}

	pos, ok := p.positions[spec.Symbol]
	if ok && pos.Side != req.Side {
		return Position{}, fmt.Errorf("%w: %s is %s", ErrSideConflict, spec.Symbol, pos.Side)
	}

	var next Position
	if ok {
		next = p.addTo(*pos, spec, req, price, qty, margin)
	} else {
		next = Position{
			Symbol:     spec.Symbol,
			Side:       req.Side,
			Spec:       spec,
			EntryPrice: price,
			Quantity:   qty,
			Leverage:   req.Leverage,
			Margin:     margin,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			OpenedAt:   req.Time,
		}
		next.LiquidationPrice = precision.LiquidationLevel(
			price, req.Leverage, req.Side.IsLong(), p.cfg.MaintenanceMarginRate, spec.TickSize)
	}
	next.mark(price)

	p.available = p.available.Sub(margin)
	p.marginUsed = p.marginUsed.Add(margin)
	p.positions[spec.Symbol] = &next

	p.log.Info("position opened",
		"symbol", spec.Symbol,
		"side", req.Side,
		"price", price.String(),
		"qty", qty.String(),
		"leverage", next.Leverage.String(),
		"margin", margin.String(),
		"liquidation", next.LiquidationPrice.String(),
	)
	return next, nil
}

// addTo merges an add into an existing position. Linear entries average by
// quantity, inverse entries harmonically.
func (p *Portfolio) addTo(pos Position, spec market.ContractSpec, req OpenRequest, price, qty, margin decimal.Decimal) Position {
	total := pos.Quantity.Add(qty)
	if spec.IsInverse() {
		pos.EntryPrice = total.Div(pos.Quantity.Div(pos.EntryPrice).Add(qty.Div(price)))
	} else {
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
	}
	pos.EntryPrice = precision.RoundPrice(pos.EntryPrice, spec.TickSize)
	pos.Quantity = total
	pos.Margin = pos.Margin.Add(margin)
	pos.Leverage = notional(spec, pos.Quantity, pos.EntryPrice).Div(pos.Margin).Round(4)
	if req.StopLoss.IsPositive() {
		pos.StopLoss = req.StopLoss
	}
	if req.TakeProfit.IsPositive() {
		pos.TakeProfit = req.TakeProfit
	}
	pos.LiquidationPrice = precision.LiquidationLevel(
		pos.EntryPrice, pos.Leverage, pos.Side.IsLong(), p.cfg.MaintenanceMarginRate, spec.TickSize)
	return pos
}

// Close closes the whole position at price.
func (p *Portfolio) Close(symbol string, price decimal.Decimal, reason CloseReason, t time.Time) (Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.lookupLocked(symbol)
	if err != nil {
		return Trade{}, err
	}
	return p.closeLocked(pos, pos.Quantity, price, reason, t)
}

// Reduce closes qty of the position, rounded down to the quantity step. A
// qty at or above the open quantity closes everything.
func (p *Portfolio) Reduce(symbol string, qty, price decimal.Decimal, reason CloseReason, t time.Time) (Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.lookupLocked(symbol)
	if err != nil {
		return Trade{}, err
	}
	qty = precision.RoundQty(qty, pos.Spec.QtyStep)
	if !qty.IsPositive() {
		return Trade{}, ErrBadSize
	}
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}
	return p.closeLocked(pos, qty, price, reason, t)
}

func (p *Portfolio) lookupLocked(symbol string) (*Position, error) {
	spec, err := p.cfg.Contracts.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	pos, ok := p.positions[spec.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, spec.Symbol)
	}
	return pos, nil
}

// closeLocked writes the trade to the journal before touching any state so
// a journal failure leaves the portfolio as it was.
func (p *Portfolio) closeLocked(pos *Position, qty, price decimal.Decimal, reason CloseReason, t time.Time) (Trade, error) {
	if !price.IsPositive() {
		return Trade{}, ErrBadPrice
	}
	price = precision.RoundPrice(price, pos.Spec.TickSize)

	full := qty.Equal(pos.Quantity)
	released := pos.Margin
	if !full {
		released = pos.Margin.Mul(qty).Div(pos.Quantity)
	}
	pnl := pos.PnLAt(price, qty)

	tr := Trade{
		ID:          p.cfg.IDs.At(t),
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		Quantity:    qty,
		PnL:         pnl,
		PnLPct:      precision.Pct(pnl, released),
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    t,
		HoldingTime: t.Sub(pos.OpenedAt),
		Reason:      reason,
	}
	if err := p.cfg.Journal.RecordTrade(p.tradeRecord(tr, string(pos.Spec.Settlement))); err != nil {
		return Trade{}, fmt.Errorf("%w: trade: %w", ErrJournal, err)
	}

	p.available = p.available.Add(released).Add(pnl)
	p.marginUsed = p.marginUsed.Sub(released)
	p.realized = p.realized.Add(pnl)
	p.trades = append(p.trades, tr)
	if full {
		delete(p.positions, pos.Symbol)
	} else {
		pos.Quantity = pos.Quantity.Sub(qty)
		pos.Margin = pos.Margin.Sub(released)
		pos.mark(price)
	}

	level := slog.LevelInfo
	if reason == ReasonLiquidation {
		level = slog.LevelWarn
	}
	p.log.Log(context.Background(), level, "position closed",
		"symbol", tr.Symbol,
		"side", tr.Side,
		"reason", reason,
		"exit", price.String(),
		"qty", qty.String(),
		"pnl", pnl.StringFixed(2),
	)
	return tr, nil
}

// MarkToMarket revalues the position against bar. A bar that reaches the
// stop, liquidation or take-profit level closes the position at that level
// and the trade is returned. Without a position it does nothing.
func (p *Portfolio) MarkToMarket(symbol string, bar market.Bar) (*Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.lookupLocked(symbol)
	if errors.Is(err, ErrNoPosition) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if price, reason, hit := exitFor(pos, bar); hit {
		tr, err := p.closeLocked(pos, pos.Quantity, price, reason, bar.Time)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	}
	pos.mark(bar.Close)
	return nil, nil
}

// RecordEquity appends a point to the equity curve at the current marks.
func (p *Portfolio) RecordEquity(t time.Time) (EquityPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unrealized := p.unrealizedLocked()
	cash := p.available.Add(p.marginUsed)
	equity := cash.Add(unrealized)

	peak := p.peak
	if equity.GreaterThan(peak) {
		peak = equity
	}
	dd := decimal.Zero
	if peak.IsPositive() {
		dd = precision.Pct(peak.Sub(equity), peak)
	}

	e := EquityPoint{
		Time:          t,
		Cash:          cash,
		UnrealizedPnL: unrealized,
		TotalEquity:   equity,
		DrawdownPct:   dd,
		MarginUsed:    p.marginUsed,
	}
	if err := p.cfg.Journal.RecordEquity(p.equityRecord(e)); err != nil {
		return EquityPoint{}, fmt.Errorf("%w: equity: %w", ErrJournal, err)
	}
	p.peak = peak
	p.curve = append(p.curve, e)
	return e, nil
}

func (p *Portfolio) unrealizedLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, pos := range p.positions {
		sum = sum.Add(pos.UnrealizedPnL)
	}
	return sum
}

func (p *Portfolio) RunID() string { return p.runID }

func (p *Portfolio) InitialCapital() decimal.Decimal { return p.cfg.InitialCapital }

// Cash is the wallet balance: free cash plus margin in use.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available.Add(p.marginUsed)
}

// Available is the cash free for new margin.
func (p *Portfolio) Available() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *Portfolio) MarginUsed() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marginUsed
}

func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available.Add(p.marginUsed).Add(p.unrealizedLocked())
}

func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}

func (p *Portfolio) Position(symbol string) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, err := p.cfg.Contracts.Lookup(symbol)
	if err != nil {
		return Position{}, false
	}
	pos, ok := p.positions[spec.Symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns the open positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (p *Portfolio) Trades() []Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Trade(nil), p.trades...)
}

func (p *Portfolio) EquityCurve() []EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EquityPoint(nil), p.curve...)
}

type discard struct{}

func (discard) RecordTrade(journal.TradeRecord) error     { return nil }
func (discard) RecordEquity(journal.EquitySnapshot) error { return nil }
func (discard) Close() error                              { return nil }
