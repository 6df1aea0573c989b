// market/instruments.go
package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownSymbol = errors.New("market: unknown symbol")

// Settlement tells how a contract pays out.
type Settlement string

const (
	// Linear contracts are margined and settled in the quote currency (USDT).
	Linear Settlement = "linear"
	// Inverse contracts have a fixed quote value per contract and a PnL that
	// accrues in the base coin. The simulator converts that PnL to quote
	// currency at the exit price and keeps margin in quote currency.
	Inverse Settlement = "inverse"
)

func ParseSettlement(s string) (Settlement, error) {
	switch Settlement(strings.ToLower(strings.TrimSpace(s))) {
	case Linear:
		return Linear, nil
	case Inverse:
		return Inverse, nil
	default:
		return "", fmt.Errorf("market: unknown settlement %q", s)
	}
}

// ContractSpec describes one tradable instrument. Immutable once registered.
type ContractSpec struct {
	Symbol       string
	Settlement   Settlement
	ContractSize decimal.Decimal // quote value of one contract (inverse) or multiplier (linear)
	TickSize     decimal.Decimal
	MinQty       decimal.Decimal
	QtyStep      decimal.Decimal
}

func (c ContractSpec) IsInverse() bool { return c.Settlement == Inverse }

func (c ContractSpec) Validate() error {
	if c.Symbol == "" {
		return errors.New("market: contract symbol is required")
	}
	if c.Settlement != Linear && c.Settlement != Inverse {
		return fmt.Errorf("market: %s: bad settlement %q", c.Symbol, c.Settlement)
	}
	if !c.ContractSize.IsPositive() {
		return fmt.Errorf("market: %s: contract_size must be positive", c.Symbol)
	}
	if c.TickSize.IsNegative() || c.QtyStep.IsNegative() || c.MinQty.IsNegative() {
		return fmt.Errorf("market: %s: tick_size, qty_step and min_qty must not be negative", c.Symbol)
	}
	return nil
}

// Registry maps symbols to their contract specs.
type Registry struct {
	specs map[string]ContractSpec
}

func NewRegistry(specs ...ContractSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]ContractSpec, len(specs))}
	for _, s := range specs {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers or replaces a spec.
func (r *Registry) Add(s ContractSpec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.specs[normalizeSymbol(s.Symbol)] = s
	return nil
}

func (r *Registry) Lookup(symbol string) (ContractSpec, error) {
	s, ok := r.specs[normalizeSymbol(symbol)]
	if !ok {
		return ContractSpec{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return s, nil
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s.Symbol)
	}
	sort.Strings(out)
	return out
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "_", "", "-", "").Replace(s)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Presets for the common Binance perpetuals.
var (
	BTCUSDT = ContractSpec{Symbol: "BTCUSDT", Settlement: Linear, ContractSize: dec("1"), TickSize: dec("0.1"), MinQty: dec("0.001"), QtyStep: dec("0.001")}
	ETHUSDT = ContractSpec{Symbol: "ETHUSDT", Settlement: Linear, ContractSize: dec("1"), TickSize: dec("0.01"), MinQty: dec("0.001"), QtyStep: dec("0.001")}
	BTCUSD  = ContractSpec{Symbol: "BTCUSD", Settlement: Inverse, ContractSize: dec("100"), TickSize: dec("0.1"), MinQty: dec("1"), QtyStep: dec("1")}
	ETHUSD  = ContractSpec{Symbol: "ETHUSD", Settlement: Inverse, ContractSize: dec("10"), TickSize: dec("0.01"), MinQty: dec("1"), QtyStep: dec("1")}
)

// DefaultRegistry returns a registry holding the presets.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(BTCUSDT, ETHUSDT, BTCUSD, ETHUSD)
	return r
}
