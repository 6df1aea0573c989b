package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Header carries what every instruction has.
type Header struct {
	Symbol     string
	Confidence decimal.Decimal
	Reasoning  string
	Time       time.Time
	Fallback   bool
}

func (h Header) Info() Header { return h }

// Instruction is a validated decision. The concrete types are OpenLong,
// OpenShort, CloseLong, CloseShort, Hold and Wait.
type Instruction interface {
	Action() Action
	Info() Header
	instruction()
}

// OpenParams are the sizing and exit levels of an open_* instruction.
type OpenParams struct {
	Leverage   decimal.Decimal
	SizeUSD    decimal.Decimal // notional; zero when only SizePct was given
	SizePct    decimal.Decimal // percent of equity
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Notional resolves the position size in quote currency.
func (p OpenParams) Notional(equity decimal.Decimal) decimal.Decimal {
	if p.SizeUSD.IsPositive() {
		return p.SizeUSD
	}
	return equity.Mul(p.SizePct).Div(decimal.NewFromInt(100))
}

type (
	OpenLong struct {
		Header
		OpenParams
	}
	OpenShort struct {
		Header
		OpenParams
	}
	CloseLong  struct{ Header }
	CloseShort struct{ Header }
	Hold       struct{ Header }
	Wait       struct{ Header }
)

func (OpenLong) Action() Action   { return ActionOpenLong }
func (OpenShort) Action() Action  { return ActionOpenShort }
func (CloseLong) Action() Action  { return ActionCloseLong }
func (CloseShort) Action() Action { return ActionCloseShort }
func (Hold) Action() Action       { return ActionHold }
func (Wait) Action() Action       { return ActionWait }

func (OpenLong) instruction()   {}
func (OpenShort) instruction()  {}
func (CloseLong) instruction()  {}
func (CloseShort) instruction() {}
func (Hold) instruction()       {}
func (Wait) instruction()       {}

// WaitFor is the instruction substituted when nothing usable came back.
func WaitFor(symbol string, t time.Time, reasoning string) Wait {
	return Wait{Header{Symbol: symbol, Time: t, Reasoning: reasoning, Fallback: true}}
}

// Build converts sanitized fields into a typed instruction. Callers validate
// the fields first; Build only fails on values it cannot convert.
func Build(f Fields, t time.Time) (Instruction, error) {
	h := Header{
		Symbol:    f.Symbol(),
		Reasoning: f.Text(FieldReasoning),
		Time:      t,
		Fallback:  f.IsFallback(),
	}
	conf, _, err := f.Decimal(FieldConfidence)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	h.Confidence = conf

	action := f.Action()
	switch action {
	case ActionOpenLong, ActionOpenShort:
		p, err := openParams(f)
		if err != nil {
			return nil, err
		}
		if action == ActionOpenLong {
			return OpenLong{h, p}, nil
		}
		return OpenShort{h, p}, nil
	case ActionCloseLong:
		return CloseLong{h}, nil
	case ActionCloseShort:
		return CloseShort{h}, nil
	case ActionHold:
		return Hold{h}, nil
	case ActionWait:
		return Wait{h}, nil
	default:
		return nil, fmt.Errorf("decision: unknown action %q", action)
	}
}

func openParams(f Fields) (OpenParams, error) {
	var p OpenParams
	targets := []struct {
		keys []string
		dst  *decimal.Decimal
	}{
		{[]string{FieldLeverage}, &p.Leverage},
		{[]string{FieldSizeUSD, FieldSizeAlt}, &p.SizeUSD},
		{[]string{FieldSizePct}, &p.SizePct},
		{[]string{FieldStopLoss}, &p.StopLoss},
		{[]string{FieldTakeProfit}, &p.TakeProfit},
	}
	for _, tg := range targets {
		for _, k := range tg.keys {
			v, ok, err := f.Decimal(k)
			if err != nil {
				return OpenParams{}, fmt.Errorf("decision: %w", err)
			}
			if ok {
				*tg.dst = v
				break
			}
		}
	}
	if !p.Leverage.IsPositive() {
		return OpenParams{}, fmt.Errorf("decision: leverage must be positive")
	}
	if !p.SizeUSD.IsPositive() && !p.SizePct.IsPositive() {
		return OpenParams{}, fmt.Errorf("decision: position size must be positive")
	}
	return p, nil
}
