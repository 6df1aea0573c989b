package risk

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/shopspring/decimal"
)

type Violation struct {
	Code  string
	Field string
	Msg   string
}

func (v Violation) String() string { return v.Msg }

// Result of Validate. Every rule is evaluated; OK is false if any failed.
type Result struct {
	OK         bool
	Violations []Violation

	PlannedRR      decimal.Decimal
	PlannedRiskUSD decimal.Decimal
	PositionPct    decimal.Decimal
}

func (r *Result) add(code, field, msg string) {
	r.Violations = append(r.Violations, Violation{Code: code, Field: field, Msg: msg})
	r.OK = false
}

// Errors returns the human readable messages.
func (r Result) Errors() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Msg
	}
	return out
}

// Err returns nil for a passing result and a *ValidationFailure otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &ValidationFailure{Violations: r.Violations}
}

// ValidationFailure lists every rule a decision broke.
type ValidationFailure struct {
	Violations []Violation
}

func (e *ValidationFailure) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Msg
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// Validate checks sanitized decision fields against the policy. It is pure
// and never short-circuits.
func Validate(f decision.Fields, p Policy, q Quote) Result {
	r := Result{OK: true}

	for _, k := range []string{decision.FieldAction, decision.FieldSymbol, decision.FieldConfidence, decision.FieldReasoning} {
		if !f.Has(k) {
			r.add("MISSING_FIELD", k, "missing required field: "+k)
		}
	}

	action := f.Action()
	if f.Has(decision.FieldAction) && !action.Valid() {
		r.add("BAD_ACTION", decision.FieldAction, fmt.Sprintf("unknown action %q", action))
	}

	nums := parseNumbers(f, &r)

	if c, ok := nums[decision.FieldConfidence]; ok && (c.LessThan(zero) || c.GreaterThan(hundred)) {
		r.add("BAD_CONFIDENCE", decision.FieldConfidence, fmt.Sprintf("confidence %s outside [0, 100]", c))
	}

	if action.IsOpen() {
		checkOpen(action, nums, p, q, &r)
	}

	return r
}

// parseNumbers converts every numeric field present, flagging leftover range
// and separator tokens instead of guessing.
func parseNumbers(f decision.Fields, r *Result) map[string]decimal.Decimal {
	nums := make(map[string]decimal.Decimal)
	for _, k := range decision.NumericFields {
		if !f.Has(k) {
			continue
		}
		raw := f.Text(k)
		switch {
		case strings.Contains(raw, "~"):
			r.add("RANGE_TOKEN", k, fmt.Sprintf("field %s contains range token '~': %q", k, raw))
			continue
		case strings.Contains(raw, ","):
			r.add("THOUSANDS_SEPARATOR", k, fmt.Sprintf("field %s contains thousands separator ',': %q", k, raw))
			continue
		}
		v, _, err := f.Decimal(k)
		if err != nil {
			r.add("NOT_NUMERIC", k, err.Error())
			continue
		}
		nums[k] = v
	}
	return nums
}

func checkOpen(action decision.Action, nums map[string]decimal.Decimal, p Policy, q Quote, r *Result) {
	isLong := action == decision.ActionOpenLong

	lev, hasLev := nums[decision.FieldLeverage]
	if !hasLev {
		r.add("MISSING_FIELD", decision.FieldLeverage, "missing required field: leverage")
	} else if lev.LessThan(one) || lev.GreaterThan(p.MaxLeverage) {
		r.add("BAD_LEVERAGE", decision.FieldLeverage,
			fmt.Sprintf("leverage %s outside [1, %s]", lev, p.MaxLeverage))
	}

	notional, hasSize := nums[decision.FieldSizeUSD]
	if !hasSize {
		notional, hasSize = nums[decision.FieldSizeAlt]
	}
	pct, hasPct := nums[decision.FieldSizePct]
	switch {
	case !hasSize && !hasPct:
		r.add("MISSING_FIELD", decision.FieldSizeUSD, "missing required field: position_size_usd or position_size_pct")
	case hasSize && notional.IsNegative():
		r.add("BAD_SIZE", decision.FieldSizeUSD, fmt.Sprintf("position size %s is negative", notional))
	case hasPct && pct.IsNegative():
		r.add("BAD_SIZE", decision.FieldSizePct, fmt.Sprintf("position size %s%% is negative", pct))
	default:
		// A positive USD size is what gets opened; the percentage only sizes
		// orders that lack one.
		if hasSize && notional.IsPositive() {
			if hasPct {
				implied := PositionPct(notional, q.Equity)
				if implied.Sub(pct).Abs().GreaterThan(one) {
					r.add("SIZE_MISMATCH", decision.FieldSizePct,
						fmt.Sprintf("position_size_usd %s is %s%% of equity, position_size_pct says %s%%",
							notional, implied.StringFixed(2), pct))
				}
			}
		} else if hasPct {
			notional = q.Equity.Mul(pct).Div(hundred)
		}

		total := PositionPct(notional.Add(q.Held), q.Equity)
		r.PositionPct = total
		if total.GreaterThan(p.MaxPositionPct) {
			msg := fmt.Sprintf("position size %s%% of equity outside [0, %s%%]", total.StringFixed(2), p.MaxPositionPct)
			if q.Held.IsPositive() {
				msg = fmt.Sprintf("position size %s%% of equity including %s already held outside [0, %s%%]",
					total.StringFixed(2), q.Held, p.MaxPositionPct)
			}
			r.add("POSITION_TOO_LARGE", decision.FieldSizePct, msg)
		}
	}

	entry := q.EntryPrice
	if e, ok := nums[decision.FieldEntryPrice]; ok && entry.IsZero() {
		entry = e
	}
	sl, hasSL := nums[decision.FieldStopLoss]
	tp, hasTP := nums[decision.FieldTakeProfit]
	if !hasSL {
		r.add("MISSING_FIELD", decision.FieldStopLoss, "missing required field: stop_loss")
	}
	if !hasTP {
		r.add("MISSING_FIELD", decision.FieldTakeProfit, "missing required field: take_profit")
	}
	if !entry.IsPositive() {
		r.add("NO_ENTRY", decision.FieldEntryPrice, "entry price unknown; cannot check stop direction")
		return
	}

	if hasSL {
		if isLong && !sl.LessThan(entry) {
			r.add("STOP_DIRECTION", decision.FieldStopLoss,
				fmt.Sprintf("stop_loss %s must be below entry %s for a long (wrong direction)", sl, entry))
		}
		if !isLong && !sl.GreaterThan(entry) {
			r.add("STOP_DIRECTION", decision.FieldStopLoss,
				fmt.Sprintf("stop_loss %s must be above entry %s for a short (wrong direction)", sl, entry))
		}
		if notional.IsPositive() {
			r.PlannedRiskUSD = PlannedRiskUSD(notional, entry, sl)
		}
	}
	if hasTP {
		if isLong && !tp.GreaterThan(entry) {
			r.add("TP_DIRECTION", decision.FieldTakeProfit,
				fmt.Sprintf("take_profit %s must be above entry %s for a long (wrong direction)", tp, entry))
		}
		if !isLong && !tp.LessThan(entry) {
			r.add("TP_DIRECTION", decision.FieldTakeProfit,
				fmt.Sprintf("take_profit %s must be below entry %s for a short (wrong direction)", tp, entry))
		}
	}
	if hasSL && hasTP {
		r.PlannedRR = RR(entry, sl, tp)
		if r.PlannedRR.LessThan(p.MinRiskReward) {
			r.add("RR_TOO_LOW", "",
				fmt.Sprintf("risk/reward %s below minimum %s", r.PlannedRR.StringFixed(2), p.MinRiskReward))
		}
	}
}
