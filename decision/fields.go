package decision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field names of the decision wire format.
const (
	FieldSymbol     = "symbol"
	FieldAction     = "action"
	FieldLeverage   = "leverage"
	FieldSizeUSD    = "position_size_usd"
	FieldSizeAlt    = "size_usd"
	FieldSizePct    = "position_size_pct"
	FieldStopLoss   = "stop_loss"
	FieldTakeProfit = "take_profit"
	FieldEntryPrice = "entry_price"
	FieldConfidence = "confidence"
	FieldReasoning  = "reasoning"
	FieldFallback   = "is_fallback"
)

// NumericFields are the keys whose values must be plain numbers.
var NumericFields = []string{
	FieldLeverage, FieldSizeUSD, FieldSizeAlt, FieldSizePct,
	FieldStopLoss, FieldTakeProfit, FieldEntryPrice, FieldConfidence,
}

// Fields is a decoded decision object. Numbers arrive as json.Number or,
// when the generator quoted them, as strings.
type Fields map[string]any

func (f Fields) Has(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Text returns the value as a string regardless of its JSON type.
func (f Fields) Text(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (f Fields) Action() Action { return NormalizeAction(f.Text(FieldAction)) }

func (f Fields) Symbol() string { return strings.ToUpper(strings.TrimSpace(f.Text(FieldSymbol))) }

func (f Fields) IsFallback() bool {
	b, _ := f[FieldFallback].(bool)
	return b
}

// Decimal parses a numeric field. ok is false when the key is absent.
func (f Fields) Decimal(key string) (v decimal.Decimal, ok bool, err error) {
	if !f.Has(key) {
		return decimal.Zero, false, nil
	}
	switch x := f[key].(type) {
	case json.Number:
		v, err = decimal.NewFromString(x.String())
	case string:
		v, err = decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		v = decimal.NewFromFloat(x)
	case int:
		v = decimal.NewFromInt(int64(x))
	case int64:
		v = decimal.NewFromInt(x)
	default:
		err = fmt.Errorf("unsupported type %T", x)
	}
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("%s: %q is not a number", key, f.Text(key))
	}
	return v, true, nil
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
