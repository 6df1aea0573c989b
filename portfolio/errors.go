package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPosition   = errors.New("portfolio: no open position")
	ErrSideConflict = errors.New("portfolio: position open on the other side")
	ErrBelowMinQty  = errors.New("portfolio: quantity below contract minimum")
	ErrLeverage     = errors.New("portfolio: leverage not allowed")
	ErrBadPrice     = errors.New("portfolio: price must be positive")
	ErrBadSize      = errors.New("portfolio: size must be positive")
	ErrJournal      = errors.New("portfolio: journal write failed")
)

// InsufficientMarginError is returned by Open when the free cash cannot
// cover the initial margin.
type InsufficientMarginError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("portfolio: insufficient margin for %s: required %s, available %s",
		e.Symbol, e.Required.StringFixed(2), e.Available.StringFixed(2))
}
