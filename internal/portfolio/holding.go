package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// Holding tracks one instrument's signed position. Quantity is positive for
// long and negative for short. AveragePrice is the weighted-average cost of
// the open position.
type Holding struct {
	Symbol       symbol.Symbol
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	MarketPrice  decimal.Decimal
	RealizedPnl  decimal.Decimal
}

// MarketValue returns quantity times last price.
func (h *Holding) MarketValue() decimal.Decimal {
	return h.Quantity.Mul(h.MarketPrice)
}

// UnrealizedPnl returns the open position's mark-to-market gain.
func (h *Holding) UnrealizedPnl() decimal.Decimal {
	return h.MarketPrice.Sub(h.AveragePrice).Mul(h.Quantity)
}

// IsFlat reports whether the position is zero.
func (h *Holding) IsFlat() bool { return h.Quantity.IsZero() }

// ApplyFill folds one signed fill into the position and returns the realized
// profit, if any. Same-direction fills extend the position at weighted-average
// cost. Opposite-direction fills realize P&L against the average cost; a fill
// larger than the position closes it and opens the opposite side at the fill
// price.
func (h *Holding) ApplyFill(fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	if fillQty.IsZero() {
		return decimal.Zero
	}
	if h.Quantity.IsZero() || h.Quantity.Sign() == fillQty.Sign() {
		total := h.AveragePrice.Mul(h.Quantity).Add(fillPrice.Mul(fillQty))
		h.Quantity = h.Quantity.Add(fillQty)
		h.AveragePrice = total.Div(h.Quantity)
		return decimal.Zero
	}

	closed := decimal.Min(h.Quantity.Abs(), fillQty.Abs())
	// Realized gain per unit is (fill - avg) for longs and (avg - fill) for shorts.
	perUnit := fillPrice.Sub(h.AveragePrice)
	if h.Quantity.IsNegative() {
		perUnit = perUnit.Neg()
	}
	realized := perUnit.Mul(closed)
	h.RealizedPnl = h.RealizedPnl.Add(realized)

	h.Quantity = h.Quantity.Add(fillQty)
	switch {
	case h.Quantity.IsZero():
		h.AveragePrice = decimal.Zero
	case h.Quantity.Sign() == fillQty.Sign():
		// Reversal: the surviving quantity was opened by this fill.
		h.AveragePrice = fillPrice
	}
	return realized
}

// Clone returns a copy.
func (h *Holding) Clone() *Holding {
	dup := *h
	return &dup
}
