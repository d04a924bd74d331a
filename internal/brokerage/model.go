package brokerage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/securities"
)

// Model is the policy layer over a brokerage: whether an order may be
// placed or executed, and what it costs.
type Model interface {
	// CanSubmit validates an order at submission time. A non-nil error
	// explains the rejection.
	CanSubmit(sec *securities.Security, order *orders.Order) error
	// CanExecute reports whether the order may fill at the current instant.
	CanExecute(sec *securities.Security, order *orders.Order, utc time.Time) bool
	// Fee returns the commission for a fill, in the account base currency.
	Fee(sec *securities.Security, fillQty, fillPrice decimal.Decimal) decimal.Decimal
}

// DefaultModel charges a per-share fee with a minimum per order and only
// executes while the exchange is open for the subscription's session.
type DefaultModel struct {
	FeePerShare decimal.Decimal
	MinimumFee  decimal.Decimal
}

// NewDefaultModel uses USD 0.005 per share with a USD 1 minimum.
func NewDefaultModel() *DefaultModel {
	return &DefaultModel{
		FeePerShare: decimal.New(5, -3),
		MinimumFee:  decimal.NewFromInt(1),
	}
}

// CanSubmit implements Model.
func (m *DefaultModel) CanSubmit(sec *securities.Security, order *orders.Order) error {
	if sec == nil || !sec.IsTradable() {
		return errNotTradable(order)
	}
	if order.Quantity.IsZero() {
		return errZeroQuantity(order)
	}
	switch order.Type {
	case orders.TypeLimit, orders.TypeStopLimit:
		if !order.LimitPrice.IsPositive() {
			return errBadPrice(order, "limit")
		}
	}
	switch order.Type {
	case orders.TypeStopMarket, orders.TypeStopLimit:
		if !order.StopPrice.IsPositive() {
			return errBadPrice(order, "stop")
		}
	}
	return nil
}

// CanExecute implements Model. Market-on-open and market-on-close orders are
// always considered; their fill models gate on the session boundary.
func (m *DefaultModel) CanExecute(sec *securities.Security, order *orders.Order, utc time.Time) bool {
	switch order.Type {
	case orders.TypeMarketOnOpen, orders.TypeMarketOnClose:
		return true
	default:
		return sec.IsExchangeOpen(utc)
	}
}

// Fee implements Model.
func (m *DefaultModel) Fee(_ *securities.Security, fillQty, _ decimal.Decimal) decimal.Decimal {
	if fillQty.IsZero() {
		return decimal.Zero
	}
	fee := m.FeePerShare.Mul(fillQty.Abs())
	if fee.LessThan(m.MinimumFee) {
		return m.MinimumFee
	}
	return fee
}
