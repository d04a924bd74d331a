package brokerage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/securities"
)

// FillModel maps (security state, order) to at most one fill per scan. A
// zero fill quantity with the order's current status means no action.
type FillModel interface {
	Fill(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event
}

// FillModelFunc adapts a function to FillModel.
type FillModelFunc func(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event

// Fill implements FillModel.
func (f FillModelFunc) Fill(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	return f(sec, order, utc)
}

// ImmediateFillModel implements the standard bar-driven fill semantics for
// every supported order type. Fills are complete; partial fills are left to
// custom models.
type ImmediateFillModel struct{}

// Fill dispatches on the order type.
func (ImmediateFillModel) Fill(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	switch order.Type {
	case orders.TypeMarket:
		return fillMarket(sec, order, utc)
	case orders.TypeLimit:
		return fillLimit(sec, order, utc)
	case orders.TypeStopMarket:
		return fillStopMarket(sec, order, utc)
	case orders.TypeStopLimit:
		return fillStopLimit(sec, order, utc)
	case orders.TypeMarketOnOpen:
		return fillMarketOnOpen(sec, order, utc)
	case orders.TypeMarketOnClose:
		return fillMarketOnClose(sec, order, utc)
	default:
		return noFill(order, utc)
	}
}

func noFill(order *orders.Order, utc time.Time) orders.Event {
	return orders.Event{OrderID: order.ID, UtcTime: utc, Status: order.Status}
}

func filled(order *orders.Order, utc time.Time, price decimal.Decimal) orders.Event {
	return orders.Event{
		OrderID:      order.ID,
		UtcTime:      utc,
		Status:       orders.StatusFilled,
		FillQuantity: order.Remaining(),
		FillPrice:    price,
	}
}

// barFor returns the last trade bar if it carries information the order has
// not yet seen. Bars that ended at or before order creation cannot fill it.
func barFor(sec *securities.Security, order *orders.Order) *market.TradeBar {
	bar := sec.LastTrade()
	if bar == nil || !bar.EndTime().After(order.CreatedUtc) {
		return nil
	}
	return bar
}

func fillMarket(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		// Tick subscriptions have no bars; any trade print after creation fills.
		if tick := sec.LastTick(); tick != nil && tick.Type == market.TickTypeTrade && tick.At.After(order.CreatedUtc) {
			return filled(order, utc, tick.Price)
		}
		return noFill(order, utc)
	}
	// A bar that opened after submission fills at its open; otherwise the
	// order arrived mid-bar and takes the close.
	if !bar.Start.Before(order.CreatedUtc) {
		return filled(order, utc, bar.Bar.Open)
	}
	return filled(order, utc, bar.Bar.Close)
}

func fillLimit(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		return noFill(order, utc)
	}
	limit := order.LimitPrice
	if order.Direction() > 0 {
		// Buy fills when the market traded through the limit.
		if bar.Bar.Low.LessThan(limit) {
			return filled(order, utc, decimal.Min(bar.Bar.Open, limit))
		}
	} else {
		if bar.Bar.High.GreaterThan(limit) {
			return filled(order, utc, decimal.Max(bar.Bar.Open, limit))
		}
	}
	return noFill(order, utc)
}

func fillStopMarket(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		return noFill(order, utc)
	}
	stop := order.StopPrice
	if order.Direction() > 0 {
		if bar.Bar.High.GreaterThanOrEqual(stop) {
			return filled(order, utc, decimal.Max(bar.Bar.Open, stop))
		}
	} else {
		if bar.Bar.Low.LessThanOrEqual(stop) {
			return filled(order, utc, decimal.Min(bar.Bar.Open, stop))
		}
	}
	return noFill(order, utc)
}

func fillStopLimit(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		return noFill(order, utc)
	}
	stop, limit := order.StopPrice, order.LimitPrice
	if order.Direction() > 0 {
		if bar.Bar.High.GreaterThanOrEqual(stop) && bar.Bar.Low.LessThan(limit) {
			return filled(order, utc, decimal.Min(decimal.Max(bar.Bar.Open, stop), limit))
		}
	} else {
		if bar.Bar.Low.LessThanOrEqual(stop) && bar.Bar.High.GreaterThan(limit) {
			return filled(order, utc, decimal.Max(decimal.Min(bar.Bar.Open, stop), limit))
		}
	}
	return noFill(order, utc)
}

func fillMarketOnOpen(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		return noFill(order, utc)
	}
	loc := sec.Config.ExchangeLocation()
	open := sec.Exchange.NextOpenLocal(order.CreatedUtc.In(loc), false)
	if open.IsZero() {
		return noFill(order, utc)
	}
	// The first bar starting at or after the official open carries the
	// opening auction price.
	if !bar.Start.In(loc).Before(open) {
		return filled(order, utc, bar.Bar.Open)
	}
	return noFill(order, utc)
}

func fillMarketOnClose(sec *securities.Security, order *orders.Order, utc time.Time) orders.Event {
	bar := barFor(sec, order)
	if bar == nil {
		return noFill(order, utc)
	}
	loc := sec.Config.ExchangeLocation()
	closeAt := sec.Exchange.NextCloseLocal(order.CreatedUtc.In(loc), false)
	if closeAt.IsZero() {
		return noFill(order, utc)
	}
	if !bar.EndTime().In(loc).Before(closeAt) {
		return filled(order, utc, bar.Bar.Close)
	}
	return noFill(order, utc)
}
