package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// Consolidator folds a subscription's data into coarser aggregates and emits
// each completed aggregate through its handler. Update and Scan run on the
// engine goroutine only.
type Consolidator interface {
	// Update folds one data item into the working aggregate.
	Update(data BaseData)
	// Scan emits the working aggregate once the instant closes its window.
	Scan(utc time.Time)
}

// TradeBarConsolidator rolls trade bars or trade ticks up to a coarser
// period. Windows are aligned to multiples of the period.
type TradeBarConsolidator struct {
	period  time.Duration
	handler func(*TradeBar)
	working *TradeBar
}

// NewTradeBarConsolidator creates a consolidator emitting one bar per period
// through the handler.
func NewTradeBarConsolidator(period time.Duration, handler func(*TradeBar)) *TradeBarConsolidator {
	if period <= 0 {
		period = time.Minute
	}
	return &TradeBarConsolidator{period: period, handler: handler}
}

// Update implements Consolidator. Quote data and auxiliary items are ignored.
func (c *TradeBarConsolidator) Update(data BaseData) {
	var (
		sym     symbol.Symbol
		at      time.Time
		open    decimal.Decimal
		high    decimal.Decimal
		low     decimal.Decimal
		closePx decimal.Decimal
		volume  int64
	)
	switch v := data.(type) {
	case *TradeBar:
		sym, at = v.Sym, v.Start
		open, high, low, closePx = v.Bar.Open, v.Bar.High, v.Bar.Low, v.Bar.Close
		volume = v.Volume
	case *Tick:
		if v.Type != TickTypeTrade {
			return
		}
		sym, at = v.Sym, v.At
		open, high, low, closePx = v.Price, v.Price, v.Price, v.Price
	default:
		return
	}

	windowStart := at.Truncate(c.period)
	if c.working != nil && !windowStart.Equal(c.working.Start) {
		c.emit()
	}
	if c.working == nil {
		c.working = &TradeBar{
			Sym:    sym,
			Start:  windowStart,
			Period: c.period,
			Bar:    Bar{Open: open, High: high, Low: low, Close: closePx},
			Volume: volume,
		}
		return
	}
	c.working.Bar.High = decimal.Max(c.working.Bar.High, high)
	c.working.Bar.Low = decimal.Min(c.working.Bar.Low, low)
	c.working.Bar.Close = closePx
	c.working.Volume += volume
}

// Scan implements Consolidator.
func (c *TradeBarConsolidator) Scan(utc time.Time) {
	if c.working == nil {
		return
	}
	if !utc.Before(c.working.Start.Add(c.period)) {
		c.emit()
	}
}

func (c *TradeBarConsolidator) emit() {
	bar := c.working
	c.working = nil
	if c.handler != nil {
		c.handler(bar)
	}
}
