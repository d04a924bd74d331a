// Package market defines the canonical market data types flowing through the feed.
package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// Kind tags the variants of the BaseData sum.
type Kind uint8

const (
	// KindTick identifies individual trades or quotes.
	KindTick Kind = iota
	// KindTradeBar identifies OHLCV trade bars.
	KindTradeBar
	// KindQuoteBar identifies bid/ask bars.
	KindQuoteBar
	// KindSplit identifies share split events.
	KindSplit
	// KindDividend identifies dividend distributions.
	KindDividend
	// KindDelisting identifies delisting events.
	KindDelisting
	// KindSymbolChanged identifies ticker rename events.
	KindSymbolChanged
	// KindOptionChain identifies aggregated option chains.
	KindOptionChain
	// KindCollection identifies batched base data items.
	KindCollection
	// KindCustom identifies user-registered data types.
	KindCustom
)

// IsAuxiliary reports whether the kind is a corporate-action style event that
// does not carry a price series of its own.
func (k Kind) IsAuxiliary() bool {
	switch k {
	case KindSplit, KindDividend, KindDelisting, KindSymbolChanged:
		return true
	default:
		return false
	}
}

// BaseData is the typed view shared by every market data variant. Times are
// exchange-local; a bar is considered known at its EndTime.
type BaseData interface {
	Symbol() symbol.Symbol
	Time() time.Time
	EndTime() time.Time
	Kind() Kind
	Value() decimal.Decimal
	Clone() BaseData
}

// FillForwardable is implemented by bar types that the feed may synthesize
// during gaps in the source data.
type FillForwardable interface {
	BaseData
	IsFillForward() bool
}

// Bar groups the four price points of one aggregation period.
type Bar struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// TickType distinguishes trade prints from quote updates.
type TickType uint8

const (
	// TickTypeTrade marks an executed trade print.
	TickTypeTrade TickType = iota
	// TickTypeQuote marks a top-of-book quote update.
	TickTypeQuote
)

// Tick is a single trade or quote; Time == EndTime.
type Tick struct {
	Sym           symbol.Symbol
	At            time.Time
	Type          TickType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	BidPrice      decimal.Decimal
	AskPrice      decimal.Decimal
	BidSize       decimal.Decimal
	AskSize       decimal.Decimal
	Exchange      string
	SaleCondition string
	Suspicious    bool
}

// Symbol implements BaseData.
func (t *Tick) Symbol() symbol.Symbol { return t.Sym }

// Time implements BaseData.
func (t *Tick) Time() time.Time { return t.At }

// EndTime implements BaseData.
func (t *Tick) EndTime() time.Time { return t.At }

// Kind implements BaseData.
func (t *Tick) Kind() Kind { return KindTick }

// Value returns the trade price, or the bid/ask midpoint for quote ticks.
func (t *Tick) Value() decimal.Decimal {
	if t.Type == TickTypeQuote {
		if !t.BidPrice.IsZero() && !t.AskPrice.IsZero() {
			return t.BidPrice.Add(t.AskPrice).Div(two)
		}
		if t.BidPrice.IsZero() {
			return t.AskPrice
		}
		return t.BidPrice
	}
	return t.Price
}

// Clone implements BaseData.
func (t *Tick) Clone() BaseData {
	dup := *t
	return &dup
}

// TradeBar is an OHLCV aggregation over Period; EndTime = Time + Period.
type TradeBar struct {
	Sym         symbol.Symbol
	Start       time.Time
	Period      time.Duration
	Bar         Bar
	Volume      int64
	FillForward bool
}

// Symbol implements BaseData.
func (b *TradeBar) Symbol() symbol.Symbol { return b.Sym }

// Time implements BaseData.
func (b *TradeBar) Time() time.Time { return b.Start }

// EndTime implements BaseData.
func (b *TradeBar) EndTime() time.Time { return b.Start.Add(b.Period) }

// Kind implements BaseData.
func (b *TradeBar) Kind() Kind { return KindTradeBar }

// Value returns the closing price.
func (b *TradeBar) Value() decimal.Decimal { return b.Bar.Close }

// IsFillForward implements FillForwardable.
func (b *TradeBar) IsFillForward() bool { return b.FillForward }

// Clone implements BaseData.
func (b *TradeBar) Clone() BaseData {
	dup := *b
	return &dup
}

// QuoteBar aggregates bid and ask series over Period.
type QuoteBar struct {
	Sym         symbol.Symbol
	Start       time.Time
	Period      time.Duration
	Bid         Bar
	Ask         Bar
	LastBidSize decimal.Decimal
	LastAskSize decimal.Decimal
	FillForward bool
}

// Symbol implements BaseData.
func (b *QuoteBar) Symbol() symbol.Symbol { return b.Sym }

// Time implements BaseData.
func (b *QuoteBar) Time() time.Time { return b.Start }

// EndTime implements BaseData.
func (b *QuoteBar) EndTime() time.Time { return b.Start.Add(b.Period) }

// Kind implements BaseData.
func (b *QuoteBar) Kind() Kind { return KindQuoteBar }

// Value returns the mid of the closing bid and ask.
func (b *QuoteBar) Value() decimal.Decimal {
	if b.Bid.Close.IsZero() {
		return b.Ask.Close
	}
	if b.Ask.Close.IsZero() {
		return b.Bid.Close
	}
	return b.Bid.Close.Add(b.Ask.Close).Div(two)
}

// IsFillForward implements FillForwardable.
func (b *QuoteBar) IsFillForward() bool { return b.FillForward }

// Clone implements BaseData.
func (b *QuoteBar) Clone() BaseData {
	dup := *b
	return &dup
}

var two = decimal.NewFromInt(2)
