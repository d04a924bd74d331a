package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// SplitType distinguishes the warning issued the day before from the
// occurrence itself.
type SplitType uint8

const (
	// SplitWarning announces an upcoming split.
	SplitWarning SplitType = iota
	// SplitOccurred applies the split factor.
	SplitOccurred
)

// Split is a share split corporate action.
type Split struct {
	Sym            symbol.Symbol
	At             time.Time
	Type           SplitType
	SplitFactor    decimal.Decimal
	ReferencePrice decimal.Decimal
}

// Symbol implements BaseData.
func (s *Split) Symbol() symbol.Symbol { return s.Sym }

// Time implements BaseData.
func (s *Split) Time() time.Time { return s.At }

// EndTime implements BaseData.
func (s *Split) EndTime() time.Time { return s.At }

// Kind implements BaseData.
func (s *Split) Kind() Kind { return KindSplit }

// Value returns the reference price.
func (s *Split) Value() decimal.Decimal { return s.ReferencePrice }

// Clone implements BaseData.
func (s *Split) Clone() BaseData {
	dup := *s
	return &dup
}

// Dividend is a cash distribution per share.
type Dividend struct {
	Sym            symbol.Symbol
	At             time.Time
	Distribution   decimal.Decimal
	ReferencePrice decimal.Decimal
}

// Symbol implements BaseData.
func (d *Dividend) Symbol() symbol.Symbol { return d.Sym }

// Time implements BaseData.
func (d *Dividend) Time() time.Time { return d.At }

// EndTime implements BaseData.
func (d *Dividend) EndTime() time.Time { return d.At }

// Kind implements BaseData.
func (d *Dividend) Kind() Kind { return KindDividend }

// Value returns the distribution amount.
func (d *Dividend) Value() decimal.Decimal { return d.Distribution }

// Clone implements BaseData.
func (d *Dividend) Clone() BaseData {
	dup := *d
	return &dup
}

// DelistingType distinguishes the advance warning from the delisting itself.
type DelistingType uint8

const (
	// DelistingWarning announces an upcoming delisting.
	DelistingWarning DelistingType = iota
	// DelistingOccurred removes the security from trading.
	DelistingOccurred
)

// Delisting marks a security leaving its exchange.
type Delisting struct {
	Sym  symbol.Symbol
	At   time.Time
	Type DelistingType
}

// Symbol implements BaseData.
func (d *Delisting) Symbol() symbol.Symbol { return d.Sym }

// Time implements BaseData.
func (d *Delisting) Time() time.Time { return d.At }

// EndTime implements BaseData.
func (d *Delisting) EndTime() time.Time { return d.At }

// Kind implements BaseData.
func (d *Delisting) Kind() Kind { return KindDelisting }

// Value implements BaseData.
func (d *Delisting) Value() decimal.Decimal { return decimal.Zero }

// Clone implements BaseData.
func (d *Delisting) Clone() BaseData {
	dup := *d
	return &dup
}

// SymbolChanged records a ticker rename sourced from map files.
type SymbolChanged struct {
	Sym       symbol.Symbol
	At        time.Time
	OldTicker string
	NewTicker string
}

// Symbol implements BaseData.
func (s *SymbolChanged) Symbol() symbol.Symbol { return s.Sym }

// Time implements BaseData.
func (s *SymbolChanged) Time() time.Time { return s.At }

// EndTime implements BaseData.
func (s *SymbolChanged) EndTime() time.Time { return s.At }

// Kind implements BaseData.
func (s *SymbolChanged) Kind() Kind { return KindSymbolChanged }

// Value implements BaseData.
func (s *SymbolChanged) Value() decimal.Decimal { return decimal.Zero }

// Clone implements BaseData.
func (s *SymbolChanged) Clone() BaseData {
	dup := *s
	return &dup
}

// CustomData wraps a user-registered payload. The engine treats it as opaque
// and routes it by symbol and time only.
type CustomData struct {
	Sym     symbol.Symbol
	Start   time.Time
	End     time.Time
	Val     decimal.Decimal
	Payload any
}

// Symbol implements BaseData.
func (c *CustomData) Symbol() symbol.Symbol { return c.Sym }

// Time implements BaseData.
func (c *CustomData) Time() time.Time { return c.Start }

// EndTime implements BaseData.
func (c *CustomData) EndTime() time.Time { return c.End }

// Kind implements BaseData.
func (c *CustomData) Kind() Kind { return KindCustom }

// Value implements BaseData.
func (c *CustomData) Value() decimal.Decimal { return c.Val }

// Clone implements BaseData.
func (c *CustomData) Clone() BaseData {
	dup := *c
	return &dup
}

// Collection batches items that share one timestamp, e.g. a universe
// coarse-fundamental file.
type Collection struct {
	Sym   symbol.Symbol
	Start time.Time
	End   time.Time
	Items []BaseData
}

// Symbol implements BaseData.
func (c *Collection) Symbol() symbol.Symbol { return c.Sym }

// Time implements BaseData.
func (c *Collection) Time() time.Time { return c.Start }

// EndTime implements BaseData.
func (c *Collection) EndTime() time.Time { return c.End }

// Kind implements BaseData.
func (c *Collection) Kind() Kind { return KindCollection }

// Value implements BaseData.
func (c *Collection) Value() decimal.Decimal { return decimal.Zero }

// Clone implements BaseData.
func (c *Collection) Clone() BaseData {
	items := make([]BaseData, len(c.Items))
	for i, item := range c.Items {
		items[i] = item.Clone()
	}
	return &Collection{Sym: c.Sym, Start: c.Start, End: c.End, Items: items}
}
