package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// PriceModel computes a theoretical value for an option contract. Attached
// lazily so chains stay cheap to build when the model is never consulted.
type PriceModel func(contract *OptionContract) decimal.Decimal

// OptionContract is a single option within a chain.
type OptionContract struct {
	Sym        symbol.Symbol
	Underlying symbol.Symbol
	Strike     decimal.Decimal
	Expiry     time.Time
	Right      symbol.OptionRight
	Style      symbol.OptionStyle

	LastPrice decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Volume    int64

	priceModel      PriceModel
	theoretical     decimal.Decimal
	theoreticalDone bool
}

// AttachPriceModel binds the model evaluated by TheoreticalPrice.
func (c *OptionContract) AttachPriceModel(model PriceModel) {
	c.priceModel = model
	c.theoreticalDone = false
}

// TheoreticalPrice evaluates the attached price model at most once.
func (c *OptionContract) TheoreticalPrice() decimal.Decimal {
	if !c.theoreticalDone && c.priceModel != nil {
		c.theoretical = c.priceModel(c)
		c.theoreticalDone = true
	}
	return c.theoretical
}

// OptionChain aggregates the contracts of one underlying under the canonical
// option symbol at a single slice time.
type OptionChain struct {
	Sym             symbol.Symbol
	At              time.Time
	UnderlyingPrice decimal.Decimal
	Contracts       []*OptionContract
}

// Symbol implements BaseData; the symbol is the canonical chain symbol.
func (c *OptionChain) Symbol() symbol.Symbol { return c.Sym }

// Time implements BaseData.
func (c *OptionChain) Time() time.Time { return c.At }

// EndTime implements BaseData.
func (c *OptionChain) EndTime() time.Time { return c.At }

// Kind implements BaseData.
func (c *OptionChain) Kind() Kind { return KindOptionChain }

// Value returns the underlying price.
func (c *OptionChain) Value() decimal.Decimal { return c.UnderlyingPrice }

// Clone implements BaseData.
func (c *OptionChain) Clone() BaseData {
	contracts := make([]*OptionContract, len(c.Contracts))
	for i, contract := range c.Contracts {
		dup := *contract
		contracts[i] = &dup
	}
	return &OptionChain{Sym: c.Sym, At: c.At, UnderlyingPrice: c.UnderlyingPrice, Contracts: contracts}
}
