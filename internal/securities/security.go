package securities

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/symbol"
)

// Security is the engine-side state of one tradeable instrument: its
// subscription, exchange schedule, and the most recent data seen. Updates
// happen on the engine thread; reads take the lock so result snapshots are
// safe.
type Security struct {
	Symbol   symbol.Symbol
	Config   *market.SubscriptionDataConfig
	Exchange *hours.ExchangeHours
	Leverage decimal.Decimal

	mu        sync.RWMutex
	tradable  bool
	price     decimal.Decimal
	lastTrade *market.TradeBar
	lastQuote *market.QuoteBar
	lastTick  *market.Tick
}

// New creates a tradable security with the given leverage.
func New(cfg *market.SubscriptionDataConfig, exchange *hours.ExchangeHours, leverage decimal.Decimal) *Security {
	return &Security{
		Symbol:   cfg.Symbol,
		Config:   cfg,
		Exchange: exchange,
		Leverage: leverage,
		tradable: true,
	}
}

// Update folds one data item into the security's market state. Auxiliary
// data does not move the price.
func (s *Security) Update(data market.BaseData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := data.(type) {
	case *market.TradeBar:
		s.lastTrade = v
		s.price = v.Bar.Close
	case *market.QuoteBar:
		s.lastQuote = v
		if !v.Value().IsZero() {
			s.price = v.Value()
		}
	case *market.Tick:
		s.lastTick = v
		if v.Type == market.TickTypeTrade && !v.Price.IsZero() {
			s.price = v.Price
		}
	}
}

// Price returns the most recent trade-derived price.
func (s *Security) Price() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// HasPrice reports whether any price has been observed yet.
func (s *Security) HasPrice() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.price.IsZero()
}

// LastTrade returns the most recent trade bar, if any.
func (s *Security) LastTrade() *market.TradeBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTrade
}

// LastQuote returns the most recent quote bar, if any.
func (s *Security) LastQuote() *market.QuoteBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuote
}

// LastTick returns the most recent tick, if any.
func (s *Security) LastTick() *market.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// BidPrice returns the last bid close, falling back to the trade price.
func (s *Security) BidPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastQuote != nil && !s.lastQuote.Bid.Close.IsZero() {
		return s.lastQuote.Bid.Close
	}
	return s.price
}

// AskPrice returns the last ask close, falling back to the trade price.
func (s *Security) AskPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastQuote != nil && !s.lastQuote.Ask.Close.IsZero() {
		return s.lastQuote.Ask.Close
	}
	return s.price
}

// IsTradable reports whether orders may be placed.
func (s *Security) IsTradable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradable
}

// SetTradable flips trading on or off, e.g. after a delisting warning.
func (s *Security) SetTradable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradable = v
}

// IsExchangeOpen reports whether the exchange trades at the UTC instant,
// honoring the subscription's extended-hours flag.
func (s *Security) IsExchangeOpen(utc time.Time) bool {
	local := utc.In(s.Config.ExchangeLocation())
	return s.Exchange.IsOpenLocal(local, s.Config.ExtendedHours)
}
