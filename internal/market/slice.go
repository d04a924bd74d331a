package market

import (
	"time"

	"github.com/quantarc/engine/internal/symbol"
)

// Slice is the snapshot of all data whose end time equals one instant. The
// typed views are keyed by security identifier; ticks allow several entries
// per symbol in feed order, bar views keep the last one written.
type Slice struct {
	UtcTime time.Time

	Ticks         map[symbol.SecurityIdentifier][]*Tick
	TradeBars     map[symbol.SecurityIdentifier]*TradeBar
	QuoteBars     map[symbol.SecurityIdentifier]*QuoteBar
	Splits        map[symbol.SecurityIdentifier]*Split
	Dividends     map[symbol.SecurityIdentifier]*Dividend
	Delistings    map[symbol.SecurityIdentifier]*Delisting
	SymbolChanges map[symbol.SecurityIdentifier]*SymbolChanged
	OptionChains  map[symbol.SecurityIdentifier]*OptionChain
	Custom        []BaseData

	// All preserves insertion order across every view.
	All []BaseData
}

// NewSlice returns an empty slice keyed at the UTC instant.
func NewSlice(utc time.Time) *Slice {
	return &Slice{
		UtcTime:       utc,
		Ticks:         make(map[symbol.SecurityIdentifier][]*Tick),
		TradeBars:     make(map[symbol.SecurityIdentifier]*TradeBar),
		QuoteBars:     make(map[symbol.SecurityIdentifier]*QuoteBar),
		Splits:        make(map[symbol.SecurityIdentifier]*Split),
		Dividends:     make(map[symbol.SecurityIdentifier]*Dividend),
		Delistings:    make(map[symbol.SecurityIdentifier]*Delisting),
		SymbolChanges: make(map[symbol.SecurityIdentifier]*SymbolChanged),
		OptionChains:  make(map[symbol.SecurityIdentifier]*OptionChain),
	}
}

// Add routes one data item into the matching typed view.
func (s *Slice) Add(data BaseData) {
	if data == nil {
		return
	}
	sid := data.Symbol().SID
	switch v := data.(type) {
	case *Tick:
		s.Ticks[sid] = append(s.Ticks[sid], v)
	case *TradeBar:
		s.TradeBars[sid] = v
	case *QuoteBar:
		s.QuoteBars[sid] = v
	case *Split:
		s.Splits[sid] = v
	case *Dividend:
		s.Dividends[sid] = v
	case *Delisting:
		s.Delistings[sid] = v
	case *SymbolChanged:
		s.SymbolChanges[sid] = v
	case *OptionChain:
		s.OptionChains[sid] = v
	case *Collection:
		for _, item := range v.Items {
			s.Add(item)
		}
		return
	default:
		s.Custom = append(s.Custom, data)
	}
	s.All = append(s.All, data)
}

// Count returns the number of routed items.
func (s *Slice) Count() int { return len(s.All) }

// HasData reports whether any non-auxiliary data is present.
func (s *Slice) HasData() bool {
	for _, item := range s.All {
		if !item.Kind().IsAuxiliary() {
			return true
		}
	}
	return false
}

// Bars returns the trade bar for the identifier, if present.
func (s *Slice) Bars(sid symbol.SecurityIdentifier) (*TradeBar, bool) {
	bar, ok := s.TradeBars[sid]
	return bar, ok
}
