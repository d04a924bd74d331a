package feed

import (
	"sort"
	"time"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
)

// SecurityChanges records universe membership deltas computed between
// slices.
type SecurityChanges struct {
	Added   []*securities.Security
	Removed []*securities.Security
}

// IsEmpty reports whether any membership changed.
func (c SecurityChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// ConsolidatorUpdate pairs one data item with a consolidator registered on
// the subscription that produced it. The engine drains the vector in step
// order.
type ConsolidatorUpdate struct {
	Consolidator market.Consolidator
	Data         market.BaseData
}

// TimeSlice is one engine step's worth of data: the typed slice plus the
// flat ordered item list, the consolidator update vector and any universe
// changes computed at this instant.
type TimeSlice struct {
	UtcTime time.Time
	Slice   *market.Slice
	// Data holds every item ordered by (canonical identifier, resolution);
	// multiple ticks for one symbol keep feed order.
	Data                []market.BaseData
	ConsolidatorUpdates []ConsolidatorUpdate
	Changes             SecurityChanges
}

type sliceItem struct {
	data       market.BaseData
	cfg        *market.SubscriptionDataConfig
	resolution market.Resolution
	seq        int
}

// buildTimeSlice orders the gathered items, aggregates option contracts
// into chains, and populates the typed views.
func buildTimeSlice(utc time.Time, items []sliceItem, changes SecurityChanges, priceModel market.PriceModel) *TimeSlice {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		ka, kb := a.data.Symbol().SID.String(), b.data.Symbol().SID.String()
		if ka != kb {
			return ka < kb
		}
		if a.resolution != b.resolution {
			return a.resolution < b.resolution
		}
		return a.seq < b.seq
	})

	slice := market.NewSlice(utc)
	data := make([]market.BaseData, 0, len(items))
	var updates []ConsolidatorUpdate

	chains := make(map[symbol.SecurityIdentifier]*market.OptionChain)
	var chainOrder []symbol.SecurityIdentifier

	for _, item := range items {
		sid := item.data.Symbol().SID
		if sid.SecurityType() == symbol.SecurityTypeOption {
			canonical := item.data.Symbol().Canonical()
			chain, ok := chains[canonical.SID]
			if !ok {
				chain = &market.OptionChain{Sym: canonical, At: utc}
				chains[canonical.SID] = chain
				chainOrder = append(chainOrder, canonical.SID)
			}
			chain.Contracts = append(chain.Contracts, contractFrom(item.data, priceModel))
			continue
		}
		data = append(data, item.data)
		slice.Add(item.data)
		if item.cfg != nil {
			for _, con := range item.cfg.Consolidators() {
				updates = append(updates, ConsolidatorUpdate{Consolidator: con, Data: item.data})
			}
		}
	}

	for _, cid := range chainOrder {
		chain := chains[cid]
		data = append(data, chain)
		slice.Add(chain)
	}

	return &TimeSlice{UtcTime: utc, Slice: slice, Data: data, ConsolidatorUpdates: updates, Changes: changes}
}

// contractFrom projects one option data item into a chain contract with the
// price model attached lazily.
func contractFrom(item market.BaseData, priceModel market.PriceModel) *market.OptionContract {
	sym := item.Symbol()
	underlying := symbol.New(
		mustBaseSID(sym),
		sym.SID.Symbol(),
	)
	contract := &market.OptionContract{
		Sym:        sym,
		Underlying: underlying,
		Strike:     sym.SID.StrikePrice(),
		Expiry:     sym.SID.Date(),
		Right:      sym.SID.OptionRight(),
		Style:      sym.SID.OptionStyle(),
		LastPrice:  item.Value(),
	}
	if bar, ok := item.(*market.QuoteBar); ok {
		contract.BidPrice = bar.Bid.Close
		contract.AskPrice = bar.Ask.Close
	}
	if bar, ok := item.(*market.TradeBar); ok {
		contract.Volume = bar.Volume
	}
	if priceModel != nil {
		contract.AttachPriceModel(priceModel)
	}
	return contract
}

func mustBaseSID(sym symbol.Symbol) symbol.SecurityIdentifier {
	sid, err := symbol.NewEquity(sym.SID.Symbol(), sym.SID.Market())
	if err != nil {
		return symbol.SecurityIdentifier{}
	}
	return sid
}
