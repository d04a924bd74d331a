package market

import (
	"sync"
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/symbol"
)

// SubscriptionDataConfig binds one (instrument, resolution, type) tuple to
// its time zones and feed behaviour. Immutable after creation apart from
// consolidator registration.
type SubscriptionDataConfig struct {
	Symbol     symbol.Symbol
	Resolution Resolution
	// DataKind is the variant the source produces: trade bars, quote bars,
	// ticks, or custom data.
	DataKind         Kind
	Market           string
	DataTimeZone     string
	ExchangeTimeZone string
	FillForward      bool
	ExtendedHours    bool
	IsInternalFeed   bool
	IsCustomData     bool

	dataLoc     *time.Location
	exchangeLoc *time.Location

	mu            sync.Mutex
	consolidators []Consolidator
}

// NewSubscriptionDataConfig resolves the time zones and validates the tuple.
func NewSubscriptionDataConfig(sym symbol.Symbol, res Resolution, kind Kind, market, dataTZ, exchangeTZ string, fillForward, extendedHours, internal, custom bool) (*SubscriptionDataConfig, error) {
	if sym.IsZero() {
		return nil, errs.New("market/config", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	switch kind {
	case KindTradeBar, KindQuoteBar, KindTick, KindCustom:
	default:
		return nil, errs.New("market/config", errs.CodeInvalid, errs.WithMessage("unsupported data kind"))
	}
	dataLoc, err := time.LoadLocation(dataTZ)
	if err != nil {
		return nil, errs.New("market/config", errs.CodeConfiguration,
			errs.WithMessage("load data time zone "+dataTZ), errs.WithCause(err))
	}
	exchangeLoc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, errs.New("market/config", errs.CodeConfiguration,
			errs.WithMessage("load exchange time zone "+exchangeTZ), errs.WithCause(err))
	}
	return &SubscriptionDataConfig{
		Symbol:           sym,
		Resolution:       res,
		DataKind:         kind,
		Market:           market,
		DataTimeZone:     dataTZ,
		ExchangeTimeZone: exchangeTZ,
		FillForward:      fillForward,
		ExtendedHours:    extendedHours,
		IsInternalFeed:   internal,
		IsCustomData:     custom,
		dataLoc:          dataLoc,
		exchangeLoc:      exchangeLoc,
	}, nil
}

// RegisterConsolidator attaches a consolidator fed from this subscription's
// data during each engine step.
func (c *SubscriptionDataConfig) RegisterConsolidator(con Consolidator) {
	if con == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consolidators = append(c.consolidators, con)
}

// Consolidators returns a snapshot of the registered consolidators.
func (c *SubscriptionDataConfig) Consolidators() []Consolidator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Consolidator, len(c.consolidators))
	copy(out, c.consolidators)
	return out
}

// DataLocation returns the zone on-disk timestamps are expressed in.
func (c *SubscriptionDataConfig) DataLocation() *time.Location { return c.dataLoc }

// ExchangeLocation returns the zone the security's hours are defined in.
func (c *SubscriptionDataConfig) ExchangeLocation() *time.Location { return c.exchangeLoc }

// PriceScale returns the multiplier applied to raw CSV prices. Equity and
// option files store prices in ten-thousandths.
func (c *SubscriptionDataConfig) PriceScale() int32 {
	switch c.Symbol.SID.SecurityType() {
	case symbol.SecurityTypeEquity, symbol.SecurityTypeOption:
		return -4
	default:
		return 0
	}
}
