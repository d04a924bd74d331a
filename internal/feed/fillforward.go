package feed

import (
	"io"
	"time"

	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
)

// fillForwardSource synthesizes bars over gaps in the wrapped stream so that
// downstream consumers see one bar per tradeable period. Synthetic bars
// repeat the last seen close with zero volume and are marked fill-forward.
// Cadence follows the exchange calendar, honoring the subscription's
// extended-hours flag.
type fillForwardSource struct {
	inner    DataSource
	cfg      *market.SubscriptionDataConfig
	exchange *hours.ExchangeHours

	lastTrade *market.TradeBar
	lastQuote *market.QuoteBar
	pending   market.BaseData
	done      bool
}

// newFillForwardSource wraps the inner stream. Tick and custom subscriptions
// pass through untouched.
func newFillForwardSource(inner DataSource, cfg *market.SubscriptionDataConfig, exchange *hours.ExchangeHours) DataSource {
	if !cfg.FillForward || cfg.Resolution == market.ResolutionTick {
		return inner
	}
	return &fillForwardSource{inner: inner, cfg: cfg, exchange: exchange}
}

func (f *fillForwardSource) Next() (market.BaseData, error) {
	if f.done {
		return nil, io.EOF
	}
	if f.pending == nil {
		item, err := f.inner.Next()
		if err != nil {
			if err == io.EOF {
				f.done = true
			}
			return nil, err
		}
		f.pending = item
	}

	if synthetic := f.gapBar(f.pending); synthetic != nil {
		return synthetic, nil
	}

	item := f.pending
	f.pending = nil
	switch v := item.(type) {
	case *market.TradeBar:
		f.lastTrade = v
	case *market.QuoteBar:
		f.lastQuote = v
	}
	return item, nil
}

// gapBar returns the next synthetic bar due strictly before the pending
// item, or nil when the pending item is on cadence.
func (f *fillForwardSource) gapBar(next market.BaseData) market.BaseData {
	switch v := next.(type) {
	case *market.TradeBar:
		if f.lastTrade == nil {
			return nil
		}
		start := f.nextBarStart(f.lastTrade.Start.Add(f.lastTrade.Period))
		if start.IsZero() || !start.Add(v.Period).Before(v.EndTime()) {
			return nil
		}
		bar := &market.TradeBar{
			Sym:    f.lastTrade.Sym,
			Start:  start,
			Period: f.lastTrade.Period,
			Bar: market.Bar{
				Open:  f.lastTrade.Bar.Close,
				High:  f.lastTrade.Bar.Close,
				Low:   f.lastTrade.Bar.Close,
				Close: f.lastTrade.Bar.Close,
			},
			FillForward: true,
		}
		f.lastTrade = bar
		return bar
	case *market.QuoteBar:
		if f.lastQuote == nil {
			return nil
		}
		start := f.nextBarStart(f.lastQuote.Start.Add(f.lastQuote.Period))
		if start.IsZero() || !start.Add(v.Period).Before(v.EndTime()) {
			return nil
		}
		flat := func(b market.Bar) market.Bar {
			return market.Bar{Open: b.Close, High: b.Close, Low: b.Close, Close: b.Close}
		}
		bar := &market.QuoteBar{
			Sym:         f.lastQuote.Sym,
			Start:       start,
			Period:      f.lastQuote.Period,
			Bid:         flat(f.lastQuote.Bid),
			Ask:         flat(f.lastQuote.Ask),
			FillForward: true,
		}
		f.lastQuote = bar
		return bar
	default:
		return nil
	}
}

// nextBarStart returns the first tradeable bar start at or after the local
// instant, stepping to the next session when the exchange is closed.
func (f *fillForwardSource) nextBarStart(local time.Time) time.Time {
	ext := f.cfg.ExtendedHours
	if f.exchange.IsOpenLocal(local, ext) {
		return local
	}
	return f.exchange.NextOpenLocal(local, ext)
}

func (f *fillForwardSource) Close() error { return f.inner.Close() }
