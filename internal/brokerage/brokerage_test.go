package brokerage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	sym      symbol.Symbol
	sec      *securities.Security
	registry *securities.Registry
	pf       *portfolio.Portfolio
	brk      *Simulated
	events   []orders.Event
	now      time.Time
}

func newFixture(t *testing.T, cash string) *fixture {
	t.Helper()
	sid, err := symbol.NewEquity("AAPL", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "AAPL")

	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionMinute, market.KindTradeBar,
		"usa", "America/New_York", "America/New_York", true, false, false, false)
	require.NoError(t, err)

	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	f := &fixture{
		sym:      sym,
		sec:      securities.New(cfg, exchange, decimal.NewFromInt(2)),
		registry: securities.NewRegistry(),
		// 2024-03-08 09:31 New York is 14:31 UTC.
		now: time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC),
	}
	f.registry.Add(f.sec)

	margin, err := portfolio.NewLeverageMarginModel(decimal.NewFromInt(2))
	require.NoError(t, err)
	f.pf = portfolio.New("USD", dec(cash), margin)

	f.brk = NewSimulated(NewDefaultModel(), ImmediateFillModel{}, func() time.Time { return f.now })
	f.brk.SetEventHandler(func(e orders.Event) { f.events = append(f.events, e) })
	return f
}

// feedBar pushes a one-minute bar starting at the fixture's current time and
// advances the clock past its end.
func (f *fixture) feedBar(open, high, low, closePx string) {
	bar := &market.TradeBar{
		Sym:    f.sym,
		Start:  f.now,
		Period: time.Minute,
		Bar: market.Bar{
			Open:  dec(open),
			High:  dec(high),
			Low:   dec(low),
			Close: dec(closePx),
		},
		Volume: 1000,
	}
	f.sec.Update(bar)
	f.now = f.now.Add(time.Minute)
}

func (f *fixture) place(order *orders.Order) {
	order.CreatedUtc = f.now
	f.brk.PlaceOrder(order)
}

func statuses(events []orders.Event) []orders.Status {
	out := make([]orders.Status, len(events))
	for i, e := range events {
		out[i] = e.Status
	}
	return out
}

func TestMarketOrderFillsOnNextBar(t *testing.T) {
	f := newFixture(t, "100000")

	f.place(&orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("10")})
	f.feedBar("150.0", "150.5", "149.5", "150.2")
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Equal(t, []orders.Status{orders.StatusSubmitted, orders.StatusFilled}, statuses(f.events))
	fill := f.events[1]
	require.True(t, fill.FillQuantity.Equal(dec("10")))
	require.True(t, fill.FillPrice.Equal(dec("150.0")), "bar opened after submission, fills at open")
	require.True(t, fill.Fee.Equal(dec("1")), "minimum fee applies")
	require.Equal(t, 0, f.brk.PendingCount())
}

func TestLimitOrderNotCrossingStaysPending(t *testing.T) {
	f := newFixture(t, "100000")

	f.place(&orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeLimit, Quantity: dec("10"), LimitPrice: dec("100")})
	f.feedBar("101.5", "102", "101", "101.2")
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Equal(t, []orders.Status{orders.StatusSubmitted}, statuses(f.events))
	require.Equal(t, 1, f.brk.PendingCount())

	// A later bar trading through the limit fills at min(open, limit).
	f.feedBar("100.5", "100.8", "99.5", "99.8")
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Equal(t, orders.StatusFilled, f.events[len(f.events)-1].Status)
	require.True(t, f.events[len(f.events)-1].FillPrice.Equal(dec("100")))
	require.Equal(t, 0, f.brk.PendingCount())
}

func TestStopMarketSellTriggers(t *testing.T) {
	f := newFixture(t, "100000")

	f.place(&orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeStopMarket, Quantity: dec("-10"), StopPrice: dec("100")})
	f.feedBar("100.5", "101", "99", "99.2")
	f.brk.Scan(f.now, f.registry, f.pf)

	fill := f.events[len(f.events)-1]
	require.Equal(t, orders.StatusFilled, fill.Status)
	require.True(t, fill.FillQuantity.Equal(dec("-10")))
	require.True(t, fill.FillPrice.Equal(dec("100")), "sell stop fills at min(open, stop)")
}

func TestInsufficientBuyingPowerInvalidates(t *testing.T) {
	f := newFixture(t, "1000")

	// 2x leverage on 1000 cash cannot carry 100 shares at 150.
	f.place(&orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("100")})
	f.feedBar("150.0", "150.5", "149.5", "150.2")
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Equal(t, []orders.Status{orders.StatusSubmitted, orders.StatusInvalid}, statuses(f.events))
	require.Equal(t, 0, f.brk.PendingCount())
}

func TestNonMarketOrderWaitsOneSlice(t *testing.T) {
	f := newFixture(t, "100000")
	f.feedBar("100.5", "101", "99", "100.2")

	// Created at the current scan instant: must not fill on this pass.
	f.place(&orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeLimit, Quantity: dec("10"), LimitPrice: dec("200")})
	f.brk.Scan(f.now, f.registry, f.pf)
	require.Equal(t, []orders.Status{orders.StatusSubmitted}, statuses(f.events))
	require.Equal(t, 1, f.brk.PendingCount())
}

func TestCancelRemovesPending(t *testing.T) {
	f := newFixture(t, "100000")

	order := &orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeLimit, Quantity: dec("10"), LimitPrice: dec("90")}
	f.place(order)
	require.True(t, f.brk.CancelOrder(order))
	require.False(t, f.brk.CancelOrder(order), "second cancel finds nothing")

	require.Equal(t, []orders.Status{orders.StatusSubmitted, orders.StatusCanceled}, statuses(f.events))
	require.Equal(t, 0, f.brk.PendingCount())
}

func TestUnknownSecurityInvalidates(t *testing.T) {
	f := newFixture(t, "100000")
	sid, err := symbol.NewEquity("MSFT", 1)
	require.NoError(t, err)
	ghost := symbol.New(sid, "MSFT")

	f.place(&orders.Order{ID: 1, Symbol: ghost, Type: orders.TypeMarket, Quantity: dec("10")})
	f.feedBar("150", "150", "150", "150")
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Equal(t, []orders.Status{orders.StatusSubmitted, orders.StatusInvalid}, statuses(f.events))
}

func TestEventsAscendingOrderID(t *testing.T) {
	f := newFixture(t, "1000000")

	for id := 3; id >= 1; id-- {
		f.place(&orders.Order{ID: id, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("1")})
	}
	f.feedBar("150.0", "150.5", "149.5", "150.2")
	f.events = nil
	f.brk.Scan(f.now, f.registry, f.pf)

	require.Len(t, f.events, 3)
	for i, e := range f.events {
		require.Equal(t, i+1, e.OrderID)
		require.Equal(t, orders.StatusFilled, e.Status)
	}
}

func TestDefaultModelValidation(t *testing.T) {
	f := newFixture(t, "100000")
	model := NewDefaultModel()

	require.Error(t, model.CanSubmit(f.sec, &orders.Order{ID: 1, Symbol: f.sym, Type: orders.TypeMarket}))
	require.Error(t, model.CanSubmit(f.sec, &orders.Order{ID: 2, Symbol: f.sym, Type: orders.TypeLimit, Quantity: dec("1")}))
	require.Error(t, model.CanSubmit(nil, &orders.Order{ID: 3, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("1")}))
	require.NoError(t, model.CanSubmit(f.sec, &orders.Order{ID: 4, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("1")}))

	f.sec.SetTradable(false)
	require.Error(t, model.CanSubmit(f.sec, &orders.Order{ID: 5, Symbol: f.sym, Type: orders.TypeMarket, Quantity: dec("1")}))
}
