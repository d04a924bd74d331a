package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/config"
	"github.com/quantarc/engine/internal/brokerage"
	"github.com/quantarc/engine/internal/feed"
	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/results"
	"github.com/quantarc/engine/internal/scheduling"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
	"github.com/quantarc/engine/internal/transactions"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingSink struct {
	mu      sync.Mutex
	packets []results.Packet
}

func (s *recordingSink) Send(_ context.Context, p results.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, p)
	return nil
}

func (s *recordingSink) kinds() []results.PacketKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]results.PacketKind, len(s.packets))
	for i, p := range s.packets {
		out[i] = p.Kind
	}
	return out
}

// harness wires a one-symbol backtest over in-memory minute bars.
type harness struct {
	sym     symbol.Symbol
	clock   *VirtualClock
	eng     *Engine
	sink    *recordingSink
	pf      *portfolio.Portfolio
	handler *transactions.Handler
}

func newHarness(t *testing.T, algo Algorithm, bars []*market.TradeBar) *harness {
	t.Helper()
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	endUtc := t0.Add(24 * time.Hour)

	sid, err := symbol.NewCrypto("BTCUSDT", 4)
	require.NoError(t, err)
	sym := symbol.New(sid, "BTCUSDT")
	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionMinute, market.KindTradeBar,
		"binance", "UTC", "UTC", false, true, false, false)
	require.NoError(t, err)
	exchange, err := hours.NewDefaultDatabase().Get("binance", symbol.SecurityTypeCrypto, "")
	require.NoError(t, err)
	sec := securities.New(cfg, exchange, decimal.NewFromInt(2))

	items := make([]market.BaseData, len(bars))
	for i, b := range bars {
		b.Sym = sym
		items[i] = b
	}

	f := feed.New(endUtc, 8)
	f.AddSubscription(feed.NewSubscription(cfg, sec, feed.NewSliceSource(items...), 16))

	clock := NewVirtualClock(t0)
	margin, err := portfolio.NewLeverageMarginModel(decimal.NewFromInt(2))
	require.NoError(t, err)
	pf := portfolio.New("USD", dec("100000"), margin)
	registry := securities.NewRegistry()
	registry.Add(sec)

	brk := brokerage.NewSimulated(brokerage.NewDefaultModel(), brokerage.ImmediateFillModel{}, clock.Now)
	handler := transactions.New(brk, pf, 32, 32)
	scheduler := scheduling.NewScheduler(t0, endUtc, 3)
	sink := &recordingSink{}
	channel := results.NewChannel("algo-test", sink, 64, 30, results.DropOldestPolicy, clock.Now)

	settings := config.Default()
	settings.AlgorithmID = "algo-test"

	eng, err := New(Config{
		Settings:  settings,
		Algorithm: algo,
		Feed:      f,
		Brokerage: brk,
		Handler:   handler,
		Portfolio: pf,
		Registry:  registry,
		Scheduler: scheduler,
		Channel:   channel,
		Clock:     clock,
	})
	require.NoError(t, err)

	return &harness{sym: sym, clock: clock, eng: eng, sink: sink, pf: pf, handler: handler}
}

func minuteBar(start time.Time, open, close string) *market.TradeBar {
	return &market.TradeBar{
		Start:  start,
		Period: time.Minute,
		Bar:    market.Bar{Open: dec(open), High: dec(close), Low: dec(open), Close: dec(close)},
		Volume: 10,
	}
}

// buyOnce submits a single market order on the first slice and records every
// order event it observes.
type buyOnce struct {
	Base
	submitted bool
	ticket    *orders.Ticket
	events    []orders.Event
}

func (a *buyOnce) OnData(ctx *Context, slice *feed.TimeSlice) error {
	if !a.submitted && len(slice.Data) > 0 {
		a.submitted = true
		a.ticket = ctx.Submit(orders.SubmitRequest{
			Type:     orders.TypeMarket,
			Symbol:   slice.Data[0].Symbol(),
			Quantity: decimal.NewFromInt(1),
		})
	}
	return nil
}

func (a *buyOnce) OnOrderEvent(_ *Context, event orders.Event) {
	a.events = append(a.events, event)
}

func TestMarketOrderLifecycleEndToEnd(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	algo := &buyOnce{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),
		minuteBar(t0.Add(2*time.Minute), "104", "105"),
	})

	exit := h.eng.Run(context.Background())
	require.Equal(t, ExitOK, exit)

	require.NotNil(t, algo.ticket)
	require.Equal(t, 1, algo.ticket.OrderID())
	require.Equal(t, orders.StatusFilled, algo.ticket.Status())

	require.Len(t, algo.events, 2)
	require.Equal(t, orders.StatusSubmitted, algo.events[0].Status)
	require.Equal(t, orders.StatusFilled, algo.events[1].Status)
	// The order created at the first slice fills at the next bar's open.
	require.True(t, algo.events[1].FillPrice.Equal(dec("102")))

	holding, ok := h.pf.HoldingSnapshot(h.sym.SID)
	require.True(t, ok)
	require.True(t, holding.Quantity.Equal(decimal.NewFromInt(1)))
	require.True(t, holding.AveragePrice.Equal(dec("102")))
	// 100000 - 102 - 1 fee.
	require.True(t, h.pf.CashBook().Get("USD").Amount.Equal(dec("99897")),
		"cash is %s", h.pf.CashBook().Get("USD").Amount)

	kinds := h.sink.kinds()
	require.Equal(t, results.KindStatus, kinds[0])
	require.Equal(t, results.KindBacktestResult, kinds[len(kinds)-1])
}

func TestClockTracksSliceTimes(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	algo := &buyOnce{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),
	})

	require.Equal(t, ExitOK, h.eng.Run(context.Background()))
	require.Equal(t, t0.Add(2*time.Minute), h.clock.Now())
}

type failingInit struct{ Base }

func (failingInit) Initialize(*Context) error {
	return context.DeadlineExceeded
}

func TestInitializeFailureExitsWithInitError(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, failingInit{}, []*market.TradeBar{minuteBar(t0, "100", "101")})

	require.Equal(t, ExitInitError, h.eng.Run(context.Background()))

	var sawError bool
	for _, k := range h.sink.kinds() {
		if k == results.KindHandledError {
			sawError = true
		}
	}
	require.True(t, sawError)
}

type panicsOnData struct{ Base }

func (panicsOnData) OnData(*Context, *feed.TimeSlice) error {
	panic("boom")
}

func TestCallbackPanicBecomesRuntimeError(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, panicsOnData{}, []*market.TradeBar{minuteBar(t0, "100", "101")})

	require.Equal(t, ExitRuntimeError, h.eng.Run(context.Background()))
}

type schedulesDaily struct {
	Base
	fired []time.Time
}

func (a *schedulesDaily) Initialize(ctx *Context) error {
	ctx.Schedule("every-minute", scheduling.EveryDay(),
		scheduling.At(12, 1, time.UTC), func(utc time.Time) error {
			a.fired = append(a.fired, utc)
			return nil
		})
	return nil
}

func TestScheduledEventsFireBeforeOnData(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	algo := &schedulesDaily{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),
	})

	require.Equal(t, ExitOK, h.eng.Run(context.Background()))
	require.Len(t, algo.fired, 1)
	require.Equal(t, t0.Add(time.Minute), algo.fired[0])
}

// consolidatesPairs rolls the single subscription up to two-minute bars.
type consolidatesPairs struct {
	Base
	bars []*market.TradeBar
}

func (a *consolidatesPairs) Initialize(ctx *Context) error {
	sec := ctx.Securities().All()[0]
	_, err := ctx.Consolidate(sec.Symbol, 2*time.Minute, func(b *market.TradeBar) {
		a.bars = append(a.bars, b)
	})
	return err
}

func TestConsolidatedBarsEmitOnWindowClose(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	algo := &consolidatesPairs{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),
		minuteBar(t0.Add(2*time.Minute), "104", "105"),
		minuteBar(t0.Add(3*time.Minute), "106", "107"),
	})

	require.Equal(t, ExitOK, h.eng.Run(context.Background()))

	require.Len(t, algo.bars, 2)
	first := algo.bars[0]
	require.True(t, h.sym.Equal(first.Sym))
	require.Equal(t, t0, first.Start)
	require.Equal(t, 2*time.Minute, first.Period)
	require.True(t, first.Bar.Open.Equal(dec("100")))
	require.True(t, first.Bar.High.Equal(dec("103")))
	require.True(t, first.Bar.Low.Equal(dec("100")))
	require.True(t, first.Bar.Close.Equal(dec("103")))
	require.Equal(t, int64(20), first.Volume)

	second := algo.bars[1]
	require.Equal(t, t0.Add(2*time.Minute), second.Start)
	require.True(t, second.Bar.Close.Equal(dec("107")))
}

func TestConsolidateUnknownSymbolFails(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, &buyOnce{}, []*market.TradeBar{minuteBar(t0, "100", "101")})

	other, err := symbol.NewEquity("TSLA", 1)
	require.NoError(t, err)
	_, err = h.eng.ctx.Consolidate(symbol.New(other, "TSLA"), time.Minute, nil)
	require.Error(t, err)
}

// submitsZeroQuantity places an order the brokerage model must reject.
type submitsZeroQuantity struct {
	Base
	ticket *orders.Ticket
}

func (a *submitsZeroQuantity) OnData(ctx *Context, slice *feed.TimeSlice) error {
	if a.ticket == nil && len(slice.Data) > 0 {
		a.ticket = ctx.Submit(orders.SubmitRequest{
			Type:   orders.TypeMarket,
			Symbol: slice.Data[0].Symbol(),
		})
	}
	return nil
}

func TestSubmissionValidationRejectsZeroQuantity(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	algo := &submitsZeroQuantity{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),
	})

	require.Equal(t, ExitOK, h.eng.Run(context.Background()))

	require.NotNil(t, algo.ticket)
	require.Equal(t, orders.StatusInvalid, algo.ticket.Status())
	resp, ok := algo.ticket.LatestResponse()
	require.True(t, ok)
	require.False(t, resp.Ok())
}

type eodTracker struct {
	Base
	days []time.Time
}

func (a *eodTracker) OnEndOfDay(_ *Context, _ symbol.Symbol, day time.Time) {
	a.days = append(a.days, day)
}

func TestEndOfDayFiresOnCalendarRollover(t *testing.T) {
	t0 := time.Date(2024, 3, 8, 23, 58, 0, 0, time.UTC)
	algo := &eodTracker{}
	h := newHarness(t, algo, []*market.TradeBar{
		minuteBar(t0, "100", "101"),
		minuteBar(t0.Add(time.Minute), "102", "103"),  // ends at midnight
		minuteBar(t0.Add(2*time.Minute), "104", "105"), // first bar of the next day
	})

	require.Equal(t, ExitOK, h.eng.Run(context.Background()))
	require.Len(t, algo.days, 1)
	require.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), algo.days[0])
}
