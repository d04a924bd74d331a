package transactions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/brokerage"
	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	sym      symbol.Symbol
	sec      *securities.Security
	registry *securities.Registry
	pf       *portfolio.Portfolio
	brk      *brokerage.Simulated
	handler  *Handler
	now      time.Time
	fired    []orders.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sid, err := symbol.NewEquity("AAPL", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "AAPL")

	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionMinute, market.KindTradeBar,
		"usa", "America/New_York", "America/New_York", true, false, false, false)
	require.NoError(t, err)
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	e := &env{
		sym:      sym,
		sec:      securities.New(cfg, exchange, decimal.NewFromInt(2)),
		registry: securities.NewRegistry(),
		now:      time.Date(2024, 3, 8, 14, 31, 0, 0, time.UTC),
	}
	e.registry.Add(e.sec)

	margin, err := portfolio.NewLeverageMarginModel(decimal.NewFromInt(2))
	require.NoError(t, err)
	e.pf = portfolio.New("USD", dec("100000"), margin)

	e.brk = brokerage.NewSimulated(brokerage.NewDefaultModel(), brokerage.ImmediateFillModel{}, func() time.Time { return e.now })
	e.handler = New(e.brk, e.pf, 16, 64)
	e.handler.SetOrderEventCallback(func(ev orders.Event, _ *orders.Ticket) {
		e.fired = append(e.fired, ev)
	})
	return e
}

func (e *env) feedBar(open, high, low, closePx string) {
	e.sec.Update(&market.TradeBar{
		Sym:    e.sym,
		Start:  e.now,
		Period: time.Minute,
		Bar:    market.Bar{Open: dec(open), High: dec(high), Low: dec(low), Close: dec(closePx)},
		Volume: 1000,
	})
	e.now = e.now.Add(time.Minute)
}

// step mirrors one engine iteration: scan fills, then pump the handler.
func (e *env) step() {
	e.brk.Scan(e.now, e.registry, e.pf)
	e.handler.Pump()
}

func TestSubmitFillAppliesToPortfolio(t *testing.T) {
	e := newEnv(t)

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("10"), UtcTime: e.now,
	})
	require.Equal(t, 1, ticket.OrderID())
	e.handler.Pump()
	require.Equal(t, orders.StatusSubmitted, ticket.Status())

	e.feedBar("150.0", "150.5", "149.5", "150.2")
	e.step()

	require.Equal(t, orders.StatusFilled, ticket.Status())
	require.True(t, ticket.QuantityFilled().Equal(dec("10")))

	h, ok := e.pf.HoldingSnapshot(e.sym.SID)
	require.True(t, ok)
	require.True(t, h.Quantity.Equal(dec("10")))
	require.True(t, h.AveragePrice.Equal(dec("150")))

	// 100000 - 1500 - 1 minimum fee.
	require.True(t, e.pf.CashBook().Get("USD").Amount.Equal(dec("98499")))

	resp, ok := ticket.LatestResponse()
	require.True(t, ok)
	require.True(t, resp.Ok())
}

func TestOrderIDsMonotonicFromOne(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 5; i++ {
		ticket := e.handler.Submit(orders.SubmitRequest{
			Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("1"), UtcTime: e.now,
		})
		require.Equal(t, i, ticket.OrderID())
	}
}

func TestCancelPendingLimitOrder(t *testing.T) {
	e := newEnv(t)

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeLimit, Symbol: e.sym, Quantity: dec("10"), LimitPrice: dec("90"), UtcTime: e.now,
	})
	e.handler.Pump()

	require.NoError(t, e.handler.Cancel(orders.CancelRequest{OrderID: ticket.OrderID(), UtcTime: e.now}))
	e.handler.Pump()

	require.Equal(t, orders.StatusCanceled, ticket.Status())
	require.Equal(t, 0, e.brk.PendingCount())
}

func TestRequestsAgainstTerminalOrderFail(t *testing.T) {
	e := newEnv(t)

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("10"), UtcTime: e.now,
	})
	e.handler.Pump()
	e.feedBar("150.0", "150.5", "149.5", "150.2")
	e.step()
	require.Equal(t, orders.StatusFilled, ticket.Status())

	qty := dec("20")
	require.NoError(t, e.handler.Update(orders.UpdateRequest{OrderID: ticket.OrderID(), Quantity: &qty, UtcTime: e.now}))
	e.handler.Pump()

	resp, ok := ticket.LatestResponse()
	require.True(t, ok)
	require.False(t, resp.Ok())
	require.Equal(t, orders.RequestUpdate, resp.Kind)
	require.Equal(t, orders.StatusFilled, ticket.Status(), "terminal status is absorbing")
}

func TestUpdateMutatesPendingOrder(t *testing.T) {
	e := newEnv(t)

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeLimit, Symbol: e.sym, Quantity: dec("10"), LimitPrice: dec("90"), UtcTime: e.now,
	})
	e.handler.Pump()

	newLimit := dec("95")
	require.NoError(t, e.handler.Update(orders.UpdateRequest{OrderID: ticket.OrderID(), LimitPrice: &newLimit, UtcTime: e.now}))
	e.handler.Pump()

	require.True(t, ticket.Order().LimitPrice.Equal(dec("95")))
	resp, _ := ticket.LatestResponse()
	require.True(t, resp.Ok())
}

func TestUnknownOrderRequestsReturnNotFound(t *testing.T) {
	e := newEnv(t)
	require.Error(t, e.handler.Cancel(orders.CancelRequest{OrderID: 99, UtcTime: e.now}))
	require.Error(t, e.handler.Update(orders.UpdateRequest{OrderID: 99, UtcTime: e.now}))
}

func TestValidatorRejectionInvalidatesOrder(t *testing.T) {
	e := newEnv(t)
	e.handler.SetValidator(func(o *orders.Order) error {
		return brokerage.NewDefaultModel().CanSubmit(nil, o)
	})

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("10"), UtcTime: e.now,
	})
	e.handler.Pump()

	require.Equal(t, orders.StatusInvalid, ticket.Status())
	resp, ok := ticket.LatestResponse()
	require.True(t, ok)
	require.False(t, resp.Ok())
	require.NotEmpty(t, e.fired, "algorithm still sees the invalid event")
}

// panickingBooks stands in for a portfolio whose application always fails.
type panickingBooks struct{}

func (panickingBooks) ApplyFill(symbol.Symbol, orders.Event) { panic("books unavailable") }

func TestFillRejectedByBooksInvalidatesOrder(t *testing.T) {
	e := newEnv(t)
	e.handler = New(e.brk, panickingBooks{}, 16, 64)
	var fired []orders.Event
	e.handler.SetOrderEventCallback(func(ev orders.Event, _ *orders.Ticket) {
		fired = append(fired, ev)
	})

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("10"), UtcTime: e.now,
	})
	e.handler.Pump()
	require.Equal(t, orders.StatusSubmitted, ticket.Status())

	fill := orders.NewEvent(ticket.OrderID(), e.now, orders.StatusFilled, "")
	fill.FillQuantity = dec("10")
	fill.FillPrice = dec("150")
	e.handler.HandleBrokerEvent(fill)
	e.handler.drainEvents()

	require.Equal(t, orders.StatusInvalid, ticket.Status(), "fill is never recorded when the books refuse it")
	require.True(t, ticket.QuantityFilled().IsZero())
	require.NotEmpty(t, fired)
	require.Equal(t, orders.StatusInvalid, fired[len(fired)-1].Status)
}

func TestFullRequestQueueFailsFast(t *testing.T) {
	e := newEnv(t)
	h := New(e.brk, e.pf, 1, 64)

	first := h.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("1"), UtcTime: e.now,
	})
	second := h.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("2"), UtcTime: e.now,
	})

	require.Equal(t, orders.StatusInvalid, second.Status())
	resp, ok := second.LatestResponse()
	require.True(t, ok)
	require.False(t, resp.Ok())
	require.True(t, errs.IsCode(resp.Err, errs.CodeUnavailable))

	err := h.Update(orders.UpdateRequest{OrderID: first.OrderID(), UtcTime: e.now})
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
	err = h.Cancel(orders.CancelRequest{OrderID: first.OrderID(), UtcTime: e.now})
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))

	h.Pump()
	require.Equal(t, orders.StatusSubmitted, first.Status(), "queued work still drains")
}

func TestEarlyFillSynthesizesSubmitted(t *testing.T) {
	e := newEnv(t)

	ticket := e.handler.Submit(orders.SubmitRequest{
		Type: orders.TypeMarket, Symbol: e.sym, Quantity: dec("5"), UtcTime: e.now,
	})
	// Broker reports the fill before any acknowledgement reaches us.
	fill := orders.NewEvent(ticket.OrderID(), e.now, orders.StatusFilled, "")
	fill.FillQuantity = dec("5")
	fill.FillPrice = dec("150")
	e.handler.HandleBrokerEvent(fill)
	e.handler.drainEvents()

	events := ticket.Events()
	require.Len(t, events, 2)
	require.Equal(t, orders.StatusSubmitted, events[0].Status)
	require.Equal(t, orders.StatusFilled, events[1].Status)
	require.Equal(t, orders.StatusFilled, ticket.Status())
}
