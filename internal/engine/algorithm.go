package engine

import (
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/feed"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/results"
	"github.com/quantarc/engine/internal/scheduling"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
	"github.com/quantarc/engine/internal/transactions"
)

// Context is the algorithm's handle into the engine. All methods are safe to
// call from any algorithm callback; callbacks run on the engine goroutine.
type Context struct {
	clock     Clock
	scheduler *scheduling.Scheduler
	handler   *transactions.Handler
	pf        *portfolio.Portfolio
	registry  *securities.Registry
	channel   *results.Channel
	feed      *feed.Feed
	history   func(sec *securities.Security, lookback time.Duration) ([]market.BaseData, error)
}

// UtcTime returns the engine clock's current UTC instant.
func (c *Context) UtcTime() time.Time { return c.clock.Now() }

// Portfolio exposes holdings and cash. Mutations happen through fills only.
func (c *Context) Portfolio() *portfolio.Portfolio { return c.pf }

// Securities exposes the registered securities.
func (c *Context) Securities() *securities.Registry { return c.registry }

// Submit places an order request and returns its ticket immediately.
// A zero UtcTime is stamped from the engine clock.
func (c *Context) Submit(req orders.SubmitRequest) *orders.Ticket {
	if req.UtcTime.IsZero() {
		req.UtcTime = c.clock.Now()
	}
	return c.handler.Submit(req)
}

// Update amends a pending order.
func (c *Context) Update(req orders.UpdateRequest) error {
	if req.UtcTime.IsZero() {
		req.UtcTime = c.clock.Now()
	}
	return c.handler.Update(req)
}

// Cancel requests cancellation of a pending order.
func (c *Context) Cancel(orderID int) error {
	return c.handler.Cancel(orders.CancelRequest{OrderID: orderID, UtcTime: c.clock.Now()})
}

// Ticket looks up an order ticket by id.
func (c *Context) Ticket(orderID int) (*orders.Ticket, bool) { return c.handler.Ticket(orderID) }

// Schedule registers a named scheduled event.
func (c *Context) Schedule(name string, dates scheduling.DateRule, times scheduling.TimeRule, fn scheduling.Callback) int {
	return c.scheduler.Schedule(name, dates, times, fn)
}

// CancelSchedule removes a named scheduled event.
func (c *Context) CancelSchedule(name string) { c.scheduler.Cancel(name) }

// AddSubscription requests a new data subscription; it takes effect before
// the next slice.
func (c *Context) AddSubscription(sub *feed.Subscription) { c.feed.AddSubscription(sub) }

// RemoveSubscription removes a data subscription between slices.
func (c *Context) RemoveSubscription(sid symbol.SecurityIdentifier) { c.feed.RemoveSubscription(sid) }

// Consolidate registers a trade bar consolidator on the symbol's
// subscription and returns it. The handler fires on the engine goroutine as
// each window completes.
func (c *Context) Consolidate(sym symbol.Symbol, period time.Duration, handler func(*market.TradeBar)) (*market.TradeBarConsolidator, error) {
	sec, ok := c.registry.Get(sym.SID)
	if !ok {
		return nil, errs.New("engine", errs.CodeNotFound,
			errs.WithMessage("consolidate on unregistered security"), errs.WithSymbol(sym.Ticker))
	}
	con := market.NewTradeBarConsolidator(period, handler)
	sec.Config.RegisterConsolidator(con)
	return con, nil
}

// History replays the symbol's stored data over the lookback window ending
// at the current instant. The configured history cap bounds the window.
func (c *Context) History(sym symbol.Symbol, lookback time.Duration) ([]market.BaseData, error) {
	sec, ok := c.registry.Get(sym.SID)
	if !ok {
		return nil, errs.New("engine", errs.CodeNotFound,
			errs.WithMessage("history on unregistered security"), errs.WithSymbol(sym.Ticker))
	}
	if c.history == nil {
		return nil, nil
	}
	return c.history(sec, lookback)
}

// Debug sends a debug message to the result channel.
func (c *Context) Debug(message string) { c.channel.Debug(message) }

// Log sends a log line to the result channel.
func (c *Context) Log(message string) { c.channel.Log(message) }

// SetRuntimeStatistic publishes a named statistic sample.
func (c *Context) SetRuntimeStatistic(name, value string) { c.channel.RuntimeStatistic(name, value) }

// Algorithm is the user strategy driven by the engine loop. Callbacks run on
// the engine goroutine in the loop's step order; they must not block beyond
// the configured callback timeout.
type Algorithm interface {
	// Initialize runs once before the first slice. Returning an error aborts
	// the run with an initialization failure.
	Initialize(ctx *Context) error
	// OnData receives every time slice. Returning an error marks the run as
	// a runtime error and terminates it.
	OnData(ctx *Context, slice *feed.TimeSlice) error
	// OnOrderEvent receives every order lifecycle event.
	OnOrderEvent(ctx *Context, event orders.Event)
	// OnSecuritiesChanged fires when subscriptions were added or removed.
	OnSecuritiesChanged(ctx *Context, changes feed.SecurityChanges)
	// OnEndOfDay fires once per security per completed exchange-local day.
	OnEndOfDay(ctx *Context, sym symbol.Symbol, day time.Time)
	// OnMarginCall inspects and may amend pending liquidation requests.
	OnMarginCall(ctx *Context, requests []orders.SubmitRequest) []orders.SubmitRequest
}

// Base is a no-op Algorithm to embed so strategies implement only the
// callbacks they care about.
type Base struct{}

// Initialize implements Algorithm.
func (Base) Initialize(*Context) error { return nil }

// OnData implements Algorithm.
func (Base) OnData(*Context, *feed.TimeSlice) error { return nil }

// OnOrderEvent implements Algorithm.
func (Base) OnOrderEvent(*Context, orders.Event) {}

// OnSecuritiesChanged implements Algorithm.
func (Base) OnSecuritiesChanged(*Context, feed.SecurityChanges) {}

// OnEndOfDay implements Algorithm.
func (Base) OnEndOfDay(*Context, symbol.Symbol, time.Time) {}

// OnMarginCall implements Algorithm.
func (Base) OnMarginCall(_ *Context, requests []orders.SubmitRequest) []orders.SubmitRequest {
	return requests
}
