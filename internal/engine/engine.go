// Package engine owns the clock and the main loop: it pulls time slices from
// the feed, drives the scheduler, brokerage and transaction handler, and
// delivers callbacks to the algorithm in a fixed step order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"

	"github.com/quantarc/engine/config"
	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/brokerage"
	"github.com/quantarc/engine/internal/feed"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/results"
	"github.com/quantarc/engine/internal/scheduling"
	"github.com/quantarc/engine/internal/securities"
	"github.com/quantarc/engine/internal/symbol"
	"github.com/quantarc/engine/internal/telemetry"
	"github.com/quantarc/engine/internal/transactions"
)

// Exit codes reported to the launcher.
const (
	ExitOK           = 0
	ExitInitError    = 1
	ExitRuntimeError = 2
	ExitAborted      = 3
)

// Recorder persists order events for recovery. Optional.
type Recorder interface {
	RecordEvent(ctx context.Context, event orders.Event, ticket *orders.Ticket) error
}

// Config wires the engine's collaborators together.
type Config struct {
	Settings  config.Settings
	Algorithm Algorithm

	Feed      *feed.Feed
	Brokerage *brokerage.Simulated
	Handler   *transactions.Handler
	Portfolio *portfolio.Portfolio
	Registry  *securities.Registry
	Scheduler *scheduling.Scheduler
	Channel   *results.Channel
	Clock     Clock

	// Instruments and Recorder may be nil.
	Instruments *telemetry.EngineInstruments
	Recorder    Recorder
}

// Engine runs one algorithm deployment to completion.
type Engine struct {
	cfg   Config
	ctx   *Context
	start time.Time

	initialEquity decimal.Decimal
	orderIDs      map[int]struct{}
	lastEodDay    map[symbol.SecurityIdentifier]time.Time
	lastStatsDay  time.Time
	runtimeErr    error
}

// New validates the wiring and binds the order event path.
func New(cfg Config) (*Engine, error) {
	if cfg.Algorithm == nil {
		return nil, errs.New("engine", errs.CodeConfiguration, errs.WithMessage("algorithm required"))
	}
	for name, ok := range map[string]bool{
		"feed":      cfg.Feed != nil,
		"brokerage": cfg.Brokerage != nil,
		"handler":   cfg.Handler != nil,
		"portfolio": cfg.Portfolio != nil,
		"registry":  cfg.Registry != nil,
		"scheduler": cfg.Scheduler != nil,
		"channel":   cfg.Channel != nil,
		"clock":     cfg.Clock != nil,
	} {
		if !ok {
			return nil, errs.New("engine", errs.CodeConfiguration, errs.WithMessage(name+" required"))
		}
	}

	e := &Engine{
		cfg:        cfg,
		orderIDs:   make(map[int]struct{}),
		lastEodDay: make(map[symbol.SecurityIdentifier]time.Time),
	}
	e.ctx = &Context{
		clock:     cfg.Clock,
		scheduler: cfg.Scheduler,
		handler:   cfg.Handler,
		pf:        cfg.Portfolio,
		registry:  cfg.Registry,
		channel:   cfg.Channel,
		feed:      cfg.Feed,
	}
	cfg.Handler.SetOrderEventCallback(e.onOrderEvent)
	cfg.Handler.SetValidator(func(o *orders.Order) error {
		sec, _ := cfg.Registry.Get(o.Symbol.SID)
		return cfg.Brokerage.Model().CanSubmit(sec, o)
	})
	settings := cfg.Settings
	e.ctx.history = func(sec *securities.Security, lookback time.Duration) ([]market.BaseData, error) {
		maxLookback := time.Duration(settings.Limits.MaxHistoryMinutes) * time.Minute
		return feed.History(settings.DataDirectory, sec.Config, sec.Exchange, cfg.Clock.Now(),
			lookback, maxLookback, settings.Limits.SubscriptionFailures)
	}
	return e, nil
}

// Run executes the deployment and returns the launcher exit code.
func (e *Engine) Run(parent context.Context) int {
	runCtx, cancel := context.WithTimeout(parent, e.cfg.Settings.Timeouts.MaxRuntime)
	defer cancel()

	// The result consumer outlives the run context so final packets drain.
	chanCtx, chanCancel := context.WithCancel(context.Background())
	chanDone := make(chan struct{})
	go func() {
		e.cfg.Channel.Run(chanCtx)
		close(chanDone)
	}()
	defer func() {
		chanCancel()
		<-chanDone
	}()

	e.start = e.cfg.Clock.Now()
	e.initialEquity = e.cfg.Portfolio.TotalPortfolioValue()
	e.cfg.Channel.Status(results.StatusInitializing, "")

	if err := e.invoke("Initialize", e.cfg.Settings.Timeouts.Setup, func() error {
		return e.cfg.Algorithm.Initialize(e.ctx)
	}); err != nil {
		observability.Log().Error("algorithm initialization failed",
			observability.Field{Key: "error", Value: err.Error()})
		e.cfg.Channel.HandledError(err)
		e.cfg.Channel.Status(results.StatusRuntimeError, err.Error())
		return ExitInitError
	}

	go e.cfg.Feed.Run(runCtx)
	e.cfg.Channel.Status(results.StatusRunning, "")

	exit := e.loop(runCtx)
	e.emitFinal()
	return exit
}

func (e *Engine) loop(ctx context.Context) int {
	for {
		slice, ok := e.cfg.Feed.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					e.cfg.Channel.Status(results.StatusRuntimeError, "max runtime exceeded")
					return ExitRuntimeError
				}
				e.cfg.Channel.Status(results.StatusStopped, "stopped by command")
				return ExitAborted
			}
			e.cfg.Channel.Status(results.StatusCompleted, "")
			return ExitOK
		}

		if err := e.step(ctx, slice); err != nil {
			observability.Log().Error("engine step failed",
				observability.Field{Key: "sliceTime", Value: slice.UtcTime},
				observability.Field{Key: "error", Value: err.Error()})
			e.cfg.Channel.HandledError(err)
			e.cfg.Channel.Status(results.StatusRuntimeError, err.Error())
			return ExitRuntimeError
		}
	}
}

// step processes one slice: clock, security changes, price marks, scheduled
// events, brokerage scan, algorithm callbacks, end of day, margin, stats.
func (e *Engine) step(ctx context.Context, slice *feed.TimeSlice) error {
	began := time.Now()
	utc := slice.UtcTime

	e.cfg.Clock.AdvanceTo(utc)
	e.applyChanges(slice.Changes)
	e.markPrices(slice)
	e.updateConsolidators(slice)

	if err := e.cfg.Scheduler.Fire(utc); err != nil {
		return err
	}

	e.cfg.Brokerage.Scan(utc, e.cfg.Registry, e.cfg.Portfolio)
	e.cfg.Handler.Pump()

	timeout := e.cfg.Settings.CallbackTimeout()
	if err := e.invoke("OnData", timeout, func() error {
		return e.cfg.Algorithm.OnData(e.ctx, slice)
	}); err != nil {
		return err
	}
	if !slice.Changes.IsEmpty() {
		if err := e.invoke("OnSecuritiesChanged", timeout, func() error {
			e.cfg.Algorithm.OnSecuritiesChanged(e.ctx, slice.Changes)
			return nil
		}); err != nil {
			return err
		}
	}

	// Requests enqueued by OnData reach the brokerage before the next scan.
	e.cfg.Handler.Pump()

	if err := e.fireEndOfDay(utc, timeout); err != nil {
		return err
	}
	if err := e.checkMargin(utc, timeout); err != nil {
		return err
	}

	e.publishStats(utc)
	e.cfg.Instruments.RecordSlice(ctx, len(slice.Data), time.Since(began))

	// Observer callback failures deferred by onOrderEvent surface here.
	if err := e.runtimeErr; err != nil {
		e.runtimeErr = nil
		return err
	}
	return nil
}

func (e *Engine) applyChanges(changes feed.SecurityChanges) {
	for _, sec := range changes.Added {
		e.cfg.Registry.Add(sec)
	}
	for _, sec := range changes.Removed {
		e.cfg.Registry.Remove(sec.Symbol.SID)
	}
}

// markPrices folds the slice's data into securities and the portfolio, which
// also refreshes cash conversion rates keyed by the traded symbol.
func (e *Engine) markPrices(slice *feed.TimeSlice) {
	for _, item := range slice.Data {
		if item.Kind().IsAuxiliary() {
			continue
		}
		sec, ok := e.cfg.Registry.Get(item.Symbol().SID)
		if !ok {
			continue
		}
		sec.Update(item)
		if price := sec.Price(); price.IsPositive() {
			e.cfg.Portfolio.UpdatePrice(item.Symbol(), price)
		}
	}
}

// updateConsolidators folds the slice's items into their registered
// consolidators, then scans every consolidator so a window still closes when
// its subscription produced nothing at this instant.
func (e *Engine) updateConsolidators(slice *feed.TimeSlice) {
	for _, update := range slice.ConsolidatorUpdates {
		update.Consolidator.Update(update.Data)
	}
	for _, sec := range e.cfg.Registry.All() {
		for _, con := range sec.Config.Consolidators() {
			con.Scan(slice.UtcTime)
		}
	}
}

// fireEndOfDay detects exchange-local calendar rollover per security and
// invokes OnEndOfDay for each completed day. Scheduled events for the same
// instant have already fired.
func (e *Engine) fireEndOfDay(utc time.Time, timeout time.Duration) error {
	for _, sec := range e.cfg.Registry.All() {
		local := utc.In(sec.Config.ExchangeLocation())
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())

		prev, seen := e.lastEodDay[sec.Symbol.SID]
		e.lastEodDay[sec.Symbol.SID] = day
		if !seen || !day.After(prev) {
			continue
		}
		sym := sec.Symbol
		completed := prev
		if err := e.invoke("OnEndOfDay", timeout, func() error {
			e.cfg.Algorithm.OnEndOfDay(e.ctx, sym, completed)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// checkMargin builds liquidation requests when maintenance margin exceeds
// portfolio value, lets the algorithm amend them, and routes them through
// the transaction handler.
func (e *Engine) checkMargin(utc time.Time, timeout time.Duration) error {
	requests := e.cfg.Portfolio.MarginCallOrders(utc)
	if len(requests) == 0 {
		return nil
	}

	if err := e.invoke("OnMarginCall", timeout, func() error {
		requests = e.cfg.Algorithm.OnMarginCall(e.ctx, requests)
		return nil
	}); err != nil {
		return err
	}

	for _, req := range requests {
		ticket := e.cfg.Handler.Submit(req)
		observability.Log().Warn("margin call liquidation submitted",
			observability.Field{Key: "orderId", Value: ticket.OrderID()},
			observability.Field{Key: "symbol", Value: req.Symbol.Ticker},
			observability.Field{Key: "quantity", Value: req.Quantity.String()})
	}
	e.cfg.Handler.Pump()
	return nil
}

// publishStats emits runtime statistics once per UTC day.
func (e *Engine) publishStats(utc time.Time) {
	day := utc.Truncate(24 * time.Hour)
	if !day.After(e.lastStatsDay) {
		return
	}
	e.lastStatsDay = day
	e.cfg.Channel.RuntimeStatistic("equity", e.cfg.Portfolio.TotalPortfolioValue().StringFixed(2))
	e.cfg.Channel.RuntimeStatistic("cash", e.cfg.Portfolio.CashBook().TotalValueInBase().StringFixed(2))
	e.cfg.Channel.RuntimeStatistic("holdings", fmt.Sprintf("%d", len(e.cfg.Portfolio.Holdings())))
}

// onOrderEvent runs on the engine goroutine inside Handler.Pump.
func (e *Engine) onOrderEvent(event orders.Event, ticket *orders.Ticket) {
	e.orderIDs[event.OrderID] = struct{}{}
	e.cfg.Channel.OrderEvent(event)
	e.cfg.Instruments.RecordOrderEvents(context.Background(), event.Status.String(), 1)

	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.RecordEvent(context.Background(), event, ticket); err != nil {
			observability.Log().Warn("order journal write failed",
				observability.Field{Key: "orderId", Value: event.OrderID},
				observability.Field{Key: "error", Value: err.Error()})
		}
	}

	if err := e.invoke("OnOrderEvent", e.cfg.Settings.CallbackTimeout(), func() error {
		e.cfg.Algorithm.OnOrderEvent(e.ctx, event)
		return nil
	}); err != nil {
		// A failing observer must not unwind the fill that triggered it; the
		// error surfaces when the current step finishes.
		e.runtimeErr = err
		e.cfg.Channel.HandledError(err)
	}
}

func (e *Engine) emitFinal() {
	pf := e.cfg.Portfolio
	holdings := make([]results.HoldingResult, 0, len(pf.Holdings()))
	for _, h := range pf.Holdings() {
		holdings = append(holdings, results.HoldingResult{
			Symbol:       h.Symbol.SID.String(),
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			MarketPrice:  h.MarketPrice,
			MarketValue:  h.MarketValue(),
		})
	}
	equity := pf.TotalPortfolioValue()
	e.cfg.Channel.Final(results.BacktestResultPayload{
		AlgorithmID: e.cfg.Settings.AlgorithmID,
		StartUtc:    e.start,
		EndUtc:      e.cfg.Clock.Now(),
		ProfitLoss:  equity.Sub(e.initialEquity),
		Equity:      equity,
		Holdings:    holdings,
		OrderCount:  len(e.orderIDs),
		Statistics: map[string]string{
			"initialEquity": e.initialEquity.StringFixed(2),
			"finalEquity":   equity.StringFixed(2),
		},
	})
}

// invoke runs one algorithm callback with panic recovery and a timeout.
func (e *Engine) invoke(name string, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		var err error
		if recovered := panics.Try(func() { err = fn() }); recovered != nil {
			err = errs.New("engine", errs.CodeRuntime,
				errs.WithMessage(fmt.Sprintf("%s panicked: %v", name, recovered.Value)))
		}
		done <- err
	}()

	if timeout <= 0 {
		return <-done
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errs.New("engine", errs.CodeRuntime,
			errs.WithMessage(fmt.Sprintf("%s exceeded %s timeout", name, timeout)))
	}
}

