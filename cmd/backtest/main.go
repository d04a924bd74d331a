// Command backtest runs a compiled-in algorithm over on-disk historical data
// and writes result packets to stdout as JSON lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/config"
	"github.com/quantarc/engine/internal/brokerage"
	"github.com/quantarc/engine/internal/engine"
	"github.com/quantarc/engine/internal/feed"
	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/journal"
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

// buyAndHold buys a fixed quantity of the first symbol on the first slice and
// holds it until the end of the run.
type buyAndHold struct {
	engine.Base
	quantity decimal.Decimal
	bought   bool
}

func (a *buyAndHold) OnData(ctx *engine.Context, slice *feed.TimeSlice) error {
	if a.bought || len(slice.Data) == 0 {
		return nil
	}
	a.bought = true
	ticket := ctx.Submit(orders.SubmitRequest{
		Type:     orders.TypeMarket,
		Symbol:   slice.Data[0].Symbol(),
		Quantity: a.quantity,
		Tag:      "buy and hold entry",
	})
	ctx.Debug(fmt.Sprintf("entry order %d submitted for %s", ticket.OrderID(), slice.Data[0].Symbol().Ticker))
	return nil
}

type noop struct{ engine.Base }

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "Path to the YAML configuration file")
		symbols    = flag.String("symbols", "SPY", "Comma-separated tickers to subscribe")
		marketName = flag.String("market", symbol.MarketUSA, "Market the tickers trade on")
		secType    = flag.String("security-type", "equity", "Security type: equity or crypto")
		resolution = flag.String("resolution", "daily", "Data resolution: tick, second, minute, hour, daily")
		startDate  = flag.String("start", "", "Backtest start date (yyyy-mm-dd)")
		endDate    = flag.String("end", "", "Backtest end date (yyyy-mm-dd)")
		cash       = flag.String("cash", "100000", "Starting cash in USD")
		algoName   = flag.String("algorithm", "buyhold", "Algorithm: buyhold or noop")
		quantity   = flag.String("quantity", "10", "Entry quantity for buyhold")
	)
	flag.Parse()

	observability.SetLogger(observability.NewZerologLogger(os.Stderr))

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitInitError
	}
	if settings.AlgorithmID == "" {
		settings.AlgorithmID = *algoName
	}

	startUtc, endUtc, err := parseWindow(*startDate, *endDate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitInitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.Telemetry.OTLPEndpoint != "" {
		_, shutdown, err := telemetry.Init(ctx, settings.Telemetry)
		if err != nil {
			observability.Log().Warn("telemetry disabled",
				observability.Field{Key: "error", Value: err.Error()})
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	res, err := market.ParseResolution(*resolution)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitInitError
	}

	initialCash, err := decimal.NewFromString(*cash)
	if err != nil || !initialCash.IsPositive() {
		fmt.Fprintln(os.Stderr, "invalid -cash value")
		return engine.ExitInitError
	}
	entryQty, err := decimal.NewFromString(*quantity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -quantity value")
		return engine.ExitInitError
	}

	var algo engine.Algorithm
	switch *algoName {
	case "buyhold":
		algo = &buyAndHold{quantity: entryQty}
	case "noop":
		algo = &noop{}
	default:
		fmt.Fprintf(os.Stderr, "unknown algorithm %q\n", *algoName)
		return engine.ExitInitError
	}

	eng, cleanup, err := build(ctx, settings, algo, buildParams{
		tickers:    splitTickers(*symbols),
		market:     *marketName,
		secType:    *secType,
		resolution: res,
		startUtc:   startUtc,
		endUtc:     endUtc,
		cash:       initialCash,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitInitError
	}
	defer cleanup()

	return eng.Run(ctx)
}

type buildParams struct {
	tickers    []string
	market     string
	secType    string
	resolution market.Resolution
	startUtc   time.Time
	endUtc     time.Time
	cash       decimal.Decimal
}

// build wires the engine's collaborators for one backtest deployment.
func build(ctx context.Context, settings config.Settings, algo engine.Algorithm, p buildParams) (*engine.Engine, func(), error) {
	markets := symbol.NewMarketRegistry()
	marketCode, err := markets.Code(p.market)
	if err != nil {
		return nil, nil, err
	}

	st, dataTZ, exchangeTZ, err := securityProfile(p.secType)
	if err != nil {
		return nil, nil, err
	}

	hoursDB := hours.NewDefaultDatabase()
	registry := securities.NewRegistry()
	f := feed.New(p.endUtc, settings.Queues.SliceBuffer)

	for _, ticker := range p.tickers {
		sid, err := newIdentifier(st, ticker, marketCode)
		if err != nil {
			return nil, nil, err
		}
		sym := symbol.New(sid, ticker)
		cfg, err := market.NewSubscriptionDataConfig(sym, p.resolution, market.KindTradeBar,
			p.market, dataTZ, exchangeTZ, true, false, false, false)
		if err != nil {
			return nil, nil, err
		}
		exchange, err := hoursDB.Get(p.market, st, ticker)
		if err != nil {
			return nil, nil, err
		}
		sec := securities.New(cfg, exchange, decimal.NewFromInt(2))
		registry.Add(sec)

		source := feed.NewFileSource(settings.DataDirectory, cfg, exchange,
			p.startUtc, p.endUtc, settings.Limits.SubscriptionFailures)
		f.AddSubscription(feed.NewSubscription(cfg, sec, source, settings.Queues.SubscriptionBuffer))
	}

	clock := engine.NewVirtualClock(p.startUtc)
	margin, err := portfolio.NewLeverageMarginModel(decimal.NewFromInt(2))
	if err != nil {
		return nil, nil, err
	}
	pf := portfolio.New("USD", p.cash, margin)

	brk := brokerage.NewSimulated(brokerage.NewDefaultModel(), brokerage.ImmediateFillModel{}, clock.Now)
	handler := transactions.New(brk, pf, settings.Queues.TransactionBuffer, settings.Queues.TransactionBuffer)
	scheduler := scheduling.NewScheduler(p.startUtc, p.endUtc, settings.Limits.ScheduledEventFailures)

	policy := results.DropOldestPolicy
	if settings.ResultDropPolicy == "block" {
		policy = results.BlockPolicy
	}
	channel := results.NewChannel(settings.AlgorithmID, stdoutSink{}, settings.Queues.ResultBuffer,
		settings.Limits.NotificationsPerHour, policy, clock.Now)

	instruments, err := telemetry.NewEngineInstruments()
	if err != nil {
		observability.Log().Warn("engine instruments unavailable",
			observability.Field{Key: "error", Value: err.Error()})
		instruments = nil
	}

	cleanup := func() {}
	var recorder engine.Recorder
	if settings.Journal.DSN != "" {
		if err := journal.Apply(ctx, settings.Journal.DSN); err != nil {
			return nil, nil, err
		}
		j, err := journal.Open(ctx, settings.Journal.DSN, settings.AlgorithmID)
		if err != nil {
			return nil, nil, err
		}
		rec, err := journal.NewAsyncRecorder(j, settings.Queues.TransactionBuffer)
		if err != nil {
			j.Close()
			return nil, nil, err
		}
		recorder = rec
		cleanup = func() { _ = rec.Close(context.Background()) }
	}

	eng, err := engine.New(engine.Config{
		Settings:    settings,
		Algorithm:   algo,
		Feed:        f,
		Brokerage:   brk,
		Handler:     handler,
		Portfolio:   pf,
		Registry:    registry,
		Scheduler:   scheduler,
		Channel:     channel,
		Clock:       clock,
		Instruments: instruments,
		Recorder:    recorder,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

func securityProfile(secType string) (symbol.SecurityType, string, string, error) {
	switch secType {
	case "equity":
		return symbol.SecurityTypeEquity, "America/New_York", "America/New_York", nil
	case "crypto":
		return symbol.SecurityTypeCrypto, "UTC", "UTC", nil
	default:
		return 0, "", "", fmt.Errorf("unknown security type %q", secType)
	}
}

func newIdentifier(st symbol.SecurityType, ticker string, marketCode uint16) (symbol.SecurityIdentifier, error) {
	if st == symbol.SecurityTypeCrypto {
		return symbol.NewCrypto(ticker, marketCode)
	}
	return symbol.NewEquity(ticker, marketCode)
}

func splitTickers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start and -end are required (yyyy-mm-dd)")
	}
	startUtc, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start date: %w", err)
	}
	endUtc, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -end date: %w", err)
	}
	if !endUtc.After(startUtc) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end must be after -start")
	}
	return startUtc.UTC(), endUtc.UTC(), nil
}

// stdoutSink writes each result packet as one JSON line.
type stdoutSink struct{}

func (stdoutSink) Send(_ context.Context, p results.Packet) error {
	line, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(line))
	return err
}
