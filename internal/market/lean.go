package market

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/symbol"
)

var securityTypeFolders = map[symbol.SecurityType]string{
	symbol.SecurityTypeBase:   "base",
	symbol.SecurityTypeEquity: "equity",
	symbol.SecurityTypeOption: "option",
	symbol.SecurityTypeForex:  "forex",
	symbol.SecurityTypeFuture: "future",
	symbol.SecurityTypeCfd:    "cfd",
	symbol.SecurityTypeCrypto: "crypto",
	symbol.SecurityTypeIndex:  "index",
}

func tickTypeSuffix(kind Kind) string {
	if kind == KindQuoteBar {
		return "_quote"
	}
	return "_trade"
}

// DataFilePath resolves the on-disk zip for the config. Daily and hourly
// data live in one zip per symbol; finer resolutions in one zip per symbol
// per trading day.
func DataFilePath(dataDir string, cfg *SubscriptionDataConfig, date time.Time) string {
	folder := securityTypeFolders[cfg.Symbol.SID.SecurityType()]
	ticker := strings.ToLower(cfg.Symbol.Ticker)
	res := cfg.Resolution.String()

	switch cfg.Resolution {
	case ResolutionDaily, ResolutionHour:
		return filepath.Join(dataDir, folder, cfg.Market, res, ticker+".zip")
	default:
		name := date.Format("20060102") + tickTypeSuffix(cfg.DataKind) + ".zip"
		return filepath.Join(dataDir, folder, cfg.Market, res, ticker, name)
	}
}

func parsePrice(field string, scale int32) (decimal.Decimal, error) {
	field = strings.TrimSpace(field)
	if scale == 0 {
		return decimal.NewFromString(field)
	}
	raw, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.New(raw, scale), nil
}

func parseVolume(field string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(field), 10, 64)
}

// ParseDailyBar parses a "yyyyMMdd HH:mm,O,H,L,C,V" row. The timestamp is in
// the config's data zone and is converted to the exchange zone.
func ParseDailyBar(line string, cfg *SubscriptionDataConfig) (*TradeBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return nil, rowError(line, nil)
	}
	start, err := time.ParseInLocation("20060102 15:04", strings.TrimSpace(fields[0]), cfg.DataLocation())
	if err != nil {
		return nil, rowError(line, err)
	}

	scale := cfg.PriceScale()
	var bar Bar
	for i, dst := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close} {
		price, err := parsePrice(fields[i+1], scale)
		if err != nil {
			return nil, rowError(line, err)
		}
		*dst = price
	}
	volume, err := parseVolume(fields[5])
	if err != nil {
		return nil, rowError(line, err)
	}

	return &TradeBar{
		Sym:    cfg.Symbol,
		Start:  start.In(cfg.ExchangeLocation()),
		Period: cfg.Resolution.Period(),
		Bar:    bar,
		Volume: volume,
	}, nil
}

// ParseIntradayBar parses a "msSinceMidnight,O,H,L,C,V" row for the given
// trading date (data-zone midnight).
func ParseIntradayBar(line string, cfg *SubscriptionDataConfig, date time.Time) (*TradeBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return nil, rowError(line, nil)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, rowError(line, err)
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, cfg.DataLocation())
	start := midnight.Add(time.Duration(ms) * time.Millisecond)

	scale := cfg.PriceScale()
	var bar Bar
	for i, dst := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close} {
		price, err := parsePrice(fields[i+1], scale)
		if err != nil {
			return nil, rowError(line, err)
		}
		*dst = price
	}
	volume, err := parseVolume(fields[5])
	if err != nil {
		return nil, rowError(line, err)
	}

	return &TradeBar{
		Sym:    cfg.Symbol,
		Start:  start.In(cfg.ExchangeLocation()),
		Period: cfg.Resolution.Period(),
		Bar:    bar,
		Volume: volume,
	}, nil
}

// ParseIntradayQuoteBar parses a
// "ms,bidO,bidH,bidL,bidC,lastBidSize,askO,askH,askL,askC,lastAskSize" row.
func ParseIntradayQuoteBar(line string, cfg *SubscriptionDataConfig, date time.Time) (*QuoteBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 11 {
		return nil, rowError(line, nil)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, rowError(line, err)
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, cfg.DataLocation())
	start := midnight.Add(time.Duration(ms) * time.Millisecond)

	scale := cfg.PriceScale()
	parseSide := func(offset int) (Bar, decimal.Decimal, error) {
		var side Bar
		for i, dst := range []*decimal.Decimal{&side.Open, &side.High, &side.Low, &side.Close} {
			price, err := parsePrice(fields[offset+i], scale)
			if err != nil {
				return Bar{}, decimal.Decimal{}, err
			}
			*dst = price
		}
		size, err := decimal.NewFromString(strings.TrimSpace(fields[offset+4]))
		if err != nil {
			return Bar{}, decimal.Decimal{}, err
		}
		return side, size, nil
	}

	bid, bidSize, err := parseSide(1)
	if err != nil {
		return nil, rowError(line, err)
	}
	ask, askSize, err := parseSide(6)
	if err != nil {
		return nil, rowError(line, err)
	}

	return &QuoteBar{
		Sym:         cfg.Symbol,
		Start:       start.In(cfg.ExchangeLocation()),
		Period:      cfg.Resolution.Period(),
		Bid:         bid,
		Ask:         ask,
		LastBidSize: bidSize,
		LastAskSize: askSize,
	}, nil
}

// ParseTick parses a "msSinceMidnight,price,quantity,exchange,saleCondition,suspicious" row.
func ParseTick(line string, cfg *SubscriptionDataConfig, date time.Time) (*Tick, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return nil, rowError(line, nil)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, rowError(line, err)
	}
	price, err := parsePrice(fields[1], cfg.PriceScale())
	if err != nil {
		return nil, rowError(line, err)
	}
	quantity, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, rowError(line, err)
	}

	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, cfg.DataLocation())
	return &Tick{
		Sym:           cfg.Symbol,
		At:            midnight.Add(time.Duration(ms) * time.Millisecond).In(cfg.ExchangeLocation()),
		Type:          TickTypeTrade,
		Price:         price,
		Quantity:      quantity,
		Exchange:      strings.TrimSpace(fields[3]),
		SaleCondition: strings.TrimSpace(fields[4]),
		Suspicious:    strings.TrimSpace(fields[5]) == "1",
	}, nil
}

// ParseRow dispatches on the config's resolution and data kind.
func ParseRow(line string, cfg *SubscriptionDataConfig, date time.Time) (BaseData, error) {
	switch {
	case cfg.Resolution == ResolutionTick:
		return ParseTick(line, cfg, date)
	case cfg.Resolution == ResolutionDaily || cfg.Resolution == ResolutionHour:
		return ParseDailyBar(line, cfg)
	case cfg.DataKind == KindQuoteBar:
		return ParseIntradayQuoteBar(line, cfg, date)
	default:
		return ParseIntradayBar(line, cfg, date)
	}
}

func rowError(line string, cause error) error {
	opts := []errs.Option{errs.WithMessage(fmt.Sprintf("malformed data row %q", truncate(line, 64)))}
	if cause != nil {
		opts = append(opts, errs.WithCause(cause))
	}
	return errs.New("market/csv", errs.CodeData, opts...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
