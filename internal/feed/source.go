// Package feed merges per-subscription data streams into time-ordered slices.
package feed

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
)

// DataSource yields one subscription's items in non-decreasing end time.
// io.EOF signals a clean end of stream.
type DataSource interface {
	Next() (market.BaseData, error)
	Close() error
}

// SliceSource replays an in-memory sequence. Used by custom data
// subscriptions and tests.
type SliceSource struct {
	items []market.BaseData
	idx   int
}

// NewSliceSource wraps the items.
func NewSliceSource(items ...market.BaseData) *SliceSource {
	return &SliceSource{items: items}
}

// Next implements DataSource.
func (s *SliceSource) Next() (market.BaseData, error) {
	if s.idx >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.idx]
	s.idx++
	return item, nil
}

// Close implements DataSource.
func (s *SliceSource) Close() error { return nil }

// FileSource streams one subscription's zipped CSV files for the run window.
// Daily and hourly data come from a single archive; finer resolutions from
// one archive per trading day. Malformed rows are skipped and logged; an
// unreadable archive counts toward the consecutive-failure limit.
type FileSource struct {
	cfg      *market.SubscriptionDataConfig
	exchange *hours.ExchangeHours
	dataDir  string

	startUtc time.Time
	endUtc   time.Time

	day      time.Time
	curDay   time.Time
	rows     []string
	idx      int
	single   bool
	loaded   bool
	failures int
	maxFails int
}

// NewFileSource positions the stream at the start of the run window.
func NewFileSource(dataDir string, cfg *market.SubscriptionDataConfig, exchange *hours.ExchangeHours, startUtc, endUtc time.Time, maxConsecutiveFailures int) *FileSource {
	return &FileSource{
		cfg:      cfg,
		exchange: exchange,
		dataDir:  dataDir,
		startUtc: startUtc,
		endUtc:   endUtc,
		day:      time.Date(startUtc.Year(), startUtc.Month(), startUtc.Day(), 0, 0, 0, 0, cfg.DataLocation()),
		single:   cfg.Resolution == market.ResolutionDaily || cfg.Resolution == market.ResolutionHour,
		maxFails: maxConsecutiveFailures,
	}
}

// Next implements DataSource.
func (f *FileSource) Next() (market.BaseData, error) {
	for {
		if f.idx < len(f.rows) {
			line := strings.TrimSpace(f.rows[f.idx])
			f.idx++
			if line == "" {
				continue
			}
			item, err := market.ParseRow(line, f.cfg, f.curDay)
			if err != nil {
				observability.Log().Warn("skipping malformed data row",
					observability.Field{Key: "symbol", Value: f.cfg.Symbol.Ticker},
					observability.Field{Key: "error", Value: err.Error()})
				continue
			}
			end := item.EndTime().UTC()
			if end.Before(f.startUtc) {
				continue
			}
			if end.After(f.endUtc) {
				return nil, io.EOF
			}
			return item, nil
		}
		if err := f.advance(); err != nil {
			return nil, err
		}
	}
}

// advance loads the next archive's rows or reports end of stream.
func (f *FileSource) advance() error {
	if f.single {
		if f.loaded {
			return io.EOF
		}
		f.loaded = true
		return f.loadArchive(market.DataFilePath(f.dataDir, f.cfg, time.Time{}))
	}

	for !f.day.After(f.endUtc.In(f.cfg.DataLocation())) {
		day := f.day
		f.day = f.day.AddDate(0, 0, 1)
		if !f.exchange.IsDateOpen(day.In(f.exchange.Location())) {
			continue
		}
		path := market.DataFilePath(f.dataDir, f.cfg, day)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// Gaps in coverage are normal, not failures.
			continue
		}
		if err := f.loadArchive(path); err != nil {
			if errs.IsCode(err, errs.CodeUnavailable) {
				return err
			}
			continue
		}
		f.curDay = day
		return nil
	}
	return io.EOF
}

func (f *FileSource) loadArchive(path string) error {
	data, err := market.ReadZipEntry(path, "")
	if err != nil {
		f.failures++
		observability.Log().Warn("unreadable data archive",
			observability.Field{Key: "path", Value: path},
			observability.Field{Key: "failures", Value: f.failures},
			observability.Field{Key: "error", Value: err.Error()})
		if f.failures >= f.maxFails {
			return errs.New("feed", errs.CodeUnavailable,
				errs.WithMessage("subscription exhausted after consecutive read failures"),
				errs.WithSymbol(f.cfg.Symbol.Ticker), errs.WithCause(err))
		}
		return err
	}
	f.failures = 0
	f.rows = strings.Split(string(data), "\n")
	f.idx = 0
	return nil
}

// Close implements DataSource.
func (f *FileSource) Close() error { return nil }

// History replays a subscription's file data over the lookback window ending
// at endUtc. A positive maxLookback caps the window; a non-positive lookback
// yields no data.
func History(dataDir string, cfg *market.SubscriptionDataConfig, exchange *hours.ExchangeHours, endUtc time.Time, lookback, maxLookback time.Duration, maxConsecutiveFailures int) ([]market.BaseData, error) {
	if lookback <= 0 {
		return nil, nil
	}
	if maxLookback > 0 && lookback > maxLookback {
		lookback = maxLookback
	}
	src := NewFileSource(dataDir, cfg, exchange, endUtc.Add(-lookback), endUtc, maxConsecutiveFailures)
	defer src.Close()

	var items []market.BaseData
	for {
		item, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return items, nil
			}
			return items, err
		}
		items = append(items, item)
	}
}
