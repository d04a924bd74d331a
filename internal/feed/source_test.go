package feed

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/symbol"
)

func TestFileSourceDailyStream(t *testing.T) {
	dir := t.TempDir()
	sid, err := symbol.NewEquity("SPY", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "SPY")
	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionDaily, market.KindTradeBar,
		"usa", "America/New_York", "America/New_York", false, false, false, false)
	require.NoError(t, err)
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	csv := "20240306 00:00,5100000,5120000,5090000,5110000,100\n" +
		"garbage row\n" +
		"20240307 00:00,5110000,5130000,5100000,5125000,200\n" +
		"20240308 00:00,5125000,5140000,5120000,5130000,300\n"
	path := market.DataFilePath(dir, cfg, time.Time{})
	require.NoError(t, market.WriteZip(path, map[string][]byte{"spy.csv": []byte(csv)}))

	start := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	src := NewFileSource(dir, cfg, exchange, start, end, 3)

	var bars []*market.TradeBar
	for {
		item, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		bars = append(bars, item.(*market.TradeBar))
	}

	// Daily bars end at the next New York midnight, so the 03-06 bar ends
	// inside the window and the 03-08 bar ends past it. The garbage row is
	// skipped.
	require.Len(t, bars, 2)
	require.True(t, bars[0].Bar.Close.Equal(dec("511")))
	require.Equal(t, int64(200), bars[1].Volume)
}

func TestHistoryLookbackWindow(t *testing.T) {
	dir := t.TempDir()
	sid, err := symbol.NewEquity("SPY", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "SPY")
	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionDaily, market.KindTradeBar,
		"usa", "America/New_York", "America/New_York", false, false, false, false)
	require.NoError(t, err)
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	csv := "20240306 00:00,5100000,5120000,5090000,5110000,100\n" +
		"20240307 00:00,5110000,5130000,5100000,5125000,200\n" +
		"20240308 00:00,5125000,5140000,5120000,5130000,300\n"
	path := market.DataFilePath(dir, cfg, time.Time{})
	require.NoError(t, market.WriteZip(path, map[string][]byte{"spy.csv": []byte(csv)}))

	end := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	// Daily bars end at the next New York midnight, so the 03-08 bar ends
	// past the window end and drops out.
	items, err := History(dir, cfg, exchange, end, 72*time.Hour, 0, 3)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].(*market.TradeBar).Bar.Close.Equal(dec("511")))

	// The configured cap shrinks an oversized request.
	capped, err := History(dir, cfg, exchange, end, 72*time.Hour, 24*time.Hour, 3)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, int64(200), capped[0].(*market.TradeBar).Volume)

	none, err := History(dir, cfg, exchange, end, 0, 0, 3)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFileSourceMinutePerDayArchives(t *testing.T) {
	dir := t.TempDir()
	sid, err := symbol.NewEquity("SPY", 1)
	require.NoError(t, err)
	sym := symbol.New(sid, "SPY")
	cfg, err := market.NewSubscriptionDataConfig(sym, market.ResolutionMinute, market.KindTradeBar,
		"usa", "America/New_York", "America/New_York", false, false, false, false)
	require.NoError(t, err)
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	// Thursday 03-07 and Friday 03-08; the weekend is skipped without error.
	for _, day := range []time.Time{
		time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	} {
		csv := "34200000,5123400,5124000,5123000,5123500,1500\n"
		path := market.DataFilePath(dir, cfg, day)
		require.NoError(t, market.WriteZip(path, map[string][]byte{filepath.Base(path) + ".csv": []byte(csv)}))
	}

	start := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 11, 23, 0, 0, 0, time.UTC)
	src := NewFileSource(dir, cfg, exchange, start, end, 3)

	count := 0
	for {
		item, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, market.KindTradeBar, item.Kind())
		count++
	}
	require.Equal(t, 2, count)
}
