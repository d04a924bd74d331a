package hours

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/internal/symbol"
)

func usEquity(t *testing.T) *ExchangeHours {
	t.Helper()
	h, err := NewDefaultDatabase().Get(symbol.MarketUSA, symbol.SecurityTypeEquity, "")
	require.NoError(t, err)
	return h
}

func TestIsOpenRegularHours(t *testing.T) {
	h := usEquity(t)

	// Wednesday 2024-06-05 10:00 New York == 14:00 UTC.
	open := time.Date(2024, time.June, 5, 14, 0, 0, 0, time.UTC)
	require.True(t, h.IsOpen(open, false))

	// 08:00 New York is pre-market.
	pre := time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)
	require.False(t, h.IsOpen(pre, false))
	require.True(t, h.IsOpen(pre, true))

	// Saturday is closed either way.
	weekend := time.Date(2024, time.June, 8, 14, 0, 0, 0, time.UTC)
	require.False(t, h.IsOpen(weekend, true))
}

func TestHolidayAndEarlyClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market-hours.yaml")
	body := `entries:
  - market: usa
    securityType: equity
    exchangeTimeZone: America/New_York
    sessions:
      monday: ["09:30-16:00"]
      tuesday: ["09:30-16:00"]
      wednesday: ["09:30-16:00"]
      thursday: ["09:30-16:00"]
      friday: ["09:30-16:00"]
    holidays: ["2024-07-04"]
    earlyCloses:
      "2024-07-03": "13:00"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	db, err := LoadDatabase(path)
	require.NoError(t, err)
	h, err := db.Get(symbol.MarketUSA, symbol.SecurityTypeEquity, "AAPL")
	require.NoError(t, err)

	holiday := time.Date(2024, time.July, 4, 15, 0, 0, 0, time.UTC)
	require.False(t, h.IsOpen(holiday, false))

	// July 3rd closes at 13:00 local.
	beforeClose := time.Date(2024, time.July, 3, 12, 30, 0, 0, h.Location())
	require.True(t, h.IsOpenLocal(beforeClose, false))
	afterClose := time.Date(2024, time.July, 3, 13, 30, 0, 0, h.Location())
	require.False(t, h.IsOpenLocal(afterClose, false))
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	h := usEquity(t)
	// Friday 2024-06-07 17:00 local; next regular open is Monday 09:30.
	friday := time.Date(2024, time.June, 7, 17, 0, 0, 0, h.Location())
	next := h.NextOpenLocal(friday, false)
	require.Equal(t, time.Date(2024, time.June, 10, 9, 30, 0, 0, h.Location()), next)
}

func TestNextCloseSameDay(t *testing.T) {
	h := usEquity(t)
	midday := time.Date(2024, time.June, 5, 11, 0, 0, 0, h.Location())
	next := h.NextCloseLocal(midday, false)
	require.Equal(t, time.Date(2024, time.June, 5, 16, 0, 0, 0, h.Location()), next)
}

func TestRegularClose(t *testing.T) {
	h := usEquity(t)
	require.Equal(t, 16*time.Hour, h.RegularClose(time.Wednesday))
	require.Equal(t, time.Duration(0), h.RegularClose(time.Saturday))
}

func TestCryptoAlwaysOpen(t *testing.T) {
	db := NewDefaultDatabase()
	h, err := db.Get(symbol.MarketBinance, symbol.SecurityTypeCrypto, "")
	require.NoError(t, err)
	sunday := time.Date(2024, time.June, 9, 3, 0, 0, 0, time.UTC)
	require.True(t, h.IsOpen(sunday, false))
}

func TestMissingEntryFails(t *testing.T) {
	db := NewDefaultDatabase()
	_, err := db.Get("unknown-market", symbol.SecurityTypeFuture, "")
	require.Error(t, err)
}
