package symbol

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustEquity(t *testing.T, ticker string) Symbol {
	t.Helper()
	reg := NewMarketRegistry()
	code, err := reg.Code(MarketUSA)
	require.NoError(t, err)
	sid, err := NewEquity(ticker, code)
	require.NoError(t, err)
	return New(sid, ticker)
}

func TestIdentifierRoundTrip(t *testing.T) {
	reg := NewMarketRegistry()
	code, err := reg.Code(MarketUSA)
	require.NoError(t, err)

	expiry := time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC)
	sid, err := NewOption("AAPL", code, expiry, decimal.RequireFromString("192.50"), OptionRightPut, OptionStyleAmerican)
	require.NoError(t, err)

	decoded, err := ParseIdentifier(sid.String())
	require.NoError(t, err)
	require.Equal(t, sid, decoded)

	require.Equal(t, "AAPL", decoded.Symbol())
	require.Equal(t, code, decoded.Market())
	require.Equal(t, SecurityTypeOption, decoded.SecurityType())
	require.Equal(t, expiry, decoded.Date())
	require.Equal(t, OptionRightPut, decoded.OptionRight())
	require.True(t, decimal.RequireFromString("192.50").Equal(decoded.StrikePrice()))
}

func TestEquityIdentifierFields(t *testing.T) {
	s := mustEquity(t, "spy")
	require.Equal(t, "SPY", s.SID.Symbol())
	require.Equal(t, SecurityTypeEquity, s.SID.SecurityType())
	require.True(t, s.SID.Date().IsZero())
	require.True(t, s.SID.StrikePrice().IsZero())
}

func TestSymbolEqualityIgnoresTicker(t *testing.T) {
	reg := NewMarketRegistry()
	code, _ := reg.Code(MarketUSA)
	sid, err := NewEquity("GOOCV", code)
	require.NoError(t, err)

	before := New(sid, "GOOCV")
	after := New(sid, "GOOG")
	require.True(t, before.Equal(after))
	require.Equal(t, before.SID, after.SID)
}

func TestCanonicalOptionSymbol(t *testing.T) {
	reg := NewMarketRegistry()
	code, _ := reg.Code(MarketUSA)
	expiry := time.Date(2025, time.January, 17, 0, 0, 0, 0, time.UTC)
	sid, err := NewOption("SPY", code, expiry, decimal.NewFromInt(480), OptionRightCall, OptionStyleAmerican)
	require.NoError(t, err)

	canonical := New(sid, "SPY").Canonical()
	require.Equal(t, SecurityTypeOption, canonical.SID.SecurityType())
	require.True(t, canonical.SID.Date().IsZero())
	require.True(t, canonical.SID.StrikePrice().IsZero())
	require.Equal(t, code, canonical.SID.Market())

	// All contracts in one chain share the canonical symbol.
	other, err := NewOption("SPY", code, expiry, decimal.NewFromInt(490), OptionRightPut, OptionStyleAmerican)
	require.NoError(t, err)
	require.Equal(t, canonical.SID, New(other, "SPY").Canonical().SID)
}

func TestCacheBidirectional(t *testing.T) {
	cache := NewCache()
	s := mustEquity(t, "AAPL")
	cache.Add(s)

	got, ok := cache.ByTicker("aapl")
	require.True(t, ok)
	require.True(t, got.Equal(s))

	got, ok = cache.BySID(s.SID)
	require.True(t, ok)
	require.True(t, got.Equal(s))

	cache.Clear()
	_, ok = cache.ByTicker("AAPL")
	require.False(t, ok)
}

func TestMarketRegistryAssignsStableCodes(t *testing.T) {
	reg := NewMarketRegistry()
	first, err := reg.Code("kraken")
	require.NoError(t, err)
	second, err := reg.Code("KRAKEN")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.GreaterOrEqual(t, first, uint16(100))

	name, ok := reg.Name(first)
	require.True(t, ok)
	require.Equal(t, "kraken", name)
}

func TestParseIdentifierRejectsGarbage(t *testing.T) {
	_, err := ParseIdentifier("AAPL")
	require.Error(t, err)
	_, err = ParseIdentifier("AAPL !!")
	require.Error(t, err)
}
