// Package symbol defines canonical instrument identity for the engine.
package symbol

import (
	"strings"
	"sync"

	"github.com/quantarc/engine/errs"
)

// MarketRegistry maps market names to small integer codes (0..999).
// The engine context owns one registry; lookups are rare and O(1).
type MarketRegistry struct {
	mu     sync.RWMutex
	byName map[string]uint16
	byCode map[uint16]string
	next   uint16
}

// Built-in market codes. User markets are added from code 100 upward.
const (
	MarketUSA      = "usa"
	MarketFXCM     = "fxcm"
	MarketOanda    = "oanda"
	MarketBinance  = "binance"
	MarketCoinbase = "coinbase"
	MarketBitfinex = "bitfinex"
)

// NewMarketRegistry returns a registry preloaded with the built-in markets.
func NewMarketRegistry() *MarketRegistry {
	r := &MarketRegistry{
		byName: make(map[string]uint16),
		byCode: make(map[uint16]string),
		next:   100,
	}
	for code, name := range map[uint16]string{
		1: MarketUSA,
		2: MarketFXCM,
		3: MarketOanda,
		4: MarketBinance,
		5: MarketCoinbase,
		6: MarketBitfinex,
	} {
		r.byName[name] = code
		r.byCode[code] = name
	}
	return r
}

// Code resolves a market name to its code, registering it when unseen.
func (r *MarketRegistry) Code(market string) (uint16, error) {
	name := strings.ToLower(strings.TrimSpace(market))
	if name == "" {
		return 0, errs.New("symbol/market", errs.CodeInvalid, errs.WithMessage("market name required"))
	}

	r.mu.RLock()
	code, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return code, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if code, ok := r.byName[name]; ok {
		return code, nil
	}
	if r.next > maxMarketCode {
		return 0, errs.New("symbol/market", errs.CodeInvalid, errs.WithMessage("market registry full"))
	}
	code = r.next
	r.next++
	r.byName[name] = code
	r.byCode[code] = name
	return code, nil
}

// Name resolves a market code back to its name.
func (r *MarketRegistry) Name(code uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byCode[code]
	return name, ok
}

const maxMarketCode = 999
