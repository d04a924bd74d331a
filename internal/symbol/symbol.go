package symbol

import (
	"strings"
	"sync"
)

// Symbol pairs a canonical identifier with the instrument's current human
// ticker. Equality and map keying go through the identifier only; the ticker
// can change over time via map files without changing identity.
type Symbol struct {
	SID    SecurityIdentifier
	Ticker string
}

// New binds a human ticker to an identifier.
func New(sid SecurityIdentifier, ticker string) Symbol {
	return Symbol{SID: sid, Ticker: strings.ToUpper(strings.TrimSpace(ticker))}
}

// Equal reports identity equality, ignoring the ticker.
func (s Symbol) Equal(other Symbol) bool { return s.SID == other.SID }

// IsZero reports whether the symbol is the zero value.
func (s Symbol) IsZero() bool { return s.SID.IsZero() }

// String renders the canonical identifier form.
func (s Symbol) String() string { return s.SID.String() }

// Canonical returns the option-chain grouping symbol for option contracts:
// same underlying and market, zero strike, no expiry. For non-options it
// returns the symbol unchanged.
func (s Symbol) Canonical() Symbol {
	if s.SID.SecurityType() != SecurityTypeOption {
		return s
	}
	props := s.SID.properties%typeOffset + uint64(SecurityTypeOption)*typeOffset
	return Symbol{
		SID:    SecurityIdentifier{symbol: s.SID.symbol, properties: props},
		Ticker: s.SID.symbol,
	}
}

// Cache is the bidirectional ticker <-> Symbol lookup shared across the
// engine. Inserts happen on add-security; Clear runs on engine reset.
type Cache struct {
	mu       sync.RWMutex
	byTicker map[string]Symbol
	bySID    map[SecurityIdentifier]Symbol
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byTicker: make(map[string]Symbol),
		bySID:    make(map[SecurityIdentifier]Symbol),
	}
}

// Add stores the symbol under both its ticker and identifier.
func (c *Cache) Add(s Symbol) {
	if s.IsZero() {
		return
	}
	c.mu.Lock()
	c.byTicker[s.Ticker] = s
	c.bySID[s.SID] = s
	c.mu.Unlock()
}

// ByTicker resolves a human ticker.
func (c *Cache) ByTicker(ticker string) (Symbol, bool) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byTicker[key]
	return s, ok
}

// BySID resolves an identifier.
func (c *Cache) BySID(sid SecurityIdentifier) (Symbol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.bySID[sid]
	return s, ok
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.byTicker = make(map[string]Symbol)
	c.bySID = make(map[SecurityIdentifier]Symbol)
	c.mu.Unlock()
}
