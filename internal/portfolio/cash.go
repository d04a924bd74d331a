package portfolio

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// Cash is one currency balance. ConversionRate expresses the currency in
// account-base units and is refreshed from the last trade price of the
// conversion security, when one exists.
type Cash struct {
	Currency       string
	Amount         decimal.Decimal
	ConversionRate decimal.Decimal
	// ConversionSymbol is the instrument whose trades drive the rate.
	// Zero for the account base currency itself.
	ConversionSymbol symbol.Symbol
}

// ValueInBase returns the balance converted to the account base currency.
func (c *Cash) ValueInBase() decimal.Decimal {
	return c.Amount.Mul(c.ConversionRate)
}

// CashBook maps currency codes to balances. Not safe for concurrent writes;
// the transaction handler goroutine owns mutation.
type CashBook struct {
	base    string
	entries map[string]*Cash
}

// NewCashBook seeds the book with the base currency at rate 1.
func NewCashBook(baseCurrency string, initial decimal.Decimal) *CashBook {
	base := strings.ToUpper(baseCurrency)
	book := &CashBook{base: base, entries: make(map[string]*Cash)}
	book.entries[base] = &Cash{Currency: base, Amount: initial, ConversionRate: decimal.NewFromInt(1)}
	return book
}

// BaseCurrency returns the account base currency code.
func (b *CashBook) BaseCurrency() string { return b.base }

// Get returns the entry for the currency, creating a zero balance with an
// unset rate on first use.
func (b *CashBook) Get(currency string) *Cash {
	currency = strings.ToUpper(currency)
	entry, ok := b.entries[currency]
	if !ok {
		entry = &Cash{Currency: currency}
		b.entries[currency] = entry
	}
	return entry
}

// Adjust adds the delta to the currency's balance.
func (b *CashBook) Adjust(currency string, delta decimal.Decimal) {
	entry := b.Get(currency)
	entry.Amount = entry.Amount.Add(delta)
}

// SetConversionRate updates one currency's rate to base.
func (b *CashBook) SetConversionRate(currency string, rate decimal.Decimal) {
	b.Get(currency).ConversionRate = rate
}

// UpdateFromTrade refreshes the rate of any entry whose conversion security
// matches the traded symbol.
func (b *CashBook) UpdateFromTrade(sym symbol.Symbol, price decimal.Decimal) {
	for _, entry := range b.entries {
		if !entry.ConversionSymbol.IsZero() && entry.ConversionSymbol.Equal(sym) {
			entry.ConversionRate = price
		}
	}
}

// TotalValueInBase sums all balances converted to base.
func (b *CashBook) TotalValueInBase() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range b.entries {
		total = total.Add(entry.ValueInBase())
	}
	return total
}

// Currencies returns the currency codes in sorted order.
func (b *CashBook) Currencies() []string {
	out := make([]string, 0, len(b.entries))
	for code := range b.entries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
