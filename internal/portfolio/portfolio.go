package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/symbol"
)

// MarginModel prices the margin consumed by positions and prospective orders.
type MarginModel interface {
	// InitialMargin returns the margin required to open the given exposure.
	InitialMargin(price, quantity decimal.Decimal) decimal.Decimal
	// MaintenanceMargin returns the margin consumed by an open holding.
	MaintenanceMargin(h *Holding) decimal.Decimal
}

// LeverageMarginModel divides exposure by a fixed leverage factor.
type LeverageMarginModel struct {
	Leverage decimal.Decimal
}

// NewLeverageMarginModel validates the leverage factor.
func NewLeverageMarginModel(leverage decimal.Decimal) (*LeverageMarginModel, error) {
	if !leverage.IsPositive() {
		return nil, errs.New("portfolio/margin", errs.CodeInvalid,
			errs.WithMessage("leverage must be positive"))
	}
	return &LeverageMarginModel{Leverage: leverage}, nil
}

// InitialMargin implements MarginModel.
func (m *LeverageMarginModel) InitialMargin(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity.Abs()).Div(m.Leverage)
}

// MaintenanceMargin implements MarginModel.
func (m *LeverageMarginModel) MaintenanceMargin(h *Holding) decimal.Decimal {
	return h.MarketValue().Abs().Div(m.Leverage)
}

// Portfolio aggregates holdings and cash. Mutation happens on the
// transaction handler goroutine; reads take the lock so the engine thread
// and result thread can snapshot safely.
type Portfolio struct {
	mu       sync.RWMutex
	holdings map[symbol.SecurityIdentifier]*Holding
	cash     *CashBook
	margin   MarginModel
}

// New creates a portfolio with the given starting cash.
func New(baseCurrency string, initialCash decimal.Decimal, margin MarginModel) *Portfolio {
	return &Portfolio{
		holdings: make(map[symbol.SecurityIdentifier]*Holding),
		cash:     NewCashBook(baseCurrency, initialCash),
		margin:   margin,
	}
}

// CashBook exposes the cash book. Callers outside the transaction handler
// must treat it as read-only.
func (p *Portfolio) CashBook() *CashBook { return p.cash }

// Holding returns the position for the symbol, creating a flat one on first
// reference.
func (p *Portfolio) Holding(sym symbol.Symbol) *Holding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdingLocked(sym)
}

func (p *Portfolio) holdingLocked(sym symbol.Symbol) *Holding {
	h, ok := p.holdings[sym.SID]
	if !ok {
		h = &Holding{Symbol: sym}
		p.holdings[sym.SID] = h
	}
	return h
}

// HoldingSnapshot returns a copy of the position, if one exists.
func (p *Portfolio) HoldingSnapshot(sid symbol.SecurityIdentifier) (*Holding, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.holdings[sid]
	if !ok {
		return nil, false
	}
	return h.Clone(), true
}

// Holdings returns copies of all non-flat positions sorted by identifier.
func (p *Portfolio) Holdings() []*Holding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		if !h.IsFlat() {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol.SID.String() < out[j].Symbol.SID.String()
	})
	return out
}

// UpdatePrice marks the holding to market and refreshes any cash conversion
// rates driven by the symbol.
func (p *Portfolio) UpdatePrice(sym symbol.Symbol, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.holdings[sym.SID]; ok {
		h.MarketPrice = price
	}
	p.cash.UpdateFromTrade(sym, price)
}

// fillHook runs between the holding and cash mutations inside ApplyFill.
// Test seam.
var fillHook func()

// ApplyFill folds a fill event into holdings and cash as one unit. Cash
// moves by -fillQty*fillPrice in the fill currency; the fee is subtracted in
// base currency. A panic partway restores both books before propagating, so
// callers never observe a half-applied fill.
func (p *Portfolio) ApplyFill(sym symbol.Symbol, event orders.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	currency := event.FillPriceCurrency
	if currency == "" {
		currency = p.cash.BaseCurrency()
	}
	base := p.cash.BaseCurrency()

	h := p.holdingLocked(sym)
	savedHolding := *h
	savedFillCash := p.cash.Get(currency).Amount
	savedBaseCash := p.cash.Get(base).Amount
	defer func() {
		if r := recover(); r != nil {
			*h = savedHolding
			p.cash.Get(currency).Amount = savedFillCash
			p.cash.Get(base).Amount = savedBaseCash
			panic(r)
		}
	}()

	h.ApplyFill(event.FillQuantity, event.FillPrice)
	h.MarketPrice = event.FillPrice
	if fillHook != nil {
		fillHook()
	}
	cost := event.FillPrice.Mul(event.FillQuantity)
	p.cash.Adjust(currency, cost.Neg())
	if !event.Fee.IsZero() {
		p.cash.Adjust(base, event.Fee.Neg())
	}
}

// TotalHoldingsValue sums the mark-to-market value of all positions.
func (p *Portfolio) TotalHoldingsValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, h := range p.holdings {
		total = total.Add(h.MarketValue())
	}
	return total
}

// TotalPortfolioValue is cash plus holdings value, in base currency.
func (p *Portfolio) TotalPortfolioValue() decimal.Decimal {
	return p.cash.TotalValueInBase().Add(p.TotalHoldingsValue())
}

// MarginUsed sums maintenance margin across open positions.
func (p *Portfolio) MarginUsed() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, h := range p.holdings {
		if !h.IsFlat() {
			total = total.Add(p.margin.MaintenanceMargin(h))
		}
	}
	return total
}

// MarginRemaining is the buying power left for new positions.
func (p *Portfolio) MarginRemaining() decimal.Decimal {
	return p.TotalPortfolioValue().Sub(p.MarginUsed())
}

// HasSufficientBuyingPower reports whether the order's initial margin fits
// in the remaining margin at the given reference price.
func (p *Portfolio) HasSufficientBuyingPower(price, quantity decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	required := p.margin.InitialMargin(price, quantity)
	return required.LessThanOrEqual(p.MarginRemaining())
}

// MarginCallOrders builds liquidation requests when portfolio value no
// longer covers maintenance margin. Positions are reduced largest exposure
// first until the projected requirement fits.
func (p *Portfolio) MarginCallOrders(utc time.Time) []orders.SubmitRequest {
	value := p.TotalPortfolioValue()
	used := p.MarginUsed()
	if used.LessThanOrEqual(value) {
		return nil
	}

	open := p.Holdings()
	sort.Slice(open, func(i, j int) bool {
		return open[i].MarketValue().Abs().GreaterThan(open[j].MarketValue().Abs())
	})

	deficit := used.Sub(value)
	var requests []orders.SubmitRequest
	for _, h := range open {
		if deficit.Sign() <= 0 {
			break
		}
		requests = append(requests, orders.SubmitRequest{
			Type:     orders.TypeMarket,
			Symbol:   h.Symbol,
			Quantity: h.Quantity.Neg(),
			Tag:      "margin call liquidation",
			UtcTime:  utc,
		})
		deficit = deficit.Sub(p.margin.MaintenanceMargin(h))
	}
	return requests
}
