package brokerage

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/portfolio"
	"github.com/quantarc/engine/internal/securities"
)

// Brokerage is the operation surface shared by the simulated and live
// implementations. Place, update and cancel are acknowledgements only;
// fulfillment arrives through the event handler.
type Brokerage interface {
	PlaceOrder(order *orders.Order) bool
	UpdateOrder(order *orders.Order) bool
	CancelOrder(order *orders.Order) bool
	SetEventHandler(fn func(orders.Event))
}

// Simulated holds pending orders and produces fills by replaying the fill
// models against current market state each scan. All event emission is
// synchronous and in ascending order id.
type Simulated struct {
	mu      sync.Mutex
	pending map[int]*orders.Order
	dirty   bool
	handler func(orders.Event)
	model   Model
	fills   FillModel
	clock   func() time.Time
}

// NewSimulated wires the policy model and fill model. The clock supplies
// event timestamps for acknowledgements emitted outside a scan.
func NewSimulated(model Model, fills FillModel, clock func() time.Time) *Simulated {
	return &Simulated{
		pending: make(map[int]*orders.Order),
		model:   model,
		fills:   fills,
		clock:   clock,
	}
}

// Model returns the policy model orders are validated and executed against.
func (b *Simulated) Model() Model { return b.model }

// SetEventHandler implements Brokerage. Must be set before any order flows.
func (b *Simulated) SetEventHandler(fn func(orders.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *Simulated) emit(event orders.Event) {
	if b.handler != nil {
		b.handler(event)
	}
}

// PlaceOrder implements Brokerage. Only orders in the New status are
// accepted; acceptance stores a clone and emits Submitted.
func (b *Simulated) PlaceOrder(order *orders.Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if order.Status != orders.StatusNew {
		return false
	}
	clone := order.Clone()
	clone.Status = orders.StatusSubmitted
	b.pending[order.ID] = clone
	b.dirty = true
	b.emit(orders.NewEvent(order.ID, b.clock(), orders.StatusSubmitted, ""))
	return true
}

// UpdateOrder implements Brokerage. The stored clone is replaced and the
// update acknowledged with Submitted.
func (b *Simulated) UpdateOrder(order *orders.Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[order.ID]; !ok {
		return false
	}
	clone := order.Clone()
	clone.Status = orders.StatusSubmitted
	b.pending[order.ID] = clone
	b.dirty = true
	b.emit(orders.NewEvent(order.ID, b.clock(), orders.StatusSubmitted, "update accepted"))
	return true
}

// CancelOrder implements Brokerage.
func (b *Simulated) CancelOrder(order *orders.Order) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[order.ID]; !ok {
		return false
	}
	delete(b.pending, order.ID)
	b.emit(orders.NewEvent(order.ID, b.clock(), orders.StatusCanceled, ""))
	return true
}

// PendingCount returns the number of open orders.
func (b *Simulated) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Scan walks pending orders in ascending id and applies the fill models.
// A no-op unless an order flow or a prior scan left the book dirty.
func (b *Simulated) Scan(currentUtc time.Time, registry *securities.Registry, pf *portfolio.Portfolio) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return
	}

	ids := make([]int, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	stillDirty := false
	for _, id := range ids {
		order := b.pending[id]
		if order.Status.IsClosed() {
			delete(b.pending, id)
			continue
		}
		// Non-market orders placed on this exact slice wait one step so the
		// triggering bar cannot be the bar that created them.
		if order.CreatedUtc.Equal(currentUtc) && order.Type != orders.TypeMarket {
			stillDirty = true
			continue
		}

		sec, ok := registry.Get(order.Symbol.SID)
		if !ok {
			b.emit(orders.NewEvent(id, currentUtc, orders.StatusInvalid, "security not found"))
			delete(b.pending, id)
			continue
		}
		if !b.model.CanExecute(sec, order, currentUtc) {
			stillDirty = true
			continue
		}
		refPrice := referencePrice(sec, order)
		if !refPrice.IsPositive() {
			// No price observed yet; reconsider next slice.
			stillDirty = true
			continue
		}
		if !pf.HasSufficientBuyingPower(refPrice, order.Remaining()) {
			observability.Log().Warn("order rejected for insufficient buying power",
				observability.Field{Key: "orderId", Value: id})
			b.emit(orders.NewEvent(id, currentUtc, orders.StatusInvalid, "insufficient buying power"))
			delete(b.pending, id)
			continue
		}

		event := b.fills.Fill(sec, order, currentUtc)
		hasFill := !event.FillQuantity.IsZero()
		if hasFill {
			event.FillPriceCurrency = pf.CashBook().BaseCurrency()
			event.Fee = b.model.Fee(sec, event.FillQuantity, event.FillPrice)
		}
		if event.Status != order.Status || hasFill {
			if orders.CanTransition(order.Status, event.Status) {
				order.Status = event.Status
			}
			if hasFill {
				order.FilledQty = order.FilledQty.Add(event.FillQuantity)
			}
			b.emit(event)
		}
		if order.Status.IsClosed() {
			delete(b.pending, id)
		} else {
			stillDirty = true
		}
	}
	b.dirty = stillDirty
}

// referencePrice picks the price used for the buying-power check: the
// order's own price for limit and stop types, the market otherwise.
func referencePrice(sec *securities.Security, order *orders.Order) decimal.Decimal {
	switch order.Type {
	case orders.TypeLimit, orders.TypeStopLimit:
		return order.LimitPrice
	case orders.TypeStopMarket:
		return order.StopPrice
	default:
		return sec.Price()
	}
}
