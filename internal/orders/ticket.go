package orders

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// RequestKind distinguishes the request types a ticket records responses for.
type RequestKind uint8

const (
	// RequestSubmit creates an order.
	RequestSubmit RequestKind = iota
	// RequestUpdate mutates a pending order's parameters.
	RequestUpdate
	// RequestCancel withdraws a pending order.
	RequestCancel
)

func (k RequestKind) String() string {
	switch k {
	case RequestSubmit:
		return "submit"
	case RequestUpdate:
		return "update"
	case RequestCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// SubmitRequest asks the transaction handler to create an order.
type SubmitRequest struct {
	Type       Type
	Symbol     symbol.Symbol
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	Tag        string
	UtcTime    time.Time
}

// UpdateRequest mutates a pending order. Nil fields are left unchanged.
type UpdateRequest struct {
	OrderID    int
	Quantity   *decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Tag        *string
	UtcTime    time.Time
}

// CancelRequest withdraws a pending order.
type CancelRequest struct {
	OrderID int
	UtcTime time.Time
}

// Response records the outcome of one request against an order.
type Response struct {
	OrderID int
	Kind    RequestKind
	UtcTime time.Time
	Err     error
}

// Ok reports whether the request was accepted.
func (r Response) Ok() bool { return r.Err == nil }

// Ticket is the caller-facing handle for one order. The transaction handler
// appends responses and events; callers read snapshots. The response history
// is append-only.
type Ticket struct {
	mu        sync.RWMutex
	order     *Order
	responses []Response
	events    []Event
}

// NewTicket wraps a freshly created order.
func NewTicket(order *Order) *Ticket {
	return &Ticket{order: order}
}

// OrderID returns the order's id.
func (t *Ticket) OrderID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.ID
}

// Status returns the order's current status.
func (t *Ticket) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.Status
}

// Order returns a snapshot of the order.
func (t *Ticket) Order() *Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.Clone()
}

// QuantityFilled returns the aggregate signed fill quantity.
func (t *Ticket) QuantityFilled() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.FilledQty
}

// AverageFillPrice returns the quantity-weighted fill price across events.
func (t *Ticket) AverageFillPrice() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	qty := decimal.Zero
	for _, e := range t.events {
		if e.FillQuantity.IsZero() {
			continue
		}
		total = total.Add(e.FillPrice.Mul(e.FillQuantity.Abs()))
		qty = qty.Add(e.FillQuantity.Abs())
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return total.Div(qty)
}

// AddResponse appends one request outcome.
func (t *Ticket) AddResponse(resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, resp)
}

// LatestResponse returns the most recent response, if any.
func (t *Ticket) LatestResponse() (Response, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.responses) == 0 {
		return Response{}, false
	}
	return t.responses[len(t.responses)-1], true
}

// Responses returns a copy of the response history.
func (t *Ticket) Responses() []Response {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Response(nil), t.responses...)
}

// Events returns a copy of the event history.
func (t *Ticket) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Event(nil), t.events...)
}

// Apply records an event and updates the underlying order's status and fill
// quantity. Illegal transitions are ignored so a late broker echo cannot
// reopen a closed order.
func (t *Ticket) Apply(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	if CanTransition(t.order.Status, event.Status) {
		t.order.Status = event.Status
	}
	if !event.FillQuantity.IsZero() {
		t.order.FilledQty = t.order.FilledQty.Add(event.FillQuantity)
	}
}

// Mutate runs fn under the ticket's write lock. The transaction handler uses
// this to keep order field updates atomic with respect to readers.
func (t *Ticket) Mutate(fn func(*Order)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.order)
}
