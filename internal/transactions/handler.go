package transactions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/brokerage"
	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/internal/symbol"
)

// request is one unit of work for the handler's writer loop.
type request interface {
	apply(h *Handler)
}

// Books receives fill events as atomic units. Application either completes
// or leaves holdings and cash untouched.
type Books interface {
	ApplyFill(sym symbol.Symbol, event orders.Event)
}

// Handler is the single writer over order and portfolio state. Submit,
// update and cancel enqueue requests; Pump (backtest) or Run (live) drains
// them together with brokerage events on one goroutine, so no caller ever
// observes a mid-update portfolio.
type Handler struct {
	mu      sync.RWMutex
	tickets map[int]*orders.Ticket
	nextID  int

	requests chan request
	events   chan orders.Event

	brokerage brokerage.Brokerage
	pf        Books

	// validate runs before an order is forwarded. Optional.
	validate func(*orders.Order) error
	// onOrderEvent is invoked after each event is applied. Optional.
	onOrderEvent func(orders.Event, *orders.Ticket)
}

// New wires the handler to its brokerage and books. Queue sizes bound the
// request and event backlogs; a full request queue fails the enqueue rather
// than blocking the caller.
func New(brk brokerage.Brokerage, pf Books, requestBuffer, eventBuffer int) *Handler {
	h := &Handler{
		tickets:   make(map[int]*orders.Ticket),
		requests:  make(chan request, requestBuffer),
		events:    make(chan orders.Event, eventBuffer),
		brokerage: brk,
		pf:        pf,
	}
	brk.SetEventHandler(h.HandleBrokerEvent)
	return h
}

// SetValidator installs the submission-time order check.
func (h *Handler) SetValidator(fn func(*orders.Order) error) { h.validate = fn }

// SetOrderEventCallback installs the post-application hook the engine uses
// to invoke the algorithm's order event callback.
func (h *Handler) SetOrderEventCallback(fn func(orders.Event, *orders.Ticket)) { h.onOrderEvent = fn }

// Ticket returns the ticket for an order id.
func (h *Handler) Ticket(orderID int) (*orders.Ticket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tickets[orderID]
	return t, ok
}

// OpenTickets returns tickets whose orders are not yet closed.
func (h *Handler) OpenTickets() []*orders.Ticket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*orders.Ticket
	for _, t := range h.tickets {
		if !t.Status().IsClosed() {
			out = append(out, t)
		}
	}
	return out
}

// Submit allocates the next order id, stores the ticket and enqueues the
// brokerage forward. Ids are strictly increasing from 1. When the request
// queue is full the order is invalidated immediately instead of blocking the
// caller.
func (h *Handler) Submit(req orders.SubmitRequest) *orders.Ticket {
	h.mu.Lock()
	h.nextID++
	order := &orders.Order{
		ID:         h.nextID,
		Symbol:     req.Symbol,
		Quantity:   req.Quantity,
		Type:       req.Type,
		Status:     orders.StatusNew,
		CreatedUtc: req.UtcTime,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Tag:        req.Tag,
	}
	ticket := orders.NewTicket(order)
	h.tickets[order.ID] = ticket
	h.mu.Unlock()

	select {
	case h.requests <- &submitRequest{ticket: ticket}:
	default:
		err := errs.New("transactions", errs.CodeUnavailable,
			errs.WithMessage("request queue full"), errs.WithOrderID(order.ID))
		ticket.AddResponse(orders.Response{OrderID: order.ID, Kind: orders.RequestSubmit, UtcTime: order.CreatedUtc, Err: err})
		h.processEvent(orders.NewEvent(order.ID, order.CreatedUtc, orders.StatusInvalid, err.Error()))
	}
	return ticket
}

// Update enqueues a parameter change for a pending order.
func (h *Handler) Update(req orders.UpdateRequest) error {
	if _, ok := h.Ticket(req.OrderID); !ok {
		return errs.New("transactions", errs.CodeNotFound,
			errs.WithMessage("unknown order"), errs.WithOrderID(req.OrderID))
	}
	select {
	case h.requests <- &updateRequest{req: req}:
		return nil
	default:
		return errs.New("transactions", errs.CodeUnavailable,
			errs.WithMessage("request queue full"), errs.WithOrderID(req.OrderID))
	}
}

// Cancel enqueues a cancellation for a pending order.
func (h *Handler) Cancel(req orders.CancelRequest) error {
	if _, ok := h.Ticket(req.OrderID); !ok {
		return errs.New("transactions", errs.CodeNotFound,
			errs.WithMessage("unknown order"), errs.WithOrderID(req.OrderID))
	}
	select {
	case h.requests <- &cancelRequest{req: req}:
		return nil
	default:
		return errs.New("transactions", errs.CodeUnavailable,
			errs.WithMessage("request queue full"), errs.WithOrderID(req.OrderID))
	}
}

// HandleBrokerEvent enqueues one brokerage-originated event. Registered as
// the brokerage's event handler at construction.
func (h *Handler) HandleBrokerEvent(event orders.Event) {
	h.events <- event
}

// Pump drains all queued requests, then all queued events, on the calling
// goroutine. The backtest engine invokes this once per step.
func (h *Handler) Pump() {
	for {
		select {
		case req := <-h.requests:
			req.apply(h)
		default:
			h.drainEvents()
			return
		}
	}
}

func (h *Handler) drainEvents() {
	for {
		select {
		case event := <-h.events:
			h.processEvent(event)
		default:
			return
		}
	}
}

// Run is the live-mode writer loop. It serializes requests and broker
// events until the context is canceled.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			req.apply(h)
		case event := <-h.events:
			h.processEvent(event)
		}
	}
}

type submitRequest struct {
	ticket *orders.Ticket
}

func (r *submitRequest) apply(h *Handler) {
	order := r.ticket.Order()
	if h.validate != nil {
		if err := h.validate(order); err != nil {
			r.ticket.AddResponse(orders.Response{OrderID: order.ID, Kind: orders.RequestSubmit, UtcTime: order.CreatedUtc, Err: err})
			h.processEvent(orders.NewEvent(order.ID, order.CreatedUtc, orders.StatusInvalid, err.Error()))
			return
		}
	}
	if !h.brokerage.PlaceOrder(order) {
		err := errs.New("transactions", errs.CodeOrder,
			errs.WithMessage("brokerage rejected order"), errs.WithOrderID(order.ID))
		r.ticket.AddResponse(orders.Response{OrderID: order.ID, Kind: orders.RequestSubmit, UtcTime: order.CreatedUtc, Err: err})
		h.processEvent(orders.NewEvent(order.ID, order.CreatedUtc, orders.StatusInvalid, err.Error()))
		return
	}
	r.ticket.AddResponse(orders.Response{OrderID: order.ID, Kind: orders.RequestSubmit, UtcTime: order.CreatedUtc})
}

type updateRequest struct {
	req orders.UpdateRequest
}

func (r *updateRequest) apply(h *Handler) {
	ticket, ok := h.lookupOpen(r.req.OrderID, orders.RequestUpdate, r.req.UtcTime)
	if !ok {
		return
	}
	ticket.Mutate(func(o *orders.Order) {
		if r.req.Quantity != nil {
			o.Quantity = *r.req.Quantity
		}
		if r.req.LimitPrice != nil {
			o.LimitPrice = *r.req.LimitPrice
		}
		if r.req.StopPrice != nil {
			o.StopPrice = *r.req.StopPrice
		}
		if r.req.Tag != nil {
			o.Tag = *r.req.Tag
		}
	})
	if !h.brokerage.UpdateOrder(ticket.Order()) {
		ticket.AddResponse(orders.Response{OrderID: r.req.OrderID, Kind: orders.RequestUpdate, UtcTime: r.req.UtcTime,
			Err: errs.New("transactions", errs.CodeOrder, errs.WithMessage("order not pending at brokerage"), errs.WithOrderID(r.req.OrderID))})
		return
	}
	ticket.AddResponse(orders.Response{OrderID: r.req.OrderID, Kind: orders.RequestUpdate, UtcTime: r.req.UtcTime})
}

type cancelRequest struct {
	req orders.CancelRequest
}

func (r *cancelRequest) apply(h *Handler) {
	ticket, ok := h.lookupOpen(r.req.OrderID, orders.RequestCancel, r.req.UtcTime)
	if !ok {
		return
	}
	ticket.Mutate(func(o *orders.Order) {
		if orders.CanTransition(o.Status, orders.StatusCancelPending) {
			o.Status = orders.StatusCancelPending
		}
	})
	if !h.brokerage.CancelOrder(ticket.Order()) {
		ticket.AddResponse(orders.Response{OrderID: r.req.OrderID, Kind: orders.RequestCancel, UtcTime: r.req.UtcTime,
			Err: errs.New("transactions", errs.CodeOrder, errs.WithMessage("order not pending at brokerage"), errs.WithOrderID(r.req.OrderID))})
		return
	}
	ticket.AddResponse(orders.Response{OrderID: r.req.OrderID, Kind: orders.RequestCancel, UtcTime: r.req.UtcTime})
}

// lookupOpen resolves a ticket and rejects requests against terminal orders
// with a failed response.
func (h *Handler) lookupOpen(orderID int, kind orders.RequestKind, utc time.Time) (*orders.Ticket, bool) {
	ticket, ok := h.Ticket(orderID)
	if !ok {
		return nil, false
	}
	if ticket.Status().IsClosed() {
		ticket.AddResponse(orders.Response{OrderID: orderID, Kind: kind, UtcTime: utc,
			Err: errs.New("transactions", errs.CodeOrder,
				errs.WithMessage(fmt.Sprintf("order is %s, no further %s allowed", ticket.Status(), kind)),
				errs.WithOrderID(orderID))})
		return nil, false
	}
	return ticket, true
}

// processEvent applies one event to the books and the ticket. Fills hit the
// books first so a failed application can still move the order to Invalid;
// the fill is only recorded on the ticket once the books accepted it.
func (h *Handler) processEvent(event orders.Event) {
	ticket, ok := h.Ticket(event.OrderID)
	if !ok {
		observability.Log().Warn("event for unknown order dropped",
			observability.Field{Key: "orderId", Value: event.OrderID})
		return
	}

	// Live brokers may report a fill before acknowledging the submission.
	if event.Status.IsFill() && ticket.Status() == orders.StatusNew {
		observability.Log().Warn("fill received before submission ack, synthesizing submitted",
			observability.Field{Key: "orderId", Value: event.OrderID})
		synthetic := orders.NewEvent(event.OrderID, event.UtcTime, orders.StatusSubmitted, "synthesized ack")
		ticket.Apply(synthetic)
		if h.onOrderEvent != nil {
			h.onOrderEvent(synthetic, ticket)
		}
	}

	if event.Status.IsFill() && !event.FillQuantity.IsZero() {
		sym := ticket.Order().Symbol
		if err := h.applyFillSafely(sym, event); err != nil {
			observability.Log().Error("portfolio application failed, invalidating order",
				observability.Field{Key: "orderId", Value: event.OrderID},
				observability.Field{Key: "error", Value: err.Error()})
			invalid := orders.NewEvent(event.OrderID, event.UtcTime, orders.StatusInvalid, err.Error())
			ticket.Apply(invalid)
			if h.onOrderEvent != nil {
				h.onOrderEvent(invalid, ticket)
			}
			return
		}
	}

	ticket.Apply(event)

	if h.onOrderEvent != nil {
		h.onOrderEvent(event, ticket)
	}
}

func (h *Handler) applyFillSafely(sym symbol.Symbol, event orders.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("transactions", errs.CodeRuntime,
				errs.WithMessage(fmt.Sprintf("panic applying fill: %v", r)))
		}
	}()
	h.pf.ApplyFill(sym, event)
	return nil
}
