package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/symbol"
)

// Type enumerates the supported order types.
type Type uint8

const (
	// TypeMarket fills at the next observed market price.
	TypeMarket Type = iota
	// TypeLimit fills at the limit price or better.
	TypeLimit
	// TypeStopMarket converts to a market order once the stop triggers.
	TypeStopMarket
	// TypeStopLimit converts to a limit order once the stop triggers.
	TypeStopLimit
	// TypeMarketOnOpen fills at the official opening price.
	TypeMarketOnOpen
	// TypeMarketOnClose fills at the official closing price.
	TypeMarketOnClose
)

func (t Type) String() string {
	switch t {
	case TypeMarket:
		return "market"
	case TypeLimit:
		return "limit"
	case TypeStopMarket:
		return "stopMarket"
	case TypeStopLimit:
		return "stopLimit"
	case TypeMarketOnOpen:
		return "marketOnOpen"
	case TypeMarketOnClose:
		return "marketOnClose"
	default:
		return "unknown"
	}
}

// Status enumerates order lifecycle states.
type Status uint8

const (
	// StatusNew is the state at creation, before the brokerage acknowledges.
	StatusNew Status = iota
	// StatusSubmitted means the brokerage accepted the order.
	StatusSubmitted
	// StatusPartiallyFilled means some quantity executed.
	StatusPartiallyFilled
	// StatusFilled means the full quantity executed. Terminal.
	StatusFilled
	// StatusCanceled means the order was withdrawn. Terminal.
	StatusCanceled
	// StatusInvalid means the order was rejected. Terminal.
	StatusInvalid
	// StatusCancelPending means a cancel request is in flight.
	StatusCancelPending
	// StatusUpdated means an update request was applied.
	StatusUpdated
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusSubmitted:
		return "submitted"
	case StatusPartiallyFilled:
		return "partiallyFilled"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	case StatusInvalid:
		return "invalid"
	case StatusCancelPending:
		return "cancelPending"
	case StatusUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// IsClosed reports whether the status is absorbing.
func (s Status) IsClosed() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusInvalid
}

// IsFill reports whether the status carries executed quantity.
func (s Status) IsFill() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

var transitions = map[Status][]Status{
	StatusNew:             {StatusSubmitted, StatusCanceled, StatusInvalid},
	StatusSubmitted:       {StatusSubmitted, StatusUpdated, StatusPartiallyFilled, StatusFilled, StatusCancelPending, StatusCanceled, StatusInvalid},
	StatusUpdated:         {StatusSubmitted, StatusUpdated, StatusPartiallyFilled, StatusFilled, StatusCancelPending, StatusCanceled, StatusInvalid},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusSubmitted, StatusUpdated, StatusCancelPending, StatusCanceled, StatusInvalid},
	StatusCancelPending:   {StatusCanceled, StatusPartiallyFilled, StatusFilled},
}

// CanTransition reports whether moving from one status to another is legal.
// Closed statuses admit no transitions.
func CanTransition(from, to Status) bool {
	if from.IsClosed() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the mutable record of one instruction to trade. Quantity is
// signed: positive buys, negative sells. Only the transaction handler
// goroutine mutates an order after creation.
type Order struct {
	ID         int
	BrokerIDs  []string
	Symbol     symbol.Symbol
	Quantity   decimal.Decimal
	Type       Type
	Status     Status
	CreatedUtc time.Time
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	Tag        string
	FilledQty  decimal.Decimal
}

// Direction returns +1 for buys and -1 for sells.
func (o *Order) Direction() int {
	if o.Quantity.IsNegative() {
		return -1
	}
	return 1
}

// Remaining returns the unfilled signed quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	dup := *o
	dup.BrokerIDs = append([]string(nil), o.BrokerIDs...)
	return &dup
}
