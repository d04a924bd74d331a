package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event describes one brokerage-originated change to an order. FillQuantity
// is signed like the order's quantity and zero for non-fill events.
type Event struct {
	OrderID           int
	UtcTime           time.Time
	Status            Status
	FillQuantity      decimal.Decimal
	FillPrice         decimal.Decimal
	FillPriceCurrency string
	Fee               decimal.Decimal
	Message           string
}

// NewEvent returns an event with no fill attached.
func NewEvent(orderID int, utc time.Time, status Status, message string) Event {
	return Event{OrderID: orderID, UtcTime: utc, Status: status, Message: message}
}

func (e Event) String() string {
	if e.FillQuantity.IsZero() {
		return fmt.Sprintf("order %d %s", e.OrderID, e.Status)
	}
	return fmt.Sprintf("order %d %s fill %s @ %s", e.OrderID, e.Status, e.FillQuantity, e.FillPrice)
}
