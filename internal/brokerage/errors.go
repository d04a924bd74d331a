package brokerage

import (
	"fmt"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/orders"
)

func errNotTradable(order *orders.Order) error {
	return errs.New("brokerage", errs.CodeOrder,
		errs.WithMessage("security is not tradable"),
		errs.WithSymbol(order.Symbol.Ticker), errs.WithOrderID(order.ID))
}

func errZeroQuantity(order *orders.Order) error {
	return errs.New("brokerage", errs.CodeOrder,
		errs.WithMessage("order quantity must be non-zero"),
		errs.WithOrderID(order.ID))
}

func errBadPrice(order *orders.Order, field string) error {
	return errs.New("brokerage", errs.CodeOrder,
		errs.WithMessage(fmt.Sprintf("%s price must be positive for %s orders", field, order.Type)),
		errs.WithOrderID(order.ID))
}
