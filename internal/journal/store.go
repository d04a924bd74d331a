// Package journal persists order lifecycle events to Postgres so a live
// deployment can recover its open orders after a restart.
package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/orders"
)

const orderUpsertSQL = `
INSERT INTO journal_orders (
    algorithm_id,
    order_id,
    symbol,
    ticker,
    order_type,
    quantity,
    limit_price,
    stop_price,
    status,
    filled_qty,
    tag,
    created_utc,
    updated_utc
)
VALUES (
    @algorithm_id,
    @order_id,
    @symbol,
    @ticker,
    @order_type,
    @quantity,
    @limit_price,
    @stop_price,
    @status,
    @filled_qty,
    @tag,
    @created_utc,
    @updated_utc
)
ON CONFLICT (algorithm_id, order_id) DO UPDATE SET
    status      = EXCLUDED.status,
    quantity    = EXCLUDED.quantity,
    limit_price = EXCLUDED.limit_price,
    stop_price  = EXCLUDED.stop_price,
    filled_qty  = EXCLUDED.filled_qty,
    tag         = EXCLUDED.tag,
    updated_utc = EXCLUDED.updated_utc;
`

const fillInsertSQL = `
INSERT INTO journal_fills (
    algorithm_id,
    order_id,
    event_utc,
    status,
    fill_qty,
    fill_price,
    currency,
    fee,
    message
)
VALUES (
    @algorithm_id,
    @order_id,
    @event_utc,
    @status,
    @fill_qty,
    @fill_price,
    @currency,
    @fee,
    @message
);
`

const openOrdersSQL = `
SELECT order_id, symbol, ticker, order_type, quantity, limit_price, stop_price,
       status, filled_qty, tag, created_utc
FROM journal_orders
WHERE algorithm_id = @algorithm_id
  AND status NOT IN ('filled', 'canceled', 'invalid')
ORDER BY order_id;
`

// RecoveredOrder is one open order read back from the journal.
type RecoveredOrder struct {
	OrderID    int
	Symbol     string
	Ticker     string
	Type       string
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Status     string
	FilledQty  decimal.Decimal
	Tag        string
	CreatedUtc time.Time
}

// Journal writes order snapshots and fill rows for one deployment.
type Journal struct {
	pool        *pgxpool.Pool
	algorithmID string
}

// Open connects to the journal database. An empty dsn is a configuration
// error; callers should skip journaling instead.
func Open(ctx context.Context, dsn, algorithmID string) (*Journal, error) {
	if dsn == "" {
		return nil, errs.New("journal", errs.CodeConfiguration, errs.WithMessage("dsn required"))
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("journal", errs.CodeInitialization,
			errs.WithMessage("connect journal database"), errs.WithCause(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("journal", errs.CodeInitialization,
			errs.WithMessage("ping journal database"), errs.WithCause(err))
	}
	return &Journal{pool: pool, algorithmID: algorithmID}, nil
}

// Close releases the connection pool.
func (j *Journal) Close() { j.pool.Close() }

// RecordEvent upserts the order's current snapshot and appends a fill row
// when the event carries an execution.
func (j *Journal) RecordEvent(ctx context.Context, event orders.Event, ticket *orders.Ticket) error {
	order := ticket.Order()

	var limitPrice, stopPrice any
	if !order.LimitPrice.IsZero() {
		limitPrice = order.LimitPrice
	}
	if !order.StopPrice.IsZero() {
		stopPrice = order.StopPrice
	}

	_, err := j.pool.Exec(ctx, orderUpsertSQL, pgx.NamedArgs{
		"algorithm_id": j.algorithmID,
		"order_id":     order.ID,
		"symbol":       order.Symbol.SID.String(),
		"ticker":       order.Symbol.Ticker,
		"order_type":   order.Type.String(),
		"quantity":     order.Quantity,
		"limit_price":  limitPrice,
		"stop_price":   stopPrice,
		"status":       order.Status.String(),
		"filled_qty":   order.FilledQty,
		"tag":          order.Tag,
		"created_utc":  order.CreatedUtc,
		"updated_utc":  event.UtcTime,
	})
	if err != nil {
		return errs.New("journal", errs.CodeBroker,
			errs.WithMessage("upsert order"), errs.WithOrderID(order.ID), errs.WithCause(err))
	}

	if !event.Status.IsFill() {
		return nil
	}
	_, err = j.pool.Exec(ctx, fillInsertSQL, pgx.NamedArgs{
		"algorithm_id": j.algorithmID,
		"order_id":     event.OrderID,
		"event_utc":    event.UtcTime,
		"status":       event.Status.String(),
		"fill_qty":     event.FillQuantity,
		"fill_price":   event.FillPrice,
		"currency":     event.FillPriceCurrency,
		"fee":          event.Fee,
		"message":      event.Message,
	})
	if err != nil {
		return errs.New("journal", errs.CodeBroker,
			errs.WithMessage("insert fill"), errs.WithOrderID(event.OrderID), errs.WithCause(err))
	}
	return nil
}

// OpenOrders returns every non-terminal order for this deployment, ascending
// by order id.
func (j *Journal) OpenOrders(ctx context.Context) ([]RecoveredOrder, error) {
	rows, err := j.pool.Query(ctx, openOrdersSQL, pgx.NamedArgs{"algorithm_id": j.algorithmID})
	if err != nil {
		return nil, errs.New("journal", errs.CodeBroker,
			errs.WithMessage("query open orders"), errs.WithCause(err))
	}
	defer rows.Close()

	var out []RecoveredOrder
	for rows.Next() {
		var rec RecoveredOrder
		if err := rows.Scan(&rec.OrderID, &rec.Symbol, &rec.Ticker, &rec.Type,
			&rec.Quantity, &rec.LimitPrice, &rec.StopPrice,
			&rec.Status, &rec.FilledQty, &rec.Tag, &rec.CreatedUtc); err != nil {
			return nil, errs.New("journal", errs.CodeBroker,
				errs.WithMessage("scan open order"), errs.WithCause(err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("journal", errs.CodeBroker,
			errs.WithMessage("iterate open orders"), errs.WithCause(err))
	}
	return out, nil
}
