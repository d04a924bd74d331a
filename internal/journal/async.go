package journal

import (
	"context"

	"github.com/quantarc/engine/internal/orders"
	"github.com/quantarc/engine/lib/async"
)

// AsyncRecorder decouples journal writes from the engine loop through a
// bounded worker pool. A single worker preserves per-order event order.
type AsyncRecorder struct {
	journal *Journal
	pool    *async.Pool
}

// NewAsyncRecorder wraps the journal with an asynchronous write path. queue
// bounds how many unwritten events may accumulate before Submit rejects.
func NewAsyncRecorder(j *Journal, queue int) (*AsyncRecorder, error) {
	pool, err := async.NewPool(1, queue)
	if err != nil {
		return nil, err
	}
	return &AsyncRecorder{journal: j, pool: pool}, nil
}

// RecordEvent enqueues the write; failures surface through the pool's logs.
func (r *AsyncRecorder) RecordEvent(ctx context.Context, event orders.Event, ticket *orders.Ticket) error {
	return r.pool.Submit(ctx, func(taskCtx context.Context) error {
		return r.journal.RecordEvent(taskCtx, event, ticket)
	})
}

// Close drains pending writes and releases the journal connection.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	err := r.pool.Shutdown(ctx)
	r.journal.Close()
	return err
}
