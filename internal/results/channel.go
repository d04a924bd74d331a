package results

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/orders"
)

// DropPolicy controls behaviour when the outbound queue is full.
type DropPolicy string

const (
	// DropOldestPolicy discards the packet and logs a warning.
	DropOldestPolicy DropPolicy = "drop"
	// BlockPolicy blocks the producer until space frees up.
	BlockPolicy DropPolicy = "block"
)

// Sink receives packets that cleared the queue and rate limits.
type Sink interface {
	Send(ctx context.Context, packet Packet) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, packet Packet) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, packet Packet) error { return f(ctx, packet) }

// Channel buffers algorithm output and forwards it to the sink on its own
// goroutine. User-facing notification kinds (debug, log, handled errors)
// share an hourly rate limit; order events and status changes always pass.
type Channel struct {
	algorithmID string
	queue       chan Packet
	policy      DropPolicy
	limiter     *rate.Limiter
	sink        Sink
	clock       func() time.Time

	mu      sync.Mutex
	stats   map[string]string
	dropped int
}

// NewChannel builds a result channel. notificationsPerHour caps the rate of
// user notification packets; the burst equals the cap so a quiet hour can be
// spent at once.
func NewChannel(algorithmID string, sink Sink, buffer, notificationsPerHour int, policy DropPolicy, clock func() time.Time) *Channel {
	if clock == nil {
		clock = time.Now
	}
	return &Channel{
		algorithmID: algorithmID,
		queue:       make(chan Packet, buffer),
		policy:      policy,
		limiter:     rate.NewLimiter(rate.Limit(float64(notificationsPerHour)/3600.0), notificationsPerHour),
		sink:        sink,
		clock:       clock,
		stats:       make(map[string]string),
	}
}

// Run forwards queued packets to the sink until the context is canceled and
// the queue is drained.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is left so final packets are not lost.
			for {
				select {
				case p := <-c.queue:
					c.forward(context.Background(), p)
				default:
					return
				}
			}
		case p := <-c.queue:
			c.forward(ctx, p)
		}
	}
}

func (c *Channel) forward(ctx context.Context, p Packet) {
	if err := c.sink.Send(ctx, p); err != nil {
		observability.Log().Warn("result sink error",
			observability.Field{Key: "kind", Value: string(p.Kind)},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// enqueue applies the drop policy.
func (c *Channel) enqueue(p Packet) {
	switch c.policy {
	case BlockPolicy:
		c.queue <- p
	default:
		select {
		case c.queue <- p:
		default:
			c.mu.Lock()
			c.dropped++
			dropped := c.dropped
			c.mu.Unlock()
			observability.Log().Warn("result queue full, dropping packet",
				observability.Field{Key: "kind", Value: string(p.Kind)},
				observability.Field{Key: "dropped", Value: dropped})
		}
	}
}

// Dropped returns the number of packets lost to the drop policy.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Channel) emit(kind PacketKind, payload any) {
	p, err := newPacket(c.algorithmID, kind, c.clock(), payload)
	if err != nil {
		observability.Log().Warn("result packet marshal failed",
			observability.Field{Key: "kind", Value: string(kind)},
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	c.enqueue(p)
}

// notify applies the hourly notification cap before emitting.
func (c *Channel) notify(kind PacketKind, payload MessagePayload) {
	if !c.limiter.Allow() {
		observability.Log().Warn("notification rate limit reached, dropping message",
			observability.Field{Key: "kind", Value: string(kind)})
		return
	}
	c.emit(kind, payload)
}

// Status reports a lifecycle state change. Never rate limited.
func (c *Channel) Status(status AlgorithmStatus, message string) {
	c.emit(KindStatus, StatusPayload{Status: status, Message: message})
}

// Debug sends a user debug message, subject to the notification cap.
func (c *Channel) Debug(message string) {
	c.notify(KindDebug, MessagePayload{Message: message})
}

// Log sends a user log line, subject to the notification cap.
func (c *Channel) Log(message string) {
	c.notify(KindLog, MessagePayload{Message: message})
}

// HandledError reports a recovered error, subject to the notification cap.
func (c *Channel) HandledError(err error) {
	c.notify(KindHandledError, MessagePayload{Message: err.Error()})
}

// OrderEvent forwards one order lifecycle event. Never rate limited.
func (c *Channel) OrderEvent(e orders.Event) {
	c.emit(KindOrderEvent, OrderEventFrom(e))
}

// RuntimeStatistic records a named statistic and forwards the sample.
func (c *Channel) RuntimeStatistic(name, value string) {
	c.mu.Lock()
	c.stats[name] = value
	c.mu.Unlock()
	c.emit(KindRuntimeStatistic, RuntimeStatisticPayload{Name: name, Value: value})
}

// RuntimeStatistics returns a copy of the latest samples.
func (c *Channel) RuntimeStatistics() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}

// Final emits the backtest result document. Never rate limited.
func (c *Channel) Final(result BacktestResultPayload) {
	result.RuntimeStatistics = c.RuntimeStatistics()
	c.emit(KindBacktestResult, result)
}
