// Package livedata streams push market data over a websocket for live runs.
// One Client owns one connection; each subscribed stream feeds a StreamSource
// that plugs into the feed as a DataSource.
package livedata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
)

const (
	// Control messages (SUBSCRIBE/UNSUBSCRIBE) are paced to 4 per second per
	// connection so a burst of universe additions cannot trip server limits.
	controlMessagesPerSecond = 4
	connectTimeout           = 10 * time.Second
	writeTimeout             = 5 * time.Second
)

type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type controlResponse struct {
	Result *json.RawMessage `json:"result"`
	ID     uint64           `json:"id"`
	Error  *streamError     `json:"error,omitempty"`
}

type streamError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// envelope wraps every data message with the stream it belongs to.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Client maintains the websocket connection with automatic reconnection and
// routes incoming messages to the StreamSource registered for each stream.
type Client struct {
	baseURL string
	ctx     context.Context
	cancel  context.CancelFunc

	conn     *websocket.Conn
	connMu   sync.RWMutex
	msgIDGen atomic.Uint64

	sources map[string]*StreamSource
	srcMu   sync.Mutex

	controlLimiter *rate.Limiter
	errorChan      chan error

	ready     chan struct{}
	readyOnce sync.Once
}

// NewClient builds a client for the given websocket endpoint. Start must be
// called before Subscribe.
func NewClient(baseURL string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL:        baseURL,
		ctx:            ctx,
		cancel:         cancel,
		sources:        make(map[string]*StreamSource),
		controlLimiter: rate.NewLimiter(rate.Limit(controlMessagesPerSecond), 1),
		errorChan:      make(chan error, 16),
		ready:          make(chan struct{}),
	}
}

// Errors exposes connection and decode failures that did not kill the client.
func (c *Client) Errors() <-chan error { return c.errorChan }

// Start establishes the connection in the background and waits for the first
// successful dial.
func (c *Client) Start() error {
	go func() {
		if err := c.connect(); err != nil && !errors.Is(err, context.Canceled) {
			c.reportError(fmt.Errorf("live stream connection failed: %w", err))
		}
	}()

	select {
	case <-c.ready:
		return nil
	case <-time.After(connectTimeout):
		return errors.New("timeout waiting for live stream connection")
	case <-c.ctx.Done():
		return fmt.Errorf("live client stopped: %w", c.ctx.Err())
	}
}

// Close tears down the connection and ends every stream source.
func (c *Client) Close() {
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
	c.connMu.Unlock()

	c.srcMu.Lock()
	for name, src := range c.sources {
		src.end()
		delete(c.sources, name)
	}
	c.srcMu.Unlock()
}

// Subscribe registers a stream for the subscription config and returns its
// source. Subscribing the same stream twice returns the existing source.
func (c *Client) Subscribe(cfg *market.SubscriptionDataConfig, buffer int) (*StreamSource, error) {
	name := StreamName(cfg)

	c.srcMu.Lock()
	if existing, ok := c.sources[name]; ok {
		c.srcMu.Unlock()
		return existing, nil
	}
	src := newStreamSource(name, cfg, buffer, c)
	c.sources[name] = src
	c.srcMu.Unlock()

	if err := c.sendControl("SUBSCRIBE", []string{name}); err != nil {
		c.srcMu.Lock()
		delete(c.sources, name)
		c.srcMu.Unlock()
		src.end()
		return nil, err
	}
	return src, nil
}

// Unsubscribe removes the stream and closes its source.
func (c *Client) Unsubscribe(src *StreamSource) error {
	c.srcMu.Lock()
	registered, ok := c.sources[src.stream]
	if ok && registered == src {
		delete(c.sources, src.stream)
	}
	c.srcMu.Unlock()
	src.end()
	if !ok {
		return nil
	}
	return c.sendControl("UNSUBSCRIBE", []string{src.stream})
}

// StreamName derives the wire stream identifier for a subscription config.
func StreamName(cfg *market.SubscriptionDataConfig) string {
	kind := "trade"
	switch cfg.DataKind {
	case market.KindQuoteBar:
		kind = "quote"
	case market.KindTradeBar:
		kind = "bar"
	case market.KindCustom:
		kind = "custom"
	}
	return fmt.Sprintf("%s.%s.%s.%s",
		cfg.Market, strings.ToLower(cfg.Symbol.Ticker), kind, cfg.Resolution.String())
}

// connect dials with exponential backoff, resubscribes after every reconnect
// and runs the read loop until the client is closed.
func (c *Client) connect() error {
	policy := backoff.NewExponentialBackOff()

	for {
		select {
		case <-c.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(c.ctx, c.baseURL, nil)
		if err != nil {
			c.reportError(fmt.Errorf("dial %s: %w", c.baseURL, err))
			if !c.sleep(policy.NextBackOff()) {
				return context.Canceled
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.readyOnce.Do(func() { close(c.ready) })
		policy.Reset()

		if err := c.resubscribeAll(); err != nil {
			c.reportError(fmt.Errorf("resubscribe after reconnect: %w", err))
		}

		if err := c.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			c.reportError(fmt.Errorf("read loop: %w", err))
		}

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()

		if !c.sleep(policy.NextBackOff()) {
			return context.Canceled
		}
	}
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) resubscribeAll() error {
	c.srcMu.Lock()
	streams := make([]string, 0, len(c.sources))
	for name := range c.sources {
		streams = append(streams, name)
	}
	c.srcMu.Unlock()
	if len(streams) == 0 {
		return nil
	}
	return c.sendControl("SUBSCRIBE", streams)
}

func (c *Client) sendControl(method string, streams []string) error {
	if err := c.controlLimiter.Wait(c.ctx); err != nil {
		return fmt.Errorf("pacing %s request: %w", method, err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return errors.New("websocket not connected")
	}

	req := controlRequest{
		Method: method,
		Params: streams,
		ID:     c.msgIDGen.Add(1),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s request: %w", method, err)
	}
	return nil
}

// readLoop separates control acknowledgements from stream data and delivers
// data payloads to the owning source.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		var resp controlResponse
		if err := json.Unmarshal(data, &resp); err == nil && resp.ID > 0 {
			if resp.Error != nil {
				c.reportError(fmt.Errorf("stream error (id=%d): code=%d, msg=%s",
					resp.ID, resp.Error.Code, resp.Error.Msg))
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" {
			c.reportError(fmt.Errorf("malformed stream message: %s", truncate(data)))
			continue
		}

		c.srcMu.Lock()
		src, ok := c.sources[env.Stream]
		c.srcMu.Unlock()
		if !ok {
			observability.Log().Debug("message for unknown stream",
				observability.Field{Key: "stream", Value: env.Stream})
			continue
		}
		if err := src.deliver(env.Data); err != nil {
			c.reportError(fmt.Errorf("stream %s: %w", env.Stream, err))
		}
	}
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case <-c.ctx.Done():
	case c.errorChan <- err:
	default:
	}
}

func truncate(data []byte) string {
	const max = 128
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
