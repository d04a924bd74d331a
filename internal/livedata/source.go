package livedata

import (
	"errors"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
)

// ErrNoData reports that the stream is alive but has nothing buffered yet.
var ErrNoData = errors.New("no data available yet")

// wirePoint is the payload of one stream data message. Times are unix
// milliseconds UTC; prices travel as JSON numbers or strings.
type wirePoint struct {
	Type   string          `json:"type"`
	Time   int64           `json:"time"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	BidSz  decimal.Decimal `json:"bidSize"`
	AskSz  decimal.Decimal `json:"askSize"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// StreamSource adapts one live stream to the feed's DataSource contract.
// Next blocks until a point arrives or the stream ends; Poll never blocks.
type StreamSource struct {
	stream string
	cfg    *market.SubscriptionDataConfig
	items  chan market.BaseData
	done   chan struct{}
	client *Client
}

func newStreamSource(stream string, cfg *market.SubscriptionDataConfig, buffer int, client *Client) *StreamSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamSource{
		stream: stream,
		cfg:    cfg,
		items:  make(chan market.BaseData, buffer),
		done:   make(chan struct{}),
		client: client,
	}
}

// Stream returns the wire stream identifier.
func (s *StreamSource) Stream() string { return s.stream }

// Next blocks for the next point. io.EOF means the stream was unsubscribed
// or the client closed.
func (s *StreamSource) Next() (market.BaseData, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	case <-s.done:
		// Drain anything buffered before reporting end of stream.
		select {
		case item := <-s.items:
			return item, nil
		default:
			return nil, io.EOF
		}
	}
}

// Poll returns the next buffered point without blocking. ErrNoData means the
// stream is alive but idle.
func (s *StreamSource) Poll() (market.BaseData, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	default:
		select {
		case <-s.done:
			return nil, io.EOF
		default:
			return nil, ErrNoData
		}
	}
}

// Close unsubscribes the stream from its client.
func (s *StreamSource) Close() error {
	if s.client == nil {
		s.end()
		return nil
	}
	return s.client.Unsubscribe(s)
}

// end marks the stream finished. Idempotent.
func (s *StreamSource) end() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// deliver decodes one payload and buffers the resulting data point. A full
// buffer drops the point; live consumers always prefer fresh data over old.
func (s *StreamSource) deliver(payload json.RawMessage) error {
	var p wirePoint
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	item, err := s.toBaseData(p)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case s.items <- item:
	default:
		observability.Log().Warn("live stream buffer full, dropping point",
			observability.Field{Key: "stream", Value: s.stream})
	}
	return nil
}

func (s *StreamSource) toBaseData(p wirePoint) (market.BaseData, error) {
	at := time.UnixMilli(p.Time).In(s.cfg.ExchangeLocation())

	switch p.Type {
	case "trade":
		return &market.Tick{
			Sym:      s.cfg.Symbol,
			At:       at,
			Type:     market.TickTypeTrade,
			Price:    p.Price,
			Quantity: p.Size,
		}, nil
	case "quote":
		return &market.Tick{
			Sym:      s.cfg.Symbol,
			At:       at,
			Type:     market.TickTypeQuote,
			BidPrice: p.Bid,
			AskPrice: p.Ask,
			BidSize:  p.BidSz,
			AskSize:  p.AskSz,
		}, nil
	case "bar":
		return &market.TradeBar{
			Sym:    s.cfg.Symbol,
			Start:  at,
			Period: s.cfg.Resolution.Period(),
			Bar:    market.Bar{Open: p.Open, High: p.High, Low: p.Low, Close: p.Close},
			Volume: p.Volume,
		}, nil
	case "quoteBar":
		return &market.QuoteBar{
			Sym:         s.cfg.Symbol,
			Start:       at,
			Period:      s.cfg.Resolution.Period(),
			Bid:         market.Bar{Open: p.Bid, High: p.Bid, Low: p.Bid, Close: p.Bid},
			Ask:         market.Bar{Open: p.Ask, High: p.Ask, Low: p.Ask, Close: p.Ask},
			LastBidSize: p.BidSz,
			LastAskSize: p.AskSz,
		}, nil
	default:
		return nil, errors.New("unknown point type " + p.Type)
	}
}
