package feed

import (
	"context"
	"io"
	"time"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/securities"
)

// Subscription pumps one source through a bounded channel on its own reader
// goroutine, enforcing the non-decreasing end time contract. The reader
// starts lazily on the first MoveNext.
type Subscription struct {
	Config   *market.SubscriptionDataConfig
	Security *securities.Security
	// IsUniverse marks selection subscriptions whose items drive membership
	// instead of populating slice views.
	IsUniverse bool
	// FromUniverse marks subscriptions created by universe selection; only
	// these are removable by later selections.
	FromUniverse bool

	source DataSource
	items  chan market.BaseData
	cancel context.CancelFunc
	ctx    context.Context

	started bool
	current market.BaseData
	lastEnd time.Time
	removed bool
}

// NewSubscription binds a source to its subscription config. The buffer
// bounds how far the reader may run ahead of the merge loop.
func NewSubscription(cfg *market.SubscriptionDataConfig, sec *securities.Security, source DataSource, buffer int) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		Config:   cfg,
		Security: sec,
		source:   newFillForwardSource(source, cfg, sec.Exchange),
		items:    make(chan market.BaseData, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Current returns the front item. Valid after a true MoveNext.
func (s *Subscription) Current() market.BaseData { return s.current }

// EndTimeUtc returns the front item's UTC end time.
func (s *Subscription) EndTimeUtc() time.Time {
	if s.current == nil {
		return time.Time{}
	}
	return s.current.EndTime().UTC()
}

// MoveNext advances to the next item. False means end of stream.
func (s *Subscription) MoveNext() bool {
	if s.removed {
		return false
	}
	if !s.started {
		s.started = true
		go s.read()
	}
	item, ok := <-s.items
	if !ok {
		s.current = nil
		return false
	}
	s.current = item
	return true
}

// read is the subscription's reader goroutine. It drops out-of-order items
// and closes the channel on end of stream or a fatal source error.
func (s *Subscription) read() {
	defer close(s.items)
	defer func() { _ = s.source.Close() }()
	for {
		item, err := s.source.Next()
		if err != nil {
			if err != io.EOF {
				observability.Log().Warn("subscription source failed",
					observability.Field{Key: "symbol", Value: s.Config.Symbol.Ticker},
					observability.Field{Key: "error", Value: err.Error()})
			}
			return
		}
		end := item.EndTime().UTC()
		if !s.lastEnd.IsZero() && end.Before(s.lastEnd) {
			observability.Log().Warn("dropping out-of-order item",
				observability.Field{Key: "symbol", Value: s.Config.Symbol.Ticker},
				observability.Field{Key: "endTime", Value: end})
			continue
		}
		s.lastEnd = end
		select {
		case s.items <- item:
		case <-s.ctx.Done():
			return
		}
	}
}

// Remove marks the subscription deleted and stops its reader. Idempotent.
func (s *Subscription) Remove() {
	if s.removed {
		return
	}
	s.removed = true
	s.cancel()
	s.current = nil
}

// Removed reports whether Remove was called.
func (s *Subscription) Removed() bool { return s.removed }
