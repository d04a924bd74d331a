package feed

import (
	"context"
	"sync"
	"time"

	"github.com/quantarc/engine/internal/market"
	"github.com/quantarc/engine/internal/observability"
	"github.com/quantarc/engine/internal/symbol"
)

// UniverseSelector maps one universe data item to the desired membership.
// The feed diffs the result against current members to compute changes.
type UniverseSelector func(utc time.Time, data market.BaseData) []symbol.Symbol

// SubscriptionFactory creates a subscription for a universe-selected symbol,
// positioned at or after the given UTC instant.
type SubscriptionFactory func(sym symbol.Symbol, startUtc time.Time) (*Subscription, error)

// Feed merges the active subscriptions into a strictly increasing sequence
// of TimeSlices. Run owns the merge loop; consumers pull slices from Next.
type Feed struct {
	mu             sync.Mutex
	pendingAdds    []*Subscription
	pendingRemoves []symbol.SecurityIdentifier

	active   []*Subscription
	selector UniverseSelector
	factory  SubscriptionFactory

	slices     chan *TimeSlice
	endUtc     time.Time
	priceModel market.PriceModel
}

// New creates a feed ending at endUtc. The buffer decouples the merge loop
// from the engine thread.
func New(endUtc time.Time, sliceBuffer int) *Feed {
	return &Feed{
		slices: make(chan *TimeSlice, sliceBuffer),
		endUtc: endUtc,
	}
}

// SetUniverse installs the selection function and subscription factory.
func (f *Feed) SetUniverse(selector UniverseSelector, factory SubscriptionFactory) {
	f.selector = selector
	f.factory = factory
}

// SetOptionPriceModel attaches the model given to option chain contracts.
func (f *Feed) SetOptionPriceModel(model market.PriceModel) { f.priceModel = model }

// AddSubscription queues a subscription for activation before the next
// slice. Safe to call from any goroutine.
func (f *Feed) AddSubscription(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingAdds = append(f.pendingAdds, sub)
}

// RemoveSubscription queues a removal. The security disappears from the
// slice after the current one.
func (f *Feed) RemoveSubscription(sid symbol.SecurityIdentifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingRemoves = append(f.pendingRemoves, sid)
}

// Next returns the next slice, blocking until one is available. False means
// the stream ended or the context was canceled.
func (f *Feed) Next(ctx context.Context) (*TimeSlice, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case ts, ok := <-f.slices:
		return ts, ok
	}
}

// Run executes the merge loop until the active set empties, the end time is
// reached, or the context is canceled. It closes the slice channel on exit.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.slices)

	var lastT time.Time
	for {
		changes := f.applyPending(lastT)

		if len(f.active) == 0 {
			f.emitFinalChanges(ctx, changes, lastT)
			return
		}

		// T = min front time across the active set.
		var t time.Time
		for _, sub := range f.active {
			end := sub.EndTimeUtc()
			if t.IsZero() || end.Before(t) {
				t = end
			}
		}
		if t.After(f.endUtc) {
			f.emitFinalChanges(ctx, changes, lastT)
			return
		}
		if !lastT.IsZero() && !t.After(lastT) {
			// A refilled front equal to the last emitted instant would break
			// monotonicity; advance those subscriptions and retry.
			f.drainAt(lastT)
			continue
		}

		items, universeItems := f.gather(t)
		for _, uItem := range universeItems {
			changes = f.mergeChanges(changes, f.selectUniverse(t, uItem))
		}

		ts := buildTimeSlice(t, items, changes, f.priceModel)
		changes = SecurityChanges{}
		lastT = t

		select {
		case <-ctx.Done():
			return
		case f.slices <- ts:
		}
	}
}

// gather pops every front item with end time equal to t, draining ties
// within each subscription in feed order. Exhausted subscriptions leave the
// active set.
func (f *Feed) gather(t time.Time) ([]sliceItem, []market.BaseData) {
	var items []sliceItem
	var universeItems []market.BaseData
	seq := 0

	survivors := f.active[:0]
	for _, sub := range f.active {
		exhausted := false
		for sub.Current() != nil && sub.EndTimeUtc().Equal(t) {
			item := sub.Current()
			if sub.IsUniverse {
				universeItems = append(universeItems, item)
			} else {
				items = append(items, sliceItem{data: item, cfg: sub.Config, resolution: sub.Config.Resolution, seq: seq})
				seq++
			}
			if !sub.MoveNext() {
				exhausted = true
				break
			}
		}
		if !exhausted && !sub.Removed() {
			survivors = append(survivors, sub)
		}
	}
	f.active = survivors
	return items, universeItems
}

// drainAt advances any subscription whose front does not move time forward.
func (f *Feed) drainAt(lastT time.Time) {
	survivors := f.active[:0]
	for _, sub := range f.active {
		exhausted := false
		for sub.Current() != nil && !sub.EndTimeUtc().After(lastT) {
			if !sub.MoveNext() {
				exhausted = true
				break
			}
		}
		if !exhausted {
			survivors = append(survivors, sub)
		}
	}
	f.active = survivors
}

// applyPending activates queued adds positioned at or after the last slice
// and processes queued removals, folding both into SecurityChanges.
func (f *Feed) applyPending(lastT time.Time) SecurityChanges {
	f.mu.Lock()
	adds := f.pendingAdds
	removes := f.pendingRemoves
	f.pendingAdds = nil
	f.pendingRemoves = nil
	f.mu.Unlock()

	var changes SecurityChanges
	for _, sub := range adds {
		if !f.position(sub, lastT) {
			continue
		}
		f.active = append(f.active, sub)
		changes.Added = append(changes.Added, sub.Security)
	}
	for _, sid := range removes {
		survivors := f.active[:0]
		for _, sub := range f.active {
			if sub.Config.Symbol.SID == sid {
				sub.Remove()
				changes.Removed = append(changes.Removed, sub.Security)
				continue
			}
			survivors = append(survivors, sub)
		}
		f.active = survivors
	}
	return changes
}

// position advances a new subscription until its front is strictly after
// the last emitted instant. False means it exhausted before reaching it.
func (f *Feed) position(sub *Subscription, lastT time.Time) bool {
	for {
		if !sub.MoveNext() {
			return false
		}
		if lastT.IsZero() || sub.EndTimeUtc().After(lastT) {
			return true
		}
	}
}

// selectUniverse diffs the selector's desired membership against current
// universe-managed subscriptions.
func (f *Feed) selectUniverse(utc time.Time, item market.BaseData) SecurityChanges {
	var changes SecurityChanges
	if f.selector == nil || f.factory == nil {
		return changes
	}
	desired := f.selector(utc, item)
	want := make(map[symbol.SecurityIdentifier]symbol.Symbol, len(desired))
	for _, sym := range desired {
		want[sym.SID] = sym
	}

	current := make(map[symbol.SecurityIdentifier]*Subscription)
	for _, sub := range f.active {
		if sub.FromUniverse {
			current[sub.Config.Symbol.SID] = sub
		}
	}

	for sid, sym := range want {
		if _, ok := current[sid]; ok {
			continue
		}
		sub, err := f.factory(sym, utc)
		if err != nil {
			observability.Log().Warn("universe add failed",
				observability.Field{Key: "symbol", Value: sym.Ticker},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		sub.FromUniverse = true
		if !f.position(sub, utc.Add(-time.Nanosecond)) {
			continue
		}
		f.active = append(f.active, sub)
		changes.Added = append(changes.Added, sub.Security)
	}
	for sid, sub := range current {
		if _, ok := want[sid]; ok {
			continue
		}
		sub.Remove()
		changes.Removed = append(changes.Removed, sub.Security)
		survivors := f.active[:0]
		for _, s := range f.active {
			if s != sub {
				survivors = append(survivors, s)
			}
		}
		f.active = survivors
	}
	return changes
}

func (f *Feed) mergeChanges(a, b SecurityChanges) SecurityChanges {
	a.Added = append(a.Added, b.Added...)
	a.Removed = append(a.Removed, b.Removed...)
	return a
}

// emitFinalChanges flushes trailing membership changes so removals are
// always observable by the algorithm. The trailing slice stays strictly
// after the last emitted instant even when data ran through endUtc.
func (f *Feed) emitFinalChanges(ctx context.Context, changes SecurityChanges, lastT time.Time) {
	if changes.IsEmpty() {
		return
	}
	at := f.endUtc
	if !at.After(lastT) {
		at = lastT.Add(time.Nanosecond)
	}
	ts := &TimeSlice{UtcTime: at, Slice: market.NewSlice(at), Changes: changes}
	select {
	case <-ctx.Done():
	case f.slices <- ts:
	}
}
