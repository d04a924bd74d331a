package scheduling

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/observability"
)

// Callback runs on the engine thread when a scheduled instant is reached.
type Callback func(utc time.Time) error

type firing struct {
	at    time.Time
	seq   int
	event *event
}

type event struct {
	name                string
	callback            Callback
	canceled            bool
	consecutiveFailures int
}

type fireQueue []*firing

func (q fireQueue) Len() int { return len(q) }

func (q fireQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].seq < q[j].seq
}

func (q fireQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *fireQueue) Push(x any) { *q = append(*q, x.(*firing)) }

func (q *fireQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Scheduler expands (date rule, time rule) pairs into a queue of firings
// for the run window and drains them as the clock advances. Same-instant
// firings run in insertion order. Not safe for concurrent use; the engine
// thread owns it.
type Scheduler struct {
	window  struct{ start, end time.Time }
	queue   fireQueue
	events  map[string]*event
	nextSeq int

	// maxFailures aborts an event after this many consecutive callback
	// errors. Zero disables the limit.
	maxFailures int
}

// NewScheduler bounds the expansion window to the run's UTC span.
func NewScheduler(startUtc, endUtc time.Time, maxConsecutiveFailures int) *Scheduler {
	s := &Scheduler{
		events:      make(map[string]*event),
		maxFailures: maxConsecutiveFailures,
	}
	s.window.start = startUtc
	s.window.end = endUtc
	heap.Init(&s.queue)
	return s
}

// Schedule expands the rules over the window and enqueues the firings.
// Names must be unique; scheduling an existing name replaces it.
func (s *Scheduler) Schedule(name string, dates DateRule, times TimeRule, fn Callback) int {
	if prior, ok := s.events[name]; ok {
		prior.canceled = true
	}
	ev := &event{name: name, callback: fn}
	s.events[name] = ev

	count := 0
	for _, date := range dates.Dates(s.window.start, s.window.end) {
		for _, at := range times.Times(date) {
			if at.Before(s.window.start) || at.After(s.window.end) {
				continue
			}
			s.nextSeq++
			heap.Push(&s.queue, &firing{at: at, seq: s.nextSeq, event: ev})
			count++
		}
	}
	return count
}

// Cancel removes all pending firings for the name. Idempotent.
func (s *Scheduler) Cancel(name string) {
	if ev, ok := s.events[name]; ok {
		ev.canceled = true
		delete(s.events, name)
	}
}

// Pending returns the number of queued firings, including canceled ones not
// yet popped.
func (s *Scheduler) Pending() int { return s.queue.Len() }

// NextFireTime returns the earliest queued instant.
func (s *Scheduler) NextFireTime() (time.Time, bool) {
	for s.queue.Len() > 0 {
		head := s.queue[0]
		if head.event.canceled {
			heap.Pop(&s.queue)
			continue
		}
		return head.at, true
	}
	return time.Time{}, false
}

// Fire drains all firings at or before the instant, invoking callbacks
// synchronously. Callback panics and errors are non-fatal until an event
// fails maxFailures times in a row, which aborts the run.
func (s *Scheduler) Fire(utc time.Time) error {
	for s.queue.Len() > 0 && !s.queue[0].at.After(utc) {
		item := heap.Pop(&s.queue).(*firing)
		if item.event.canceled {
			continue
		}
		if err := s.invoke(item); err != nil {
			item.event.consecutiveFailures++
			observability.Log().Error("scheduled event failed",
				observability.Field{Key: "event", Value: item.event.name},
				observability.Field{Key: "failures", Value: item.event.consecutiveFailures},
				observability.Field{Key: "error", Value: err.Error()})
			if s.maxFailures > 0 && item.event.consecutiveFailures >= s.maxFailures {
				return errs.New("scheduling", errs.CodeRuntime,
					errs.WithMessage(fmt.Sprintf("event %q failed %d consecutive times", item.event.name, item.event.consecutiveFailures)),
					errs.WithCause(err))
			}
			continue
		}
		item.event.consecutiveFailures = 0
	}
	return nil
}

func (s *Scheduler) invoke(item *firing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("scheduling", errs.CodeRuntime,
				errs.WithMessage(fmt.Sprintf("callback panic: %v", r)))
		}
	}()
	return item.event.callback(item.at)
}
