// Package tzdata answers time-zone offset queries for forward-marching clocks.
package tzdata

import (
	"time"

	"github.com/quantarc/engine/errs"
)

// lookAhead extends the discontinuity scan beyond the requested range so a
// consumer can run slightly past its configured end date.
const lookAhead = 2 * 365 * 24 * time.Hour

// farFuture stands in for "no more discontinuities".
var farFuture = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// OffsetProvider converts between a named time zone and UTC in amortized
// O(1) for monotone non-decreasing query sequences. It is not safe for
// concurrent use; create one instance per consumer.
//
// Queries past the initialization end keep returning the offset in force at
// the last known discontinuity.
type OffsetProvider struct {
	loc               *time.Location
	discontinuities   []time.Time
	nextDiscontinuity time.Time
	currentOffset     time.Duration
}

// NewOffsetProvider loads the zone intervals covering [utcStart, utcEnd+2y]
// and primes the discontinuity queue.
func NewOffsetProvider(zone string, utcStart, utcEnd time.Time) (*OffsetProvider, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errs.New("tzdata", errs.CodeConfiguration,
			errs.WithMessage("load time zone "+zone), errs.WithCause(err))
	}
	if utcEnd.Before(utcStart) {
		return nil, errs.New("tzdata", errs.CodeInvalid,
			errs.WithMessage("offset provider end precedes start"))
	}

	p := &OffsetProvider{
		loc:             loc,
		discontinuities: scanDiscontinuities(loc, utcStart.UTC(), utcEnd.UTC().Add(lookAhead)),
	}
	p.advance()
	return p, nil
}

// Zone returns the provider's location.
func (p *OffsetProvider) Zone() *time.Location { return p.loc }

// GetOffset returns the UTC-to-local offset in force at the UTC instant t.
// Callers must query in monotone non-decreasing order; querying backward
// across a discontinuity is undefined.
func (p *OffsetProvider) GetOffset(utc time.Time) time.Duration {
	for !utc.Before(p.nextDiscontinuity) {
		p.advance()
	}
	return p.currentOffset
}

// ConvertFromUtc converts the UTC instant into the provider's zone by
// applying the current offset: local = utc + offset.
func (p *OffsetProvider) ConvertFromUtc(utc time.Time) time.Time {
	return utc.Add(p.GetOffset(utc))
}

func (p *OffsetProvider) advance() {
	if len(p.discontinuities) == 0 {
		p.nextDiscontinuity = farFuture
	} else {
		p.nextDiscontinuity = p.discontinuities[0]
		p.discontinuities = p.discontinuities[1:]
	}
	p.currentOffset = offsetAt(p.loc, p.nextDiscontinuity.Add(-time.Nanosecond))
}

func offsetAt(loc *time.Location, utc time.Time) time.Duration {
	_, seconds := utc.In(loc).Zone()
	return time.Duration(seconds) * time.Second
}

// scanDiscontinuities walks [start, end] and returns the UTC instants at
// which the zone's offset changes, in ascending order. The standard library
// does not expose zone transitions directly, so the walk probes offsets at a
// coarse stride and bisects each change down to the second.
func scanDiscontinuities(loc *time.Location, start, end time.Time) []time.Time {
	const stride = time.Hour

	var out []time.Time
	prev := start
	prevOffset := offsetAt(loc, prev)
	for t := start.Add(stride); !t.After(end); t = t.Add(stride) {
		offset := offsetAt(loc, t)
		if offset != prevOffset {
			out = append(out, bisectTransition(loc, prev, t, prevOffset))
		}
		prev = t
		prevOffset = offset
	}
	return out
}

// bisectTransition finds the first instant in (lo, hi] whose offset differs
// from loOffset, to one-second precision.
func bisectTransition(loc *time.Location, lo, hi time.Time, loOffset time.Duration) time.Time {
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		if !mid.After(lo) {
			mid = lo.Add(time.Second)
		}
		if offsetAt(loc, mid) == loOffset {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}
