// Package hours models tradeable-hours calendars per market and security type.
package hours

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/symbol"
)

// Segment is a half-open [Start, End) window within a trading day, expressed
// as offsets from local midnight. Extended marks pre/post market windows.
type Segment struct {
	Start    time.Duration
	End      time.Duration
	Extended bool
}

// DaySchedule lists the segments of one weekday in ascending order.
type DaySchedule struct {
	Segments []Segment
}

// isOpen reports whether the time-of-day offset falls inside a segment.
func (d DaySchedule) isOpen(ofDay time.Duration, extendedHours bool) bool {
	for _, seg := range d.Segments {
		if seg.Extended && !extendedHours {
			continue
		}
		if ofDay >= seg.Start && ofDay < seg.End {
			return true
		}
	}
	return false
}

// ExchangeHours describes one market's tradeable calendar.
type ExchangeHours struct {
	ExchangeTimeZone string
	DataTimeZone     string

	weekly      [7]DaySchedule
	holidays    map[string]struct{}
	earlyCloses map[string]time.Duration

	loc *time.Location
}

// dateKey formats a local calendar date for holiday and early-close lookups.
func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// Location returns the exchange's time zone.
func (h *ExchangeHours) Location() *time.Location { return h.loc }

// IsDateOpen reports whether the local calendar date has any regular segment
// and is not a holiday.
func (h *ExchangeHours) IsDateOpen(local time.Time) bool {
	if _, holiday := h.holidays[dateKey(local)]; holiday {
		return false
	}
	for _, seg := range h.weekly[local.Weekday()].Segments {
		if !seg.Extended {
			return true
		}
	}
	return false
}

// IsOpen reports whether the exchange is tradeable at the UTC instant.
func (h *ExchangeHours) IsOpen(utc time.Time, extendedHours bool) bool {
	local := utc.In(h.loc)
	return h.IsOpenLocal(local, extendedHours)
}

// IsOpenLocal reports whether the exchange is tradeable at the exchange-local instant.
func (h *ExchangeHours) IsOpenLocal(local time.Time, extendedHours bool) bool {
	if _, holiday := h.holidays[dateKey(local)]; holiday {
		return false
	}
	ofDay := timeOfDay(local)
	if earlyClose, ok := h.earlyCloses[dateKey(local)]; ok && ofDay >= earlyClose {
		return false
	}
	return h.weekly[local.Weekday()].isOpen(ofDay, extendedHours)
}

// NextOpenLocal returns the first tradeable instant strictly after the given
// exchange-local time, honouring holidays and early closes. The walk is
// bounded; markets closed for more than a year return the zero time.
func (h *ExchangeHours) NextOpenLocal(local time.Time, extendedHours bool) time.Time {
	day := local
	for i := 0; i < 366; i++ {
		key := dateKey(day)
		if _, holiday := h.holidays[key]; !holiday {
			earlyClose, hasEarlyClose := h.earlyCloses[key]
			for _, seg := range h.weekly[day.Weekday()].Segments {
				if seg.Extended && !extendedHours {
					continue
				}
				start := seg.Start
				if hasEarlyClose && start >= earlyClose {
					continue
				}
				candidate := midnight(day).Add(start)
				if candidate.After(local) {
					return candidate
				}
			}
		}
		day = midnight(day).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// NextCloseLocal returns the end of the tradeable window containing or
// following the given exchange-local time.
func (h *ExchangeHours) NextCloseLocal(local time.Time, extendedHours bool) time.Time {
	day := local
	for i := 0; i < 366; i++ {
		key := dateKey(day)
		if _, holiday := h.holidays[key]; !holiday {
			earlyClose, hasEarlyClose := h.earlyCloses[key]
			for _, seg := range h.weekly[day.Weekday()].Segments {
				if seg.Extended && !extendedHours {
					continue
				}
				end := seg.End
				if hasEarlyClose && end > earlyClose {
					end = earlyClose
				}
				candidate := midnight(day).Add(end)
				if candidate.After(local) {
					return candidate
				}
			}
		}
		day = midnight(day).AddDate(0, 0, 1)
	}
	return time.Time{}
}

// RegularClose returns the regular (non-extended) closing time-of-day for the
// weekday, or zero when the day has no regular session.
func (h *ExchangeHours) RegularClose(weekday time.Weekday) time.Duration {
	var latest time.Duration
	for _, seg := range h.weekly[weekday].Segments {
		if !seg.Extended && seg.End > latest {
			latest = seg.End
		}
	}
	return latest
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Database maps (market, security type, optional symbol) to exchange hours.
type Database struct {
	entries map[string]*ExchangeHours
}

func entryKey(market string, st symbol.SecurityType, ticker string) string {
	key := fmt.Sprintf("%s-%d", strings.ToLower(strings.TrimSpace(market)), st)
	if ticker = strings.ToUpper(strings.TrimSpace(ticker)); ticker != "" {
		key += "-" + ticker
	}
	return key
}

// Get resolves hours for the tuple, falling back from the symbol-specific
// entry to the market-wide one.
func (db *Database) Get(market string, st symbol.SecurityType, ticker string) (*ExchangeHours, error) {
	if h, ok := db.entries[entryKey(market, st, ticker)]; ok {
		return h, nil
	}
	if h, ok := db.entries[entryKey(market, st, "")]; ok {
		return h, nil
	}
	return nil, errs.New("hours", errs.CodeNotFound,
		errs.WithMessage(fmt.Sprintf("no market hours for market=%s type=%d", market, st)))
}

// Set registers hours for the tuple.
func (db *Database) Set(market string, st symbol.SecurityType, ticker string, h *ExchangeHours) {
	db.entries[entryKey(market, st, ticker)] = h
}

// sortedSegments normalizes and orders a day's segments.
func sortedSegments(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
