package scheduling

import (
	"time"

	"github.com/quantarc/engine/internal/hours"
)

// DateRule expands a window into the calendar dates an event is eligible to
// fire on. Returned values are midnights in the rule's reference zone.
type DateRule interface {
	Dates(start, end time.Time) []time.Time
}

// TimeRule maps one eligible date to the UTC instants to fire at.
type TimeRule interface {
	Times(date time.Time) []time.Time
}

// DateRuleFunc adapts a function to DateRule.
type DateRuleFunc func(start, end time.Time) []time.Time

// Dates implements DateRule.
func (f DateRuleFunc) Dates(start, end time.Time) []time.Time { return f(start, end) }

// TimeRuleFunc adapts a function to TimeRule.
type TimeRuleFunc func(date time.Time) []time.Time

// Times implements TimeRule.
func (f TimeRuleFunc) Times(date time.Time) []time.Time { return f(date) }

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EveryDay fires on every calendar date in the window.
func EveryDay() DateRule {
	return DateRuleFunc(func(start, end time.Time) []time.Time {
		var out []time.Time
		for day := midnight(start); !day.After(end); day = day.AddDate(0, 0, 1) {
			out = append(out, day)
		}
		return out
	})
}

// EveryTradingDay fires on dates the exchange is open for regular trading.
func EveryTradingDay(exchange *hours.ExchangeHours) DateRule {
	return DateRuleFunc(func(start, end time.Time) []time.Time {
		var out []time.Time
		for day := midnight(start.In(exchange.Location())); !day.After(end); day = day.AddDate(0, 0, 1) {
			if exchange.IsDateOpen(day) {
				out = append(out, day)
			}
		}
		return out
	})
}

// MonthStart fires on the first calendar date of each month in the window.
func MonthStart() DateRule {
	return DateRuleFunc(func(start, end time.Time) []time.Time {
		var out []time.Time
		day := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		if day.Before(midnight(start)) {
			day = day.AddDate(0, 1, 0)
		}
		for ; !day.After(end); day = day.AddDate(0, 1, 0) {
			out = append(out, day)
		}
		return out
	})
}

// At fires at a fixed local time of day in the given zone.
func At(hour, minute int, loc *time.Location) TimeRule {
	return TimeRuleFunc(func(date time.Time) []time.Time {
		local := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
		return []time.Time{local.UTC()}
	})
}

// AfterMarketOpen fires a fixed duration after the session open on the date.
// Dates with no session yield nothing.
func AfterMarketOpen(exchange *hours.ExchangeHours, after time.Duration, extendedHours bool) TimeRule {
	return TimeRuleFunc(func(date time.Time) []time.Time {
		local := midnight(date.In(exchange.Location()))
		open := exchange.NextOpenLocal(local, extendedHours)
		if open.IsZero() || open.YearDay() != local.YearDay() || open.Year() != local.Year() {
			return nil
		}
		return []time.Time{open.Add(after).UTC()}
	})
}

// BeforeMarketClose fires a fixed duration before the session close on the
// date. Dates with no session yield nothing.
func BeforeMarketClose(exchange *hours.ExchangeHours, before time.Duration, extendedHours bool) TimeRule {
	return TimeRuleFunc(func(date time.Time) []time.Time {
		local := midnight(date.In(exchange.Location()))
		closeAt := exchange.NextCloseLocal(local, extendedHours)
		if closeAt.IsZero() || closeAt.YearDay() != local.YearDay() || closeAt.Year() != local.Year() {
			return nil
		}
		return []time.Time{closeAt.Add(-before).UTC()}
	})
}
