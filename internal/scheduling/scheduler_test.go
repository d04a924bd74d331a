package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantarc/engine/internal/hours"
	"github.com/quantarc/engine/internal/symbol"
)

func window() (time.Time, time.Time) {
	return time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)
}

func TestEveryDayAtFiresInOrder(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 3)

	var fired []time.Time
	count := s.Schedule("noon", EveryDay(), At(12, 0, time.UTC), func(utc time.Time) error {
		fired = append(fired, utc)
		return nil
	})
	require.Equal(t, 12, count)

	require.NoError(t, s.Fire(time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)))
	require.Len(t, fired, 3)
	for i := 1; i < len(fired); i++ {
		require.True(t, fired[i].After(fired[i-1]))
	}
}

func TestSameInstantFiresInInsertionOrder(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 3)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		s.Schedule(name, EveryDay(), At(12, 0, time.UTC), func(time.Time) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, s.Fire(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCancelIsIdempotent(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 3)

	fired := 0
	s.Schedule("doomed", EveryDay(), At(12, 0, time.UTC), func(time.Time) error {
		fired++
		return nil
	})
	s.Cancel("doomed")
	s.Cancel("doomed")

	require.NoError(t, s.Fire(end))
	require.Zero(t, fired)

	_, ok := s.NextFireTime()
	require.False(t, ok)
}

func TestConsecutiveFailuresAbort(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 3)

	s.Schedule("flaky", EveryDay(), At(12, 0, time.UTC), func(time.Time) error {
		return errors.New("boom")
	})

	require.NoError(t, s.Fire(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)), "two failures stay non-fatal")
	err := s.Fire(time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC))
	require.Error(t, err, "third consecutive failure aborts")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 2)

	calls := 0
	s.Schedule("recovering", EveryDay(), At(12, 0, time.UTC), func(time.Time) error {
		calls++
		if calls%2 == 1 {
			return errors.New("odd call fails")
		}
		return nil
	})

	require.NoError(t, s.Fire(end), "alternating failures never hit the limit")
}

func TestCallbackPanicIsCaught(t *testing.T) {
	start, end := window()
	s := NewScheduler(start, end, 0)

	s.Schedule("panicky", EveryDay(), At(12, 0, time.UTC), func(time.Time) error {
		panic("unexpected")
	})
	require.NoError(t, s.Fire(end), "no failure limit configured")
}

func TestEveryTradingDaySkipsWeekends(t *testing.T) {
	start, end := window()
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	dates := EveryTradingDay(exchange).Dates(start, end)
	require.Len(t, dates, 10, "two full weeks of weekdays")
	for _, d := range dates {
		require.NotEqual(t, time.Saturday, d.Weekday())
		require.NotEqual(t, time.Sunday, d.Weekday())
	}
}

func TestAfterMarketOpen(t *testing.T) {
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	// Friday 2024-03-08: open 09:30 New York, +30m = 10:00 = 15:00 UTC.
	times := AfterMarketOpen(exchange, 30*time.Minute, false).
		Times(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	require.Len(t, times, 1)
	require.Equal(t, time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), times[0])

	// Saturday has no session.
	require.Empty(t, AfterMarketOpen(exchange, 0, false).
		Times(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestBeforeMarketClose(t *testing.T) {
	exchange, err := hours.NewDefaultDatabase().Get("usa", symbol.SecurityTypeEquity, "")
	require.NoError(t, err)

	// Close 16:00 New York, -15m = 15:45 = 20:45 UTC.
	times := BeforeMarketClose(exchange, 15*time.Minute, false).
		Times(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	require.Len(t, times, 1)
	require.Equal(t, time.Date(2024, 3, 8, 20, 45, 0, 0, time.UTC), times[0])
}

func TestMonthStart(t *testing.T) {
	dates := MonthStart().Dates(
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
	require.Len(t, dates, 3)
	require.Equal(t, time.Month(2), dates[0].Month())
	require.Equal(t, 1, dates[0].Day())
}
