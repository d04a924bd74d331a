package market

import (
	"strings"
	"time"

	"github.com/quantarc/engine/errs"
)

// Resolution enumerates the supported data cadences.
type Resolution uint8

const (
	// ResolutionTick carries raw trade and quote prints.
	ResolutionTick Resolution = iota
	// ResolutionSecond aggregates one-second bars.
	ResolutionSecond
	// ResolutionMinute aggregates one-minute bars.
	ResolutionMinute
	// ResolutionHour aggregates one-hour bars.
	ResolutionHour
	// ResolutionDaily aggregates one-day bars.
	ResolutionDaily
)

// Period returns the bar span; zero for tick resolution.
func (r Resolution) Period() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (r Resolution) String() string {
	switch r {
	case ResolutionTick:
		return "tick"
	case ResolutionSecond:
		return "second"
	case ResolutionMinute:
		return "minute"
	case ResolutionHour:
		return "hour"
	case ResolutionDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// ParseResolution resolves a resolution name.
func ParseResolution(name string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tick":
		return ResolutionTick, nil
	case "second":
		return ResolutionSecond, nil
	case "minute":
		return ResolutionMinute, nil
	case "hour":
		return ResolutionHour, nil
	case "daily":
		return ResolutionDaily, nil
	default:
		return 0, errs.New("market", errs.CodeInvalid, errs.WithMessage("unknown resolution "+name))
	}
}
