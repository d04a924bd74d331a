package hours

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarc/engine/errs"
	"github.com/quantarc/engine/internal/symbol"
)

type entryFile struct {
	Entries []entryYAML `yaml:"entries"`
}

type entryYAML struct {
	Market           string              `yaml:"market"`
	SecurityType     string              `yaml:"securityType"`
	Symbol           string              `yaml:"symbol"`
	ExchangeTimeZone string              `yaml:"exchangeTimeZone"`
	DataTimeZone     string              `yaml:"dataTimeZone"`
	Sessions         map[string][]string `yaml:"sessions"`
	Holidays         []string            `yaml:"holidays"`
	EarlyCloses      map[string]string   `yaml:"earlyCloses"`
}

var securityTypeNames = map[string]symbol.SecurityType{
	"base":   symbol.SecurityTypeBase,
	"equity": symbol.SecurityTypeEquity,
	"option": symbol.SecurityTypeOption,
	"forex":  symbol.SecurityTypeForex,
	"future": symbol.SecurityTypeFuture,
	"cfd":    symbol.SecurityTypeCfd,
	"crypto": symbol.SecurityTypeCrypto,
	"index":  symbol.SecurityTypeIndex,
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadDatabase reads a market-hours database file and layers it over the
// built-in defaults.
func LoadDatabase(path string) (*Database, error) {
	db := NewDefaultDatabase()

	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration.
	if err != nil {
		return nil, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage("read market hours database"), errs.WithCause(err))
	}
	var file entryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage("parse market hours database"), errs.WithCause(err))
	}

	for _, entry := range file.Entries {
		st, ok := securityTypeNames[strings.ToLower(strings.TrimSpace(entry.SecurityType))]
		if !ok {
			return nil, errs.New("hours", errs.CodeConfiguration,
				errs.WithMessage(fmt.Sprintf("unknown security type %q", entry.SecurityType)))
		}
		h, err := entry.build()
		if err != nil {
			return nil, err
		}
		db.Set(entry.Market, st, entry.Symbol, h)
	}
	return db, nil
}

func (e entryYAML) build() (*ExchangeHours, error) {
	exchangeTZ := strings.TrimSpace(e.ExchangeTimeZone)
	if exchangeTZ == "" {
		exchangeTZ = "UTC"
	}
	dataTZ := strings.TrimSpace(e.DataTimeZone)
	if dataTZ == "" {
		dataTZ = exchangeTZ
	}
	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage("load exchange time zone "+exchangeTZ), errs.WithCause(err))
	}

	h := &ExchangeHours{
		ExchangeTimeZone: exchangeTZ,
		DataTimeZone:     dataTZ,
		holidays:         make(map[string]struct{}),
		earlyCloses:      make(map[string]time.Duration),
		loc:              loc,
	}

	for dayName, specs := range e.Sessions {
		weekday, ok := weekdayNames[strings.ToLower(strings.TrimSpace(dayName))]
		if !ok {
			return nil, errs.New("hours", errs.CodeConfiguration,
				errs.WithMessage(fmt.Sprintf("unknown weekday %q", dayName)))
		}
		segments := make([]Segment, 0, len(specs))
		for _, spec := range specs {
			seg, err := parseSegment(spec)
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		}
		h.weekly[weekday] = DaySchedule{Segments: sortedSegments(segments)}
	}

	for _, day := range e.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return nil, errs.New("hours", errs.CodeConfiguration,
				errs.WithMessage(fmt.Sprintf("malformed holiday %q", day)), errs.WithCause(err))
		}
		h.holidays[day] = struct{}{}
	}
	for day, at := range e.EarlyCloses {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return nil, errs.New("hours", errs.CodeConfiguration,
				errs.WithMessage(fmt.Sprintf("malformed early close date %q", day)), errs.WithCause(err))
		}
		ofDay, err := parseTimeOfDay(at)
		if err != nil {
			return nil, err
		}
		h.earlyCloses[day] = ofDay
	}
	return h, nil
}

// parseSegment parses "HH:MM-HH:MM" with an optional " extended" suffix.
func parseSegment(spec string) (Segment, error) {
	text := strings.TrimSpace(spec)
	extended := false
	if strings.HasSuffix(text, " extended") {
		extended = true
		text = strings.TrimSpace(strings.TrimSuffix(text, " extended"))
	}
	parts := strings.Split(text, "-")
	if len(parts) != 2 {
		return Segment{}, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("malformed session %q", spec)))
	}
	start, err := parseTimeOfDay(parts[0])
	if err != nil {
		return Segment{}, err
	}
	end, err := parseTimeOfDay(parts[1])
	if err != nil {
		return Segment{}, err
	}
	if end <= start {
		return Segment{}, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("session %q ends before it starts", spec)))
	}
	return Segment{Start: start, End: end, Extended: extended}, nil
}

func parseTimeOfDay(text string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(text))
	if err != nil {
		return 0, errs.New("hours", errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("malformed time of day %q", text)), errs.WithCause(err))
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// NewDefaultDatabase returns hours for the built-in markets: US equities and
// options on the NYSE calendar shape, 24/7 crypto and custom data, and a
// Monday-to-Friday UTC session for forex.
func NewDefaultDatabase() *Database {
	db := &Database{entries: make(map[string]*ExchangeHours)}

	nyse := &ExchangeHours{
		ExchangeTimeZone: "America/New_York",
		DataTimeZone:     "America/New_York",
		holidays:         make(map[string]struct{}),
		earlyCloses:      make(map[string]time.Duration),
		loc:              mustLoad("America/New_York"),
	}
	usDay := DaySchedule{Segments: []Segment{
		{Start: 4 * time.Hour, End: 9*time.Hour + 30*time.Minute, Extended: true},
		{Start: 9*time.Hour + 30*time.Minute, End: 16 * time.Hour},
		{Start: 16 * time.Hour, End: 20 * time.Hour, Extended: true},
	}}
	for day := time.Monday; day <= time.Friday; day++ {
		nyse.weekly[day] = usDay
	}
	db.Set(symbol.MarketUSA, symbol.SecurityTypeEquity, "", nyse)
	db.Set(symbol.MarketUSA, symbol.SecurityTypeOption, "", nyse)
	db.Set(symbol.MarketUSA, symbol.SecurityTypeIndex, "", nyse)

	always := &ExchangeHours{
		ExchangeTimeZone: "UTC",
		DataTimeZone:     "UTC",
		holidays:         make(map[string]struct{}),
		earlyCloses:      make(map[string]time.Duration),
		loc:              time.UTC,
	}
	fullDay := DaySchedule{Segments: []Segment{{Start: 0, End: 24 * time.Hour}}}
	for day := time.Sunday; day <= time.Saturday; day++ {
		always.weekly[day] = fullDay
	}
	for _, market := range []string{symbol.MarketBinance, symbol.MarketCoinbase, symbol.MarketBitfinex} {
		db.Set(market, symbol.SecurityTypeCrypto, "", always)
	}
	db.Set(symbol.MarketUSA, symbol.SecurityTypeBase, "", always)

	weekdaysOnly := &ExchangeHours{
		ExchangeTimeZone: "UTC",
		DataTimeZone:     "UTC",
		holidays:         make(map[string]struct{}),
		earlyCloses:      make(map[string]time.Duration),
		loc:              time.UTC,
	}
	for day := time.Monday; day <= time.Friday; day++ {
		weekdaysOnly.weekly[day] = fullDay
	}
	db.Set(symbol.MarketOanda, symbol.SecurityTypeForex, "", weekdaysOnly)
	db.Set(symbol.MarketFXCM, symbol.SecurityTypeForex, "", weekdaysOnly)

	return db
}

func mustLoad(zone string) *time.Location {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		panic("hours: missing tzdata for " + zone)
	}
	return loc
}
