package market

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quantarc/engine/errs"
)

// MapFileRow records the ticker an instrument traded under starting on Date.
type MapFileRow struct {
	Date   time.Time
	Ticker string
}

// MapFile is the rename history of one instrument, ordered by date. The
// first row carries the listing date and the last row the delisting date.
type MapFile struct {
	PermTick string
	Rows     []MapFileRow
}

// MapFilePath resolves equity/{market}/map_files/{permtick}.csv.
func MapFilePath(dataDir, market, permTick string) string {
	return filepath.Join(dataDir, "equity", market, "map_files", strings.ToLower(permTick)+".csv")
}

// LoadMapFile reads and parses one map file. A missing file yields a
// CodeNotFound error so callers can treat the symbol as never remapped.
func LoadMapFile(dataDir, market, permTick string) (*MapFile, error) {
	path := MapFilePath(dataDir, market, permTick)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("market/mapfile", errs.CodeNotFound,
				errs.WithMessage("no map file for "+permTick))
		}
		return nil, errs.New("market/mapfile", errs.CodeData,
			errs.WithMessage("open map file "+path), errs.WithCause(err))
	}
	defer func() { _ = f.Close() }()

	mf := &MapFile{PermTick: strings.ToUpper(permTick)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := parseMapFileRow(line)
		if err != nil {
			return nil, err
		}
		mf.Rows = append(mf.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New("market/mapfile", errs.CodeData,
			errs.WithMessage("read map file "+path), errs.WithCause(err))
	}
	sort.Slice(mf.Rows, func(i, j int) bool { return mf.Rows[i].Date.Before(mf.Rows[j].Date) })
	return mf, nil
}

func parseMapFileRow(line string) (MapFileRow, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return MapFileRow{}, errs.New("market/mapfile", errs.CodeData,
			errs.WithMessage("malformed map file row "+line))
	}
	date, err := time.Parse("20060102", strings.TrimSpace(fields[0]))
	if err != nil {
		return MapFileRow{}, errs.New("market/mapfile", errs.CodeData,
			errs.WithMessage("malformed map file date in "+line), errs.WithCause(err))
	}
	return MapFileRow{Date: date, Ticker: strings.ToUpper(strings.TrimSpace(fields[1]))}, nil
}

// TickerOn returns the ticker in effect on the date, which is the ticker of
// the first row whose date is on or after it. False means the instrument was
// not yet listed or already delisted.
func (m *MapFile) TickerOn(date time.Time) (string, bool) {
	if len(m.Rows) == 0 {
		return "", false
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	for _, row := range m.Rows {
		if !row.Date.Before(day) {
			return row.Ticker, true
		}
	}
	return "", false
}

// DelistingDate returns the final row's date.
func (m *MapFile) DelistingDate() (time.Time, bool) {
	if len(m.Rows) == 0 {
		return time.Time{}, false
	}
	return m.Rows[len(m.Rows)-1].Date, true
}
