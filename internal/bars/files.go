package bars

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// parquetBar is the on-disk parquet row. Times are epoch milliseconds.
type parquetBar struct {
	Timestamp int64   `parquet:"t"`
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

// WriteParquet writes bars to path with millisecond timestamps.
func WriteParquet(path string, bars []types.Bar) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			Timestamp: types.NormalizeTime(b.Time) * 1000,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}

// ReadParquet reads bars written by WriteParquet or any file with the same columns.
func ReadParquet(path string) ([]types.Bar, error) {
	rows, err := parquet.ReadFile[parquetBar](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	out := make([]types.Bar, len(rows))
	for i, r := range rows {
		out[i] = types.Bar{Time: r.Timestamp, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out, nil
}

var csvAliases = map[string]string{
	"timestamp": "time", "time": "time", "t": "time", "date": "time",
	"open": "open", "o": "open",
	"high": "high", "h": "high",
	"low": "low", "l": "low",
	"close": "close", "c": "close",
	"volume": "volume", "v": "volume", "vol": "volume",
}

// ReadCSV parses a bar CSV with a header row. The time column may be an epoch
// number or an RFC 3339 / YYYY-MM-DD date. Rows with an unparseable time are
// skipped; the number skipped is returned.
func ReadCSV(r io.Reader) ([]types.Bar, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		if name, ok := csvAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[name] = i
		}
	}
	for _, need := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, 0, types.ValidationError("csv is missing a " + need + " column")
		}
	}

	var out []types.Bar
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		t, ok := parseTime(field(rec, cols, "time"))
		if !ok {
			skipped++
			continue
		}
		out = append(out, types.Bar{
			Time:   t,
			Open:   number(field(rec, cols, "open")),
			High:   number(field(rec, cols, "high")),
			Low:    number(field(rec, cols, "low")),
			Close:  number(field(rec, cols, "close")),
			Volume: number(field(rec, cols, "volume")),
		})
	}
	return out, skipped, nil
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func number(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseTime(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(n), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
