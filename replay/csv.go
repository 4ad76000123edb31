package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rustyeddy/tradeagent/market"
)

// LoadCSV reads daily bars from r.
//
// Columns:
//
//	ticker,date,open,high,low,close[,adj_close[,volume]]
//
// The date is YYYY-MM-DD. A leading header row is detected by its first
// column reading "ticker". Rows that parse but fail bar validation are
// counted in the returned series' Rejected totals rather than failing the
// load.
func LoadCSV(r io.Reader) (map[string]market.PriceSeries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	out := make(map[string]market.PriceSeries)
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "ticker") {
			continue
		}

		raw, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s := out[raw.Ticker]
		s.Ticker = raw.Ticker
		if b, reason := raw.Bar(); reason != "" {
			s.Reject(reason)
		} else {
			s.Add(b)
		}
		out[raw.Ticker] = s
	}

	for t, s := range out {
		market.SortBars(s.Valid)
		out[t] = s
	}
	return out, nil
}

// LoadCSVFile opens path and calls LoadCSV.
func LoadCSVFile(path string) (map[string]market.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f)
}

// Bars flattens loaded series into the form Provider.Load takes.
func Bars(series map[string]market.PriceSeries) map[string][]market.Bar {
	out := make(map[string][]market.Bar, len(series))
	for t, s := range series {
		out[t] = s.Valid
	}
	return out
}

func parseRow(row []string) (market.RawBar, error) {
	if len(row) < 6 {
		return market.RawBar{}, fmt.Errorf("bad row (need at least 6 cols ticker,date,open,high,low,close): %v", row)
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	ticker := strings.ToUpper(row[0])
	if ticker == "" {
		return market.RawBar{}, fmt.Errorf("ticker is empty")
	}
	day, err := market.ParseDate(row[1])
	if err != nil {
		return market.RawBar{}, fmt.Errorf("bad date %q: %w", row[1], err)
	}

	nums := make([]float64, 6)
	nums[4] = math.NaN()
	names := []string{"open", "high", "low", "close", "adj_close", "volume"}
	for i := 0; i < len(names) && i+2 < len(row); i++ {
		if row[i+2] == "" {
			continue
		}
		v, err := strconv.ParseFloat(row[i+2], 64)
		if err != nil {
			return market.RawBar{}, fmt.Errorf("bad %s %q: %w", names[i], row[i+2], err)
		}
		nums[i] = v
	}

	return market.RawBar{
		Ticker:   ticker,
		Date:     day,
		Open:     nums[0],
		High:     nums[1],
		Low:      nums[2],
		Close:    nums[3],
		AdjClose: nums[4],
		Volume:   nums[5],
	}, nil
}
