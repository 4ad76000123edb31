// Package market holds the daily price and fundamental data shared by the
// data adapters, the indicator engine and the journal.
package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one daily OHLCV bar for a ticker.
type Bar struct {
	Ticker   string          `json:"ticker"`
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// Valid returns "" when the bar is usable, otherwise the rejection reason.
// Open, high, low and close must be strictly positive; volume may be zero.
func (b Bar) Valid() string {
	switch {
	case !b.Open.IsPositive():
		return fmt.Sprintf("%s %s: open must be > 0", b.Ticker, b.Date.Format(DateLayout))
	case !b.High.IsPositive():
		return fmt.Sprintf("%s %s: high must be > 0", b.Ticker, b.Date.Format(DateLayout))
	case !b.Low.IsPositive():
		return fmt.Sprintf("%s %s: low must be > 0", b.Ticker, b.Date.Format(DateLayout))
	case !b.Close.IsPositive():
		return fmt.Sprintf("%s %s: close must be > 0", b.Ticker, b.Date.Format(DateLayout))
	case b.Volume < 0:
		return fmt.Sprintf("%s %s: volume must be >= 0", b.Ticker, b.Date.Format(DateLayout))
	}
	return ""
}

// RawBar carries float OHLCV values as delivered by upstream feeds before
// they are converted to decimals.
type RawBar struct {
	Ticker   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64
}

// Bar converts a raw bar. Non-finite values are rejected with a reason.
func (r RawBar) Bar() (Bar, string) {
	fields := []struct {
		name string
		v    float64
	}{{"open", r.Open}, {"high", r.High}, {"low", r.Low}, {"close", r.Close}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Bar{}, fmt.Sprintf("%s %s: %s is not finite", r.Ticker, r.Date.Format(DateLayout), f.name)
		}
	}
	adj := r.AdjClose
	if math.IsNaN(adj) || math.IsInf(adj, 0) || adj <= 0 {
		adj = r.Close
	}
	vol := r.Volume
	if math.IsNaN(vol) || math.IsInf(vol, 0) {
		vol = 0
	}

	b := Bar{
		Ticker:   r.Ticker,
		Date:     Day(r.Date),
		Open:     decimal.NewFromFloat(r.Open),
		High:     decimal.NewFromFloat(r.High),
		Low:      decimal.NewFromFloat(r.Low),
		Close:    decimal.NewFromFloat(r.Close),
		AdjClose: decimal.NewFromFloat(adj),
		Volume:   int64(vol),
	}
	if reason := b.Valid(); reason != "" {
		return Bar{}, reason
	}
	return b, ""
}

// PriceSeries is the validated result of fetching one ticker's prices.
type PriceSeries struct {
	Ticker   string
	Valid    []Bar
	Rejected int
	Reasons  []string
}

// Add validates b and either appends it or records the rejection.
func (s *PriceSeries) Add(b Bar) {
	if reason := b.Valid(); reason != "" {
		s.Reject(reason)
		return
	}
	s.Valid = append(s.Valid, b)
}

// Reject records a rejected bar.
func (s *PriceSeries) Reject(reason string) {
	s.Rejected++
	s.Reasons = append(s.Reasons, reason)
}

// SortBars orders bars by date ascending in place.
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}

// Until returns the prefix of date-sorted bars dated on or before day.
func Until(bars []Bar, day time.Time) []Bar {
	cut := Day(day)
	n := sort.Search(len(bars), func(i int) bool { return Day(bars[i].Date).After(cut) })
	return bars[:n]
}

// On returns the bar dated day, if any.
func On(bars []Bar, day time.Time) (Bar, bool) {
	d := Day(day)
	for _, b := range bars {
		if Day(b.Date).Equal(d) {
			return b, true
		}
	}
	return Bar{}, false
}
