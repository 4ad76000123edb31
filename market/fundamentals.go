package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Fundamentals is a point-in-time fundamental snapshot for a ticker.
type Fundamentals struct {
	Ticker       string    `json:"ticker"`
	SnapshotDate time.Time `json:"snapshot_date"`

	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Currency string `json:"currency,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`

	MarketCap     decimal.NullDecimal `json:"market_cap"`
	PERatio       decimal.NullDecimal `json:"pe_ratio"`
	ForwardPE     decimal.NullDecimal `json:"forward_pe"`
	PriceToBook   decimal.NullDecimal `json:"price_to_book"`
	DividendYield decimal.NullDecimal `json:"dividend_yield"`
	EPS           decimal.NullDecimal `json:"eps"`
	Beta          decimal.NullDecimal `json:"beta"`
}

// Summary is the reduced fundamentals view handed to the ranker and stored
// with decision reports.
type Summary struct {
	MarketCap *float64 `json:"market_cap"`
	PERatio   *float64 `json:"pe_ratio"`
}

// Summary extracts market cap and P/E.
func (f Fundamentals) Summary() Summary {
	return Summary{
		MarketCap: nullFloat(f.MarketCap),
		PERatio:   nullFloat(f.PERatio),
	}
}

// Empty reports whether neither field is known.
func (s Summary) Empty() bool {
	return s.MarketCap == nil && s.PERatio == nil
}

// NullFromFloat builds a NullDecimal from an optional float; zero and
// non-positive values are treated as missing when positiveOnly is set.
func NullFromFloat(v float64, positiveOnly bool) decimal.NullDecimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.NullDecimal{}
	}
	if positiveOnly && v <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}
