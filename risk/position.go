package risk

import "github.com/shopspring/decimal"

// Position is an open position valued at the latest price.
type Position struct {
	InstrumentID int64
	Ticker       string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	MarketValue  decimal.Decimal
	WeightPct    float64
}

// PortfolioState is the portfolio as seen at the start of a run.
type PortfolioState struct {
	TotalValue    decimal.Decimal
	Cash          decimal.Decimal
	Positions     map[int64]Position
	OpenPositions int
}

// Held reports whether the instrument has an open position.
func (s PortfolioState) Held(instrumentID int64) bool {
	_, ok := s.Positions[instrumentID]
	return ok
}
