// Package marketdata defines the price and fundamentals feed contract.
package marketdata

import (
	"context"
	"time"

	"github.com/rustyeddy/tradeagent/market"
)

// Provider fetches daily bars and fundamental snapshots. Implementations
// return one entry per requested ticker they could resolve; a ticker that
// fails is logged and left out or returned with no valid bars.
type Provider interface {
	FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]market.PriceSeries, error)
	FetchFundamentals(ctx context.Context, tickers []string) (map[string]market.Fundamentals, error)
}
