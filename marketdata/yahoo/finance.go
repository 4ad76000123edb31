package yahoo

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"

	"github.com/rustyeddy/tradeagent/market"
)

// financeSource calls Yahoo through piquette/finance-go. The library does
// not take a context; cancellation is observed between tickers.
type financeSource struct{}

func (financeSource) Chart(ctx context.Context, ticker string, start, end time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// end is exclusive upstream
	last := end.AddDate(0, 0, 1)
	iter := chart.Get(&chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&start),
		End:      datetime.New(&last),
		Interval: datetime.OneDay,
	})

	var bars []market.Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, market.Bar{
			Ticker:   ticker,
			Date:     market.Day(time.Unix(int64(b.Timestamp), 0).UTC()),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", ticker, err)
	}
	return bars, nil
}

func (financeSource) Quote(ctx context.Context, ticker string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	eq, err := equity.Get(ticker)
	if err != nil {
		return Quote{}, fmt.Errorf("equity %s: %w", ticker, err)
	}
	if eq == nil {
		return Quote{}, fmt.Errorf("equity %s: not found", ticker)
	}
	name := eq.LongName
	if name == "" {
		name = eq.ShortName
	}
	return Quote{
		Name:          name,
		Exchange:      eq.FullExchangeName,
		Currency:      eq.CurrencyID,
		MarketCap:     float64(eq.MarketCap),
		TrailingPE:    eq.TrailingPE,
		ForwardPE:     eq.ForwardPE,
		PriceToBook:   eq.PriceToBook,
		DividendYield: eq.TrailingAnnualDividendYield,
		EPS:           eq.EpsTrailingTwelveMonths,
	}, nil
}
