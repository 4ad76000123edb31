package yahoo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/market"
)

type fakeSource struct {
	mu       sync.Mutex
	bars     map[string][]market.Bar
	quotes   map[string]Quote
	failures map[string]int // remaining failures per ticker
	calls    map[string]int
}

func (f *fakeSource) fail(ticker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ticker]++
	if f.failures[ticker] > 0 {
		f.failures[ticker]--
		return errors.New("upstream 502")
	}
	return nil
}

func (f *fakeSource) Chart(_ context.Context, ticker string, _, _ time.Time) ([]market.Bar, error) {
	if err := f.fail(ticker); err != nil {
		return nil, err
	}
	return f.bars[ticker], nil
}

func (f *fakeSource) Quote(_ context.Context, ticker string) (Quote, error) {
	if err := f.fail(ticker); err != nil {
		return Quote{}, err
	}
	q, ok := f.quotes[ticker]
	if !ok {
		return Quote{}, errors.New("unknown ticker")
	}
	return q, nil
}

func bar(day string, close string) market.Bar {
	d, _ := market.ParseDate(day)
	c := decimal.RequireFromString(close)
	return market.Bar{Date: d.Add(14 * time.Hour), Open: c, High: c, Low: c, Close: c, AdjClose: c, Volume: 100}
}

func newProvider(src Source) *Provider {
	return New(WithSource(src), WithWorkers(2), WithRetry(2, time.Millisecond))
}

func TestFetchPrices(t *testing.T) {
	t.Parallel()

	bad := bar("2024-03-05", "0")
	src := &fakeSource{
		bars: map[string][]market.Bar{
			"AAPL": {bar("2024-03-05", "171"), bar("2024-03-04", "170"), bad},
			"MSFT": {bar("2024-03-04", "400")},
		},
		failures: map[string]int{"MSFT": 1, "DEAD": 10},
	}

	out, err := newProvider(src).FetchPrices(context.Background(), []string{"AAPL", "MSFT", "DEAD"}, time.Time{}, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 3)

	aapl := out["AAPL"]
	require.Len(t, aapl.Valid, 2)
	assert.Equal(t, 1, aapl.Rejected)
	assert.True(t, aapl.Valid[0].Date.Equal(mustDay("2024-03-04")), "sorted and truncated to the day")
	assert.Equal(t, "AAPL", aapl.Valid[0].Ticker)

	assert.Len(t, out["MSFT"].Valid, 1, "recovered after one retry")
	assert.Empty(t, out["DEAD"].Valid)
	assert.Equal(t, 3, src.calls["DEAD"], "one try plus two retries")
}

func TestFetchFundamentals(t *testing.T) {
	t.Parallel()

	src := &fakeSource{quotes: map[string]Quote{
		"AAPL": {Name: "Apple Inc.", Exchange: "NasdaqGS", Currency: "usd", MarketCap: 2.6e12, TrailingPE: 28.5, EPS: -1.2},
	}}
	p := newProvider(src)
	p.now = func() time.Time { return time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC) }

	out, err := p.FetchFundamentals(context.Background(), []string{"AAPL", "NOPE"})
	require.NoError(t, err)
	require.Len(t, out, 1)

	f := out["AAPL"]
	assert.Equal(t, "Apple Inc.", f.Name)
	assert.Equal(t, "USD", f.Currency)
	assert.True(t, f.SnapshotDate.Equal(mustDay("2024-03-04")))
	require.True(t, f.PERatio.Valid)
	assert.False(t, f.ForwardPE.Valid, "zero means unknown")
	require.True(t, f.EPS.Valid, "EPS may be negative")
	assert.Equal(t, "-1.2", f.EPS.Decimal.String())
}

func TestFetchPricesCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newProvider(&fakeSource{}).FetchPrices(ctx, []string{"AAPL"}, time.Time{}, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func mustDay(s string) time.Time {
	d, err := market.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
