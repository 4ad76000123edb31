package replay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/market"
)

const sample = `ticker,date,open,high,low,close,adj_close,volume
aapl,2024-03-06,12,13,11,12.5,12.5,300
AAPL,2024-03-04,10,11,9,10.5,,100
AAPL,2024-03-05,11,12,10,11.5,11.4,200
MSFT,2024-03-04,400,405,395,402,402,50
MSFT,2024-03-05,0,405,395,402,402,50
`

func day(s string) time.Time {
	t, err := market.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestLoadCSV(t *testing.T) {
	t.Parallel()

	series, err := LoadCSV(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, series, 2)

	aapl := series["AAPL"]
	require.Len(t, aapl.Valid, 3)
	assert.True(t, aapl.Valid[0].Date.Equal(day("2024-03-04")))
	assert.True(t, aapl.Valid[2].Date.Equal(day("2024-03-06")))
	assert.Equal(t, "10.5", aapl.Valid[0].AdjClose.String(), "blank adj close falls back to close")

	msft := series["MSFT"]
	assert.Len(t, msft.Valid, 1)
	assert.Equal(t, 1, msft.Rejected)
}

func TestLoadCSVWithoutHeader(t *testing.T) {
	t.Parallel()

	series, err := LoadCSV(strings.NewReader("SPY,2024-03-04,500,505,498,503\n"))
	require.NoError(t, err)
	require.Len(t, series["SPY"].Valid, 1)
	assert.Equal(t, int64(0), series["SPY"].Valid[0].Volume)
}

func TestLoadCSVBadRow(t *testing.T) {
	t.Parallel()

	_, err := LoadCSV(strings.NewReader("AAPL,03/04/2024,1,1,1,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = LoadCSV(strings.NewReader("AAPL,2024-03-04,1,1\n"))
	require.Error(t, err)
}

func TestProviderNoLookAhead(t *testing.T) {
	t.Parallel()

	series, err := LoadCSV(strings.NewReader(sample))
	require.NoError(t, err)

	p := NewProvider()
	p.Load(Bars(series))
	p.SetAsOf(day("2024-03-05"))

	ctx := context.Background()
	got, err := p.FetchPrices(ctx, []string{"AAPL", "MSFT", "NOPE"}, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)

	require.Contains(t, got, "AAPL")
	assert.NotContains(t, got, "NOPE")
	assert.Len(t, got["AAPL"].Valid, 2)
	for _, b := range got["AAPL"].Valid {
		assert.False(t, b.Date.After(day("2024-03-05")))
	}

	got, err = p.FetchPrices(ctx, []string{"AAPL"}, day("2024-03-05"), day("2024-03-05"))
	require.NoError(t, err)
	assert.Len(t, got["AAPL"].Valid, 1)

	p.SetAsOf(day("2024-03-06"))
	got, err = p.FetchPrices(ctx, []string{"AAPL"}, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	assert.Len(t, got["AAPL"].Valid, 3)

	assert.Len(t, p.Bars("aapl"), 3, "full history ignores the as-of bound")
}

func TestProviderFundamentals(t *testing.T) {
	t.Parallel()

	p := NewProvider()
	p.LoadFundamentals(map[string]market.Fundamentals{
		"aapl": {Ticker: "AAPL", Sector: "Technology", PERatio: market.NullFromFloat(28, true)},
	})

	got, err := p.FetchFundamentals(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Contains(t, got, "AAPL")
	assert.NotContains(t, got, "MSFT")
	assert.Equal(t, "Technology", got["AAPL"].Sector)
}
