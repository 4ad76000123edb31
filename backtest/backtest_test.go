package backtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/internal/logging"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/reasoning/scripted"
	"github.com/rustyeddy/tradeagent/replay"
)

func day(s string) time.Time {
	t, err := market.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func newStore(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.Open(journal.DriverSQLite, filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// history is a rising weekday series whose opens sit half a point under
// the close.
func history(ticker string, from, to time.Time, base float64) []market.Bar {
	var bars []market.Bar
	for i, d := range market.TradingDays(from, to) {
		c := decimal.NewFromFloat(base + float64(i)*0.5)
		bars = append(bars, market.Bar{
			Ticker: ticker, Date: d,
			Open: c.Sub(decimal.NewFromFloat(0.5)), High: c.Add(decimal.NewFromInt(1)), Low: c.Sub(decimal.NewFromInt(1)),
			Close: c, AdjClose: c, Volume: 5000,
		})
	}
	return bars
}

func newEngine(t *testing.T, tickers ...string) (*Engine, *journal.Store, prometheus.Gauge) {
	t.Helper()
	store := newStore(t)
	live := replay.NewProvider()
	series := make(map[string][]market.Bar)
	for i, tk := range tickers {
		_, err := store.AddInstrument(context.Background(), journal.Instrument{Ticker: tk, Sector: "Technology"})
		require.NoError(t, err)
		series[tk] = history(tk, day("2023-10-02"), day("2024-03-29"), 100+float64(i*20))
	}
	live.Load(series)

	g := NewProgressGauge(prometheus.NewRegistry())
	e := New(store, live, WithLogger(logging.Nop()), WithProgressGauge(g), WithLookbackBuffer(120))
	return e, store, g
}

func cfg(start, end string) Config {
	return Config{Name: "test", Start: day(start), End: day(end), InitialCapital: decimal.NewFromInt(50000)}
}

func TestRunCompletes(t *testing.T) {
	e, store, g := newEngine(t, "AAPL", "MSFT")

	res := e.Run(context.Background(), cfg("2024-03-11", "2024-03-15"))
	snap := res.Snapshot()

	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Errors)
	assert.Equal(t, 5, snap.TotalDays)
	assert.Equal(t, 5, snap.CurrentDay)
	assert.Len(t, snap.Equity, 5)
	assert.True(t, snap.Equity[0].Date.Equal(day("2024-03-11")))
	require.NotNil(t, snap.Metrics)
	assert.Positive(t, snap.Metrics.TotalTrades)
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(g))

	row, err := store.GetBacktestRun(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", row.Status)
	assert.Equal(t, snap.Metrics.TotalTrades, row.TotalTrades)
	assert.True(t, row.FinalValue.Valid)

	open, err := store.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "backtest trades stay out of the main ledger")
}

func TestRunWeekendOnlyFails(t *testing.T) {
	e, _, _ := newEngine(t, "AAPL")

	snap := e.Run(context.Background(), cfg("2024-03-09", "2024-03-10")).Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, []string{MsgNoTradingDays}, snap.Errors)
	assert.Zero(t, snap.TotalDays)
}

func TestRunWithoutInstrumentsFails(t *testing.T) {
	e, _, _ := newEngine(t)

	snap := e.Run(context.Background(), cfg("2024-03-11", "2024-03-15")).Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, []string{MsgNoInstruments}, snap.Errors)
}

type cancelOnCall struct {
	cancel context.CancelFunc
	inner  *scripted.Analyzer
}

func (c cancelOnCall) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	c.cancel()
	return c.inner.Analyze(context.Background(), pkg)
}

func TestRunCancelledBetweenDays(t *testing.T) {
	e, _, _ := newEngine(t, "AAPL")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.analyzer = cancelOnCall{cancel: cancel, inner: scripted.New()}

	snap := e.Run(ctx, cfg("2024-03-11", "2024-03-15")).Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 1, snap.CurrentDay)
	assert.Contains(t, snap.Errors, MsgCancelled)
	assert.Nil(t, snap.Metrics)
}

func TestStartIsPollable(t *testing.T) {
	e, _, _ := newEngine(t, "AAPL")

	res := e.Start(context.Background(), cfg("2024-03-11", "2024-03-12"))
	assert.NotEmpty(t, res.ID())

	snap := res.Wait()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1.0, snap.Progress())

	snap.Equity[0].Value = -1
	assert.NotEqual(t, -1.0, res.Snapshot().Equity[0].Value, "snapshots are copies")
}

func TestFillPricesUseNextOpen(t *testing.T) {
	p := replay.NewProvider()
	p.Load(map[string][]market.Bar{"AAPL": history("AAPL", day("2024-03-11"), day("2024-03-15"), 100)})
	instruments := []journal.Instrument{{Ticker: "AAPL"}, {Ticker: "NONE"}}
	days := market.TradingDays(day("2024-03-11"), day("2024-03-15"))

	first := fillPrices(p, instruments, days, 0)
	require.Contains(t, first, "AAPL")
	assert.True(t, first["AAPL"].Equal(decimal.RequireFromString("100")), "next open is 100.5 - 0.5")
	assert.NotContains(t, first, "NONE")

	last := fillPrices(p, instruments, days, len(days)-1)
	assert.True(t, last["AAPL"].Equal(decimal.RequireFromString("102")), "last day uses the close")
}

func TestMetrics(t *testing.T) {
	curve := []float64{100, 110, 90, 95, 105}

	assert.InDelta(t, 18.18, MaxDrawdownPct(curve), 0.01)
	assert.InDelta(t, 5.0, TotalReturnPct(curve), 1e-9)
	assert.Zero(t, MaxDrawdownPct([]float64{100}))

	assert.Zero(t, SharpeRatio([]float64{100, 101}))
	assert.Zero(t, SharpeRatio([]float64{100, 100, 100, 100}))
	assert.Positive(t, SharpeRatio([]float64{100, 101, 103, 104}))

	assert.Zero(t, AnnualizedReturnPct(10, 0))
	assert.InDelta(t, 10.0, AnnualizedReturnPct(10, TradingDaysPerYear), 1e-9)
	assert.Zero(t, AnnualizedReturnPct(-200, 10), "non-finite results collapse to zero")

	var equity []EquityPoint
	for _, v := range curve {
		equity = append(equity, EquityPoint{Value: v})
	}
	m := Compute(equity, 5, 3, 66.666)
	assert.Equal(t, 18.18, m.MaxDrawdownPct)
	assert.Equal(t, 66.67, m.WinRate)
	assert.Equal(t, 3, m.TotalTrades)
}

func TestPrint(t *testing.T) {
	now := time.Now().UTC()
	s := Snapshot{
		ID:         "bt-1",
		Config:     cfg("2024-03-11", "2024-03-15"),
		Status:     StatusCompleted,
		CurrentDay: 5,
		TotalDays:  5,
		Equity:     []EquityPoint{{Value: 50000}, {Value: 50500}},
		Metrics:    &Metrics{TotalReturnPct: 1, MaxDrawdownPct: 0.5, TotalTrades: 2},
		Errors:     []string{"Day 2024-03-12: boom"},
		StartedAt:  now,
	}
	var buf bytes.Buffer
	Print(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "bt-1")
	assert.Contains(t, out, "2024-03-11 to 2024-03-15")
	assert.Contains(t, out, "50500.00")
	assert.Contains(t, out, "Day 2024-03-12: boom")
}

// rsiRecorder keeps the RSI the model was shown on each call.
type rsiRecorder struct {
	inner *scripted.Analyzer
	seen  []float64
}

func (r *rsiRecorder) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	for _, c := range pkg.Candidates {
		if c.Ticker == "AAPL" && c.RSI != nil {
			r.seen = append(r.seen, *c.RSI)
		}
	}
	return r.inner.Analyze(ctx, pkg)
}

func TestRunDoesNotSeeLaterBars(t *testing.T) {
	store := newStore(t)
	_, err := store.AddInstrument(context.Background(), journal.Instrument{Ticker: "AAPL", Sector: "Technology"})
	require.NoError(t, err)

	// Gains only through the 12th, then a daily drop.
	bars := history("AAPL", day("2023-10-02"), day("2024-03-29"), 100)
	crash := day("2024-03-12")
	for i := range bars {
		if !bars[i].Date.After(crash) {
			continue
		}
		c := bars[i-1].Close.Sub(decimal.NewFromInt(5))
		bars[i].Open, bars[i].Close, bars[i].AdjClose = c, c, c
		bars[i].High, bars[i].Low = c.Add(decimal.NewFromInt(1)), c.Sub(decimal.NewFromInt(1))
	}
	live := replay.NewProvider()
	live.Load(map[string][]market.Bar{"AAPL": bars})

	rec := &rsiRecorder{inner: scripted.New()}
	e := New(store, live, WithLogger(logging.Nop()), WithProgressGauge(NewProgressGauge(prometheus.NewRegistry())), WithLookbackBuffer(120))
	e.analyzer = rec

	snap := e.Run(context.Background(), cfg("2024-03-11", "2024-03-15")).Snapshot()
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Errors)
	require.Len(t, rec.seen, 5)
	assert.Equal(t, 100.0, rec.seen[0], "11th sees no losses")
	assert.Equal(t, 100.0, rec.seen[1], "12th sees no losses")
	for i, v := range rec.seen[2:] {
		assert.Less(t, v, 100.0, "day %d sees the drop", i+3)
	}
}

// panicOnCall panics on the nth analysis and answers normally otherwise.
type panicOnCall struct {
	n     int
	calls int
	inner *scripted.Analyzer
}

func (p *panicOnCall) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	p.calls++
	if p.calls == p.n {
		panic("model client crashed")
	}
	return p.inner.Analyze(ctx, pkg)
}

func TestRunSurvivesFailedDay(t *testing.T) {
	e, _, _ := newEngine(t, "AAPL", "MSFT")
	a := &panicOnCall{n: 2, inner: scripted.New()}
	e.analyzer = a

	snap := e.Run(context.Background(), cfg("2024-03-11", "2024-03-15")).Snapshot()

	require.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, []string{"Day 2024-03-12: panic: model client crashed"}, snap.Errors)
	assert.Equal(t, 5, snap.CurrentDay)
	require.Len(t, snap.Equity, 5)
	assert.True(t, snap.Equity[1].Date.Equal(day("2024-03-12")))
	assert.Equal(t, snap.Equity[0].Value, snap.Equity[1].Value, "failed day repeats the prior value")
	assert.Equal(t, 5, a.calls, "later days still run")
	assert.NotNil(t, snap.Metrics)
}
