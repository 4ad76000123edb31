package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/broker"
	"github.com/rustyeddy/tradeagent/internal/logging"
	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/news"
	"github.com/rustyeddy/tradeagent/reasoning"
	"github.com/rustyeddy/tradeagent/reasoning/scripted"
	"github.com/rustyeddy/tradeagent/replay"
	"github.com/rustyeddy/tradeagent/sim"
)

var today = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.Open(journal.DriverSQLite, filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rising builds weekday bars over the 60 days before today.
func rising(ticker string, base float64) []market.Bar {
	var bars []market.Bar
	days := market.TradingDays(today.AddDate(0, 0, -60), today)
	for i, d := range days {
		c := decimal.NewFromFloat(base + float64(i))
		bars = append(bars, market.Bar{
			Ticker: ticker, Date: d,
			Open: c, High: c.Add(decimal.NewFromInt(1)), Low: c.Sub(decimal.NewFromInt(1)), Close: c, AdjClose: c,
			Volume: 1000 + int64(i),
		})
	}
	return bars
}

type fixture struct {
	store    *journal.Store
	market   *replay.Provider
	analyzer *scripted.Analyzer
	engine   *sim.Engine
	metrics  *Metrics
}

func newFixture(t *testing.T, tickers ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:    newStore(t),
		market:   replay.NewProvider(),
		analyzer: scripted.New(),
		engine:   sim.NewEngine(decimal.NewFromInt(50000)),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	series := make(map[string][]market.Bar)
	for i, tk := range tickers {
		_, err := f.store.AddInstrument(context.Background(), journal.Instrument{Ticker: tk, Sector: "Technology"})
		require.NoError(t, err)
		series[tk] = rising(tk, 100+float64(i*10))
	}
	f.market.Load(series)
	return f
}

func (f *fixture) service(deps Deps) *Service {
	if deps.Market == nil {
		deps.Market = f.market
	}
	if deps.Analyzer == nil {
		deps.Analyzer = f.analyzer
	}
	opts := DefaultOptions()
	opts.Now = func() time.Time { return today }
	opts.PaperFills = true
	opts.Metrics = f.metrics
	l := logging.Nop()
	opts.Logger = &l
	return New(f.store, deps, opts)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, reasoning.Package) (reasoning.Response, error) {
	return reasoning.Response{}, errors.New("model unavailable")
}

type failingNews struct{}

func (failingNews) Query(context.Context, []string) ([]news.Item, error) {
	return nil, errors.New("news api down")
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")
	svc := f.service(Deps{Broker: f.engine})
	ctx := context.Background()

	res, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.InstrumentsAnalyzed)
	assert.Equal(t, 2, res.CandidatesScreened)
	assert.Equal(t, 1, res.TradesApproved)
	assert.Equal(t, 1, res.TradesExecuted)

	decisions, err := f.store.ListDecisions(ctx, journal.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "BUY", decisions[0].Action)
	assert.Equal(t, res.ID.String(), decisions[0].PipelineRunID)
	require.NotNil(t, decisions[0].SignalRSI)
	assert.Contains(t, decisions[0].TechnicalSummary, "latest_close")

	items, err := f.store.ContextItems(ctx, decisions[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, journal.ContextTechnical, items[0].ContextType)

	trades, err := f.store.ListTrades(ctx, journal.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, journal.TradeFilled, trades[0].Status)
	require.NotNil(t, trades[0].PositionID)
	require.NotNil(t, trades[0].DecisionReportID)
	assert.Equal(t, decisions[0].ID, *trades[0].DecisionReportID)

	open, err := f.store.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	row, err := f.store.GetPipelineRun(ctx, res.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", row.Status)
	assert.Equal(t, "[]", row.Errors)

	last, ok := svc.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
	assert.Equal(t, StatusSuccess, svc.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("SUCCESS")))
}

func TestRunWithoutBrokerReportsOnly(t *testing.T) {
	f := newFixture(t, "AAPL")
	svc := f.service(Deps{})

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.TradesApproved)
	assert.Equal(t, 0, res.TradesExecuted)

	trades, err := f.store.ListTrades(context.Background(), journal.TradeFilter{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRunNoInstrumentsFails(t *testing.T) {
	f := newFixture(t)
	svc := f.service(Deps{})

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"No market data fetched"}, res.Errors)
	assert.Zero(t, f.analyzer.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("critical")))
}

func TestRunAnalyzerFailureRollsBack(t *testing.T) {
	f := newFixture(t, "AAPL")
	svc := f.service(Deps{Analyzer: failingAnalyzer{}, Broker: f.engine})
	ctx := context.Background()

	res, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "LLM analysis failed: model unavailable")

	in, err := f.store.InstrumentByTicker(ctx, "AAPL")
	require.NoError(t, err)
	bars, err := f.store.Prices(ctx, in.ID, "AAPL", today.AddDate(-1, 0, 0), today)
	require.NoError(t, err)
	assert.Empty(t, bars, "prices written in the run are rolled back")

	decisions, err := f.store.ListDecisions(ctx, journal.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, decisions)

	row, err := f.store.GetPipelineRun(ctx, res.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "FAILED", row.Status)
}

func TestRunNewsFailureIsPartial(t *testing.T) {
	f := newFixture(t, "AAPL")
	svc := f.service(Deps{News: failingNews{}, Broker: f.engine})

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "News fetch failed: news api down", res.Errors[0])
	assert.Equal(t, 1, res.TradesExecuted)
}

func TestRunDropsUnknownAndHoldRecommendations(t *testing.T) {
	f := newFixture(t, "AAPL")
	f.analyzer.SetResponse(&reasoning.Parsed{Recommendations: []reasoning.Recommendation{
		{Ticker: "ZZZZ", Action: "BUY", Confidence: 0.9},
		{Ticker: "aapl", Action: "hold", Confidence: 0.9},
	}})
	svc := f.service(Deps{Broker: f.engine})

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Zero(t, res.TradesApproved)
}

func TestRunRejectedSellIsReported(t *testing.T) {
	f := newFixture(t, "AAPL")
	f.analyzer.SetResponse(&reasoning.Parsed{Recommendations: []reasoning.Recommendation{
		{Ticker: "AAPL", Action: "SELL", Confidence: 0.8, Reasoning: "overbought"},
	}})
	svc := f.service(Deps{Broker: f.engine})
	ctx := context.Background()

	res, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.TradesApproved)

	decisions, err := f.store.ListDecisions(ctx, journal.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "SELL", decisions[0].Action)
	assert.Contains(t, decisions[0].Reasoning, "REJECTED: ")
}

// flakyBroker fills through the simulator except for one ticker, whose
// orders error out.
type flakyBroker struct {
	*sim.Engine
	fail string
}

func (b flakyBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderStatus, error) {
	if req.Ticker == b.fail {
		return broker.OrderStatus{}, errors.New("connection reset")
	}
	return b.Engine.PlaceOrder(ctx, req)
}

func alloc(pct float64) *float64 { return &pct }

func TestRunTradeFailureIsPartial(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")
	f.analyzer.SetResponse(&reasoning.Parsed{Recommendations: []reasoning.Recommendation{
		{Ticker: "AAPL", Action: "BUY", Confidence: 0.9, AllocationPct: alloc(3)},
		{Ticker: "MSFT", Action: "BUY", Confidence: 0.8, AllocationPct: alloc(3)},
	}})
	svc := f.service(Deps{Broker: flakyBroker{Engine: f.engine, fail: "MSFT"}})
	ctx := context.Background()

	res, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 2, res.TradesApproved)
	assert.Equal(t, 1, res.TradesExecuted)
	assert.Equal(t, []string{"Trade execution failed for MSFT: connection reset"}, res.Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues("execution")))

	trades, err := f.store.ListTrades(ctx, journal.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Ticker)
	assert.Equal(t, journal.TradeFilled, trades[0].Status)

	bars := rising("AAPL", 100)
	last := bars[len(bars)-1].Close
	assert.True(t, trades[0].Price.Equal(last), "filled at %s, last close %s", trades[0].Price, last)

	open, err := f.store.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "AAPL", open[0].Ticker)
}

func TestRunPaperSellAfterRestart(t *testing.T) {
	f := newFixture(t, "AAPL")
	ctx := context.Background()

	res, err := f.service(Deps{Broker: f.engine}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.TradesExecuted)

	// A new simulator knows nothing of the position the journal holds.
	f.analyzer.SetResponse(&reasoning.Parsed{Recommendations: []reasoning.Recommendation{
		{Ticker: "AAPL", Action: "SELL", Confidence: 0.8},
	}})
	res, err = f.service(Deps{Broker: sim.NewEngine(decimal.NewFromInt(50000))}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.TradesExecuted)

	open, err := f.store.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

type blockingAnalyzer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	close(b.entered)
	<-b.release
	return reasoning.Response{Parsed: scripted.Default(pkg), ParseSuccess: true}, nil
}

func TestRunGate(t *testing.T) {
	f := newFixture(t, "AAPL")
	b := &blockingAnalyzer{entered: make(chan struct{}), release: make(chan struct{})}
	svc := f.service(Deps{Analyzer: b})

	done := make(chan RunResult, 1)
	go func() {
		res, _ := svc.Run(context.Background())
		done <- res
	}()

	<-b.entered
	assert.True(t, svc.Running())
	assert.Equal(t, StatusRunning, svc.Status())
	_, err := svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(b.release)
	res := <-done
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, svc.Running())
}
