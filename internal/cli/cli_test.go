package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/internal/logging"
	"github.com/rustyeddy/tradeagent/reasoning/scripted"
	"github.com/rustyeddy/tradeagent/sim"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tradeagent dev")
}

func TestInstrumentsAddAndList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "--db", db, "instruments", "add", "aapl", "msft", "--sector", "Technology")
	require.NoError(t, err)
	assert.Contains(t, out, "added AAPL")
	assert.Contains(t, out, "added MSFT")

	out, err = execute(t, "--db", db, "instruments", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "Technology")

	_, err = execute(t, "--db", db, "instruments", "deactivate", "msft")
	require.NoError(t, err)
	out, err = execute(t, "--db", db, "instruments", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "false")
}

func TestDecisionsAndTradesEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "--db", db, "decisions")
	require.NoError(t, err)
	assert.Contains(t, out, "TICKER")

	out, err = execute(t, "--db", db, "trades", "--status", "FILLED")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradeagent.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_positions: 20")
	assert.NotContains(t, out, "T212", "secrets are not shown")
}

func TestBacktestRequiresDates(t *testing.T) {
	_, err := execute(t, "backtest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func writeBarsCSV(t *testing.T, tickers ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("ticker,date,open,high,low,close,adj_close,volume\n")
	day := time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for j, tk := range tickers {
			c := 100 + float64(j*20) + float64(i)*0.5
			fmt.Fprintf(&b, "%s,%s,%.2f,%.2f,%.2f,%.2f,%.2f,%d\n",
				tk, day.Format("2006-01-02"), c-0.5, c+1, c-1, c, c, 1000000+i*1000)
		}
		i++
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestBacktestFromCSV(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	csvPath := writeBarsCSV(t, "AAPL", "MSFT")

	_, err := execute(t, "--db", db, "instruments", "add", "AAPL", "MSFT")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "backtest",
		"--name", "csv", "--start", "2024-03-11", "--end", "2024-03-15",
		"--capital", "10000", "--prices-csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Backtest Result")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "Days:          5/5")
	assert.Contains(t, out, "10000.00")
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Portfolio.MaxPositions = 7
	cfg.Portfolio.MinTradeValue = 250
	cfg.Screening.Weights.RSI = 0.5
	cfg.TechnicalAnalysis.RSIPeriod = 10
	cfg.Memory.SectorMax = 2

	opts := pipelineOptions(cfg)
	assert.Equal(t, 7, opts.Risk.MaxPositions)
	assert.Equal(t, "250", opts.Risk.MinTradeValue.String())
	assert.Equal(t, 0.5, opts.Screening.Weights.RSI)
	assert.Equal(t, 10, opts.Indicators.RSIPeriod)
	assert.Equal(t, 2, opts.Memory.SectorMax)
	assert.Equal(t, "50000", opts.InitialCapital.String())
	assert.Equal(t, "EUR", opts.Currency)
	assert.Equal(t, cfg.News.Sectors, opts.NewsSectors)
}

func testRoot() *RootConfig {
	return &RootConfig{cfg: config.Default(), logger: logging.Nop()}
}

func TestAnalyzerSelection(t *testing.T) {
	rc := testRoot()
	ctx := context.Background()

	a, err := rc.analyzer(ctx, "scripted")
	require.NoError(t, err)
	assert.IsType(t, &scripted.Analyzer{}, a)

	_, err = rc.analyzer(ctx, "openai")
	assert.Error(t, err, "openai needs an api key")

	_, err = rc.analyzer(ctx, "nope")
	assert.ErrorContains(t, err, "unknown llm provider")

	a, err = rc.analyzer(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestNewBroker(t *testing.T) {
	rc := testRoot()

	b, simulated, err := rc.newBroker(true)
	require.NoError(t, err)
	assert.True(t, simulated)
	assert.IsType(t, &sim.Engine{}, b)

	_, _, err = rc.newBroker(false)
	assert.ErrorIs(t, err, errNoBrokerKey)

	rc.cfg.Env.T212APIKey = "key"
	b, simulated, err = rc.newBroker(false)
	require.NoError(t, err)
	assert.False(t, simulated)
	assert.NotNil(t, b)
}

func TestNewsSourceDegradesWithoutKey(t *testing.T) {
	rc := testRoot()
	src, cleanup := rc.newsSource()
	defer cleanup()

	items, err := src.Query(context.Background(), []string{"technology"})
	require.NoError(t, err)
	assert.Empty(t, items)
}
