// Package yahoo is a marketdata.Provider over Yahoo Finance.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/marketdata"
)

// Quote is the subset of a Yahoo quote used for fundamentals. Zero values
// mean unknown.
type Quote struct {
	Name          string
	Exchange      string
	Currency      string
	MarketCap     float64
	TrailingPE    float64
	ForwardPE     float64
	PriceToBook   float64
	DividendYield float64
	EPS           float64
}

// Source is the raw Yahoo API.
type Source interface {
	Chart(ctx context.Context, ticker string, start, end time.Time) ([]market.Bar, error)
	Quote(ctx context.Context, ticker string) (Quote, error)
}

// Provider fans requests out over a bounded pool of workers and retries
// each ticker with exponential backoff.
type Provider struct {
	src        Source
	workers    int
	maxRetries uint64
	initial    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

var _ marketdata.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithSource replaces the Yahoo API.
func WithSource(s Source) Option { return func(p *Provider) { p.src = s } }

// WithWorkers bounds concurrent requests.
func WithWorkers(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRetry sets the retry count and first backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(p *Provider) { p.maxRetries, p.initial = maxRetries, initial }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Provider) { p.logger = l } }

// New creates a Provider backed by finance-go.
func New(opts ...Option) *Provider {
	p := &Provider{
		src:        financeSource{},
		workers:    8,
		maxRetries: 2,
		initial:    500 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log.Logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FetchPrices returns validated bars per ticker. A ticker whose download
// fails after retries gets an empty series.
func (p *Provider) FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]market.PriceSeries, error) {
	out := make(map[string]market.PriceSeries, len(tickers))
	var mu sync.Mutex
	p.each(ctx, tickers, func(ticker string) {
		var bars []market.Bar
		err := p.retry(ctx, func() error {
			var err error
			bars, err = p.src.Chart(ctx, ticker, start, end)
			return err
		})
		series := market.PriceSeries{Ticker: ticker}
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("price_fetch_failed")
		}
		for _, b := range bars {
			b.Ticker = ticker
			b.Date = market.Day(b.Date)
			series.Add(b)
		}
		market.SortBars(series.Valid)
		mu.Lock()
		out[ticker] = series
		mu.Unlock()
	})
	return out, ctx.Err()
}

// FetchFundamentals returns a snapshot per ticker that could be fetched.
func (p *Provider) FetchFundamentals(ctx context.Context, tickers []string) (map[string]market.Fundamentals, error) {
	out := make(map[string]market.Fundamentals, len(tickers))
	var mu sync.Mutex
	today := market.Day(p.now())
	p.each(ctx, tickers, func(ticker string) {
		var q Quote
		err := p.retry(ctx, func() error {
			var err error
			q, err = p.src.Quote(ctx, ticker)
			return err
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("fundamentals_fetch_failed")
			return
		}
		f := market.Fundamentals{
			Ticker:        ticker,
			SnapshotDate:  today,
			Name:          q.Name,
			Exchange:      q.Exchange,
			Currency:      strings.ToUpper(q.Currency),
			MarketCap:     market.NullFromFloat(q.MarketCap, true),
			PERatio:       market.NullFromFloat(q.TrailingPE, true),
			ForwardPE:     market.NullFromFloat(q.ForwardPE, true),
			PriceToBook:   market.NullFromFloat(q.PriceToBook, true),
			DividendYield: market.NullFromFloat(q.DividendYield, true),
			EPS:           market.NullFromFloat(q.EPS, false),
		}
		mu.Lock()
		out[ticker] = f
		mu.Unlock()
	})
	return out, ctx.Err()
}

func (p *Provider) each(ctx context.Context, tickers []string, fn func(string)) {
	jobs := make(chan string)
	var wg sync.WaitGroup
	workers := p.workers
	if workers > len(tickers) {
		workers = len(tickers)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				fn(t)
			}
		}()
	}
	for _, t := range tickers {
		select {
		case jobs <- t:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
}

func (p *Provider) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.MaxElapsedTime = time.Minute
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("yahoo: %w", err)
	}
	return nil
}
