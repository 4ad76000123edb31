// Package replay serves pre-loaded history to the pipeline one simulated
// day at a time. Nothing dated after the current day is ever returned.
package replay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/marketdata"
)

// Provider is a marketdata.Provider over in-memory series.
type Provider struct {
	mu           sync.RWMutex
	series       map[string][]market.Bar
	fundamentals map[string]market.Fundamentals
	asOf         time.Time
}

var _ marketdata.Provider = (*Provider)(nil)

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		series:       make(map[string][]market.Bar),
		fundamentals: make(map[string]market.Fundamentals),
	}
}

// Load stores bars per ticker, sorted by date. Existing series for the same
// tickers are replaced.
func (p *Provider) Load(series map[string][]market.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t, bars := range series {
		cp := append([]market.Bar(nil), bars...)
		market.SortBars(cp)
		p.series[strings.ToUpper(t)] = cp
	}
}

// LoadFundamentals stores one snapshot per ticker.
func (p *Provider) LoadFundamentals(f map[string]market.Fundamentals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t, v := range f {
		p.fundamentals[strings.ToUpper(t)] = v
	}
}

// SetAsOf moves the simulated today. A zero time removes the bound.
func (p *Provider) SetAsOf(day time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if day.IsZero() {
		p.asOf = time.Time{}
		return
	}
	p.asOf = market.Day(day)
}

// Bars returns the full loaded series for a ticker, ignoring the as-of
// bound. The backtest engine uses it to look up next-day opens.
func (p *Provider) Bars(ticker string) []market.Bar {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.series[strings.ToUpper(ticker)]
}

// FetchPrices returns bars with start <= date <= min(end, as-of).
func (p *Provider) FetchPrices(ctx context.Context, tickers []string, start, end time.Time) (map[string]market.PriceSeries, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	last := market.Day(end)
	if !p.asOf.IsZero() && p.asOf.Before(last) {
		last = p.asOf
	}
	first := market.Day(start)

	out := make(map[string]market.PriceSeries, len(tickers))
	for _, t := range tickers {
		bars, ok := p.series[strings.ToUpper(t)]
		if !ok {
			continue
		}
		s := market.PriceSeries{Ticker: t}
		for _, b := range market.Until(bars, last) {
			if b.Date.Before(first) {
				continue
			}
			s.Add(b)
		}
		out[t] = s
	}
	return out, ctx.Err()
}

// FetchFundamentals returns the loaded snapshots with their dates capped at
// the as-of day.
func (p *Provider) FetchFundamentals(ctx context.Context, tickers []string) (map[string]market.Fundamentals, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]market.Fundamentals, len(tickers))
	for _, t := range tickers {
		f, ok := p.fundamentals[strings.ToUpper(t)]
		if !ok {
			continue
		}
		if !p.asOf.IsZero() && !f.SnapshotDate.IsZero() && f.SnapshotDate.After(p.asOf) {
			f.SnapshotDate = p.asOf
		}
		out[t] = f
	}
	return out, ctx.Err()
}
