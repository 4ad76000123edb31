// Package scripted is a deterministic reasoning.Analyzer for backtests and
// tests. It never calls out.
package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rustyeddy/tradeagent/reasoning"
)

// Analyzer returns a preset answer when one is set and otherwise buys the
// top candidate and holds the next two.
type Analyzer struct {
	mu     sync.Mutex
	preset *reasoning.Parsed
	calls  int
}

var _ reasoning.Analyzer = (*Analyzer)(nil)

// New creates an Analyzer with no preset answer.
func New() *Analyzer { return &Analyzer{} }

// SetResponse fixes the answer for every later call. Nil restores the
// default behavior.
func (a *Analyzer) SetResponse(p *reasoning.Parsed) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preset = p
}

// Calls reports how many times Analyze ran.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Analyze implements reasoning.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, pkg reasoning.Package) (reasoning.Response, error) {
	if err := ctx.Err(); err != nil {
		return reasoning.Response{}, err
	}

	a.mu.Lock()
	a.calls++
	preset := a.preset
	a.mu.Unlock()

	parsed := Default(pkg)
	if preset != nil {
		parsed = *preset
	}
	raw, _ := json.Marshal(parsed)
	return reasoning.Response{
		Raw:          string(raw),
		Parsed:       parsed,
		ParseSuccess: true,
		TokenCount:   100,
	}, nil
}

// Default buys the first candidate and holds the next two.
func Default(pkg reasoning.Package) reasoning.Parsed {
	var recs []reasoning.Recommendation
	for i, c := range pkg.Candidates {
		if i == 3 {
			break
		}
		action, conf, alloc := "HOLD", 0.3, 0.0
		if i == 0 {
			action, conf, alloc = "BUY", 0.7, 3.0
		}
		recs = append(recs, reasoning.Recommendation{
			Ticker:        c.Ticker,
			Action:        action,
			Confidence:    conf,
			Reasoning:     fmt.Sprintf("Scripted analysis for %s", c.Ticker),
			AllocationPct: &alloc,
		})
	}
	return reasoning.Parsed{
		Recommendations: recs,
		MarketOutlook:   "neutral",
		Summary:         "Scripted analysis",
	}
}
