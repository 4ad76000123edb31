// Package reasoning defines the contract between the pipeline and the
// language model that turns an analysis package into trade
// recommendations.
package reasoning

import (
	"context"
	"time"

	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/memory"
)

// Analyzer sends an analysis package to a model and returns its parsed
// recommendations. An error means the call is unusable and the run fails.
type Analyzer interface {
	Analyze(ctx context.Context, pkg Package) (Response, error)
}

// PortfolioSummary is the portfolio line of the package.
type PortfolioSummary struct {
	TotalValue string `json:"total_value"`
	Cash       string `json:"cash_available"`
	Positions  int    `json:"num_positions"`
}

// Candidate is one ranked instrument as presented to the model.
type Candidate struct {
	Ticker        string         `json:"ticker"`
	Sector        string         `json:"sector,omitempty"`
	TotalScore    float64        `json:"total_score"`
	RSI           *float64       `json:"rsi"`
	MACDDirection string         `json:"macd_direction,omitempty"`
	InPortfolio   bool           `json:"in_portfolio"`
	Fundamentals  market.Summary `json:"fundamentals"`
}

// NewsLine is a news item as presented to the model.
type NewsLine struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
}

// Package is everything the model sees for one run.
type Package struct {
	Portfolio  PortfolioSummary    `json:"portfolio_state"`
	Candidates []Candidate         `json:"candidates"`
	News       []NewsLine          `json:"news"`
	Memory     []memory.PromptItem `json:"memory"`
}

// Recommendation is one suggested action. Allocation is nil when the model
// did not give one.
type Recommendation struct {
	Ticker        string   `json:"ticker"`
	Action        string   `json:"action"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	AllocationPct *float64 `json:"suggested_allocation_pct,omitempty"`
}

// Parsed is the structured part of a model answer.
type Parsed struct {
	Recommendations []Recommendation `json:"recommendations"`
	MarketOutlook   string           `json:"market_outlook,omitempty"`
	Summary         string           `json:"summary,omitempty"`
}

// Response is a completed model call.
type Response struct {
	Raw          string
	Parsed       Parsed
	ParseSuccess bool
	TokenCount   int
	Elapsed      time.Duration
}
