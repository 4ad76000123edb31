package risk

import "github.com/shopspring/decimal"

// Policy bounds position sizing for one portfolio.
type Policy struct {
	MaxPositions   int             // 20
	MaxPositionPct float64         // 5.0, percent of total value per position
	MinTradeValue  decimal.Decimal // 100
}

// DefaultPolicy returns the standard limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxPositions:   20,
		MaxPositionPct: 5.0,
		MinTradeValue:  decimal.NewFromInt(100),
	}
}

// Actions and sides.
const (
	Buy  = "BUY"
	Sell = "SELL"
	Hold = "HOLD"
)

// Proposal is one recommendation after it has been matched to a candidate.
type Proposal struct {
	InstrumentID  int64
	Ticker        string
	Action        string
	Confidence    float64
	Reasoning     string
	AllocationPct float64
	Price         decimal.Decimal
	Currency      string
}

// Approved is a proposal with a concrete size.
type Approved struct {
	Proposal
	Side           string
	Quantity       decimal.Decimal
	EstimatedValue decimal.Decimal
}

// Rejected is a proposal that failed a check.
type Rejected struct {
	Proposal
	Code   string
	Reason string
}

// Result holds the outcome for every proposal.
type Result struct {
	Approved []Approved
	Rejected []Rejected
}

func (r *Result) reject(p Proposal, code, reason string) {
	r.Rejected = append(r.Rejected, Rejected{Proposal: p, Code: code, Reason: reason})
}

// Rejection codes and reasons.
const (
	CodeNoPosition   = "NO_POSITION"
	CodeMaxPositions = "MAX_POSITIONS"
	CodeInsufficient = "INSUFFICIENT_CASH"
	CodeBadAction    = "UNSUPPORTED_ACTION"

	ReasonNoPosition   = "No open position to sell"
	ReasonMaxPositions = "Max positions reached"
	ReasonInsufficient = "Insufficient cash or below min trade value"
)
