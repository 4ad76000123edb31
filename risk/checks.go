// Package risk turns trade proposals into sized approvals and reasoned
// rejections under portfolio-level limits.
package risk

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Validator applies a Policy to proposals.
type Validator struct {
	policy Policy
	logger zerolog.Logger
}

// NewValidator creates a Validator.
func NewValidator(p Policy) *Validator {
	return &Validator{policy: p, logger: log.Logger}
}

// WithLogger sets the logger.
func (v *Validator) WithLogger(l zerolog.Logger) *Validator {
	v.logger = l
	return v
}

// Validate never fails: every proposal ends up approved or rejected. Sells
// are processed first and fully liquidate, so the cash and slots they free
// fund the buys, which are taken in confidence order. An internal fault
// yields an empty result.
func (v *Validator) Validate(proposals []Proposal, state PortfolioState) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Str("panic", fmt.Sprint(r)).Msg("risk_validation_unexpected_error")
			res = Result{}
		}
	}()

	var sells, buys []Proposal
	for _, p := range proposals {
		switch p.Action {
		case Sell:
			sells = append(sells, p)
		case Buy:
			buys = append(buys, p)
		default:
			res.reject(p, CodeBadAction, fmt.Sprintf("Unsupported action %q", p.Action))
		}
	}

	freed := v.sells(sells, state, &res)

	cash := state.Cash.Add(freed)
	slots := v.policy.MaxPositions - (state.OpenPositions - len(res.Approved))

	sort.SliceStable(buys, func(i, j int) bool { return buys[i].Confidence > buys[j].Confidence })
	for _, p := range buys {
		if slots <= 0 {
			res.reject(p, CodeMaxPositions, ReasonMaxPositions)
			continue
		}
		qty, value, ok := BuySize(v.policy, p.Price, p.AllocationPct, state.TotalValue, cash)
		if !ok {
			res.reject(p, CodeInsufficient, ReasonInsufficient)
			continue
		}
		res.Approved = append(res.Approved, Approved{Proposal: p, Side: Buy, Quantity: qty, EstimatedValue: value})
		cash = cash.Sub(value)
		slots--
	}

	v.logger.Debug().
		Int("approved", len(res.Approved)).
		Int("rejected", len(res.Rejected)).
		Msg("risk_validation_complete")
	return res
}

// sells approves at most one liquidation per position. A repeated sell of
// the same instrument has nothing left to sell.
func (v *Validator) sells(sells []Proposal, state PortfolioState, res *Result) decimal.Decimal {
	freed := decimal.Zero
	liquidated := make(map[int64]bool, len(sells))
	for _, p := range sells {
		pos, ok := state.Positions[p.InstrumentID]
		if !ok || liquidated[p.InstrumentID] {
			res.reject(p, CodeNoPosition, ReasonNoPosition)
			continue
		}
		liquidated[p.InstrumentID] = true
		value := SellValue(pos.Quantity, p.Price)
		res.Approved = append(res.Approved, Approved{Proposal: p, Side: Sell, Quantity: pos.Quantity, EstimatedValue: value})
		freed = freed.Add(value)
	}
	return freed
}
