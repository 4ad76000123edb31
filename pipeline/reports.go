package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/memory"
	"github.com/rustyeddy/tradeagent/risk"
	"github.com/rustyeddy/tradeagent/screening"
)

// writeReports stores one decision report per approved and per rejected
// trade, each with its evidence. It returns the report ID of every
// approved trade keyed by instrument.
func (r *run) writeReports(ctx context.Context, tx *journal.Tx) (map[int64]int64, error) {
	candidates := make(map[int64]*screening.Candidate, len(r.candidates))
	for i := range r.candidates {
		candidates[r.candidates[i].InstrumentID] = &r.candidates[i]
	}
	portfolioJSON := mustJSON(portfolioSummary(r.state))

	approvedIDs := make(map[int64]int64, len(r.verdict.Approved))
	for _, a := range r.verdict.Approved {
		id, err := r.writeReport(ctx, tx, a.Proposal, a.Reasoning, candidates[a.InstrumentID], portfolioJSON)
		if err != nil {
			return nil, err
		}
		approvedIDs[a.InstrumentID] = id
	}
	for _, rj := range r.verdict.Rejected {
		reasoning := "REJECTED: " + rj.Reason
		if _, err := r.writeReport(ctx, tx, rj.Proposal, reasoning, candidates[rj.InstrumentID], portfolioJSON); err != nil {
			return nil, err
		}
	}

	r.log.Info().
		Int("approved_count", len(r.verdict.Approved)).
		Int("rejected_count", len(r.verdict.Rejected)).
		Msg("reports_generated")
	return approvedIDs, nil
}

func (r *run) writeReport(ctx context.Context, tx *journal.Tx, p risk.Proposal, reasoning string, c *screening.Candidate, portfolioJSON string) (int64, error) {
	mem := r.memory[p.InstrumentID]
	refs := make([]int64, len(mem))
	for i, m := range mem {
		refs[i] = m.DecisionID
	}

	d := &journal.DecisionReport{
		PipelineRunID:    r.res.ID.String(),
		InstrumentID:     p.InstrumentID,
		Action:           p.Action,
		Confidence:       p.Confidence,
		Reasoning:        reasoning,
		TechnicalSummary: "{}",
		NewsSummary:      "{}",
		MemoryReferences: mustJSON(refs),
		PortfolioState:   portfolioJSON,
		IsBacktest:       r.svc.opts.Backtest,
		CreatedAt:        r.svc.opts.Now(),
	}
	if r.svc.opts.BacktestRunID != "" {
		id := r.svc.opts.BacktestRunID
		d.BacktestRunID = &id
	}
	if c != nil {
		d.TechnicalSummary = mustJSON(c.Indicators)
		d.NewsSummary = mustJSON(map[string]float64{"candidate_score": c.TotalScore})
		d.SignalRSI = c.Indicators.RSI
		if c.Indicators.MACD != nil {
			d.SignalMACDDirection = c.Indicators.MACD.Direction
		}
	}
	if err := tx.CreateDecision(ctx, d); err != nil {
		return 0, err
	}

	items := r.contextItems(c, mem)
	if len(items) > 0 {
		if err := tx.CreateContextItems(ctx, d.ID, items); err != nil {
			return 0, err
		}
	}
	return d.ID, nil
}

func (r *run) contextItems(c *screening.Candidate, mem []memory.Item) []journal.ContextItem {
	var items []journal.ContextItem
	if c != nil {
		items = append(items, journal.ContextItem{
			ContextType: journal.ContextTechnical,
			Source:      "indicators:" + c.Ticker,
			Content:     mustJSON(c.Indicators),
		})
		if !c.Fundamentals.Empty() {
			items = append(items, journal.ContextItem{
				ContextType: journal.ContextFundamental,
				Source:      "fundamentals:" + c.Ticker,
				Content:     mustJSON(c.Fundamentals),
			})
		}
	}
	for _, n := range r.news {
		src := n.Source
		if src == "" {
			src = n.URL
		}
		items = append(items, journal.ContextItem{
			ContextType:    journal.ContextNews,
			Source:         src,
			Content:        n.Headline + ": " + n.Summary,
			RelevanceScore: n.Relevance,
		})
	}
	for _, m := range mem {
		outcome := "pending"
		if m.OutcomePnL != nil {
			outcome = fmt.Sprintf("%g", *m.OutcomePnL)
		}
		items = append(items, journal.ContextItem{
			ContextType: journal.ContextMemory,
			Source:      fmt.Sprintf("decision:%d", m.DecisionID),
			Content:     fmt.Sprintf("%s %s (conf: %g, outcome: %s): %s", m.Ticker, m.Action, m.Confidence, outcome, m.Snippet),
		})
	}
	return items
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
