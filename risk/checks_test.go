package risk

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func state(total, cash string, positions ...Position) PortfolioState {
	m := make(map[int64]Position, len(positions))
	for _, p := range positions {
		m[p.InstrumentID] = p
	}
	return PortfolioState{TotalValue: dec(total), Cash: dec(cash), Positions: m, OpenPositions: len(positions)}
}

func buy(id int64, ticker string, conf, alloc float64, price string) Proposal {
	return Proposal{InstrumentID: id, Ticker: ticker, Action: Buy, Confidence: conf, AllocationPct: alloc, Price: dec(price)}
}

func sell(id int64, ticker, price string) Proposal {
	return Proposal{InstrumentID: id, Ticker: ticker, Action: Sell, Confidence: 0.8, Price: dec(price)}
}

func held(id int64, ticker, qty string) Position {
	return Position{InstrumentID: id, Ticker: ticker, Quantity: dec(qty), AvgPrice: dec("10"), CurrentPrice: dec("10")}
}

func TestValidateInsufficientCash(t *testing.T) {
	t.Parallel()

	v := NewValidator(DefaultPolicy())
	res := v.Validate([]Proposal{buy(1, "AAPL", 0.9, 3, "150")}, state("50", "50"))

	require.Empty(t, res.Approved)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonInsufficient, res.Rejected[0].Reason)
}

func TestValidateMaxPositions(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 2
	v := NewValidator(p)

	st := state("100000", "90000", held(1, "A", "10"), held(2, "B", "10"))
	res := v.Validate([]Proposal{buy(3, "C", 0.99, 3, "10"), buy(4, "D", 0.1, 3, "10")}, st)

	require.Empty(t, res.Approved)
	require.Len(t, res.Rejected, 2)
	for _, r := range res.Rejected {
		assert.Equal(t, ReasonMaxPositions, r.Reason)
	}
}

func TestValidateSellWithoutPosition(t *testing.T) {
	t.Parallel()

	res := NewValidator(DefaultPolicy()).Validate([]Proposal{sell(9, "NOPE", "10")}, state("1000", "1000"))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonNoPosition, res.Rejected[0].Reason)
}

func TestValidateSellFreesSlotAndCash(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 1
	p.MaxPositionPct = 50
	v := NewValidator(p)

	// No cash, one slot used; selling frees both.
	st := state("1000", "0", held(1, "OLD", "50"))
	res := v.Validate([]Proposal{buy(2, "NEW", 0.9, 50, "20"), sell(1, "OLD", "20")}, st)

	require.Len(t, res.Approved, 2)
	assert.Empty(t, res.Rejected)

	s := res.Approved[0]
	assert.Equal(t, Sell, s.Side)
	assert.True(t, s.Quantity.Equal(dec("50")), "sell liquidates the whole position")
	assert.True(t, s.EstimatedValue.Equal(dec("1000")))

	b := res.Approved[1]
	assert.Equal(t, Buy, b.Side)
	assert.True(t, b.EstimatedValue.Equal(dec("500")))
	assert.True(t, b.Quantity.Equal(dec("25")))
}

func TestValidateDuplicateSell(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 1
	p.MaxPositionPct = 100
	v := NewValidator(p)

	st := state("1000", "0", held(1, "OLD", "50"))
	res := v.Validate([]Proposal{
		sell(1, "OLD", "20"),
		sell(1, "OLD", "20"),
		buy(2, "NEW", 0.9, 100, "10"),
		buy(3, "NEW2", 0.8, 100, "10"),
	}, st)

	var sells, buys int
	spent := decimal.Zero
	for _, a := range res.Approved {
		switch a.Side {
		case Sell:
			sells++
		case Buy:
			buys++
			spent = spent.Add(a.EstimatedValue)
		}
	}
	assert.Equal(t, 1, sells, "one position, one liquidation")
	assert.Equal(t, 1, buys, "one slot freed")
	assert.True(t, spent.LessThanOrEqual(dec("1000")), "spent %s of 1000 freed", spent)

	require.Len(t, res.Rejected, 2)
	assert.Equal(t, Sell, res.Rejected[0].Action)
	assert.Equal(t, ReasonNoPosition, res.Rejected[0].Reason)
	assert.Equal(t, ReasonMaxPositions, res.Rejected[1].Reason)
}

func TestValidateBuysByConfidence(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.MaxPositions = 1
	v := NewValidator(p)

	res := v.Validate([]Proposal{
		buy(1, "LOW", 0.2, 5, "10"),
		buy(2, "HIGH", 0.9, 5, "10"),
	}, state("10000", "10000"))

	require.Len(t, res.Approved, 1)
	assert.Equal(t, "HIGH", res.Approved[0].Ticker)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "LOW", res.Rejected[0].Ticker)
}

func TestValidateCashRunsOut(t *testing.T) {
	t.Parallel()

	v := NewValidator(DefaultPolicy())
	// 5% of 10000 is 500, only 600 cash: second buy gets 100, third nothing.
	res := v.Validate([]Proposal{
		buy(1, "A", 0.9, 5, "10"),
		buy(2, "B", 0.8, 5, "10"),
		buy(3, "C", 0.7, 5, "10"),
	}, state("10000", "600"))

	require.Len(t, res.Approved, 2)
	assert.True(t, res.Approved[0].EstimatedValue.Equal(dec("500")))
	assert.True(t, res.Approved[1].EstimatedValue.Equal(dec("100")))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "C", res.Rejected[0].Ticker)
}

func TestValidateQuantityTruncated(t *testing.T) {
	t.Parallel()

	v := NewValidator(DefaultPolicy())
	res := v.Validate([]Proposal{buy(1, "A", 0.9, 3, "3")}, state("10000", "10000"))

	require.Len(t, res.Approved, 1)
	a := res.Approved[0]
	// 300 / 3 is exact; use a price that is not.
	assert.True(t, a.Quantity.Equal(dec("100")))

	res = v.Validate([]Proposal{buy(1, "A", 0.9, 3, "7")}, state("10000", "10000"))
	require.Len(t, res.Approved, 1)
	assert.Equal(t, "42.857142", res.Approved[0].Quantity.String())
	assert.True(t, res.Approved[0].EstimatedValue.LessThanOrEqual(dec("300")))
}

func TestValidateZeroPriceRejected(t *testing.T) {
	t.Parallel()

	res := NewValidator(DefaultPolicy()).Validate([]Proposal{buy(1, "A", 0.9, 3, "0")}, state("10000", "10000"))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonInsufficient, res.Rejected[0].Reason)
}

func TestValidateUnsupportedAction(t *testing.T) {
	t.Parallel()

	p := buy(1, "A", 0.5, 3, "10")
	p.Action = Hold
	res := NewValidator(DefaultPolicy()).Validate([]Proposal{p}, state("10000", "10000"))
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, CodeBadAction, res.Rejected[0].Code)
}

func TestValidateInternalFaultApprovesNothing(t *testing.T) {
	t.Parallel()

	// A NaN allocation cannot become a decimal; sizing panics mid-run.
	st := state("1000", "1000", held(1, "OLD", "50"))
	res := NewValidator(DefaultPolicy()).Validate([]Proposal{
		sell(1, "OLD", "20"),
		buy(2, "NEW", 0.9, math.NaN(), "10"),
	}, st)

	assert.Empty(t, res.Approved, "the sell approved before the fault is dropped too")
	assert.Empty(t, res.Rejected)
}

func TestValidateProperties(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicy()
	pol.MaxPositions = 4
	v := NewValidator(pol)

	st := state("20000", "3000", held(1, "A", "100"), held(2, "B", "5"))
	proposals := []Proposal{
		sell(1, "A", "12.5"),
		sell(7, "Z", "1"),
		buy(3, "C", 0.9, 10, "33.33"),
		buy(4, "D", 0.6, 2, "250"),
		buy(5, "E", 0.6, 0.1, "5"),
		buy(6, "F", 0.3, 5, "0.01"),
	}
	res := v.Validate(proposals, st)

	assert.Equal(t, len(proposals), len(res.Approved)+len(res.Rejected))

	seen := map[string]int{}
	for _, a := range res.Approved {
		seen[a.Ticker]++
		if a.Side == Buy {
			assert.True(t, a.EstimatedValue.LessThanOrEqual(PctOf(st.TotalValue, pol.MaxPositionPct)), a.Ticker)
			assert.True(t, a.EstimatedValue.GreaterThanOrEqual(pol.MinTradeValue), a.Ticker)
		} else {
			assert.True(t, a.Quantity.Equal(st.Positions[a.InstrumentID].Quantity))
		}
	}
	for _, r := range res.Rejected {
		seen[r.Ticker]++
	}
	for ticker, n := range seen {
		assert.Equal(t, 1, n, ticker)
	}
}

func TestBuySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		price     string
		alloc     float64
		total     string
		cash      string
		wantOK    bool
		wantValue string
	}{
		{"requested below cap", "10", 2, "10000", "10000", true, "200"},
		{"capped at max pct", "10", 20, "10000", "10000", true, "500"},
		{"capped at cash", "10", 5, "10000", "150", true, "150"},
		{"below min", "10", 0.5, "10000", "10000", false, ""},
		{"negative price", "-1", 5, "10000", "10000", false, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, value, ok := BuySize(DefaultPolicy(), dec(tt.price), tt.alloc, dec(tt.total), dec(tt.cash))
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.True(t, value.Equal(dec(tt.wantValue)), value.String())
			}
		})
	}
}
