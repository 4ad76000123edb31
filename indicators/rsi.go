package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeagent/market"
)

// RSI is a streaming Relative Strength Index using Wilder smoothing
// (alpha = 1/period) of close-to-close gains and losses.
type RSI struct {
	period  int
	alpha   float64
	avgUp   float64
	avgDown float64
	prev    float64
	count   int
}

// NewRSI creates an RSI with the given period.
func NewRSI(period int) *RSI {
	return &RSI{period: period, alpha: 1.0 / float64(period)}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d)", r.period)
}

// Warmup is period+1 bars: period price changes plus the first close.
func (r *RSI) Warmup() int {
	return r.period + 1
}

func (r *RSI) Reset() {
	r.avgUp, r.avgDown, r.prev, r.count = 0, 0, 0, 0
}

func (r *RSI) Update(b market.Bar) {
	c := Close(b)
	var up, down float64
	if r.count > 0 {
		if diff := c - r.prev; diff > 0 {
			up = diff
		} else {
			down = -diff
		}
	}
	if r.count == 0 {
		r.avgUp, r.avgDown = up, down
	} else {
		r.avgUp = (1-r.alpha)*r.avgUp + r.alpha*up
		r.avgDown = (1-r.alpha)*r.avgDown + r.alpha*down
	}
	r.prev = c
	r.count++
}

func (r *RSI) Ready() bool {
	return r.period > 0 && r.count >= r.Warmup()
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgDown == 0 {
		return 100
	}
	rs := r.avgUp / r.avgDown
	return 100 - 100/(1+rs)
}
