package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradeagent/market"
)

// Bollinger is a streaming Bollinger Bands indicator: a rolling mean of closes
// plus and minus k population standard deviations.
type Bollinger struct {
	period int
	k      float64
	sma    *SimpleMA
	last   float64
}

// NewBollinger creates Bollinger Bands with the given period and width.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, sma: NewSMA(period)}
}

func (bb *Bollinger) Name() string {
	return fmt.Sprintf("BB(%d,%g)", bb.period, bb.k)
}

func (bb *Bollinger) Warmup() int {
	return bb.period
}

func (bb *Bollinger) Reset() {
	bb.sma.Reset()
	bb.last = 0
}

func (bb *Bollinger) Update(b market.Bar) {
	bb.sma.Update(b)
	bb.last = Close(b)
}

func (bb *Bollinger) Ready() bool {
	return bb.sma.Ready()
}

// Bands returns upper, middle and lower bands.
func (bb *Bollinger) Bands() (upper, middle, lower float64) {
	if !bb.Ready() {
		return 0, 0, 0
	}
	middle = bb.sma.Value()
	var ss float64
	for _, v := range bb.sma.window {
		d := v - middle
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(bb.sma.window)))
	return middle + bb.k*std, middle, middle - bb.k*std
}

// PercentB is the position of the latest close within the bands. A zero
// width band yields 0.
func (bb *Bollinger) PercentB() float64 {
	upper, _, lower := bb.Bands()
	if upper == lower {
		return 0
	}
	return (bb.last - lower) / (upper - lower)
}

// Value is PercentB.
func (bb *Bollinger) Value() float64 {
	return bb.PercentB()
}
