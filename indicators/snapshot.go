package indicators

import (
	"errors"
	"math"

	"github.com/rustyeddy/tradeagent/market"
)

// ErrNoBars is returned by Compute for an empty series.
var ErrNoBars = errors.New("no price bars")

// Params holds indicator periods.
type Params struct {
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BollingerPeriod int
	BollingerStd    float64
	SMAShort        int
	SMALong         int
	EMAShort        int
	EMALong         int
	VolumeSMAPeriod int
}

// DefaultParams returns the standard daily-chart periods.
func DefaultParams() Params {
	return Params{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerStd:    2,
		SMAShort:        50,
		SMALong:         200,
		EMAShort:        12,
		EMALong:         26,
		VolumeSMAPeriod: 20,
	}
}

// MACDValues is the MACD block of a snapshot.
type MACDValues struct {
	Line      float64 `json:"macd_line"`
	Signal    float64 `json:"signal_line"`
	Histogram float64 `json:"histogram"`
	Direction string  `json:"direction"`
}

// BollingerValues is the Bollinger block of a snapshot.
type BollingerValues struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	PBand  float64 `json:"pband"`
}

// Snapshot is the latest indicator reading for one instrument. Indicators
// without enough history are nil.
type Snapshot struct {
	LatestClose     float64          `json:"latest_close"`
	LatestVolume    int64            `json:"latest_volume"`
	DataPoints      int              `json:"data_points"`
	RSI             *float64         `json:"rsi"`
	MACD            *MACDValues      `json:"macd"`
	Bollinger       *BollingerValues `json:"bollinger"`
	SMAShort        *float64         `json:"sma_short"`
	SMALong         *float64         `json:"sma_long"`
	EMAShort        *float64         `json:"ema_short"`
	EMALong         *float64         `json:"ema_long"`
	VolumeSMA       *float64         `json:"volume_sma"`
	SMACrossBullish *bool            `json:"sma_cross_bullish"`
}

// Compute runs every indicator over bars (any order; sorted by date here)
// and returns the reading after the last bar.
func Compute(bars []market.Bar, p Params) (Snapshot, error) {
	if len(bars) == 0 {
		return Snapshot{}, ErrNoBars
	}
	sorted := make([]market.Bar, len(bars))
	copy(sorted, bars)
	market.SortBars(sorted)

	rsi := NewRSI(p.RSIPeriod)
	macd := NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal)
	bb := NewBollinger(p.BollingerPeriod, p.BollingerStd)
	smaShort := NewSMA(p.SMAShort)
	smaLong := NewSMA(p.SMALong)
	emaShort := NewEMA(p.EMAShort)
	emaLong := NewEMA(p.EMALong)
	volSMA := NewVolumeSMA(p.VolumeSMAPeriod)

	all := []Indicator{rsi, macd, bb, smaShort, smaLong, emaShort, emaLong, volSMA}
	for _, b := range sorted {
		for _, ind := range all {
			ind.Update(b)
		}
	}

	last := sorted[len(sorted)-1]
	n := len(sorted)
	s := Snapshot{
		LatestClose:  Close(last),
		LatestVolume: last.Volume,
		DataPoints:   n,
	}

	if rsi.Ready() {
		s.RSI = finite(Round(rsi.Value(), 2))
	}
	if n >= p.MACDSlow+p.MACDSignal && macd.Ready() {
		line, sig, hist := macd.Line(), macd.Signal(), macd.Histogram()
		if isFinite(line) && isFinite(sig) && isFinite(hist) {
			s.MACD = &MACDValues{
				Line:      Round(line, 4),
				Signal:    Round(sig, 4),
				Histogram: Round(hist, 4),
				Direction: Direction(line, sig, hist),
			}
		}
	}
	if bb.Ready() {
		upper, middle, lower := bb.Bands()
		s.Bollinger = &BollingerValues{
			Upper:  Round(upper, 4),
			Middle: Round(middle, 4),
			Lower:  Round(lower, 4),
			PBand:  Round(bb.PercentB(), 4),
		}
	}
	s.SMAShort = ready(smaShort, 4)
	s.SMALong = ready(smaLong, 4)
	s.EMAShort = ready(emaShort, 4)
	s.EMALong = ready(emaLong, 4)
	s.VolumeSMA = ready(volSMA, 2)

	if s.SMAShort != nil && s.SMALong != nil {
		bullish := *s.SMAShort > *s.SMALong
		s.SMACrossBullish = &bullish
	}
	return s, nil
}

type readyValue interface {
	Indicator
	ValueF64
}

func ready(ind readyValue, places int) *float64 {
	if !ind.Ready() {
		return nil
	}
	return finite(Round(ind.Value(), places))
}

func finite(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round rounds v half away from zero to the given decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
