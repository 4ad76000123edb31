package backtest

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// TradingDaysPerYear annualizes returns and the Sharpe ratio.
const TradingDaysPerYear = 252

// NewProgressGauge creates the progress gauge and registers it with reg
// when reg is not nil. A gauge already registered under the same name is
// reused.
func NewProgressGauge(reg prometheus.Registerer) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeagent_backtest_progress_ratio",
		Help: "Fraction of trading days processed by the running backtest",
	})
	if reg == nil {
		return g
	}
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
		panic(err)
	}
	return g
}

// TotalReturnPct is the change from the first to the last value in
// percent. It is 0 for fewer than two points or a non-positive start.
func TotalReturnPct(values []float64) float64 {
	if len(values) < 2 || values[0] <= 0 {
		return 0
	}
	first, last := values[0], values[len(values)-1]
	return (last - first) / first * 100
}

// AnnualizedReturnPct compounds a total return earned over days trading
// days to a yearly rate.
func AnnualizedReturnPct(totalReturnPct float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	v := (math.Pow(1+totalReturnPct/100, float64(TradingDaysPerYear)/float64(days)) - 1) * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// MaxDrawdownPct is the largest peak-to-trough drop in percent.
func MaxDrawdownPct(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	var maxDD float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// SharpeRatio is the annualized mean over population standard deviation
// of daily returns with a zero risk-free rate. It is 0 for fewer than
// three points or flat returns.
func SharpeRatio(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	var returns []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, (values[i]-values[i-1])/values[i-1])
		}
	}
	if len(returns) == 0 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// Compute scores an equity curve spanning days trading days.
func Compute(equity []EquityPoint, days, trades int, winRate float64) Metrics {
	values := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Value
	}
	total := TotalReturnPct(values)
	return Metrics{
		TotalReturnPct:      round2(total),
		AnnualizedReturnPct: round2(AnnualizedReturnPct(total, days)),
		MaxDrawdownPct:      round2(MaxDrawdownPct(values)),
		SharpeRatio:         round2(SharpeRatio(values)),
		TotalTrades:         trades,
		WinRate:             round2(winRate),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
