package indicator

import (
	"math"

	"pulsetrader/pkg/model"
)

// wilderATR computes the Wilder-smoothed average true range. Values before
// index lookback are NaN.
func wilderATR(bars []model.Bar, lookback int) []float64 {
	n := len(bars)
	atr := make([]float64, n)
	for i := range atr {
		atr[i] = math.NaN()
	}
	if n <= lookback {
		return atr
	}

	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 1; i <= lookback; i++ {
		sum += tr[i]
	}
	atr[lookback] = sum / float64(lookback)
	for i := lookback + 1; i < n; i++ {
		atr[i] = (atr[i-1]*float64(lookback-1) + tr[i]) / float64(lookback)
	}
	return atr
}

// TrendBand computes the volatility-scaled trend channel. Basic bands are
// midpoint ± multiplier×ATR; the final bands ratchet — the upper band only
// moves down while price stays below it, the lower band only moves up while
// price stays above it. The band value is the boundary currently in effect
// (lower while up-trending, upper while down-trending) and direction follows
// close vs band value. The first lookback bars are undefined.
func TrendBand(bars []model.Bar, lookback int, multiplier float64) []model.TrendBandPoint {
	n := len(bars)
	nan := model.Float(math.NaN())
	points := make([]model.TrendBandPoint, n)
	for i := range points {
		points[i] = model.TrendBandPoint{Date: bars[i].Date, Upper: nan, Lower: nan, Value: nan}
	}

	atr := wilderATR(bars, lookback)

	var (
		upper, lower float64
		bullish      bool
		started      bool
	)
	for i := lookback; i < n; i++ {
		mid := (bars[i].High + bars[i].Low) / 2
		upperEval := mid + multiplier*atr[i]
		lowerEval := mid - multiplier*atr[i]

		if !started {
			started = true
			bullish = bars[i].Close >= mid
			upper = upperEval
			lower = lowerEval
		} else {
			prevClose := bars[i-1].Close
			if upperEval < upper || prevClose > upper {
				upper = upperEval
			}
			if lowerEval > lower || prevClose < lower {
				lower = lowerEval
			}
		}

		inEffect := upper
		if bullish {
			inEffect = lower
		}

		var value float64
		if bars[i].Close <= inEffect {
			value = upper
			bullish = false
		} else {
			value = lower
			bullish = true
		}

		points[i].Upper = model.Float(upper)
		points[i].Lower = model.Float(lower)
		points[i].Value = model.Float(value)
		switch {
		case bars[i].Close > value:
			points[i].Direction = 1
		case bars[i].Close < value:
			points[i].Direction = -1
		}
	}
	return points
}

// TrendSignals scans the direction sequence and emits a buy signal at each
// bar where direction becomes +1 after not being +1, and a sell signal at the
// symmetric flip to -1.
func TrendSignals(bars []model.Bar, points []model.TrendBandPoint) []model.TrendSignal {
	var signals []model.TrendSignal
	for i := 1; i < len(points); i++ {
		if points[i].Value.IsNaN() {
			continue
		}
		cur, prev := points[i].Direction, points[i-1].Direction
		var kind model.SignalKind
		switch {
		case cur == 1 && prev != 1:
			kind = model.SignalBuy
		case cur == -1 && prev != -1:
			kind = model.SignalSell
		default:
			continue
		}
		signals = append(signals, model.TrendSignal{
			Date:      bars[i].Date,
			Kind:      kind,
			Price:     bars[i].Close,
			BandValue: float64(points[i].Value),
		})
	}
	return signals
}
