package indicator

import (
	"math"

	"pulsetrader/pkg/model"
)

// Params are the engine knobs used to build the full indicator table.
type Params struct {
	TrendLookback    int
	TrendMultiplier  float64
	OscillatorPeriod int
	Divergence       DivergenceThresholds
}

// DefaultParams returns the standard engine parameters.
func DefaultParams() Params {
	return Params{
		TrendLookback:    14,
		TrendMultiplier:  2.0,
		OscillatorPeriod: 14,
		Divergence:       DefaultDivergenceThresholds(),
	}
}

// BuildRows joins the per-bar indicator columns: trend band, oscillator,
// 10-day moving average, daily change and volume flags.
func BuildRows(bars []model.Bar, band []model.TrendBandPoint, osc []model.OscillatorPoint) []model.IndicatorRow {
	volume := VolumeSeries(bars)
	ma10 := movingAverage(bars, 10)

	rows := make([]model.IndicatorRow, len(bars))
	for i := range bars {
		changePct := math.NaN()
		if i > 0 && bars[i-1].Close > 0 {
			changePct = math.Round((bars[i].Close/bars[i-1].Close-1)*10000) / 100
		}
		rows[i] = model.IndicatorRow{
			Date:      bars[i].Date,
			RSI14:     osc[i].Value,
			MA10:      ma10[i],
			ChangePct: model.Float(changePct),
			Upper:     band[i].Upper,
			Lower:     band[i].Lower,
			BandValue: band[i].Value,
			Trend:     band[i].Direction,
			Volume:    volume[i],
		}
	}
	return rows
}

// EnhanceBars zips raw bars with their indicator rows for the chart and
// report collaborators.
func EnhanceBars(bars []model.Bar, rows []model.IndicatorRow) []model.EnhancedBar {
	enhanced := make([]model.EnhancedBar, len(bars))
	for i := range bars {
		enhanced[i] = model.EnhancedBar{Bar: bars[i], Indicator: rows[i]}
	}
	return enhanced
}

// movingAverage is a strict-window simple moving average of closes; the first
// window-1 cells are undefined.
func movingAverage(bars []model.Bar, window int) []model.Float {
	out := make([]model.Float, len(bars))
	var sum float64
	for i := range bars {
		sum += bars[i].Close
		if i >= window {
			sum -= bars[i-window].Close
		}
		if i >= window-1 {
			out[i] = model.Float(math.Round(sum/float64(window)*100) / 100)
		} else {
			out[i] = model.Float(math.NaN())
		}
	}
	return out
}
