package indicator

import (
	"pulsetrader/pkg/model"
)

// VolumeSeries flags volume outliers against rolling baselines: a 20-bar
// mean and max, a 50-bar min, and the 20-bar price high. All windows shrink
// near the start of history rather than emitting undefined values.
//
// A low bar sits exactly at the 50-bar volume minimum. A high bar is the
// 20-bar volume maximum coinciding with a breakout-like move: close within
// 10% of the 20-bar high, day-over-day gain above 1.5% and open-to-close gain
// above 2%. A spike bar is a high bar whose volume also exceeds 3.5x the
// 20-bar average. High and spike can co-occur; low excludes both.
func VolumeSeries(bars []model.Bar) []model.VolumeFlags {
	n := len(bars)
	flags := make([]model.VolumeFlags, n)

	for i := 0; i < n; i++ {
		v := float64(bars[i].Volume)

		start20 := i - 19
		if start20 < 0 {
			start20 = 0
		}
		var sum20, max20, high20 float64
		for j := start20; j <= i; j++ {
			vj := float64(bars[j].Volume)
			sum20 += vj
			if vj > max20 {
				max20 = vj
			}
			if bars[j].High > high20 {
				high20 = bars[j].High
			}
		}
		avg20 := sum20 / float64(i-start20+1)

		start50 := i - 49
		if start50 < 0 {
			start50 = 0
		}
		min50 := float64(bars[start50].Volume)
		for j := start50 + 1; j <= i; j++ {
			if vj := float64(bars[j].Volume); vj < min50 {
				min50 = vj
			}
		}

		priceCondition := false
		if i > 0 && bars[i-1].Close > 0 && bars[i].Open > 0 {
			dayGain := (bars[i].Close/bars[i-1].Close - 1) * 100
			intradayGain := (bars[i].Close/bars[i].Open - 1) * 100
			priceCondition = dayGain > 1.5 && intradayGain > 2.0
		}
		nearHigh := high20 > 0 && bars[i].Close/high20 > 0.9

		high := v == max20 && nearHigh && priceCondition
		flags[i] = model.VolumeFlags{
			Low:   v == min50,
			High:  high,
			Spike: high && v > 3.5*avg20,
			Avg20: avg20,
			Max20: max20,
			Min50: min50,
		}
	}
	return flags
}
