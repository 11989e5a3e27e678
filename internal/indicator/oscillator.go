package indicator

import (
	"math"

	"pulsetrader/pkg/model"
)

// Oscillator computes the Wilder-smoothed momentum oscillator (RSI) over the
// closing-price series. The running average gain/loss is seeded at index
// period as the simple mean of the first period+1 values and smoothed with
// ((period-1)·avg + v)/period afterwards. Values before index period are NaN;
// with fewer than period+1 bars the whole series is NaN rather than an error.
func Oscillator(bars []model.Bar, period int) []model.OscillatorPoint {
	n := len(bars)
	points := make([]model.OscillatorPoint, n)
	for i := range points {
		points[i] = model.OscillatorPoint{Date: bars[i].Date, Value: model.Float(math.NaN())}
	}
	if n <= period {
		return points
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var sumGain, sumLoss float64
	for i := 0; i <= period; i++ {
		sumGain += gains[i]
		sumLoss += losses[i]
	}
	avgGain := sumGain / float64(period+1)
	avgLoss := sumLoss / float64(period+1)
	points[period].Value = model.Float(oscValue(avgGain, avgLoss))

	for i := period + 1; i < n; i++ {
		avgGain = (float64(period-1)*avgGain + gains[i]) / float64(period)
		avgLoss = (float64(period-1)*avgLoss + losses[i]) / float64(period)
		points[i].Value = model.Float(oscValue(avgGain, avgLoss))
	}
	return points
}

// oscValue maps average gain/loss to the bounded 0-100 scale, rounded to one
// decimal. Zero average loss saturates at 100.
func oscValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return math.Round((100-100/(1+rs))*10) / 10
}
