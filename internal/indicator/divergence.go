package indicator

import (
	"math"
	"sort"

	"pulsetrader/pkg/model"
)

// timeframeParams are the extrema-detection scales. Wider windows demand
// wider spacing between accepted extrema.
type timeframeParams struct {
	timeframe   model.Timeframe
	window      int
	minDistance int
	timeWeight  float64
}

var timeframes = []timeframeParams{
	{model.TimeframeShort, 20, 5, 0.25},
	{model.TimeframeMedium, 60, 30, 0.30},
	{model.TimeframeLong, 90, 50, 0.35},
}

// DivergenceThresholds are the tunable acceptance constants. The overbought
// and oversold values are the interval-crossing requirements; the short
// timeframe gets its own looser pair.
type DivergenceThresholds struct {
	MinConfidence   float64
	OverboughtShort float64
	Overbought      float64
	OversoldShort   float64
	Oversold        float64
}

// DefaultDivergenceThresholds returns the tuned default constants.
func DefaultDivergenceThresholds() DivergenceThresholds {
	return DivergenceThresholds{
		MinConfidence:   30,
		OverboughtShort: 60,
		Overbought:      65,
		OversoldShort:   35,
		Oversold:        30,
	}
}

// findExtrema scans the series with a sliding window, stepping by
// max(1, minDistance/3). A window max becomes a peak only when it sits in the
// central half of the window, keeps minDistance from the previous accepted
// peak and is >= both immediate neighbors (flat plateaus are rejected).
// Troughs are symmetric with <=. Both index lists come back deduplicated and
// ascending.
func findExtrema(series []float64, window, minDistance int) (peaks, troughs []int) {
	n := len(series)
	if n < window {
		return nil, nil
	}

	step := minDistance / 3
	if step < 1 {
		step = 1
	}
	lo, hi := window/4, 3*window/4
	lastPeak, lastTrough := -n, -n

	for s := 0; s+window <= n; s += step {
		maxI, minI := s, s
		for i := s + 1; i < s+window; i++ {
			if series[i] > series[maxI] {
				maxI = i
			}
			if series[i] < series[minI] {
				minI = i
			}
		}

		if p := maxI - s; p >= lo && p <= hi {
			if maxI-lastPeak >= minDistance && maxI > 0 && maxI < n-1 &&
				series[maxI] >= series[maxI-1] && series[maxI] >= series[maxI+1] {
				peaks = append(peaks, maxI)
				lastPeak = maxI
			}
		}
		if p := minI - s; p >= lo && p <= hi {
			if minI-lastTrough >= minDistance && minI > 0 && minI < n-1 &&
				series[minI] <= series[minI-1] && series[minI] <= series[minI+1] {
				troughs = append(troughs, minI)
				lastTrough = minI
			}
		}
	}
	return dedupe(peaks), dedupe(troughs)
}

func dedupe(idx []int) []int {
	if len(idx) < 2 {
		return idx
	}
	sort.Ints(idx)
	out := idx[:1]
	for _, v := range idx[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// intervalStats returns the min and max of osc and the min and max of price
// over [prev, cur], skipping undefined oscillator cells.
func intervalStats(prices, osc []float64, prev, cur int) (oscMin, oscMax, priceMin, priceMax float64) {
	oscMin, oscMax = math.Inf(1), math.Inf(-1)
	priceMin, priceMax = math.Inf(1), math.Inf(-1)
	for i := prev; i <= cur; i++ {
		if !math.IsNaN(osc[i]) {
			oscMin = math.Min(oscMin, osc[i])
			oscMax = math.Max(oscMax, osc[i])
		}
		priceMin = math.Min(priceMin, prices[i])
		priceMax = math.Max(priceMax, prices[i])
	}
	return
}

// validDivergence checks the timeframe-dependent acceptance rules for a pair
// of same-kind extrema at indices prev < cur.
func validDivergence(prices, osc []float64, prev, cur int, kind model.DivergenceKind, tf model.Timeframe, th DivergenceThresholds) bool {
	if math.IsNaN(osc[prev]) || math.IsNaN(osc[cur]) {
		return false
	}
	oscMin, oscMax, priceMin, priceMax := intervalStats(prices, osc, prev, cur)

	if kind == model.Bearish {
		if prices[cur] <= prices[prev]*1.001 {
			return false
		}
		if osc[cur] >= osc[prev]*0.995 {
			return false
		}
		if !inRange(osc[cur], 55, 90) && !inRange(osc[prev], 55, 90) {
			return false
		}
		overbought := th.Overbought
		if tf == model.TimeframeShort {
			overbought = th.OverboughtShort
		}
		if oscMax < overbought {
			return false
		}
		// Tolerate a peak that is not the absolute interval max, but only
		// just: the current price must sit within 2% of it.
		if tf == model.TimeframeMedium && prices[cur] < priceMax*0.98 {
			return false
		}
		return true
	}

	if prices[cur] >= prices[prev]*0.999 {
		return false
	}
	if osc[cur] <= osc[prev]*1.01 {
		return false
	}
	if !inRange(osc[cur], 15, 45) && !inRange(osc[prev], 15, 45) {
		return false
	}
	oversold := th.Oversold
	if tf == model.TimeframeShort {
		oversold = th.OversoldShort
	}
	if oscMin > oversold {
		return false
	}
	if tf == model.TimeframeMedium && prices[cur] > priceMin*1.02 {
		return false
	}
	return true
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// divergenceConfidence blends recency, oscillator extremity and momentum
// change into a 0-100 score, rounded to one decimal.
func divergenceConfidence(barsBetween int, p timeframeParams, oscCur, oscPrev float64, kind model.DivergenceKind) float64 {
	timeFactor := math.Exp(-float64(barsBetween) / float64(2*p.window))

	var oscFactor float64
	if kind == model.Bearish {
		oscFactor = clamp01((math.Max(oscCur, oscPrev) - 55) / 30)
	} else {
		oscFactor = clamp01((45 - math.Min(oscCur, oscPrev)) / 30)
	}
	trendFactor := clamp01(math.Abs(oscCur-oscPrev) / 30)

	confidence := (timeFactor*p.timeWeight + oscFactor*0.35 + trendFactor*0.35) * 100
	return math.Round(confidence*10) / 10
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DetectDivergences finds price/oscillator divergences across the three
// timeframes independently. Peak pairs are tested for bearish divergence,
// trough pairs for bullish. Events below the confidence floor are discarded;
// the result is sorted by confidence descending.
func DetectDivergences(bars []model.Bar, osc []model.OscillatorPoint, th DivergenceThresholds) []model.DivergenceEvent {
	prices := make([]float64, len(bars))
	oscVals := make([]float64, len(osc))
	for i := range bars {
		prices[i] = bars[i].Close
	}
	for i := range osc {
		oscVals[i] = float64(osc[i].Value)
	}

	var events []model.DivergenceEvent
	for _, p := range timeframes {
		peaks, troughs := findExtrema(prices, p.window, p.minDistance)
		events = append(events, scanPairs(bars, prices, oscVals, peaks, model.Bearish, p, th)...)
		events = append(events, scanPairs(bars, prices, oscVals, troughs, model.Bullish, p, th)...)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Confidence > events[j].Confidence })
	return events
}

func scanPairs(bars []model.Bar, prices, osc []float64, extrema []int, kind model.DivergenceKind, p timeframeParams, th DivergenceThresholds) []model.DivergenceEvent {
	var events []model.DivergenceEvent
	for i := 1; i < len(extrema); i++ {
		prev, cur := extrema[i-1], extrema[i]
		if !validDivergence(prices, osc, prev, cur, kind, p.timeframe, th) {
			continue
		}

		barsBetween := cur - prev
		confidence := divergenceConfidence(barsBetween, p, osc[cur], osc[prev], kind)
		if confidence < th.MinConfidence {
			continue
		}

		events = append(events, model.DivergenceEvent{
			Date:           bars[cur].Date,
			PrevDate:       bars[prev].Date,
			Kind:           kind,
			Timeframe:      p.timeframe,
			RSIChange:      osc[cur] - osc[prev],
			PriceChangePct: math.Round((prices[cur]-prices[prev])/prices[prev]*1000) / 10,
			Confidence:     confidence,
			BarsBetween:    barsBetween,
			Price:          prices[cur],
			PrevPrice:      prices[prev],
			RSI:            osc[cur],
			PrevRSI:        osc[prev],
		})
	}
	return events
}
