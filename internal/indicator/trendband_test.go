package indicator

import (
	"math"
	"testing"

	"pulsetrader/pkg/model"
)

func TestTrendBandWarmup(t *testing.T) {
	points := TrendBand(barsFromCloses(wavyCloses(50)), 14, 2.0)

	for i := 0; i < 14; i++ {
		p := points[i]
		if !p.Upper.IsNaN() || !p.Lower.IsNaN() || !p.Value.IsNaN() {
			t.Errorf("Bar %d is warm-up, expected undefined bands: %+v", i, p)
		}
		if p.Direction != 0 {
			t.Errorf("Bar %d warm-up direction should be 0, got %d", i, p.Direction)
		}
	}
	for i := 14; i < len(points); i++ {
		if points[i].Value.IsNaN() {
			t.Errorf("Bar %d should have a band value", i)
		}
	}
}

// While the trend stays up the final lower band may only ratchet upward; a
// relaxation without a state flip violates the trailing-stop shape. Symmetric
// for the upper band in a downtrend.
func TestTrendBandRatchetMonotonicity(t *testing.T) {
	points := TrendBand(barsFromCloses(wavyCloses(200)), 14, 2.0)

	for i := 15; i < len(points); i++ {
		cur, prev := points[i], points[i-1]
		if cur.Value.IsNaN() || prev.Value.IsNaN() {
			continue
		}
		if cur.Direction == 1 && prev.Direction == 1 {
			if float64(cur.Lower) < float64(prev.Lower)-1e-9 {
				t.Errorf("Bar %d: lower band relaxed in uptrend: %v -> %v", i, prev.Lower, cur.Lower)
			}
		}
		if cur.Direction == -1 && prev.Direction == -1 {
			if float64(cur.Upper) > float64(prev.Upper)+1e-9 {
				t.Errorf("Bar %d: upper band relaxed in downtrend: %v -> %v", i, prev.Upper, cur.Upper)
			}
		}
	}
}

func TestTrendBandDirectionFollowsBand(t *testing.T) {
	bars := barsFromCloses(wavyCloses(150))
	points := TrendBand(bars, 14, 2.0)

	for i := 14; i < len(points); i++ {
		v := float64(points[i].Value)
		if math.IsNaN(v) {
			continue
		}
		switch {
		case bars[i].Close > v && points[i].Direction != 1:
			t.Errorf("Bar %d: close %.2f above band %.2f but direction %d", i, bars[i].Close, v, points[i].Direction)
		case bars[i].Close < v && points[i].Direction != -1:
			t.Errorf("Bar %d: close %.2f below band %.2f but direction %d", i, bars[i].Close, v, points[i].Direction)
		}
	}
}

func TestTrendSignalsAtTransitions(t *testing.T) {
	// Long decline followed by a strong rally forces at least one direction
	// flip and a buy signal at the flip bar.
	closes := make([]float64, 80)
	for i := 0; i < 40; i++ {
		closes[i] = 200 - 2*float64(i)
	}
	for i := 40; i < 80; i++ {
		closes[i] = closes[39] + 3*float64(i-39)
	}
	bars := barsFromCloses(closes)
	points := TrendBand(bars, 14, 2.0)
	signals := TrendSignals(bars, points)

	if len(signals) == 0 {
		t.Fatal("Expected at least one trend signal")
	}

	var sawBuy bool
	for _, sig := range signals {
		if sig.Kind == model.SignalBuy {
			sawBuy = true
		}
		// Every signal must land on a real transition bar.
		found := false
		for i := 1; i < len(points); i++ {
			if bars[i].Date.Equal(sig.Date) {
				prev := points[i-1].Direction
				if sig.Kind == model.SignalBuy && (points[i].Direction != 1 || prev == 1) {
					t.Errorf("Buy signal at %s not on an up transition", sig.Date.Format("2006-01-02"))
				}
				if sig.Kind == model.SignalSell && (points[i].Direction != -1 || prev == -1) {
					t.Errorf("Sell signal at %s not on a down transition", sig.Date.Format("2006-01-02"))
				}
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Signal date %s does not match any bar", sig.Date.Format("2006-01-02"))
		}
	}
	if !sawBuy {
		t.Error("Expected a buy signal after the rally began")
	}
}
