package indicator

import (
	"testing"
	"time"

	"pulsetrader/pkg/model"
)

func volumeBars(n int, volume int64) []model.Bar {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = model.Bar{
			Date:   base.AddDate(0, 0, i),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100,
			Volume: volume,
		}
	}
	return bars
}

// A bar at the 50-day volume minimum that fails the breakout gain conditions
// is flagged low only, never high.
func TestVolumeLowOnly(t *testing.T) {
	bars := volumeBars(60, 1000)
	bars[59].Volume = 500 // flat price, so no gain conditions hold

	flags := VolumeSeries(bars)
	last := flags[59]

	if !last.Low {
		t.Error("Expected low-volume flag at the 50-day minimum")
	}
	if last.High || last.Spike {
		t.Errorf("Flat bar must not be high or spike: %+v", last)
	}
	if last.Min50 != 500 {
		t.Errorf("Expected min50 = 500, got %v", last.Min50)
	}
}

func TestVolumeHighAndSpike(t *testing.T) {
	bars := volumeBars(60, 1000)
	// Breakout bar: 20-day max volume, well above 3.5x the 20-day average,
	// close at the 20-day high with both gain conditions satisfied.
	bars[59] = model.Bar{
		Date:   bars[59].Date,
		Open:   100,
		High:   104,
		Low:    99,
		Close:  103,
		Volume: 50000,
	}

	flags := VolumeSeries(bars)
	last := flags[59]

	if !last.High {
		t.Errorf("Expected high-volume flag on the breakout bar: %+v", last)
	}
	if !last.Spike {
		t.Errorf("Expected spike flag, volume is far above 3.5x avg: %+v", last)
	}
	if last.Low {
		t.Error("Breakout bar cannot also be the 50-day minimum")
	}
}

func TestVolumeHighRequiresGain(t *testing.T) {
	bars := volumeBars(60, 1000)
	// Max volume but a down day: not a breakout.
	bars[59] = model.Bar{
		Date:   bars[59].Date,
		Open:   100,
		High:   100,
		Low:    97,
		Close:  98,
		Volume: 50000,
	}

	flags := VolumeSeries(bars)
	if flags[59].High || flags[59].Spike {
		t.Errorf("Down day must not be flagged high or spike: %+v", flags[59])
	}
}

func TestVolumeBaselinesShrinkAtStart(t *testing.T) {
	bars := volumeBars(5, 2000)
	flags := VolumeSeries(bars)

	// Windows shorter than 20/50 bars still produce baselines.
	for i, f := range flags {
		if f.Avg20 != 2000 || f.Max20 != 2000 || f.Min50 != 2000 {
			t.Errorf("Bar %d: expected shrunken-window baselines of 2000, got %+v", i, f)
		}
	}
}
