package model

import (
	"encoding/json"
	"math"
	"time"
)

// Market identifies the exchange a security trades on.
type Market string

const (
	MarketA  Market = "a"  // mainland A-share market
	MarketHK Market = "hk" // Hong Kong market
)

// Valid reports whether m is one of the supported markets.
func (m Market) Valid() bool {
	return m == MarketA || m == MarketHK
}

// DisplayName returns a human-readable market label.
func (m Market) DisplayName() string {
	if m == MarketHK {
		return "HK"
	}
	return "A-share"
}

// Timeframe is one of the divergence detection scales.
type Timeframe string

const (
	TimeframeShort  Timeframe = "short"
	TimeframeMedium Timeframe = "medium"
	TimeframeLong   Timeframe = "long"
)

// DivergenceKind labels the direction a divergence anticipates.
type DivergenceKind string

const (
	Bullish DivergenceKind = "bullish"
	Bearish DivergenceKind = "bearish"
)

// SignalKind labels a trend-change signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
)

// Float is a float64 that serializes NaN as JSON null. Indicator columns use
// it so warm-up bars survive a round trip through JSON output.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// IsNaN reports whether the value is undefined.
func (f Float) IsNaN() bool {
	return math.IsNaN(float64(f))
}

// Bar represents one daily OHLCV record for a security.
type Bar struct {
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	ChangePct float64   `json:"change_pct"` // day-over-day close change, percent
}

// Security represents a resolved instrument.
type Security struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market Market `json:"market"`
}

// TrendBandPoint is the per-bar output of the trend-band engine. Value is the
// band in effect: the lower band while up-trending, the upper band while
// down-trending. Direction is +1 up, -1 down, 0 undefined (warm-up).
type TrendBandPoint struct {
	Date      time.Time `json:"date"`
	Upper     Float     `json:"upper_band"`
	Lower     Float     `json:"lower_band"`
	Value     Float     `json:"band_value"`
	Direction int       `json:"direction"`
}

// OscillatorPoint is one oscillator sample; Value is NaN during warm-up.
type OscillatorPoint struct {
	Date  time.Time `json:"date"`
	Value Float     `json:"value"`
}

// DivergenceEvent is one accepted price/oscillator divergence between two
// same-kind extrema on the same timeframe.
type DivergenceEvent struct {
	Date           time.Time      `json:"date"`      // later extremum (event date)
	PrevDate       time.Time      `json:"prev_date"` // earlier extremum (reference)
	Kind           DivergenceKind `json:"kind"`
	Timeframe      Timeframe      `json:"timeframe"`
	RSIChange      float64        `json:"rsi_change"`
	PriceChangePct float64        `json:"price_change_pct"`
	Confidence     float64        `json:"confidence"`
	BarsBetween    int            `json:"bars_between"`
	Price          float64        `json:"price"`
	PrevPrice      float64        `json:"prev_price"`
	RSI            float64        `json:"rsi"`
	PrevRSI        float64        `json:"prev_rsi"`
}

// TrendSignal marks a trend-direction transition.
type TrendSignal struct {
	Date      time.Time  `json:"date"`
	Kind      SignalKind `json:"kind"`
	Price     float64    `json:"price"`
	BandValue float64    `json:"band_value"`
}

// VolumeFlags are the per-bar volume anomaly markers with the rolling
// baselines they were judged against.
type VolumeFlags struct {
	Low   bool    `json:"low"`   // volume equals the rolling 50-bar minimum
	High  bool    `json:"high"`  // 20-bar max volume on a breakout-like move
	Spike bool    `json:"spike"` // high plus volume > 3.5x the 20-bar average
	Avg20 float64 `json:"avg_20"`
	Max20 float64 `json:"max_20"`
	Min50 float64 `json:"min_50"`
}

// IndicatorRow joins every computed indicator for one (security, date).
type IndicatorRow struct {
	Date      time.Time   `json:"date"`
	RSI14     Float       `json:"rsi14"`
	MA10      Float       `json:"ma10"`
	ChangePct Float       `json:"change_pct"`
	Upper     Float       `json:"upper_band"`
	Lower     Float       `json:"lower_band"`
	BandValue Float       `json:"band_value"`
	Trend     int         `json:"trend"`
	Volume    VolumeFlags `json:"volume"`
}

// EnhancedBar is a raw bar joined with its indicator row; the chart renderer
// and report builder consume this shape.
type EnhancedBar struct {
	Bar       Bar          `json:"bar"`
	Indicator IndicatorRow `json:"indicator"`
}

// Summary is the structured indicator digest for a security: the latest
// indicator row plus recent high-confidence divergences and trend signals.
type Summary struct {
	Security    Security          `json:"security"`
	Date        time.Time         `json:"date"`
	LatestClose float64           `json:"latest_close"`
	Latest      IndicatorRow      `json:"latest"`
	ComputedAt  time.Time         `json:"computed_at"`
	Divergences []DivergenceEvent `json:"divergences"`
	Signals     []TrendSignal     `json:"signals"`
}
