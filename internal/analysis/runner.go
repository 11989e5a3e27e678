package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"pulsetrader/internal/config"
	"pulsetrader/internal/gateway"
	"pulsetrader/internal/indicator"
	"pulsetrader/internal/store"
	"pulsetrader/pkg/model"
)

// periodDays maps lookback tokens to calendar day counts.
var periodDays = map[string]int{
	"1y": 365,
	"6m": 180,
	"1q": 90,
	"1m": 30,
}

// PeriodDays resolves a lookback token. Unknown tokens are an error so typos
// never silently analyze a year of data.
func PeriodDays(token string) (int, error) {
	days, ok := periodDays[token]
	if !ok {
		return 0, fmt.Errorf("unknown period %q (valid: 1y, 6m, 1q, 1m)", token)
	}
	return days, nil
}

// Result is everything one analysis run produced for a security.
type Result struct {
	RunID       string
	Security    model.Security
	Bars        []model.Bar
	Rows        []model.IndicatorRow
	Enhanced    []model.EnhancedBar
	Divergences []model.DivergenceEvent
	Signals     []model.TrendSignal
	Summary     *model.Summary
}

// Runner drives one security through resolve, fetch, compute and persist.
type Runner struct {
	gateway *gateway.Gateway
	store   *store.Store
	params  indicator.Params
}

// NewRunner creates a runner from the loaded configuration.
func NewRunner(gw *gateway.Gateway, st *store.Store, cfg *config.Config) *Runner {
	return &Runner{
		gateway: gw,
		store:   st,
		params: indicator.Params{
			TrendLookback:    cfg.Indicator.TrendLookback,
			TrendMultiplier:  cfg.Indicator.TrendMultiplier,
			OscillatorPeriod: cfg.Indicator.OscillatorPeriod,
			Divergence: indicator.DivergenceThresholds{
				MinConfidence:   cfg.Indicator.Divergence.MinConfidence,
				OverboughtShort: cfg.Indicator.Divergence.OverboughtShort,
				Overbought:      cfg.Indicator.Divergence.Overbought,
				OversoldShort:   cfg.Indicator.Divergence.OversoldShort,
				Oversold:        cfg.Indicator.Divergence.Oversold,
			},
		},
	}
}

// Run analyzes one security identified by a raw code or a display name.
// Errors are per-security; a caller looping over a batch keeps going.
func (r *Runner) Run(ctx context.Context, query, period string) (*Result, error) {
	days, err := PeriodDays(period)
	if err != nil {
		return nil, err
	}

	sec, err := r.resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()[:8]
	log.Printf("[analysis] run %s: %s (%s, %s market, %s)",
		runID, sec.Name, sec.Code, sec.Market.DisplayName(), period)

	start := time.Now().AddDate(0, 0, -days)
	bars, err := r.gateway.FetchBars(ctx, sec, start)
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", sec.Code, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bar history available for %s", sec.Code)
	}

	band := indicator.TrendBand(bars, r.params.TrendLookback, r.params.TrendMultiplier)
	osc := indicator.Oscillator(bars, r.params.OscillatorPeriod)
	rows := indicator.BuildRows(bars, band, osc)
	signals := indicator.TrendSignals(bars, band)
	divergences := indicator.DetectDivergences(bars, osc, r.params.Divergence)

	if err := r.store.PutIndicators(sec.Code, sec.Name, rows); err != nil {
		return nil, err
	}
	if err := r.store.ReplaceDivergences(sec.Code, sec.Name, divergences); err != nil {
		return nil, err
	}
	if err := r.store.ReplaceTrendSignals(sec.Code, sec.Name, signals); err != nil {
		return nil, err
	}

	summary, err := r.store.LatestSummary(sec.Code, r.params.Divergence.MinConfidence)
	if err != nil {
		return nil, err
	}

	log.Printf("[analysis] run %s: %d bars, %d divergences, %d trend signals",
		runID, len(bars), len(divergences), len(signals))

	return &Result{
		RunID:       runID,
		Security:    sec,
		Bars:        bars,
		Rows:        rows,
		Enhanced:    indicator.EnhanceBars(bars, rows),
		Divergences: divergences,
		Signals:     signals,
		Summary:     summary,
	}, nil
}

// resolve treats the query as a raw code first; a code-format mismatch is the
// signal to fall back to name search across markets.
func (r *Runner) resolve(ctx context.Context, query string) (model.Security, error) {
	sec, err := r.gateway.SecurityByCode(ctx, query)
	if err == nil {
		return sec, nil
	}
	var invalid *gateway.InvalidCodeError
	if !errors.As(err, &invalid) {
		return model.Security{}, err
	}
	return r.gateway.Resolve(ctx, query, "")
}
