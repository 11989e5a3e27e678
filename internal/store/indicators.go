package store

import (
	"database/sql"
	"time"

	"pulsetrader/pkg/model"
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PutIndicators upserts computed indicator rows keyed by (symbol, date).
func (s *Store) PutIndicators(symbol, name string, rows []model.IndicatorRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("put indicators", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicators
			(symbol, name, date, rsi14, ma10, change_pct, upper_band, lower_band, band_value,
			 trend, low_vol, high_vol, sky_vol, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return storeErr("put indicators", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, r := range rows {
		_, err := stmt.Exec(symbol, name, r.Date.Format(dateLayout),
			nullFloat(r.RSI14), nullFloat(r.MA10), nullFloat(r.ChangePct),
			nullFloat(r.Upper), nullFloat(r.Lower), nullFloat(r.BandValue),
			r.Trend, boolInt(r.Volume.Low), boolInt(r.Volume.High), boolInt(r.Volume.Spike), stamp)
		if err != nil {
			tx.Rollback()
			return storeErr("put indicators", err)
		}
	}

	return storeErr("put indicators", tx.Commit())
}

// ReplaceDivergences clears and reinserts divergence events for a symbol in
// one transaction; recomputing is cheap and avoids stale signals.
func (s *Store) ReplaceDivergences(symbol, name string, events []model.DivergenceEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("replace divergences", err)
	}
	if _, err := tx.Exec(`DELETE FROM divergences WHERE symbol = ?`, symbol); err != nil {
		tx.Rollback()
		return storeErr("replace divergences", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO divergences
			(symbol, name, date, prev_date, kind, timeframe, rsi_change, price_change_pct,
			 confidence, bars_between, price, prev_price, rsi, prev_rsi, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return storeErr("replace divergences", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, d := range events {
		_, err := stmt.Exec(symbol, name, d.Date.Format(dateLayout), d.PrevDate.Format(dateLayout),
			string(d.Kind), string(d.Timeframe), d.RSIChange, d.PriceChangePct,
			d.Confidence, d.BarsBetween, d.Price, d.PrevPrice, d.RSI, d.PrevRSI, stamp)
		if err != nil {
			tx.Rollback()
			return storeErr("replace divergences", err)
		}
	}

	return storeErr("replace divergences", tx.Commit())
}

// ReplaceTrendSignals clears and reinserts trend-change signals for a symbol.
func (s *Store) ReplaceTrendSignals(symbol, name string, signals []model.TrendSignal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("replace trend signals", err)
	}
	if _, err := tx.Exec(`DELETE FROM trend_signals WHERE symbol = ?`, symbol); err != nil {
		tx.Rollback()
		return storeErr("replace trend signals", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO trend_signals (symbol, name, date, kind, price, band_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return storeErr("replace trend signals", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, sig := range signals {
		_, err := stmt.Exec(symbol, name, sig.Date.Format(dateLayout),
			string(sig.Kind), sig.Price, sig.BandValue, stamp)
		if err != nil {
			tx.Rollback()
			return storeErr("replace trend signals", err)
		}
	}

	return storeErr("replace trend signals", tx.Commit())
}

// LatestSummary joins the most recent indicator row with the latest close,
// the top recent divergences at or above minConfidence, and the last trend
// signals. Returns nil when no indicators are stored for the symbol.
func (s *Store) LatestSummary(symbol string, minConfidence float64) (*model.Summary, error) {
	var (
		row      model.IndicatorRow
		name     string
		date     string
		computed string
		rsi14    sql.NullFloat64
		ma10     sql.NullFloat64
		chg      sql.NullFloat64
		upper    sql.NullFloat64
		lower    sql.NullFloat64
		band     sql.NullFloat64
		lowV     int
		highV    int
		skyV     int
	)
	err := s.db.QueryRow(`
		SELECT name, date, rsi14, ma10, change_pct, upper_band, lower_band, band_value,
		       trend, low_vol, high_vol, sky_vol, updated_at
		FROM indicators
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT 1
	`, symbol).Scan(&name, &date, &rsi14, &ma10, &chg, &upper, &lower, &band,
		&row.Trend, &lowV, &highV, &skyV, &computed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest summary", err)
	}

	row.Date, err = time.Parse(dateLayout, date)
	if err != nil {
		return nil, storeErr("latest summary", err)
	}
	row.RSI14 = floatOrNaN(rsi14)
	row.MA10 = floatOrNaN(ma10)
	row.ChangePct = floatOrNaN(chg)
	row.Upper = floatOrNaN(upper)
	row.Lower = floatOrNaN(lower)
	row.BandValue = floatOrNaN(band)
	row.Volume.Low = lowV != 0
	row.Volume.High = highV != 0
	row.Volume.Spike = skyV != 0

	summary := &model.Summary{
		Security: model.Security{Code: symbol, Name: name},
		Date:     row.Date,
		Latest:   row,
	}
	if t, err := time.Parse(time.RFC3339, computed); err == nil {
		summary.ComputedAt = t
	}

	var market sql.NullString
	err = s.db.QueryRow(`SELECT close, market FROM bars WHERE symbol = ? ORDER BY date DESC LIMIT 1`,
		symbol).Scan(&summary.LatestClose, &market)
	if err != nil && err != sql.ErrNoRows {
		return nil, storeErr("latest summary", err)
	}
	if market.Valid {
		summary.Security.Market = model.Market(market.String)
	}

	summary.Divergences, err = s.topDivergences(symbol, minConfidence, 3)
	if err != nil {
		return nil, err
	}
	summary.Signals, err = s.recentTrendSignals(symbol, 5)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Store) topDivergences(symbol string, minConfidence float64, limit int) ([]model.DivergenceEvent, error) {
	rows, err := s.db.Query(`
		SELECT date, prev_date, kind, timeframe, rsi_change, price_change_pct, confidence,
		       bars_between, price, prev_price, rsi, prev_rsi
		FROM divergences
		WHERE symbol = ? AND confidence >= ?
		ORDER BY date DESC, confidence DESC
		LIMIT ?
	`, symbol, minConfidence, limit)
	if err != nil {
		return nil, storeErr("query divergences", err)
	}
	defer rows.Close()

	var events []model.DivergenceEvent
	for rows.Next() {
		var d model.DivergenceEvent
		var date, prevDate, kind, timeframe string
		if err := rows.Scan(&date, &prevDate, &kind, &timeframe, &d.RSIChange, &d.PriceChangePct,
			&d.Confidence, &d.BarsBetween, &d.Price, &d.PrevPrice, &d.RSI, &d.PrevRSI); err != nil {
			return nil, storeErr("scan divergences", err)
		}
		d.Date, _ = time.Parse(dateLayout, date)
		d.PrevDate, _ = time.Parse(dateLayout, prevDate)
		d.Kind = model.DivergenceKind(kind)
		d.Timeframe = model.Timeframe(timeframe)
		events = append(events, d)
	}
	return events, storeErr("read divergences", rows.Err())
}

func (s *Store) recentTrendSignals(symbol string, limit int) ([]model.TrendSignal, error) {
	rows, err := s.db.Query(`
		SELECT date, kind, price, band_value
		FROM trend_signals
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, storeErr("query trend signals", err)
	}
	defer rows.Close()

	var signals []model.TrendSignal
	for rows.Next() {
		var sig model.TrendSignal
		var date, kind string
		if err := rows.Scan(&date, &kind, &sig.Price, &sig.BandValue); err != nil {
			return nil, storeErr("scan trend signals", err)
		}
		sig.Date, _ = time.Parse(dateLayout, date)
		sig.Kind = model.SignalKind(kind)
		signals = append(signals, sig)
	}
	return signals, storeErr("read trend signals", rows.Err())
}

// AnalyzedSecurity describes one symbol with stored indicator data.
type AnalyzedSecurity struct {
	Symbol     string
	Name       string
	LatestDate string
	RowCount   int64
}

// ListAnalyzed returns every symbol with stored indicator rows.
func (s *Store) ListAnalyzed() ([]AnalyzedSecurity, error) {
	rows, err := s.db.Query(`
		SELECT symbol, name, MAX(date), COUNT(*)
		FROM indicators
		GROUP BY symbol, name
		ORDER BY name
	`)
	if err != nil {
		return nil, storeErr("list analyzed", err)
	}
	defer rows.Close()

	var out []AnalyzedSecurity
	for rows.Next() {
		var a AnalyzedSecurity
		if err := rows.Scan(&a.Symbol, &a.Name, &a.LatestDate, &a.RowCount); err != nil {
			return nil, storeErr("list analyzed", err)
		}
		out = append(out, a)
	}
	return out, storeErr("list analyzed", rows.Err())
}
