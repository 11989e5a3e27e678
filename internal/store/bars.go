package store

import (
	"database/sql"
	"time"

	"pulsetrader/pkg/model"
)

// Bars returns cached bars for symbol within [start, end], ordered by date
// ascending. An empty slice means a cache miss.
func (s *Store) Bars(symbol string, start, end time.Time) ([]model.Bar, error) {
	rows, err := s.db.Query(`
		SELECT date, open, high, low, close, volume, change_pct
		FROM bars
		WHERE symbol = ? AND date BETWEEN ? AND ?
		ORDER BY date ASC
	`, symbol, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, storeErr("query bars", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var date string
		var changePct sql.NullFloat64
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &changePct); err != nil {
			return nil, storeErr("scan bars", err)
		}
		b.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, storeErr("parse bar date", err)
		}
		b.ChangePct = changePct.Float64
		bars = append(bars, b)
	}
	return bars, storeErr("read bars", rows.Err())
}

// PutBars upserts bars keyed by (symbol, date). Idempotent; re-fetched rows
// overwrite the cached copy.
func (s *Store) PutBars(symbol, name string, market model.Market, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("put bars", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, name, market, date, open, high, low, close, volume, change_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return storeErr("put bars", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, b := range bars {
		_, err := stmt.Exec(symbol, name, string(market), b.Date.Format(dateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.ChangePct, stamp)
		if err != nil {
			tx.Rollback()
			return storeErr("put bars", err)
		}
	}

	return storeErr("put bars", tx.Commit())
}

// LastCachedDate returns the most recent cached bar date for symbol.
func (s *Store) LastCachedDate(symbol string) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM bars WHERE symbol = ?`, symbol).Scan(&date)
	if err != nil {
		return time.Time{}, false, storeErr("last cached date", err)
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateLayout, date.String)
	if err != nil {
		return time.Time{}, false, storeErr("last cached date", err)
	}
	return t, true, nil
}

// PutDirectory replaces the security directory for a market.
func (s *Store) PutDirectory(market model.Market, rows []model.Security) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("put directory", err)
	}
	if _, err := tx.Exec(`DELETE FROM securities WHERE market = ?`, string(market)); err != nil {
		tx.Rollback()
		return storeErr("put directory", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO securities (market, code, name, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return storeErr("put directory", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, sec := range rows {
		if _, err := stmt.Exec(string(market), sec.Code, sec.Name, stamp); err != nil {
			tx.Rollback()
			return storeErr("put directory", err)
		}
	}

	return storeErr("put directory", tx.Commit())
}

// Directory returns the cached security directory for a market.
func (s *Store) Directory(market model.Market) ([]model.Security, error) {
	rows, err := s.db.Query(`SELECT code, name FROM securities WHERE market = ? ORDER BY code`, string(market))
	if err != nil {
		return nil, storeErr("query directory", err)
	}
	defer rows.Close()

	var secs []model.Security
	for rows.Next() {
		sec := model.Security{Market: market}
		if err := rows.Scan(&sec.Code, &sec.Name); err != nil {
			return nil, storeErr("scan directory", err)
		}
		secs = append(secs, sec)
	}
	return secs, storeErr("read directory", rows.Err())
}

// DirectoryFresh reports whether the cached directory for a market was
// refreshed within ttl.
func (s *Store) DirectoryFresh(market model.Market, ttl time.Duration) (bool, error) {
	var stamp sql.NullString
	err := s.db.QueryRow(`SELECT MAX(updated_at) FROM securities WHERE market = ?`, string(market)).Scan(&stamp)
	if err != nil {
		return false, storeErr("directory freshness", err)
	}
	return stamp.Valid && fresherThan(stamp.String, ttl), nil
}

// SecurityName looks up the canonical display name for a code, preferring the
// directory over the name stored with bars.
func (s *Store) SecurityName(code string) (string, bool, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM securities WHERE code = ? LIMIT 1`, code).Scan(&name)
	if err == nil && name != "" && name != code {
		return name, true, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return "", false, storeErr("security name", err)
	}
	err = s.db.QueryRow(`SELECT name FROM bars WHERE symbol = ? AND name != ? LIMIT 1`, code, code).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("security name", err)
	}
	return name, true, nil
}

// PutCalendar replaces the trading-day calendar.
func (s *Store) PutCalendar(dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("put calendar", err)
	}
	if _, err := tx.Exec(`DELETE FROM trading_days`); err != nil {
		tx.Rollback()
		return storeErr("put calendar", err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO trading_days (date, updated_at) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return storeErr("put calendar", err)
	}
	defer stmt.Close()

	stamp := now()
	for _, d := range dates {
		if _, err := stmt.Exec(d.Format(dateLayout), stamp); err != nil {
			tx.Rollback()
			return storeErr("put calendar", err)
		}
	}

	return storeErr("put calendar", tx.Commit())
}

// CalendarFresh reports whether the calendar was refreshed within ttl.
func (s *Store) CalendarFresh(ttl time.Duration) (bool, error) {
	var stamp sql.NullString
	err := s.db.QueryRow(`SELECT MAX(updated_at) FROM trading_days`).Scan(&stamp)
	if err != nil {
		return false, storeErr("calendar freshness", err)
	}
	return stamp.Valid && fresherThan(stamp.String, ttl), nil
}

// IsTradingDay reports whether date is an exchange trading day.
func (s *Store) IsTradingDay(date time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM trading_days WHERE date = ?`, date.Format(dateLayout)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is trading day", err)
	}
	return true, nil
}

// TradingDays returns every calendar day in [start, end], ordered ascending.
func (s *Store) TradingDays(start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.Query(`SELECT date FROM trading_days WHERE date BETWEEN ? AND ? ORDER BY date ASC`,
		start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, storeErr("query trading days", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, storeErr("scan trading days", err)
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, storeErr("parse trading day", err)
		}
		dates = append(dates, d)
	}
	return dates, storeErr("read trading days", rows.Err())
}

// LastTradingDay returns the most recent trading day on or before the given
// date. The second return is false when the calendar holds no such day.
func (s *Store) LastTradingDay(onOrBefore time.Time) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM trading_days WHERE date <= ?`,
		onOrBefore.Format(dateLayout)).Scan(&date)
	if err != nil {
		return time.Time{}, false, storeErr("last trading day", err)
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateLayout, date.String)
	if err != nil {
		return time.Time{}, false, storeErr("last trading day", err)
	}
	return t, true, nil
}
