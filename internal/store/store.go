package store

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pulsetrader/pkg/model"
)

const (
	dbFileName = "stock_data.db"
	dateLayout = "2006-01-02"
)

// StorageError wraps any persistence failure. Callers treat a failed read as
// a cache miss and a failed write as fatal for the current run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store is the sqlite-backed persistent cache: raw bars, security
// directories, the trading calendar, computed indicators and derived signals.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the cache directory if needed, opens the database in WAL mode
// and ensures the schema exists.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storeErr("mkdir", err)
	}

	path := filepath.Join(dir, dbFileName)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storeErr("open", err)
	}

	// Single-user tool: one writer connection is enough.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, storeErr("schema", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db, path: path}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol     TEXT NOT NULL,
			name       TEXT NOT NULL,
			market     TEXT NOT NULL,
			date       TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     INTEGER,
			change_pct REAL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (symbol, date)
		);

		CREATE TABLE IF NOT EXISTS securities (
			market     TEXT NOT NULL,
			code       TEXT NOT NULL,
			name       TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (market, code)
		);

		CREATE TABLE IF NOT EXISTS trading_days (
			date       TEXT PRIMARY KEY,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS indicators (
			symbol     TEXT NOT NULL,
			name       TEXT NOT NULL,
			date       TEXT NOT NULL,
			rsi14      REAL,
			ma10       REAL,
			change_pct REAL,
			upper_band REAL,
			lower_band REAL,
			band_value REAL,
			trend      INTEGER NOT NULL DEFAULT 0,
			low_vol    INTEGER NOT NULL DEFAULT 0,
			high_vol   INTEGER NOT NULL DEFAULT 0,
			sky_vol    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (symbol, date)
		);

		CREATE TABLE IF NOT EXISTS divergences (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol           TEXT NOT NULL,
			name             TEXT NOT NULL,
			date             TEXT NOT NULL,
			prev_date        TEXT NOT NULL,
			kind             TEXT NOT NULL,
			timeframe        TEXT NOT NULL,
			rsi_change       REAL NOT NULL,
			price_change_pct REAL NOT NULL,
			confidence       REAL NOT NULL,
			bars_between     INTEGER NOT NULL,
			price            REAL NOT NULL,
			prev_price       REAL NOT NULL,
			rsi              REAL NOT NULL,
			prev_rsi         REAL NOT NULL,
			created_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trend_signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			name       TEXT NOT NULL,
			date       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			price      REAL NOT NULL,
			band_value REAL NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bars_name ON bars(name);
		CREATE INDEX IF NOT EXISTS idx_securities_name ON securities(name);
		CREATE INDEX IF NOT EXISTS idx_divergences_symbol ON divergences(symbol, date);
		CREATE INDEX IF NOT EXISTS idx_divergences_confidence ON divergences(confidence);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_date ON trend_signals(symbol, date);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Status summarizes cache contents for the CLI.
type Status struct {
	BarCount      int64
	SecurityCount int64
	LastUpdate    string
	SizeBytes     int64
}

// Status reports row counts and the most recent bar update.
func (s *Store) Status() (*Status, error) {
	st := &Status{}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bars`).Scan(&st.BarCount); err != nil {
		return nil, storeErr("status", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT symbol) FROM bars`).Scan(&st.SecurityCount); err != nil {
		return nil, storeErr("status", err)
	}
	var last sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(updated_at) FROM bars`).Scan(&last); err != nil {
		return nil, storeErr("status", err)
	}
	st.LastUpdate = last.String
	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

// Clear removes cached bars for one symbol, or everything when symbol is
// empty. Derived rows for the symbol are removed as well.
func (s *Store) Clear(symbol string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("clear", err)
	}
	tables := []string{"bars", "indicators", "divergences", "trend_signals"}
	for _, table := range tables {
		var execErr error
		if symbol == "" {
			_, execErr = tx.Exec(fmt.Sprintf(`DELETE FROM %s`, table))
		} else {
			_, execErr = tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE symbol = ?`, table), symbol)
		}
		if execErr != nil {
			tx.Rollback()
			return storeErr("clear", execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("clear", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// fresherThan reports whether an RFC3339 timestamp is within ttl of now.
func fresherThan(stamp string, ttl time.Duration) bool {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return false
	}
	return time.Since(t) < ttl
}

func nullFloat(f model.Float) sql.NullFloat64 {
	if f.IsNaN() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: float64(f), Valid: true}
}

func floatOrNaN(f sql.NullFloat64) model.Float {
	if !f.Valid {
		return model.Float(math.NaN())
	}
	return model.Float(f.Float64)
}
