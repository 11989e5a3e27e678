package provider

import (
	"context"
	"time"

	"pulsetrader/pkg/model"
)

// Source defines the interface for market data sources
type Source interface {
	// Name returns the source name
	Name() string

	// DailyBars fetches daily OHLCV bars for a symbol within [start, end]
	DailyBars(ctx context.Context, symbol string, market model.Market, start, end time.Time) ([]model.Bar, error)

	// Directory fetches the full code/name listing for a market
	Directory(ctx context.Context, market model.Market) ([]model.Security, error)

	// TradingCalendar fetches the exchange trading-day calendar
	TradingCalendar(ctx context.Context) ([]time.Time, error)
}

// SourceError represents a source-specific error
type SourceError struct {
	Source    string
	Err       error
	Retryable bool
}

func (e *SourceError) Error() string {
	return e.Source + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
