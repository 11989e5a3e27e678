package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsetrader/internal/provider"
	"pulsetrader/internal/store"
	"pulsetrader/pkg/model"
)

// fakeSource serves canned data and counts calls per method. Setting barErr
// or dirErr makes the corresponding method fail.
type fakeSource struct {
	history  []model.Bar
	dirs     map[model.Market][]model.Security
	calendar []time.Time
	barErr   error
	dirErr   error

	barCalls int
	dirCalls map[model.Market]int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) DailyBars(ctx context.Context, symbol string, market model.Market, start, end time.Time) ([]model.Bar, error) {
	f.barCalls++
	if f.barErr != nil {
		return nil, f.barErr
	}
	var out []model.Bar
	for _, b := range f.history {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeSource) Directory(ctx context.Context, market model.Market) ([]model.Security, error) {
	if f.dirCalls == nil {
		f.dirCalls = make(map[model.Market]int)
	}
	f.dirCalls[market]++
	if f.dirErr != nil {
		return nil, f.dirErr
	}
	rows, ok := f.dirs[market]
	if !ok {
		return nil, &provider.SourceError{Source: "fake", Err: errors.New("no directory"), Retryable: false}
	}
	return rows, nil
}

func (f *fakeSource) TradingCalendar(ctx context.Context) ([]time.Time, error) {
	return f.calendar, nil
}

func day(offset int) time.Time {
	base := time.Now().UTC().Truncate(24 * time.Hour)
	return base.AddDate(0, 0, offset)
}

// history of n daily bars ending yesterday, doubling as the trading calendar.
func testHistory(n int) ([]model.Bar, []time.Time) {
	bars := make([]model.Bar, n)
	dates := make([]time.Time, n)
	for i := 0; i < n; i++ {
		d := day(i - n)
		dates[i] = d
		bars[i] = model.Bar{
			Date:   d,
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: int64(1000 + i),
		}
	}
	return bars, dates
}

func newTestGateway(t *testing.T, src *fakeSource) (*Gateway, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gw := New(src, st,
		NewDirectoryCache(src, st, time.Hour),
		NewCalendarCache(src, st, time.Hour))
	return gw, st
}

func TestDetectMarket(t *testing.T) {
	tests := []struct {
		input   string
		want    model.Market
		wantErr bool
	}{
		{"600519", model.MarketA, false},
		{"000001", model.MarketA, false},
		{"00700", model.MarketHK, false},
		{"03690", model.MarketHK, false},
		{"70000", "", true}, // five digits but no leading zero
		{"6005", "", true},
		{"abc123", "", true},
		{"贵州茅台", "", true},
		{" 600519 ", model.MarketA, false},
	}

	for _, tt := range tests {
		got, err := DetectMarket(tt.input)
		if tt.wantErr {
			var invalid *InvalidCodeError
			if !errors.As(err, &invalid) {
				t.Errorf("DetectMarket(%q): expected InvalidCodeError, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("DetectMarket(%q): unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DetectMarket(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestResolveExactDomesticSkipsSecondaryMarket(t *testing.T) {
	src := &fakeSource{
		dirs: map[model.Market][]model.Security{
			model.MarketA: {
				{Code: "600519", Name: "贵州茅台", Market: model.MarketA},
				{Code: "601318", Name: "中国平安", Market: model.MarketA},
			},
			model.MarketHK: {
				{Code: "00700", Name: "腾讯控股", Market: model.MarketHK},
			},
		},
	}
	gw, _ := newTestGateway(t, src)

	sec, err := gw.Resolve(context.Background(), "贵州茅台", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sec.Code != "600519" || sec.Market != model.MarketA {
		t.Errorf("Wrong resolution: %+v", sec)
	}
	if src.dirCalls[model.MarketHK] != 0 {
		t.Error("Exact domestic match must not query the HK directory")
	}
}

func TestResolveXDPrefix(t *testing.T) {
	src := &fakeSource{
		dirs: map[model.Market][]model.Security{
			model.MarketA: {
				{Code: "601006", Name: "XD大秦铁", Market: model.MarketA},
			},
			model.MarketHK: {},
		},
	}
	gw, _ := newTestGateway(t, src)

	sec, err := gw.Resolve(context.Background(), "大秦铁路", model.MarketA)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sec.Code != "601006" {
		t.Errorf("Expected ex-dividend rename match, got %+v", sec)
	}
}

func TestResolveNotFound(t *testing.T) {
	src := &fakeSource{
		dirs: map[model.Market][]model.Security{
			model.MarketA:  {{Code: "600519", Name: "贵州茅台", Market: model.MarketA}},
			model.MarketHK: {},
		},
	}
	gw, _ := newTestGateway(t, src)

	_, err := gw.Resolve(context.Background(), "不存在的股票", "")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestCalendarBoundsFallBackToWeekdays(t *testing.T) {
	mon := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // a Monday
	tue, wed, thu := mon.AddDate(0, 0, 1), mon.AddDate(0, 0, 2), mon.AddDate(0, 0, 3)

	// Wednesday is a holiday in the loaded window.
	src := &fakeSource{calendar: []time.Time{mon, tue, thu}}
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cal := NewCalendarCache(src, st, time.Hour)

	ctx := context.Background()
	if !cal.IsTradingDay(ctx, tue) {
		t.Error("Tuesday is in the calendar")
	}
	if cal.IsTradingDay(ctx, wed) {
		t.Error("The in-window holiday must not be a trading day")
	}
	// Outside the loaded window the weekday heuristic takes over.
	if !cal.IsTradingDay(ctx, mon.AddDate(0, 0, 14)) {
		t.Error("A Monday past the window should fall back to the weekday heuristic")
	}
	if cal.IsTradingDay(ctx, mon.AddDate(0, 0, 12)) {
		t.Error("A Saturday past the window is never a trading day")
	}
}

func TestFetchBarsCacheIdempotence(t *testing.T) {
	history, calendar := testHistory(20)
	src := &fakeSource{history: history, calendar: calendar}
	gw, _ := newTestGateway(t, src)

	sec := model.Security{Code: "600519", Name: "贵州茅台", Market: model.MarketA}
	start := history[0].Date

	first, err := gw.FetchBars(context.Background(), sec, start)
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	if len(first) != 20 {
		t.Fatalf("Expected 20 bars, got %d", len(first))
	}
	if src.barCalls != 1 {
		t.Fatalf("Expected exactly one network fetch, got %d", src.barCalls)
	}

	second, err := gw.FetchBars(context.Background(), sec, start)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if src.barCalls != 1 {
		t.Errorf("Fresh cache must not trigger another network call, got %d", src.barCalls)
	}
	if len(second) != len(first) {
		t.Fatalf("Cached sequence length differs: %d vs %d", len(second), len(first))
	}
	for i := range first {
		if !first[i].Date.Equal(second[i].Date) || first[i].Close != second[i].Close {
			t.Errorf("Bar %d differs between fetches: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFetchBarsServesStaleCacheOnFetchFailure(t *testing.T) {
	history, calendar := testHistory(20)
	src := &fakeSource{history: history, calendar: calendar}
	gw, st := newTestGateway(t, src)

	sec := model.Security{Code: "600519", Name: "贵州茅台", Market: model.MarketA}
	start := history[0].Date

	// Prime a stale cache, then break the source.
	if err := st.PutBars(sec.Code, sec.Name, sec.Market, history[:10]); err != nil {
		t.Fatalf("Priming cache: %v", err)
	}
	src.barErr = &provider.SourceError{Source: "fake", Err: errors.New("connection reset"), Retryable: true}

	bars, err := gw.FetchBars(context.Background(), sec, start)
	if err != nil {
		t.Fatalf("Fetch failure with a primed cache must not surface: %v", err)
	}
	if src.barCalls != 1 {
		t.Errorf("Expected one attempted delta fetch, got %d", src.barCalls)
	}
	if len(bars) != 10 {
		t.Fatalf("Expected the 10 cached bars, got %d", len(bars))
	}
	for i, b := range bars {
		if !b.Date.Equal(history[i].Date) || b.Close != history[i].Close {
			t.Errorf("Cached bar %d differs: %+v vs %+v", i, b, history[i])
		}
	}
}

func TestFetchBarsFailureWithEmptyCache(t *testing.T) {
	history, calendar := testHistory(20)
	src := &fakeSource{
		history:  history,
		calendar: calendar,
		barErr:   &provider.SourceError{Source: "fake", Err: errors.New("connection reset"), Retryable: true},
	}
	gw, _ := newTestGateway(t, src)

	sec := model.Security{Code: "600519", Name: "贵州茅台", Market: model.MarketA}
	if _, err := gw.FetchBars(context.Background(), sec, history[0].Date); err == nil {
		t.Error("With nothing cached a fetch failure must surface")
	}
}

func TestResolveUsesStaleDirectoryOnFetchFailure(t *testing.T) {
	src := &fakeSource{
		dirErr: &provider.SourceError{Source: "fake", Err: errors.New("connection reset"), Retryable: true},
	}
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rows := []model.Security{{Code: "600519", Name: "贵州茅台", Market: model.MarketA}}
	if err := st.PutDirectory(model.MarketA, rows); err != nil {
		t.Fatalf("Priming directory: %v", err)
	}

	// Zero ttl forces a refresh attempt, which fails and must fall back to
	// the stored copy.
	gw := New(src, st,
		NewDirectoryCache(src, st, 0),
		NewCalendarCache(src, st, time.Hour))

	sec, err := gw.Resolve(context.Background(), "贵州茅台", model.MarketA)
	if err != nil {
		t.Fatalf("Directory fetch failure with a stored copy must not surface: %v", err)
	}
	if sec.Code != "600519" {
		t.Errorf("Wrong resolution from stale directory: %+v", sec)
	}
	if src.dirCalls[model.MarketA] != 1 {
		t.Errorf("Expected one attempted directory refresh, got %d", src.dirCalls[model.MarketA])
	}
}

func TestFetchBarsIncrementalMerge(t *testing.T) {
	history, calendar := testHistory(20)
	src := &fakeSource{history: history, calendar: calendar}
	gw, st := newTestGateway(t, src)

	sec := model.Security{Code: "600519", Name: "贵州茅台", Market: model.MarketA}
	start := history[0].Date

	// Prime the cache with the first half of the window.
	if err := st.PutBars(sec.Code, sec.Name, sec.Market, history[:10]); err != nil {
		t.Fatalf("Priming cache: %v", err)
	}

	merged, err := gw.FetchBars(context.Background(), sec, start)
	if err != nil {
		t.Fatalf("Incremental fetch failed: %v", err)
	}
	if src.barCalls != 1 {
		t.Fatalf("Expected one delta fetch, got %d calls", src.barCalls)
	}

	if len(merged) != len(history) {
		t.Fatalf("Merged sequence has %d bars, want %d", len(merged), len(history))
	}
	seen := make(map[string]bool)
	for i, b := range merged {
		key := b.Date.Format("2006-01-02")
		if seen[key] {
			t.Errorf("Duplicate date %s in merged sequence", key)
		}
		seen[key] = true
		if !b.Date.Equal(history[i].Date) || b.Close != history[i].Close {
			t.Errorf("Bar %d differs from full history: %+v vs %+v", i, b, history[i])
		}
		if i > 0 && !merged[i-1].Date.Before(b.Date) {
			t.Errorf("Merged bars out of order at %d", i)
		}
	}
}
