package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulsetrader/internal/ratelimit"
	"pulsetrader/pkg/model"
)

const (
	klineBaseURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	clistBaseURL = "https://push2.eastmoney.com/api/qt/clist/get"

	// Shanghai Composite; its daily bars double as the trading calendar.
	calendarSecID = "1.000001"

	compactLayout = "20060102"
)

// Eastmoney implements the Source interface against the public Eastmoney
// quote API. Daily bars are forward-adjusted (fqt=1) to match cached history
// across splits and dividends.
type Eastmoney struct {
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewEastmoney creates a new Eastmoney source.
// perMinute limits outgoing requests.
func NewEastmoney(perMinute int, timeout time.Duration) *Eastmoney {
	return &Eastmoney{
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.NewLimiter("eastmoney", perMinute),
	}
}

// Name returns the source name
func (s *Eastmoney) Name() string {
	return "eastmoney"
}

// secID maps a code to the Eastmoney market-prefixed security id.
// Shanghai listings start with 6, everything else domestic is Shenzhen or
// Beijing; Hong Kong uses market 116.
func secID(symbol string, market model.Market) string {
	if market == model.MarketHK {
		return "116." + symbol
	}
	if strings.HasPrefix(symbol, "6") {
		return "1." + symbol
	}
	return "0." + symbol
}

// klineResponse is the kline endpoint envelope. Each kline entry is a
// comma-joined record: date,open,close,high,low,volume,amount,amplitude,
// change_pct,change,turnover.
type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// clistResponse is the listing endpoint envelope.
type clistResponse struct {
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			Code string `json:"f12"`
			Name string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}

// DailyBars fetches daily bars for a symbol within [start, end], inclusive.
func (s *Eastmoney) DailyBars(ctx context.Context, symbol string, market model.Market, start, end time.Time) ([]model.Bar, error) {
	url := fmt.Sprintf("%s?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61&klt=101&fqt=1&beg=%s&end=%s",
		klineBaseURL, secID(symbol, market), start.Format(compactLayout), end.Format(compactLayout))

	var data klineResponse
	if err := s.getJSON(ctx, url, &data); err != nil {
		return nil, err
	}
	if data.Data == nil || len(data.Data.Klines) == 0 {
		return nil, &SourceError{Source: s.Name(), Err: fmt.Errorf("no bars for %s", symbol), Retryable: false}
	}

	bars := make([]model.Bar, 0, len(data.Data.Klines))
	var prevClose float64
	for _, line := range data.Data.Klines {
		bar, err := parseKline(line, prevClose)
		if err != nil {
			return nil, &SourceError{Source: s.Name(), Err: err, Retryable: false}
		}
		prevClose = bar.Close
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline decodes one comma-joined kline record. prevClose backs the
// change-pct derivation when the feed omits the field.
func parseKline(line string, prevClose float64) (model.Bar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return model.Bar{}, fmt.Errorf("malformed kline %q", line)
	}

	date, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return model.Bar{}, fmt.Errorf("kline date %q: %w", fields[0], err)
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		vals[i-1], err = strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("kline field %d %q: %w", i, fields[i], err)
		}
	}

	bar := model.Bar{
		Date:   date,
		Open:   vals[0],
		Close:  vals[1],
		High:   vals[2],
		Low:    vals[3],
		Volume: int64(vals[4]),
	}

	if len(fields) > 8 {
		if pct, err := strconv.ParseFloat(fields[8], 64); err == nil {
			bar.ChangePct = pct
			return bar, nil
		}
	}
	if prevClose > 0 {
		bar.ChangePct = (bar.Close - prevClose) / prevClose * 100
	}
	return bar, nil
}

// marketFilter selects the clist universe: Shenzhen main/ChiNext and
// Shanghai main/STAR for domestic, the four HK equity boards otherwise.
func marketFilter(market model.Market) string {
	if market == model.MarketHK {
		return "m:128+t:3,m:128+t:4,m:128+t:1,m:128+t:2"
	}
	return "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"
}

// Directory fetches the full code/name listing for a market.
func (s *Eastmoney) Directory(ctx context.Context, market model.Market) ([]model.Security, error) {
	url := fmt.Sprintf("%s?pn=1&pz=10000&po=1&np=1&fltt=2&invt=2&fid=f12&fs=%s&fields=f12,f14",
		clistBaseURL, marketFilter(market))

	var data clistResponse
	if err := s.getJSON(ctx, url, &data); err != nil {
		return nil, err
	}
	if data.Data == nil || len(data.Data.Diff) == 0 {
		return nil, &SourceError{Source: s.Name(), Err: fmt.Errorf("empty %s directory", market), Retryable: true}
	}

	secs := make([]model.Security, 0, len(data.Data.Diff))
	for _, row := range data.Data.Diff {
		if row.Code == "" {
			continue
		}
		secs = append(secs, model.Security{Code: row.Code, Name: row.Name, Market: market})
	}
	return secs, nil
}

// TradingCalendar fetches the trading-day calendar by reading the Shanghai
// Composite daily series for the past two years plus a short look-ahead.
func (s *Eastmoney) TradingCalendar(ctx context.Context) ([]time.Time, error) {
	now := time.Now()
	url := fmt.Sprintf("%s?secid=%s&fields1=f1&fields2=f51&klt=101&fqt=0&beg=%s&end=%s",
		klineBaseURL, calendarSecID,
		now.AddDate(-2, 0, 0).Format(compactLayout), now.Format(compactLayout))

	var data klineResponse
	if err := s.getJSON(ctx, url, &data); err != nil {
		return nil, err
	}
	if data.Data == nil || len(data.Data.Klines) == 0 {
		return nil, &SourceError{Source: s.Name(), Err: fmt.Errorf("empty trading calendar"), Retryable: true}
	}

	dates := make([]time.Time, 0, len(data.Data.Klines))
	for _, line := range data.Data.Klines {
		day := line
		if i := strings.IndexByte(line, ','); i >= 0 {
			day = line[:i]
		}
		d, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, &SourceError{Source: s.Name(), Err: fmt.Errorf("calendar date %q: %w", day, err), Retryable: false}
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// getJSON performs a rate-limited GET and decodes the JSON body into v.
func (s *Eastmoney) getJSON(ctx context.Context, url string, v interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return &SourceError{Source: s.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.limiter.SignalRateLimited()
		return &SourceError{Source: s.Name(), Err: fmt.Errorf("rate limited"), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &SourceError{Source: s.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: false}
	}

	s.limiter.ResetBackoff()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &SourceError{Source: s.Name(), Err: fmt.Errorf("decoding response: %w", err), Retryable: false}
	}
	return nil
}
