package gateway

import (
	"context"
	"log"
	"sort"
	"time"

	"pulsetrader/internal/provider"
	"pulsetrader/internal/store"
	"pulsetrader/pkg/model"
)

// DirectoryCache holds the per-market code/name listings. It keeps one
// in-process copy per market, backed by the store rows and refreshed from the
// source when the stored copy is older than ttl.
type DirectoryCache struct {
	source provider.Source
	store  *store.Store
	ttl    time.Duration

	loaded map[model.Market][]model.Security
}

// NewDirectoryCache creates a directory cache.
func NewDirectoryCache(source provider.Source, st *store.Store, ttl time.Duration) *DirectoryCache {
	return &DirectoryCache{
		source: source,
		store:  st,
		ttl:    ttl,
		loaded: make(map[model.Market][]model.Security),
	}
}

// Get returns the directory for a market, loading or refreshing as needed.
// A source failure falls back to stale stored rows when any exist.
func (c *DirectoryCache) Get(ctx context.Context, market model.Market) ([]model.Security, error) {
	if rows, ok := c.loaded[market]; ok {
		return rows, nil
	}

	fresh, err := c.store.DirectoryFresh(market, c.ttl)
	if err != nil {
		return nil, err
	}
	if fresh {
		rows, err := c.store.Directory(market)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			c.loaded[market] = rows
			return rows, nil
		}
	}

	rows, err := c.source.Directory(ctx, market)
	if err != nil {
		stale, serr := c.store.Directory(market)
		if serr == nil && len(stale) > 0 {
			log.Printf("[gateway] %s directory fetch failed, using stale copy: %v", market, err)
			c.loaded[market] = stale
			return stale, nil
		}
		return nil, err
	}

	if err := c.store.PutDirectory(market, rows); err != nil {
		return nil, err
	}
	log.Printf("[gateway] refreshed %s directory: %d securities", market, len(rows))
	c.loaded[market] = rows
	return rows, nil
}

// CalendarCache holds the exchange trading-day calendar with an in-process
// copy backed by the store. When no calendar can be loaded at all it degrades
// to a weekday heuristic.
type CalendarCache struct {
	source provider.Source
	store  *store.Store
	ttl    time.Duration

	loaded bool
	days   map[string]bool
	sorted []time.Time
}

// NewCalendarCache creates a calendar cache.
func NewCalendarCache(source provider.Source, st *store.Store, ttl time.Duration) *CalendarCache {
	return &CalendarCache{source: source, store: st, ttl: ttl}
}

func (c *CalendarCache) ensure(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	fresh, err := c.store.CalendarFresh(c.ttl)
	if err != nil {
		log.Printf("[gateway] calendar freshness check failed: %v", err)
	}
	if !fresh {
		dates, err := c.source.TradingCalendar(ctx)
		if err != nil {
			log.Printf("[gateway] calendar fetch failed, falling back: %v", err)
		} else if err := c.store.PutCalendar(dates); err != nil {
			log.Printf("[gateway] calendar save failed: %v", err)
		} else {
			log.Printf("[gateway] refreshed trading calendar: %d days", len(dates))
			c.adopt(dates)
			return
		}
	}

	// Serve whatever the store holds, stale included.
	dates, err := c.store.TradingDays(time.Now().AddDate(-3, 0, 0), time.Now().AddDate(1, 0, 0))
	if err != nil {
		log.Printf("[gateway] calendar read failed: %v", err)
	}
	c.adopt(dates)
}

func (c *CalendarCache) adopt(dates []time.Time) {
	c.days = make(map[string]bool, len(dates))
	c.sorted = c.sorted[:0]
	for _, d := range dates {
		key := d.Format("2006-01-02")
		if !c.days[key] {
			c.days[key] = true
			c.sorted = append(c.sorted, d)
		}
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].Before(c.sorted[j]) })
}

// IsTradingDay reports whether date is an exchange trading day. Without a
// calendar, or for dates outside the loaded window, it treats weekdays as
// trading days.
func (c *CalendarCache) IsTradingDay(ctx context.Context, date time.Time) bool {
	c.ensure(ctx)
	key := date.Format("2006-01-02")
	if len(c.sorted) == 0 ||
		key < c.sorted[0].Format("2006-01-02") ||
		key > c.sorted[len(c.sorted)-1].Format("2006-01-02") {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.days[key]
}

// LastTradingDay returns the most recent trading day on or before the given
// date. The second return is false when the calendar is unavailable and the
// caller should fall back to the date itself.
func (c *CalendarCache) LastTradingDay(ctx context.Context, onOrBefore time.Time) (time.Time, bool) {
	c.ensure(ctx)
	if len(c.sorted) == 0 {
		return time.Time{}, false
	}
	key := onOrBefore.Format("2006-01-02")
	i := sort.Search(len(c.sorted), func(i int) bool {
		return c.sorted[i].Format("2006-01-02") > key
	})
	if i == 0 {
		return time.Time{}, false
	}
	return c.sorted[i-1], true
}
