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

// Gateway resolves securities and supplies gap-free daily bar history,
// fetching incrementally through the store so repeated daily runs cost at
// most one small network call.
type Gateway struct {
	source      provider.Source
	store       *store.Store
	directories *DirectoryCache
	calendar    *CalendarCache
}

// New creates a gateway over a data source and a store.
func New(source provider.Source, st *store.Store, directories *DirectoryCache, calendar *CalendarCache) *Gateway {
	return &Gateway{
		source:      source,
		store:       st,
		directories: directories,
		calendar:    calendar,
	}
}

// FetchBars returns the bar history for sec from start to the most recent
// trading day. Refresh strategy:
//
//  1. fresh cache covering the window: serve cached rows, zero network calls
//  2. partial cache: fetch only the delta after the last cached date, merge
//  3. empty cache: full fetch
//  4. network failure: fall back to whatever is cached, stale included
func (g *Gateway) FetchBars(ctx context.Context, sec model.Security, start time.Time) ([]model.Bar, error) {
	today := time.Now()
	end, ok := g.calendar.LastTradingDay(ctx, today)
	if !ok {
		end = today
	}

	cached, err := g.store.Bars(sec.Code, start, end)
	if err != nil {
		log.Printf("[gateway] cache read failed for %s, treating as miss: %v", sec.Code, err)
		cached = nil
	}
	lastCached, hasCache, err := g.store.LastCachedDate(sec.Code)
	if err != nil {
		log.Printf("[gateway] last-cached lookup failed for %s: %v", sec.Code, err)
		hasCache = false
	}

	if hasCache && !lastCached.Before(end) && len(cached) > 0 {
		log.Printf("[gateway] %s cache fresh through %s, no fetch needed",
			sec.Code, lastCached.Format("2006-01-02"))
		return cached, nil
	}

	if hasCache {
		deltaStart := lastCached.AddDate(0, 0, 1)
		log.Printf("[gateway] incremental fetch %s: %s to %s",
			sec.Code, deltaStart.Format("2006-01-02"), end.Format("2006-01-02"))
		delta, err := g.source.DailyBars(ctx, sec.Code, sec.Market, deltaStart, end)
		if err != nil {
			if len(cached) > 0 {
				log.Printf("[gateway] fetch failed for %s, serving cached bars: %v", sec.Code, err)
				return cached, nil
			}
			return nil, err
		}
		if len(delta) > 0 {
			if err := g.store.PutBars(sec.Code, sec.Name, sec.Market, delta); err != nil {
				return nil, err
			}
		}
		return clipToWindow(mergeBars(cached, delta), start), nil
	}

	log.Printf("[gateway] full fetch %s: %s to %s",
		sec.Code, start.Format("2006-01-02"), end.Format("2006-01-02"))
	bars, err := g.source.DailyBars(ctx, sec.Code, sec.Market, start, end)
	if err != nil {
		return nil, err
	}
	if err := g.store.PutBars(sec.Code, sec.Name, sec.Market, bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// mergeBars combines cached and freshly fetched bars, deduplicating by date
// with fetched rows winning, ordered by date ascending.
func mergeBars(cached, fetched []model.Bar) []model.Bar {
	byDate := make(map[string]model.Bar, len(cached)+len(fetched))
	for _, b := range cached {
		byDate[b.Date.Format("2006-01-02")] = b
	}
	for _, b := range fetched {
		byDate[b.Date.Format("2006-01-02")] = b
	}

	merged := make([]model.Bar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	return merged
}

func clipToWindow(bars []model.Bar, start time.Time) []model.Bar {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(start) })
	return bars[i:]
}
