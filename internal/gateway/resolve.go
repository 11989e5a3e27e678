package gateway

import (
	"context"
	"log"
	"strings"

	"pulsetrader/pkg/model"
)

// resolution order when no market is specified
var marketPriority = []model.Market{model.MarketA, model.MarketHK}

// DetectMarket classifies a raw code string. Five digits with a leading zero
// is Hong Kong, six digits is domestic; anything else is the signal to fall
// back to name search.
func DetectMarket(input string) (model.Market, error) {
	code := strings.TrimSpace(input)
	if len(code) == 5 && isDigits(code) && code[0] == '0' {
		return model.MarketHK, nil
	}
	if len(code) == 6 && isDigits(code) {
		return model.MarketA, nil
	}
	return "", &InvalidCodeError{Input: input}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Resolve maps a human-entered name to a (code, name, market) security. With
// market empty, markets are searched in fixed priority order. Matching policy
// per market: exact name, then the domestic ex-dividend rename convention
// ("XD" + first three characters), then substring.
func (g *Gateway) Resolve(ctx context.Context, name string, market model.Market) (model.Security, error) {
	if market != "" {
		sec, ok, err := g.searchMarket(ctx, name, market)
		if err != nil {
			return model.Security{}, err
		}
		if ok {
			return sec, nil
		}
		return model.Security{}, &NotFoundError{Query: name}
	}

	for _, m := range marketPriority {
		sec, ok, err := g.searchMarket(ctx, name, m)
		if err != nil {
			log.Printf("[gateway] %s directory search failed: %v", m, err)
			continue
		}
		if ok {
			log.Printf("[gateway] resolved %s in %s market: %s", name, m.DisplayName(), sec.Code)
			return sec, nil
		}
	}
	return model.Security{}, &NotFoundError{Query: name}
}

func (g *Gateway) searchMarket(ctx context.Context, name string, market model.Market) (model.Security, bool, error) {
	rows, err := g.directories.Get(ctx, market)
	if err != nil {
		return model.Security{}, false, err
	}

	for _, sec := range rows {
		if sec.Name == name {
			return sec, true, nil
		}
	}

	if market == model.MarketA {
		if runes := []rune(name); len(runes) >= 3 {
			xd := "XD" + string(runes[:3])
			for _, sec := range rows {
				if sec.Name == xd {
					log.Printf("[gateway] ex-dividend rename match: %s -> %s (%s)", name, xd, sec.Code)
					return sec, true, nil
				}
			}
		}
	}

	for _, sec := range rows {
		if strings.Contains(sec.Name, name) {
			log.Printf("[gateway] fuzzy match for %s: %s (%s)", name, sec.Name, sec.Code)
			return sec, true, nil
		}
	}
	return model.Security{}, false, nil
}

// SecurityByCode detects the market for a raw code and attaches the canonical
// display name from the directory, falling back to any name the store already
// knows, then to the code itself.
func (g *Gateway) SecurityByCode(ctx context.Context, code string) (model.Security, error) {
	market, err := DetectMarket(code)
	if err != nil {
		return model.Security{}, err
	}

	sec := model.Security{Code: code, Name: code, Market: market}
	if rows, err := g.directories.Get(ctx, market); err == nil {
		for _, row := range rows {
			if row.Code == code {
				sec.Name = row.Name
				return sec, nil
			}
		}
	}
	if name, ok, err := g.store.SecurityName(code); err == nil && ok {
		sec.Name = name
	}
	return sec, nil
}
