// Package screener resolves which futures symbols the scanner watches: either
// the configured static list or the whole exchange filtered by quote currency
// and 24h volume.
package screener

import (
	"fmt"
	"sort"
	"strings"

	"choch-scanner/config"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/logging"
)

// majors are always scanned when the exchange lists them, regardless of the
// volume threshold.
var majors = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}

// MarketData is the slice of the exchange client the screener needs.
type MarketData interface {
	GetAll24hrTickers() ([]binance.Ticker24h, error)
	GetExchangeInfo() (*binance.ExchangeInfo, error)
}

// Screener turns scanner configuration into a concrete symbol universe.
type Screener struct {
	client  MarketData
	scanner config.ScannerConfig
	filter  config.ScreenerConfig
	logger  *logging.Logger
}

func New(client MarketData, scannerCfg config.ScannerConfig, filterCfg config.ScreenerConfig) *Screener {
	return &Screener{
		client:  client,
		scanner: scannerCfg,
		filter:  filterCfg,
		logger:  logging.Default().WithComponent("screener"),
	}
}

// Resolve returns the symbols to scan. With FETCH_ALL_COINS (or an ALL entry
// in SYMBOLS) the exchange is queried; otherwise the configured list is used
// verbatim.
func (s *Screener) Resolve() ([]string, error) {
	if s.scanner.FetchAll() {
		return s.dynamicUniverse()
	}
	return s.staticUniverse()
}

func (s *Screener) staticUniverse() ([]string, error) {
	seen := make(map[string]bool)
	symbols := make([]string, 0, len(s.scanner.Symbols))
	for _, raw := range s.scanner.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	s.logger.Info("Using configured symbol list", "count", len(symbols))
	return symbols, nil
}

func (s *Screener) dynamicUniverse() ([]string, error) {
	info, err := s.client.GetExchangeInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	tradable := make(map[string]bool)
	for _, sym := range info.Symbols {
		if sym.Status == "TRADING" && sym.ContractType == "PERPETUAL" && sym.QuoteAsset == s.filter.QuoteCurrency {
			tradable[sym.Symbol] = true
		}
	}

	tickers, err := s.client.GetAll24hrTickers()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch 24hr tickers: %w", err)
	}

	type candidate struct {
		symbol      string
		quoteVolume float64
	}
	candidates := make([]candidate, 0, len(tickers))
	skippedVolume := 0
	for _, t := range tickers {
		if !tradable[t.Symbol] || isMajor(t.Symbol) {
			continue
		}
		if t.QuoteVolume < s.filter.MinVolume24h {
			skippedVolume++
			continue
		}
		candidates = append(candidates, candidate{t.Symbol, t.QuoteVolume})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].quoteVolume > candidates[j].quoteVolume
	})

	// Listed majors come first; the remaining slots go to the highest-volume
	// pairs. MAX_PAIRS of 0 means unlimited.
	universe := make([]string, 0, len(candidates)+len(majors))
	for _, m := range majors {
		if tradable[m] {
			universe = append(universe, m)
		}
	}
	for _, c := range candidates {
		if s.filter.MaxPairs > 0 && len(universe) >= s.filter.MaxPairs {
			break
		}
		universe = append(universe, c.symbol)
	}

	if len(universe) == 0 {
		return nil, fmt.Errorf("no %s pairs passed the volume filter (min %.0f)",
			s.filter.QuoteCurrency, s.filter.MinVolume24h)
	}

	s.logger.Info("Resolved symbol universe",
		"count", len(universe), "below_volume", skippedVolume, "min_volume", s.filter.MinVolume24h)
	return universe, nil
}

func isMajor(symbol string) bool {
	for _, m := range majors {
		if symbol == m {
			return true
		}
	}
	return false
}
