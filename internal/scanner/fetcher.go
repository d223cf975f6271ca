package scanner

import (
	"fmt"
	"time"

	"choch-scanner/internal/binance"
	"choch-scanner/internal/candles"
)

// scanWindow is how many closed candles every detector pass works over.
const scanWindow = 50

// KlineSource is the slice of the exchange client the fetcher needs.
type KlineSource interface {
	GetKlines(symbol, interval string, limit int) ([]binance.Kline, error)
}

// Fetcher assembles closed-candle windows: native intervals are requested
// directly, synthesised ones are built from 5m base bars.
type Fetcher struct {
	client KlineSource
	window int
	now    func() time.Time
}

// NewFetcher builds a fetcher over the standard scan window.
func NewFetcher(client KlineSource) *Fetcher {
	return &Fetcher{client: client, window: scanWindow, now: time.Now}
}

// Window returns the newest closed bars of tf for symbol, oldest first, at
// most the scan window of them. The currently-forming candle never appears.
func (f *Fetcher) Window(symbol, tf string) ([]candles.Candle, error) {
	if candles.IsAggregated(tf) {
		return f.synthesised(symbol, tf)
	}
	return f.native(symbol, tf)
}

func (f *Fetcher) native(symbol, tf string) ([]candles.Candle, error) {
	interval, err := candles.Interval(tf)
	if err != nil {
		return nil, err
	}
	klines, err := f.client.GetKlines(symbol, tf, f.window+1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, tf, err)
	}
	bars := f.closed(klines, interval)
	if len(bars) > f.window {
		bars = bars[len(bars)-f.window:]
	}
	if err := candles.Validate(bars); err != nil {
		return nil, fmt.Errorf("%s %s window: %w", symbol, tf, err)
	}
	return bars, nil
}

func (f *Fetcher) synthesised(symbol, tf string) ([]candles.Candle, error) {
	mult, err := candles.Multiplier(tf)
	if err != nil {
		return nil, err
	}
	baseInterval, err := candles.Interval(candles.BaseTimeframe)
	if err != nil {
		return nil, err
	}

	// One extra period of base bars absorbs reference misalignment at the
	// window edge, plus one row for the forming candle. Worst case 511 rows,
	// well inside a single klines request.
	limit := f.window*mult + mult + 1
	klines, err := f.client.GetKlines(symbol, candles.BaseTimeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s base: %w", symbol, tf, err)
	}
	base := f.closed(klines, baseInterval)
	if err := candles.Validate(base); err != nil {
		return nil, fmt.Errorf("%s %s base window: %w", symbol, tf, err)
	}
	bars, err := candles.Aggregate(base, tf)
	if err != nil {
		return nil, err
	}
	if len(bars) > f.window {
		bars = bars[len(bars)-f.window:]
	}
	return bars, nil
}

// closed converts kline rows to candles, dropping the still-forming bar.
func (f *Fetcher) closed(klines []binance.Kline, interval time.Duration) []candles.Candle {
	now := f.now()
	out := make([]candles.Candle, 0, len(klines))
	for _, k := range klines {
		c := fromKline(k, interval)
		if c.CloseTime.After(now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fromKline normalises one exchange row. The exchange stamps close_time one
// millisecond short of the boundary; candles carry the exact boundary.
func fromKline(k binance.Kline, interval time.Duration) candles.Candle {
	open := time.UnixMilli(k.OpenTime).UTC()
	return candles.Candle{
		OpenTime:  open,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
		CloseTime: open.Add(interval),
	}
}
