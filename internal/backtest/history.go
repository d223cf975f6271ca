package backtest

import (
	"fmt"
	"time"

	"choch-scanner/internal/binance"
	"choch-scanner/internal/candles"
)

// maxKlinePage is the exchange's per-request kline ceiling.
const maxKlinePage = 1500

// HistorySource is the slice of the exchange client the replay needs.
type HistorySource interface {
	GetKlinesRange(symbol, interval string, startTime, endTime int64, limit int) ([]binance.Kline, error)
}

// history assembles limit closed bars of tf, oldest first. Synthesised
// timeframes are built from 5m base bars; deep histories page backwards
// through the klines endpoint.
func (e *Engine) history(symbol, tf string, limit int) ([]candles.Candle, error) {
	if candles.IsAggregated(tf) {
		mult, err := candles.Multiplier(tf)
		if err != nil {
			return nil, err
		}
		baseInterval, err := candles.Interval(candles.BaseTimeframe)
		if err != nil {
			return nil, err
		}
		// One spare period absorbs reference misalignment at the window edge.
		base, err := e.fetchClosed(symbol, candles.BaseTimeframe, limit*mult+mult+1, baseInterval)
		if err != nil {
			return nil, err
		}
		bars, err := candles.Aggregate(base, tf)
		if err != nil {
			return nil, err
		}
		if len(bars) > limit {
			bars = bars[len(bars)-limit:]
		}
		return bars, nil
	}

	interval, err := candles.Interval(tf)
	if err != nil {
		return nil, err
	}
	bars, err := e.fetchClosed(symbol, tf, limit+1, interval)
	if err != nil {
		return nil, err
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// fetchClosed pages backwards until total rows are collected or the history
// runs out, then drops the forming bar and validates the sequence.
func (e *Engine) fetchClosed(symbol, interval string, total int, step time.Duration) ([]candles.Candle, error) {
	var rows []binance.Kline
	endTime := int64(0)

	for len(rows) < total {
		want := total - len(rows)
		if want > maxKlinePage {
			want = maxKlinePage
		}
		page, err := e.client.GetKlinesRange(symbol, interval, 0, endTime, want)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s history: %w", symbol, interval, err)
		}
		if len(page) == 0 {
			break
		}
		rows = append(page, rows...)
		if len(page) < want {
			break
		}
		endTime = page[0].OpenTime - 1
	}

	now := time.Now()
	bars := make([]candles.Candle, 0, len(rows))
	for _, k := range rows {
		open := time.UnixMilli(k.OpenTime).UTC()
		c := candles.Candle{
			OpenTime:  open,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			CloseTime: open.Add(step),
		}
		if c.CloseTime.After(now) {
			continue
		}
		bars = append(bars, c)
	}
	if err := candles.Validate(bars); err != nil {
		return nil, fmt.Errorf("%s %s history: %w", symbol, interval, err)
	}
	return bars, nil
}
