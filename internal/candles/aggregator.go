package candles

import (
	"fmt"
	"sort"
	"time"
)

// Aggregate synthesises candles of timeframe tf from closed 5m base candles.
// Base candles are bucketed by open time: a period starting at
// reference + k*interval owns the base bars whose open times fall inside
// [start, start+interval). Only complete periods (exactly multiplier base
// bars) are emitted; a partial group at either edge of the input is dropped.
func Aggregate(base []Candle, tf string) ([]Candle, error) {
	mult, err := Multiplier(tf)
	if err != nil {
		return nil, err
	}
	ref, err := Reference(tf)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return nil, nil
	}

	interval := time.Duration(mult) * 5 * time.Minute

	groups := make(map[int64][]Candle)
	for _, c := range base {
		k := floorDiv(c.OpenTime.Sub(ref).Nanoseconds(), interval.Nanoseconds())
		groups[k] = append(groups[k], c)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Candle, 0, len(keys))
	for _, k := range keys {
		bars := groups[k]
		if len(bars) != mult {
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })

		start := ref.Add(time.Duration(k) * interval)
		agg := Candle{
			OpenTime:  start,
			Open:      bars[0].Open,
			High:      bars[0].High,
			Low:       bars[0].Low,
			Close:     bars[len(bars)-1].Close,
			CloseTime: start.Add(interval),
		}
		for _, b := range bars {
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Volume += b.Volume
		}
		if !agg.Valid() {
			return nil, fmt.Errorf("aggregated %s candle at %s is inconsistent: high=%.8f low=%.8f open=%.8f close=%.8f",
				tf, start.UTC().Format(time.RFC3339), agg.High, agg.Low, agg.Open, agg.Close)
		}
		out = append(out, agg)
	}
	return out, nil
}

// floorDiv divides rounding toward negative infinity, so periods before the
// reference instant land in the right bucket.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
