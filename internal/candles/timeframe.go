package candles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeframe is returned for timeframes the system cannot fetch
// natively or synthesise from 5m bars.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

// BaseTimeframe is the native interval all synthesised timeframes build on.
const BaseTimeframe = "5m"

// nativeIntervals are the exchange-native klines intervals the scanner may
// request directly.
var nativeIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// aggregationMultiplier maps each synthesised timeframe to the number of 5m
// base candles per period.
var aggregationMultiplier = map[string]int{
	"10m": 2,
	"20m": 4,
	"25m": 5,
	"40m": 8,
	"45m": 9,
	"50m": 10,
}

// referenceInstants anchors each synthesised timeframe to a UTC instant known
// to coincide with an exchange candle opening. 25m needs this badly: 1440
// minutes per day is not divisible by 25, so midnight-anchored periods drift
// across day boundaries.
var referenceInstants = map[string]time.Time{
	"10m": time.Date(2025, 10, 24, 17, 10, 0, 0, time.UTC),
	"20m": time.Date(2025, 10, 24, 17, 20, 0, 0, time.UTC),
	"25m": time.Date(2025, 10, 24, 17, 5, 0, 0, time.UTC),
	"40m": time.Date(2025, 10, 24, 16, 40, 0, 0, time.UTC),
	"45m": time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC),
	"50m": time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC),
}

// IsAggregated reports whether tf is synthesised from 5m base candles.
func IsAggregated(tf string) bool {
	_, ok := aggregationMultiplier[tf]
	return ok
}

// Multiplier returns the number of base candles per synthesised period.
func Multiplier(tf string) (int, error) {
	m, ok := aggregationMultiplier[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a synthesised timeframe", ErrInvalidTimeframe, tf)
	}
	return m, nil
}

// Reference returns the anchor instant for a synthesised timeframe.
func Reference(tf string) (time.Time, error) {
	r, ok := referenceInstants[tf]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no reference instant configured for %s", ErrInvalidTimeframe, tf)
	}
	return r, nil
}

// Interval returns the duration of one candle of tf.
func Interval(tf string) (time.Duration, error) {
	if d, ok := nativeIntervals[tf]; ok {
		return d, nil
	}
	if m, ok := aggregationMultiplier[tf]; ok {
		return time.Duration(m) * 5 * time.Minute, nil
	}
	// Accept any well-formed interval string so validation errors name the
	// actual problem (unsupported vs. unparseable).
	if d, err := parseInterval(tf); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidTimeframe, tf)
}

// Anchor returns the instant that period arithmetic for tf floors against:
// the configured reference for synthesised timeframes, the Unix epoch for
// native ones (epoch is aligned to every native boundary the exchange uses).
func Anchor(tf string) (time.Time, error) {
	if r, ok := referenceInstants[tf]; ok {
		return r, nil
	}
	if _, ok := nativeIntervals[tf]; ok {
		return time.Unix(0, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimeframe, tf)
}

// PrevClose returns the most recent tf candle close at or before now. Period
// boundaries double as opens and closes, so an instant exactly on a boundary
// is its own previous close.
func PrevClose(tf string, now time.Time) (time.Time, error) {
	interval, err := Interval(tf)
	if err != nil {
		return time.Time{}, err
	}
	anchor, err := Anchor(tf)
	if err != nil {
		return time.Time{}, err
	}
	k := floorDiv(now.Sub(anchor).Nanoseconds(), interval.Nanoseconds())
	return anchor.Add(time.Duration(k) * interval), nil
}

// NextClose returns the first tf candle close strictly after now.
func NextClose(tf string, now time.Time) (time.Time, error) {
	prev, err := PrevClose(tf, now)
	if err != nil {
		return time.Time{}, err
	}
	interval, _ := Interval(tf)
	return prev.Add(interval), nil
}

// ValidateTimeframe rejects timeframes that are neither native nor
// synthesisable.
func ValidateTimeframe(tf string) error {
	if _, ok := nativeIntervals[tf]; ok {
		return nil
	}
	if _, ok := aggregationMultiplier[tf]; ok {
		return nil
	}
	if d, err := parseInterval(tf); err == nil && d%(5*time.Minute) == 0 {
		return fmt.Errorf("%w: %s has no reference instant configured", ErrInvalidTimeframe, tf)
	}
	return fmt.Errorf("%w: %s", ErrInvalidTimeframe, tf)
}

// ValidateTimeframes checks a whole configuration list.
func ValidateTimeframes(tfs []string) error {
	for _, tf := range tfs {
		if err := ValidateTimeframe(tf); err != nil {
			return err
		}
	}
	return nil
}

// TradingViewInterval converts a timeframe to TradingView chart notation
// (minutes as a bare number, days as D).
func TradingViewInterval(tf string) string {
	d, err := Interval(tf)
	if err != nil {
		return tf
	}
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "D"
		}
		return strconv.Itoa(days) + "D"
	}
	return strconv.Itoa(int(d / time.Minute))
}

func parseInterval(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("interval too short: %q", tf)
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(strings.TrimSpace(tf[:len(tf)-1]))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad interval count in %q", tf)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("bad interval unit in %q", tf)
}
