// Package candles holds closed OHLCV bars and synthesises non-native
// timeframes from 5m base candles with fixed-reference alignment.
package candles

import (
	"fmt"
	"time"
)

// Candle is one closed OHLCV bar. CloseTime is always OpenTime plus the full
// interval; the exchange's close_time quirk (interval minus 1ms) is dropped at
// the conversion boundary.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Valid reports whether the bar satisfies the OHLC invariants.
func (c Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close || c.Low > c.High {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return true
}

// Body returns the candle body bounds (min, max of open and close).
func (c Candle) Body() (low, high float64) {
	if c.Open <= c.Close {
		return c.Open, c.Close
	}
	return c.Close, c.Open
}

// Validate checks a sequence of bars for OHLC validity and monotonically
// increasing close times. It returns the first violation found.
func Validate(bars []Candle) error {
	for i, c := range bars {
		if !c.Valid() {
			return fmt.Errorf("bar %d at %s violates OHLC invariants (o=%g h=%g l=%g c=%g v=%g)",
				i, c.CloseTime.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		if i > 0 && !bars[i-1].CloseTime.Before(c.CloseTime) {
			return fmt.Errorf("bar %d at %s does not advance close time past %s",
				i, c.CloseTime.UTC().Format(time.RFC3339), bars[i-1].CloseTime.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// Window is a bounded ordered sequence of closed bars for one
// (symbol, timeframe). The currently-forming candle is never stored.
type Window struct {
	bars     []Candle
	capacity int
}

// NewWindow wraps the given bars, keeping at most capacity of the newest.
// capacity <= 0 means unbounded.
func NewWindow(bars []Candle, capacity int) *Window {
	w := &Window{capacity: capacity}
	w.Replace(bars)
	return w
}

// Replace swaps the window contents for a freshly fetched sequence.
func (w *Window) Replace(bars []Candle) {
	if w.capacity > 0 && len(bars) > w.capacity {
		bars = bars[len(bars)-w.capacity:]
	}
	w.bars = append(w.bars[:0], bars...)
}

// Append adds one closed bar, dropping the oldest when over capacity. Bars
// that do not advance the close time are ignored.
func (w *Window) Append(c Candle) {
	if n := len(w.bars); n > 0 && !w.bars[n-1].CloseTime.Before(c.CloseTime) {
		return
	}
	w.bars = append(w.bars, c)
	if w.capacity > 0 && len(w.bars) > w.capacity {
		w.bars = w.bars[1:]
	}
}

// Len returns the number of stored bars.
func (w *Window) Len() int {
	return len(w.bars)
}

// Bars returns the stored bars oldest first. The slice is shared; callers
// must not mutate it.
func (w *Window) Bars() []Candle {
	return w.bars
}

// Tail returns the n newest bars (all bars when n exceeds the length).
func (w *Window) Tail(n int) []Candle {
	if n >= len(w.bars) {
		return w.bars
	}
	return w.bars[len(w.bars)-n:]
}
