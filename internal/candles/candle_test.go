package candles

import (
	"strings"
	"testing"
	"time"
)

func bar(open time.Time, o, h, l, c, v float64) Candle {
	return Candle{
		OpenTime:  open,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		CloseTime: open.Add(5 * time.Minute),
	}
}

func TestCandleValid(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)

	if !bar(open, 100, 102, 99, 101, 5).Valid() {
		t.Error("Expected well-formed candle to be valid")
	}
	if bar(open, 100, 102, 101.5, 101, 5).Valid() {
		t.Error("Expected candle with low above close to be invalid")
	}
	if bar(open, 100, 99.5, 99, 101, 5).Valid() {
		t.Error("Expected candle with high below close to be invalid")
	}
	if bar(open, 100, 102, 99, 101, -1).Valid() {
		t.Error("Expected negative volume to be invalid")
	}
	if !bar(open, 100, 100, 100, 100, 0).Valid() {
		t.Error("Expected flat zero-volume candle to be valid")
	}
}

func TestCandleBody(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)

	lo, hi := bar(open, 100, 103, 99, 102, 5).Body()
	if lo != 100 || hi != 102 {
		t.Errorf("Expected body 100..102, got %g..%g", lo, hi)
	}
	lo, hi = bar(open, 102, 103, 99, 100, 5).Body()
	if lo != 100 || hi != 102 {
		t.Errorf("Expected body 100..102 for bearish bar, got %g..%g", lo, hi)
	}
}

func TestValidateDetectsNonAdvancingCloseTime(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	bars := []Candle{
		bar(open, 100, 102, 99, 101, 5),
		bar(open, 101, 103, 100, 102, 5),
	}
	err := Validate(bars)
	if err == nil {
		t.Fatal("Expected error for duplicate close time, got nil")
	}
	if !strings.Contains(err.Error(), "does not advance close time") {
		t.Errorf("Expected close-time violation message, got %v", err)
	}
}

func TestValidateDetectsBrokenOHLC(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	bars := []Candle{
		bar(open, 100, 102, 99, 101, 5),
		bar(open.Add(5*time.Minute), 101, 100, 99, 102, 5),
	}
	err := Validate(bars)
	if err == nil {
		t.Fatal("Expected error for high below close, got nil")
	}
	if !strings.Contains(err.Error(), "bar 1") {
		t.Errorf("Expected violation to name bar 1, got %v", err)
	}
}

func TestWindowAppendTrimsToCapacity(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	w := NewWindow(nil, 3)
	for i := 0; i < 5; i++ {
		w.Append(bar(open.Add(time.Duration(i)*5*time.Minute), 100, 102, 99, 101, 1))
	}
	if w.Len() != 3 {
		t.Fatalf("Expected 3 bars after trimming, got %d", w.Len())
	}
	want := open.Add(2 * 5 * time.Minute)
	if got := w.Bars()[0].OpenTime; !got.Equal(want) {
		t.Errorf("Expected oldest surviving open %s, got %s", want, got)
	}
}

func TestWindowAppendIgnoresStaleBars(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	w := NewWindow(nil, 10)
	w.Append(bar(open, 100, 102, 99, 101, 1))
	w.Append(bar(open, 100, 102, 99, 101, 1))
	w.Append(bar(open.Add(-5*time.Minute), 100, 102, 99, 101, 1))
	if w.Len() != 1 {
		t.Errorf("Expected duplicate and older bars to be ignored, got %d bars", w.Len())
	}
}

func TestWindowReplaceKeepsNewest(t *testing.T) {
	open := time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC)
	bars := make([]Candle, 6)
	for i := range bars {
		bars[i] = bar(open.Add(time.Duration(i)*5*time.Minute), 100, 102, 99, 101, 1)
	}
	w := NewWindow(bars, 4)
	if w.Len() != 4 {
		t.Fatalf("Expected capacity trim to 4, got %d", w.Len())
	}
	if got := w.Bars()[0].OpenTime; !got.Equal(bars[2].OpenTime) {
		t.Errorf("Expected oldest kept bar to open at %s, got %s", bars[2].OpenTime, got)
	}
	if got := len(w.Tail(2)); got != 2 {
		t.Errorf("Expected Tail(2) to return 2 bars, got %d", got)
	}
	if got := len(w.Tail(100)); got != 4 {
		t.Errorf("Expected oversized Tail to return all bars, got %d", got)
	}
}
