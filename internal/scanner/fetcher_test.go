package scanner

import (
	"errors"
	"strings"
	"testing"
	"time"

	"choch-scanner/internal/binance"
)

type klineRequest struct {
	symbol   string
	interval string
	limit    int
}

type fakeKlineSource struct {
	rows     map[string][]binance.Kline // keyed by interval
	err      error
	requests []klineRequest
}

func (f *fakeKlineSource) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	f.requests = append(f.requests, klineRequest{symbol, interval, limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[interval], nil
}

// flatRows builds n identical klines starting at start, one per interval.
func flatRows(start time.Time, interval time.Duration, n int) []binance.Kline {
	rows := make([]binance.Kline, n)
	for i := range rows {
		open := start.Add(time.Duration(i) * interval)
		rows[i] = binance.Kline{
			OpenTime: open.UnixMilli(),
			Open:     100, High: 101, Low: 99, Close: 100.5,
			Volume:    10,
			CloseTime: open.Add(interval).UnixMilli() - 1, // exchange quirk
		}
	}
	return rows
}

// TestWindowNativeDropsFormingBar tests that the in-progress candle is cut
func TestWindowNativeDropsFormingBar(t *testing.T) {
	start := time.Date(2025, 10, 24, 2, 0, 0, 0, time.UTC)
	src := &fakeKlineSource{rows: map[string][]binance.Kline{
		"15m": flatRows(start, 15*time.Minute, 51),
	}}

	f := NewFetcher(src)
	// Mid-period instant: the 51st row is still forming
	f.now = fixedClock(start.Add(50*15*time.Minute + 7*time.Minute))

	bars, err := f.Window("BTCUSDT", "15m")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(bars) != 50 {
		t.Fatalf("Expected 50 closed bars, got %d", len(bars))
	}

	last := bars[len(bars)-1]
	if last.CloseTime.After(start.Add(50 * 15 * time.Minute)) {
		t.Errorf("Forming bar leaked into the window, last close %s", last.CloseTime)
	}
	// Close times carry the exact boundary, not the exchange's -1ms stamp
	if !last.CloseTime.Equal(last.OpenTime.Add(15 * time.Minute)) {
		t.Errorf("Expected close on the boundary, got %s for open %s", last.CloseTime, last.OpenTime)
	}

	if len(src.requests) != 1 {
		t.Fatalf("Expected a single klines request, got %d", len(src.requests))
	}
	if r := src.requests[0]; r.interval != "15m" || r.limit != 51 {
		t.Errorf("Expected one 15m request for 51 rows, got %+v", r)
	}
}

// TestWindowNativeCapsToScanWindow tests trimming when all rows are closed
func TestWindowNativeCapsToScanWindow(t *testing.T) {
	start := time.Date(2025, 10, 24, 2, 0, 0, 0, time.UTC)
	src := &fakeKlineSource{rows: map[string][]binance.Kline{
		"1h": flatRows(start, time.Hour, 51),
	}}

	f := NewFetcher(src)
	f.now = fixedClock(start.Add(72 * time.Hour))

	bars, err := f.Window("ETHUSDT", "1h")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(bars) != 50 {
		t.Fatalf("Expected window capped at 50 bars, got %d", len(bars))
	}
	// The oldest row is the one trimmed
	if !bars[0].OpenTime.Equal(start.Add(time.Hour)) {
		t.Errorf("Expected oldest bar dropped, first open %s", bars[0].OpenTime)
	}
}

// TestWindowSynthesised tests 25m assembly from a single 5m request
func TestWindowSynthesised(t *testing.T) {
	// 17:00 start puts one stray base bar before the 17:05 period boundary
	start := time.Date(2025, 10, 24, 17, 0, 0, 0, time.UTC)
	src := &fakeKlineSource{rows: map[string][]binance.Kline{
		"5m": flatRows(start, 5*time.Minute, 62),
	}}

	f := NewFetcher(src)
	f.now = fixedClock(start.Add(62 * 5 * time.Minute))

	bars, err := f.Window("BTCUSDT", "25m")
	if err != nil {
		t.Fatalf("Window: %v", err)
	}

	// 61 aligned base bars from 17:05 make 12 complete periods
	if len(bars) != 12 {
		t.Fatalf("Expected 12 synthesised bars, got %d", len(bars))
	}
	if want := time.Date(2025, 10, 24, 17, 5, 0, 0, time.UTC); !bars[0].OpenTime.Equal(want) {
		t.Errorf("Expected first period at %s, got %s", want, bars[0].OpenTime)
	}
	ref := time.Date(2025, 10, 24, 17, 5, 0, 0, time.UTC)
	for _, b := range bars {
		if b.CloseTime.Sub(ref)%(25*time.Minute) != 0 {
			t.Errorf("Bar closing %s is off the 25m phase", b.CloseTime)
		}
		if b.Volume != 50 { // five 5m bars of volume 10
			t.Errorf("Expected period volume 50, got %v", b.Volume)
		}
	}

	if len(src.requests) != 1 {
		t.Fatalf("Expected one base request, got %d", len(src.requests))
	}
	if r := src.requests[0]; r.interval != "5m" || r.limit != 50*5+5+1 {
		t.Errorf("Expected a 5m request for 256 rows, got %+v", r)
	}
}

// TestWindowPropagatesFetchError tests error wrapping with pair identity
func TestWindowPropagatesFetchError(t *testing.T) {
	src := &fakeKlineSource{err: errors.New("status 503")}
	f := NewFetcher(src)

	_, err := f.Window("BTCUSDT", "15m")
	if err == nil {
		t.Fatal("Expected fetch error to propagate")
	}
	if !strings.Contains(err.Error(), "BTCUSDT") || !strings.Contains(err.Error(), "15m") {
		t.Errorf("Error should name the pair, got %v", err)
	}
}

// TestWindowRejectsCorruptSeries tests validation of the assembled window
func TestWindowRejectsCorruptSeries(t *testing.T) {
	start := time.Date(2025, 10, 24, 2, 0, 0, 0, time.UTC)
	rows := flatRows(start, 15*time.Minute, 10)
	rows[4].Low = 150 // low above high

	src := &fakeKlineSource{rows: map[string][]binance.Kline{"15m": rows}}
	f := NewFetcher(src)
	f.now = fixedClock(start.Add(24 * time.Hour))

	if _, err := f.Window("BTCUSDT", "15m"); err == nil {
		t.Error("Expected OHLC validation to fail")
	}
}
