package scanner

import (
	"errors"
	"testing"
	"time"

	"choch-scanner/config"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/events"
)

type fakeSymbols struct {
	symbols []string
	err     error
}

func (f *fakeSymbols) Resolve() ([]string, error) { return f.symbols, f.err }

// reversalRows is a 20-bar 15m window that builds an eight-pivot uptrend and
// then confirms a downward change of character on the last bar.
func reversalRows(start time.Time) []binance.Kline {
	ohlcv := [][5]float64{
		{97.0, 97.5, 96.0, 96.4, 120},
		{96.3, 96.5, 95.0, 96.2, 150},
		{97.2, 99.0, 97.0, 98.8, 130},
		{100.4, 102.0, 100.0, 101.5, 260},
		{100.2, 100.5, 99.0, 99.4, 110},
		{98.6, 99.5, 98.0, 99.2, 140},
		{101.0, 103.0, 100.0, 102.6, 180},
		{104.6, 106.0, 104.0, 105.4, 900},
		{104.2, 104.5, 103.5, 103.8, 160},
		{103.4, 104.0, 103.0, 103.7, 300},
		{105.0, 107.0, 104.5, 106.6, 170},
		{108.4, 110.0, 105.5, 109.2, 500},
		{107.0, 108.0, 105.25, 105.9, 150},
		{105.8, 106.5, 105.0, 106.1, 200},
		{107.5, 111.0, 105.75, 110.5, 190},
		{107.0, 115.0, 106.0, 109.0, 800},
		{110.0, 114.0, 105.6, 106.8, 210},
		{108.0, 113.0, 105.2, 106.0, 220},
		{111.0, 112.0, 104.5, 104.8, 100},
		{104.0, 104.2, 103.5, 103.9, 180},
	}
	rows := make([]binance.Kline, len(ohlcv))
	for i, v := range ohlcv {
		open := start.Add(time.Duration(i) * 15 * time.Minute)
		rows[i] = binance.Kline{
			OpenTime:  open.UnixMilli(),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    v[4],
			CloseTime: open.Add(15*time.Minute).UnixMilli() - 1,
		}
	}
	return rows
}

type pairKlineSource struct {
	rows map[string][]binance.Kline // keyed by symbol
}

func (f *pairKlineSource) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	rows, ok := f.rows[symbol]
	if !ok {
		return nil, errors.New("status 503")
	}
	return rows, nil
}

func testScannerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ScannerConfig.Timeframes = []string{"15m"}
	cfg.ScannerConfig.UpdateInterval = 1
	cfg.PivotConfig = config.PivotConfig{
		Left: 1, Right: 1, KeepPivots: 100,
		AllowPH1: true, AllowPH2: true, AllowPH3: true, AllowPH4: true, AllowPH5: true,
		AllowPL1: true, AllowPL2: true, AllowPL3: true, AllowPL4: true, AllowPL5: true,
	}
	return cfg
}

// TestScanCycle tests one full cycle: fetch, detect, publish, mark
func TestScanCycle(t *testing.T) {
	windowStart := time.Date(2025, 10, 24, 9, 45, 0, 0, time.UTC)
	src := &pairKlineSource{rows: map[string][]binance.Kline{
		"SIGUSDT":  reversalRows(windowStart),                 // fires a Short
		"FLATUSDT": flatRows(windowStart, 15*time.Minute, 20), // no pivots at all
		// ERRUSDT missing: fetch fails
	}}

	// The window's last bar closes 14:45; the cycle runs at 14:45:30
	now := time.Date(2025, 10, 24, 14, 45, 30, 0, time.UTC)

	fetcher := NewFetcher(src)
	fetcher.now = fixedClock(now)

	sched, err := NewScheduler([]string{"15m"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	sched.now = fixedClock(now)

	bus := events.NewSignalBus(8)
	defer bus.Close()
	received := make(chan events.Signal, 8)
	if err := bus.Subscribe("collector", func(sig events.Signal) error {
		received <- sig
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sc := NewScanner(fetcher, &fakeSymbols{symbols: []string{"SIGUSDT", "FLATUSDT", "ERRUSDT"}}, sched, bus, testScannerConfig())
	sc.pause = 0
	sc.Scan()

	select {
	case sig := <-received:
		if sig.Symbol != "SIGUSDT" {
			t.Errorf("Expected signal from SIGUSDT, got %s", sig.Symbol)
		}
		if sig.Direction != events.DirectionShort {
			t.Errorf("Expected Short, got %s", sig.Direction)
		}
		if sig.Timeframe != "15m" {
			t.Errorf("Expected 15m signal, got %s", sig.Timeframe)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a published signal")
	}

	result := sc.LastResult()
	if result == nil {
		t.Fatal("Expected a cycle summary")
	}
	if result.SymbolsScanned != 3 {
		t.Errorf("Expected 3 symbols scanned, got %d", result.SymbolsScanned)
	}
	if result.PairsScanned != 2 {
		t.Errorf("Expected 2 pairs scanned, got %d", result.PairsScanned)
	}
	if result.SignalsFired != 1 {
		t.Errorf("Expected 1 signal fired, got %d", result.SignalsFired)
	}
	if result.Failures != 1 {
		t.Errorf("Expected 1 fetch failure, got %d", result.Failures)
	}

	// The cycle marked its close: nothing is due until 15:00
	if due := sched.Ready(); len(due) != 0 {
		t.Errorf("Expected close marked scanned, still due: %v", due)
	}
}

// TestScanRunsNothingOffSchedule tests that an idle instant scans nothing
func TestScanRunsNothingOffSchedule(t *testing.T) {
	src := &pairKlineSource{rows: map[string][]binance.Kline{}}
	fetcher := NewFetcher(src)

	sched, err := NewScheduler([]string{"15m"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	// Inside the grace window: nothing due
	sched.now = fixedClock(time.Date(2025, 10, 24, 14, 30, 10, 0, time.UTC))

	bus := events.NewSignalBus(8)
	defer bus.Close()

	sc := NewScanner(fetcher, &fakeSymbols{symbols: []string{"BTCUSDT"}}, sched, bus, testScannerConfig())
	sc.Scan()

	if sc.LastResult() != nil {
		t.Error("Should NOT have run a cycle while nothing was due")
	}
}

// TestScannerStartStop tests loop shutdown
func TestScannerStartStop(t *testing.T) {
	src := &pairKlineSource{rows: map[string][]binance.Kline{}}
	sched, err := NewScheduler([]string{"1d"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	bus := events.NewSignalBus(8)
	defer bus.Close()

	sc := NewScanner(NewFetcher(src), &fakeSymbols{}, sched, bus, testScannerConfig())
	sc.Start()

	done := make(chan struct{})
	go func() {
		sc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Scanner did not stop in time")
	}
}

// TestDetectorsPersistAcrossCycles tests per-pair detector reuse
func TestDetectorsPersistAcrossCycles(t *testing.T) {
	sc := NewScanner(NewFetcher(&pairKlineSource{}), &fakeSymbols{}, mustScheduler(t), events.NewSignalBus(8), testScannerConfig())

	first := sc.detector("BTCUSDT", "15m")
	second := sc.detector("BTCUSDT", "15m")
	if first != second {
		t.Error("Expected the same detector instance across cycles")
	}
	if other := sc.detector("BTCUSDT", "1h"); other == first {
		t.Error("Expected a separate detector per timeframe")
	}
}

func mustScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler([]string{"15m"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}
