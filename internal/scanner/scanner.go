// Package scanner drives the continuous scan loop: wake when a configured
// timeframe closes a candle, resolve the symbol universe, run every due
// (symbol, timeframe) pair through its structure detector, and publish
// whatever fires.
package scanner

import (
	"fmt"
	"sync"
	"time"

	"choch-scanner/config"
	"choch-scanner/internal/events"
	"choch-scanner/internal/logging"
	"choch-scanner/internal/patterns"
)

const (
	maxSleep   = 60 * time.Second
	minSleep   = time.Second
	fetchPause = 100 * time.Millisecond
)

// Scanner orchestrates scheduling, fetching and detection across all
// configured timeframes.
type Scanner struct {
	fetcher  *Fetcher
	symbols  SymbolSource
	sched    *Scheduler
	bus      *events.SignalBus
	pivotCfg config.PivotConfig
	logger   *logging.Logger

	pause      time.Duration
	sleepFloor time.Duration

	// detectors persist across cycles, one per (symbol, timeframe) pair.
	detectors map[string]*patterns.Detector

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu         sync.RWMutex
	lastResult *ScanResult
}

// NewScanner wires the scan loop from its parts.
func NewScanner(fetcher *Fetcher, symbols SymbolSource, sched *Scheduler, bus *events.SignalBus, cfg *config.Config) *Scanner {
	floor := time.Duration(cfg.ScannerConfig.UpdateInterval) * time.Second
	if floor < minSleep {
		floor = minSleep
	}
	return &Scanner{
		fetcher:    fetcher,
		symbols:    symbols,
		sched:      sched,
		bus:        bus,
		pivotCfg:   cfg.PivotConfig,
		logger:     logging.WithComponent("scanner"),
		pause:      fetchPause,
		sleepFloor: floor,
		detectors:  make(map[string]*patterns.Detector),
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background scan loop.
func (sc *Scanner) Start() {
	sc.wg.Add(1)
	go sc.run()
	sc.logger.Info("scan loop started")
}

// Stop shuts the loop down and waits for the current cycle to finish.
func (sc *Scanner) Stop() {
	close(sc.stopChan)
	sc.wg.Wait()
	sc.logger.Info("scan loop stopped")
}

func (sc *Scanner) run() {
	defer sc.wg.Done()

	for {
		if ready := sc.sched.Ready(); len(ready) > 0 {
			sc.scan(ready)
		}

		select {
		case <-time.After(sc.sched.Wait(sc.sleepFloor, maxSleep)):
		case <-sc.stopChan:
			return
		}
	}
}

// Scan runs a single cycle over whatever is due right now. Exposed for the
// API's manual trigger.
func (sc *Scanner) Scan() {
	if ready := sc.sched.Ready(); len(ready) > 0 {
		sc.scan(ready)
	}
}

// scan works through every (symbol, timeframe) pair for the due timeframes.
// Per-pair failures are logged and skipped; the scanned closes are marked
// only after the whole cycle, so a crash mid-cycle replays it.
func (sc *Scanner) scan(ready []ReadyScan) {
	start := time.Now()
	scanID := fmt.Sprintf("scan-%d", start.Unix())

	symbols, err := sc.symbols.Resolve()
	if err != nil {
		sc.logger.Error("symbol universe resolution failed", "error", err)
		return
	}

	timeframes := make([]string, len(ready))
	for i, r := range ready {
		timeframes[i] = r.Timeframe
	}
	sc.logger.Info("scan cycle starting",
		"scan_id", scanID,
		"timeframes", timeframes,
		"symbols", len(symbols),
	)

	pairs, fired, failures := 0, 0, 0
	for _, r := range ready {
		for _, symbol := range symbols {
			select {
			case <-sc.stopChan:
				return
			default:
			}

			bars, err := sc.fetcher.Window(symbol, r.Timeframe)
			if err != nil {
				failures++
				sc.logger.Warn("window fetch failed",
					"symbol", symbol,
					"timeframe", r.Timeframe,
					"error", err,
				)
				continue
			}

			pairs++
			if sig := sc.detector(symbol, r.Timeframe).Process(bars); sig != nil {
				fired++
				sc.bus.Publish(*sig)
			}

			// Let other goroutines at the connection between fetches.
			if sc.pause > 0 {
				select {
				case <-sc.stopChan:
					return
				case <-time.After(sc.pause):
				}
			}
		}
	}

	for _, r := range ready {
		sc.sched.MarkScanned(r.Timeframe, r.PrevClose)
	}

	result := &ScanResult{
		ScanID:         scanID,
		StartTime:      start,
		Duration:       time.Since(start),
		Timeframes:     timeframes,
		SymbolsScanned: len(symbols),
		PairsScanned:   pairs,
		SignalsFired:   fired,
		Failures:       failures,
	}
	sc.mu.Lock()
	sc.lastResult = result
	sc.mu.Unlock()

	sc.logger.Info("scan cycle complete",
		"scan_id", scanID,
		"duration", result.Duration.Round(time.Millisecond).String(),
		"pairs", pairs,
		"signals", fired,
		"failures", failures,
	)
}

// detector returns the persistent detector for one pair, creating it on
// first use.
func (sc *Scanner) detector(symbol, timeframe string) *patterns.Detector {
	key := symbol + "_" + timeframe
	if d, ok := sc.detectors[key]; ok {
		return d
	}
	d := patterns.NewDetector(symbol, timeframe, sc.pivotCfg)
	sc.detectors[key] = d
	return d
}

// LastResult returns the most recent cycle summary, or nil before the first.
func (sc *Scanner) LastResult() *ScanResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastResult
}
