package scanner

import "time"

// SymbolSource resolves the symbol universe for one scan cycle.
type SymbolSource interface {
	Resolve() ([]string, error)
}

// ScanResult summarises one completed scan cycle.
type ScanResult struct {
	ScanID         string        `json:"scan_id"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	Timeframes     []string      `json:"timeframes"`
	SymbolsScanned int           `json:"symbols_scanned"`
	PairsScanned   int           `json:"pairs_scanned"`
	SignalsFired   int           `json:"signals_fired"`
	Failures       int           `json:"failures"`
}
