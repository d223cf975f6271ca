package database

import "time"

// Alert is one persisted CHoCH alert record.
type Alert struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	SignalType      string    `json:"signal_type"` // "CHoCH Up" or "CHoCH Down"
	Direction       string    `json:"direction"`   // "Long" or "Short"
	PatternGroup    string    `json:"pattern_group"`
	Price           float64   `json:"price"`
	SignalTimestamp time.Time `json:"signal_timestamp"`
	CreatedAt       time.Time `json:"created_at"`
	ChartLink       string    `json:"chart_link"`
	IsFutures       bool      `json:"is_futures"`
	Region          string    `json:"region"`
	Confidence      *float64  `json:"confidence,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

// ArchivedAlert is an alert moved to the archive stream.
type ArchivedAlert struct {
	Alert
	AlertID       int64     `json:"alert_id"`
	ArchivedAt    time.Time `json:"archived_at"`
	ArchiveReason string    `json:"archive_reason"`
}

// AlertFilter narrows an alert query. Zero-valued fields are ignored.
type AlertFilter struct {
	Symbols     []string
	Timeframes  []string
	Directions  []string
	SignalTypes []string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

// SymbolCount pairs a grouping value with its alert count.
type SymbolCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// AlertStats aggregates the alert corpus.
type AlertStats struct {
	TotalAlerts   int64         `json:"total_alerts"`
	LongAlerts    int64         `json:"long_alerts"`
	ShortAlerts   int64         `json:"short_alerts"`
	TodayAlerts   int64         `json:"today_alerts"`
	TopSymbols    []SymbolCount `json:"top_symbols"`
	TopTimeframes []SymbolCount `json:"top_timeframes"`
}

// FilterValues lists the distinct values present in the corpus, for filter
// dropdowns.
type FilterValues struct {
	Symbols     []string `json:"symbols"`
	Timeframes  []string `json:"timeframes"`
	Directions  []string `json:"directions"`
	SignalTypes []string `json:"signal_types"`
}
