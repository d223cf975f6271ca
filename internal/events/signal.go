// Package events carries confirmed reversal signals from the scanner to its
// consumers (Telegram, dashboard, order placement, persistence) over an
// in-process bus.
package events

import "time"

// Direction of a confirmed reversal. The values flow unmodified into alert
// records and outbound messages.
type Direction string

const (
	DirectionLong  Direction = "Long"
	DirectionShort Direction = "Short"
)

// Signal is one confirmed change of character on a (symbol, timeframe).
// Price levels follow the converter convention: entry 1 at the CHoCH close,
// entry 2 at pivot 6, take profit at pivot 5, stop loss at pivot 8.
type Signal struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Direction    Direction `json:"direction"`
	PatternGroup string    `json:"pattern_group"`
	ChochPrice   float64   `json:"choch_price"`
	Entry1       float64   `json:"entry1"`
	Entry2       float64   `json:"entry2"`
	TakeProfit   float64   `json:"take_profit"`
	StopLoss     float64   `json:"stop_loss"`
	Pivot5       float64   `json:"pivot5"`
	Pivot6       float64   `json:"pivot6"`
	Pivot8       float64   `json:"pivot8"`
	Timestamp    time.Time `json:"timestamp"`

	// Metadata holds auxiliary detection context (outer pivots, detector
	// state key) that consumers may surface but must not depend on.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SignalType renders the canonical alert label for the direction.
func (s Signal) SignalType() string {
	if s.Direction == DirectionLong {
		return "CHoCH Up"
	}
	return "CHoCH Down"
}
