// Package orders translates confirmed signals into four-order position sets
// on the futures exchange (two limit entries, one take-profit, one stop-loss
// with close-position semantics) and tracks their lifecycle to close.
package orders

import (
	"errors"
	"time"

	"choch-scanner/internal/binance"
	"choch-scanner/internal/events"
)

// TradeStatus tracks a position set from placement to close.
type TradeStatus string

const (
	StatusPending      TradeStatus = "PENDING"       // orders placed, no entry filled
	StatusEntry1Filled TradeStatus = "ENTRY1_FILLED" // first entry filled
	StatusEntry2Filled TradeStatus = "ENTRY2_FILLED" // second entry filled
	StatusBothFilled   TradeStatus = "BOTH_FILLED"   // both entries filled
	StatusClosed       TradeStatus = "CLOSED"        // closed by TP, SL or force
)

// OrderPurpose names each order's role within the set.
type OrderPurpose string

const (
	PurposeEntry1     OrderPurpose = "ENTRY1"
	PurposeEntry2     OrderPurpose = "ENTRY2"
	PurposeTakeProfit OrderPurpose = "TP"
	PurposeStopLoss   OrderPurpose = "SL"
)

// Order states within a position set.
const (
	OrderStatePending   = "pending"
	OrderStateFilled    = "filled"
	OrderStateCancelled = "cancelled"
)

// Close reasons recorded when a position terminates.
const (
	CloseReasonTP     = "TP"
	CloseReasonSL     = "SL"
	CloseReasonForced = "FORCED_CLOSE_NEW_SIGNAL"
)

var (
	// ErrOrderRejected wraps exchange rejections during set placement.
	ErrOrderRejected = errors.New("order rejected by exchange")
	// ErrInvalidSignal marks a signal whose price levels cannot form a set.
	ErrInvalidSignal = errors.New("signal failed validation")
	// ErrMarkPastTP marks a signal whose TP has already been overtaken.
	ErrMarkPastTP = errors.New("mark price already past take profit")
)

// ManagedOrder is one exchange order within a position set.
type ManagedOrder struct {
	OrderID     int64             `json:"order_id"`
	Symbol      string            `json:"symbol"`
	Side        string            `json:"side"` // BUY or SELL
	Type        binance.OrderType `json:"type"`
	Purpose     OrderPurpose      `json:"purpose"`
	Quantity    float64           `json:"quantity"` // 0 for close-position orders
	Price       float64           `json:"price"`
	State       string            `json:"state"`
	FilledPrice float64           `json:"filled_price,omitempty"`
	FilledAt    *time.Time        `json:"filled_at,omitempty"`
}

// Position is one managed four-order set for a (symbol, timeframe).
type Position struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	Direction    events.Direction `json:"direction"`
	PatternGroup string           `json:"pattern_group"`

	SignalTimestamp time.Time `json:"signal_timestamp"`
	ChochPrice      float64   `json:"choch_price"`
	Entry1Price     float64   `json:"entry1_price"`
	Entry2Price     float64   `json:"entry2_price"`
	TPPrice         float64   `json:"tp_price"`
	SLPrice         float64   `json:"sl_price"`
	Pivot5          float64   `json:"pivot5"`
	Pivot6          float64   `json:"pivot6"`
	Pivot8          float64   `json:"pivot8"`

	Status        TradeStatus     `json:"status"`
	Entry1Qty     float64         `json:"entry1_qty"`
	Entry2Qty     float64         `json:"entry2_qty"`
	TotalQty      float64         `json:"total_qty"`
	AvgEntryPrice float64         `json:"avg_entry_price"`
	RealizedPnL   float64         `json:"realized_pnl"`
	CloseReason   string          `json:"close_reason,omitempty"`
	Orders        []*ManagedOrder `json:"orders"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Key identifies the position's (symbol, timeframe) slot. One slot holds at
// most one live position; a new signal for the slot force-closes the old one.
func (p *Position) Key() string {
	return p.Symbol + "_" + p.Timeframe
}

// OrderByPurpose returns the set's order with the given role, or nil.
func (p *Position) OrderByPurpose(purpose OrderPurpose) *ManagedOrder {
	for _, o := range p.Orders {
		if o.Purpose == purpose {
			return o
		}
	}
	return nil
}

// HasOpenPosition reports whether any entry has filled.
func (p *Position) HasOpenPosition() bool {
	return p.Entry1Qty > 0 || p.Entry2Qty > 0
}

// UpdateAvgEntry recomputes the volume-weighted entry over the filled
// entries.
func (p *Position) UpdateAvgEntry() {
	if p.TotalQty <= 0 {
		p.AvgEntryPrice = 0
		return
	}
	totalCost := p.Entry1Price*p.Entry1Qty + p.Entry2Price*p.Entry2Qty
	p.AvgEntryPrice = totalCost / p.TotalQty
}

// PnL computes the realized profit for an exit at the given price against
// the volume-weighted entry.
func (p *Position) PnL(exitPrice float64) float64 {
	if p.Direction == events.DirectionLong {
		return (exitPrice - p.AvgEntryPrice) * p.TotalQty
	}
	return (p.AvgEntryPrice - exitPrice) * p.TotalQty
}
