// Package backtest replays historical candles through the live detection
// engine and simulates the four-order lifecycle bar by bar.
package backtest

import (
	"fmt"
	"time"

	"choch-scanner/config"
	"choch-scanner/internal/candles"
	"choch-scanner/internal/events"
	"choch-scanner/internal/logging"
	"choch-scanner/internal/orders"
	"choch-scanner/internal/patterns"
)

// replayWindow matches the live scan window: every detector pass sees the
// newest 50 closed bars.
const replayWindow = 50

// simOrder is one simulated order within the current trade.
type simOrder struct {
	Purpose  orders.OrderPurpose
	Price    float64
	State    string
	FilledAt time.Time
}

// openTrade tracks the trade currently being simulated.
type openTrade struct {
	Signal       events.Signal
	Orders       []*simOrder
	Entry1Filled bool
	Entry2Filled bool
	Entry1Time   time.Time
	Entry2Time   time.Time
}

func (t *openTrade) hasPosition() bool {
	return t.Entry1Filled || t.Entry2Filled
}

// Engine drives one replay: slide the scan window over the history, check
// simulated fills on each bar before running detection on it, and convert
// confirmations into simulated four-order trades.
type Engine struct {
	client   HistorySource
	pivotCfg config.PivotConfig
	logger   *logging.Logger

	trade        *openTrade
	trades       []Trade
	signalCount  int
	tradeCounter int
}

// New builds a replay engine over the given kline source.
func New(client HistorySource, pivotCfg config.PivotConfig) *Engine {
	return &Engine{
		client:   client,
		pivotCfg: pivotCfg,
		logger:   logging.WithComponent("backtest"),
	}
}

// Run fetches limit closed bars of tf for symbol and replays them.
func (e *Engine) Run(symbol, tf string, limit int) (*Result, error) {
	bars, err := e.history(symbol, tf, limit)
	if err != nil {
		return nil, err
	}
	if len(bars) <= replayWindow {
		return nil, fmt.Errorf("backtest %s %s: need more than %d bars, got %d",
			symbol, tf, replayWindow, len(bars))
	}

	e.logger.Info("Replaying history",
		"symbol", symbol,
		"timeframe", tf,
		"bars", len(bars),
		"from", bars[0].OpenTime.UTC().Format(time.RFC3339),
		"to", bars[len(bars)-1].OpenTime.UTC().Format(time.RFC3339),
	)

	return e.Replay(symbol, tf, bars), nil
}

// Replay runs the simulation over already-fetched bars, oldest first.
func (e *Engine) Replay(symbol, tf string, bars []candles.Candle) *Result {
	e.trade = nil
	e.trades = nil
	e.signalCount = 0
	e.tradeCounter = 0

	det := patterns.NewDetector(symbol, tf, e.pivotCfg)

	for i := replayWindow; i < len(bars); i++ {
		// Fills are checked against the current bar before detection runs on
		// it, so orders created by a signal can only fill on later bars.
		e.checkOrders(bars[i])

		window := bars[i-replayWindow+1 : i+1]
		if sig := det.Process(window); sig != nil {
			e.onSignal(*sig)
		}
	}

	return e.summarise(symbol, tf, bars)
}

// onSignal opens a simulated trade for the confirmation, force-closing any
// trade already occupying the slot.
func (e *Engine) onSignal(sig events.Signal) {
	if e.trade != nil && sameSignal(&e.trade.Signal, &sig) {
		// The same confirmation can reappear on consecutive windows.
		return
	}
	e.signalCount++

	if e.trade != nil {
		if e.trade.hasPosition() {
			e.logger.Warn("Overlapping signal with open position, force closing",
				"symbol", sig.Symbol,
				"timeframe", sig.Timeframe,
				"old_direction", string(e.trade.Signal.Direction),
			)
			e.cancelPending(nil)
			e.closeTrade(orders.CloseReasonForced, sig.ChochPrice, sig.Timestamp)
		} else {
			e.cancelPending(nil)
			e.trade = nil
		}
	}

	e.trade = &openTrade{
		Signal: sig,
		Orders: []*simOrder{
			{Purpose: orders.PurposeEntry1, Price: sig.Entry1, State: orders.OrderStatePending},
			{Purpose: orders.PurposeEntry2, Price: sig.Entry2, State: orders.OrderStatePending},
			{Purpose: orders.PurposeTakeProfit, Price: sig.TakeProfit, State: orders.OrderStatePending},
			{Purpose: orders.PurposeStopLoss, Price: sig.StopLoss, State: orders.OrderStatePending},
		},
	}

	e.logger.Info("Simulated trade opened",
		"direction", string(sig.Direction),
		"group", sig.PatternGroup,
		"entry1", sig.Entry1,
		"entry2", sig.Entry2,
		"tp", sig.TakeProfit,
		"sl", sig.StopLoss,
	)
}

// checkOrders fills pending orders against one bar's range. Entries fill on
// touch; TP and SL only once at least one entry has filled, and a terminal
// fill cancels the remaining orders and closes the trade.
func (e *Engine) checkOrders(bar candles.Candle) {
	if e.trade == nil {
		return
	}

	long := e.trade.Signal.Direction == events.DirectionLong
	ts := bar.OpenTime

	for _, o := range e.trade.Orders {
		if o.State != orders.OrderStatePending {
			continue
		}

		switch o.Purpose {
		case orders.PurposeEntry1, orders.PurposeEntry2:
			touched := (long && bar.Low <= o.Price) || (!long && bar.High >= o.Price)
			if !touched {
				continue
			}
			o.State = orders.OrderStateFilled
			o.FilledAt = ts
			if o.Purpose == orders.PurposeEntry1 {
				e.trade.Entry1Filled = true
				e.trade.Entry1Time = ts
			} else {
				e.trade.Entry2Filled = true
				e.trade.Entry2Time = ts
			}

		case orders.PurposeTakeProfit:
			if !e.trade.hasPosition() {
				continue
			}
			if (long && bar.High >= o.Price) || (!long && bar.Low <= o.Price) {
				o.State = orders.OrderStateFilled
				o.FilledAt = ts
				e.cancelPending(o)
				e.closeTrade(orders.CloseReasonTP, o.Price, ts)
				return
			}

		case orders.PurposeStopLoss:
			if !e.trade.hasPosition() {
				continue
			}
			if (long && bar.Low <= o.Price) || (!long && bar.High >= o.Price) {
				o.State = orders.OrderStateFilled
				o.FilledAt = ts
				e.cancelPending(o)
				e.closeTrade(orders.CloseReasonSL, o.Price, ts)
				return
			}
		}
	}
}

// cancelPending cancels every still-pending order except the one given.
func (e *Engine) cancelPending(except *simOrder) {
	if e.trade == nil {
		return
	}
	for _, o := range e.trade.Orders {
		if o.State == orders.OrderStatePending && o != except {
			o.State = orders.OrderStateCancelled
		}
	}
}

// closeTrade records the trade result against the 50/50 weighted entry. A
// close with no filled entry records nothing.
func (e *Engine) closeTrade(reason string, exitPrice float64, exitTime time.Time) {
	t := e.trade
	if t == nil {
		return
	}
	e.trade = nil

	if !t.hasPosition() {
		e.logger.Error("Trade closed without any filled entry",
			"reason", reason,
			"exit", exitPrice,
		)
		return
	}

	sig := t.Signal
	var weighted, position float64
	if t.Entry1Filled {
		weighted += sig.Entry1 * 0.5
		position += 0.5
	}
	if t.Entry2Filled {
		weighted += sig.Entry2 * 0.5
		position += 0.5
	}
	avgEntry := weighted / position

	pnlPct := (exitPrice - avgEntry) / avgEntry * 100
	pnlAbs := (exitPrice - avgEntry) * position
	if sig.Direction == events.DirectionShort {
		pnlPct = -pnlPct
		pnlAbs = -pnlAbs
	}
	// A half-filled position carries half the move.
	pnlPct *= position

	e.tradeCounter++
	e.trades = append(e.trades, Trade{
		ID:              e.tradeCounter,
		SignalTimestamp: sig.Timestamp,
		Direction:       sig.Direction,
		PatternGroup:    sig.PatternGroup,
		Entry1Price:     sig.Entry1,
		Entry1Filled:    t.Entry1Filled,
		Entry1Time:      t.Entry1Time,
		Entry2Price:     sig.Entry2,
		Entry2Filled:    t.Entry2Filled,
		Entry2Time:      t.Entry2Time,
		TPPrice:         sig.TakeProfit,
		SLPrice:         sig.StopLoss,
		ExitPrice:       exitPrice,
		ExitTime:        exitTime,
		ExitReason:      reason,
		AvgEntryPrice:   avgEntry,
		PnLPct:          pnlPct,
		PnLAbs:          pnlAbs,
		Pivot5:          sig.Pivot5,
		Pivot6:          sig.Pivot6,
		Pivot8:          sig.Pivot8,
		ChochPrice:      sig.ChochPrice,
	})

	e.logger.Info("Simulated trade closed",
		"reason", reason,
		"avg_entry", avgEntry,
		"exit", exitPrice,
		"pnl_pct", fmt.Sprintf("%+.2f", pnlPct),
	)
}

// sameSignal reports whether two confirmations describe the same structure.
func sameSignal(a, b *events.Signal) bool {
	return a.Direction == b.Direction &&
		a.PatternGroup == b.PatternGroup &&
		a.ChochPrice == b.ChochPrice &&
		a.Pivot8 == b.Pivot8
}
