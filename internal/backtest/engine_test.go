package backtest

import (
	"math"
	"testing"
	"time"

	"choch-scanner/config"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/candles"
	"choch-scanner/internal/events"
	"choch-scanner/internal/orders"
)

func testEngine() *Engine {
	return New(nil, config.PivotConfig{Left: 1, Right: 1})
}

func longSignal() events.Signal {
	return events.Signal{
		Symbol:       "BTCUSDT",
		Timeframe:    "1h",
		Direction:    events.DirectionLong,
		PatternGroup: "G1",
		ChochPrice:   100,
		Entry1:       100,
		Entry2:       95,
		TakeProfit:   110,
		StopLoss:     90,
		Pivot5:       110,
		Pivot6:       95,
		Pivot8:       90,
		Timestamp:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func bar(low, high, close float64) candles.Candle {
	open := close
	if open < low {
		open = low
	}
	if open > high {
		open = high
	}
	return candles.Candle{
		OpenTime:  time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		CloseTime: time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC),
	}
}

func TestSignalOpensFourOrders(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	if e.trade == nil {
		t.Fatal("Expected an open trade")
	}
	if len(e.trade.Orders) != 4 {
		t.Fatalf("Expected 4 simulated orders, got %d", len(e.trade.Orders))
	}
	wantPrices := map[orders.OrderPurpose]float64{
		orders.PurposeEntry1:     100,
		orders.PurposeEntry2:     95,
		orders.PurposeTakeProfit: 110,
		orders.PurposeStopLoss:   90,
	}
	for _, o := range e.trade.Orders {
		if o.Price != wantPrices[o.Purpose] {
			t.Errorf("Expected %s at %g, got %g", o.Purpose, wantPrices[o.Purpose], o.Price)
		}
		if o.State != orders.OrderStatePending {
			t.Errorf("Expected %s pending, got %s", o.Purpose, o.State)
		}
	}
}

func TestEntryFillsOnTouch(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	// Bar stays above both entries: nothing fills.
	e.checkOrders(bar(101, 105, 104))
	if e.trade.hasPosition() {
		t.Fatal("Expected no fill while price stays above the entries")
	}

	// Low touches entry 1 but not entry 2.
	e.checkOrders(bar(99, 104, 103))
	if !e.trade.Entry1Filled {
		t.Error("Expected entry 1 filled on touch")
	}
	if e.trade.Entry2Filled {
		t.Error("Expected entry 2 still pending")
	}
}

func TestTPRequiresPosition(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	// High sweeps past the TP with no entry filled: trade must survive.
	e.checkOrders(bar(101, 115, 112))
	if e.trade == nil {
		t.Fatal("Expected trade to survive a TP touch without a position")
	}
	if len(e.trades) != 0 {
		t.Fatalf("Expected no completed trades, got %d", len(e.trades))
	}
}

func TestTPClosesAndCancelsSiblings(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	e.checkOrders(bar(99, 104, 103))  // entry 1 fills
	e.checkOrders(bar(102, 111, 110)) // TP touched

	if e.trade != nil {
		t.Fatal("Expected trade closed after TP")
	}
	if len(e.trades) != 1 {
		t.Fatalf("Expected 1 completed trade, got %d", len(e.trades))
	}

	tr := e.trades[0]
	if tr.ExitReason != orders.CloseReasonTP {
		t.Errorf("Expected exit reason %s, got %s", orders.CloseReasonTP, tr.ExitReason)
	}
	if tr.ExitPrice != 110 {
		t.Errorf("Expected exit at 110, got %g", tr.ExitPrice)
	}
	// Only entry 1 filled: half position, entry at 100, exit 110 ⇒ +5%.
	if math.Abs(tr.PnLPct-5) > 1e-9 {
		t.Errorf("Expected +5%% P&L for the half position, got %g", tr.PnLPct)
	}
}

func TestBothEntriesWeightedPnL(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	e.checkOrders(bar(94, 104, 103)) // both entries fill, avg 97.5
	e.checkOrders(bar(96, 111, 110)) // TP

	if len(e.trades) != 1 {
		t.Fatalf("Expected 1 completed trade, got %d", len(e.trades))
	}
	tr := e.trades[0]
	if math.Abs(tr.AvgEntryPrice-97.5) > 1e-9 {
		t.Errorf("Expected weighted entry 97.5, got %g", tr.AvgEntryPrice)
	}
	want := (110 - 97.5) / 97.5 * 100
	if math.Abs(tr.PnLPct-want) > 1e-9 {
		t.Errorf("Expected %+.4f%% P&L, got %g", want, tr.PnLPct)
	}
}

func TestStopLossShort(t *testing.T) {
	e := testEngine()
	sig := longSignal()
	sig.Direction = events.DirectionShort
	sig.Entry1 = 100
	sig.Entry2 = 105
	sig.TakeProfit = 90
	sig.StopLoss = 110
	e.onSignal(sig)

	e.checkOrders(bar(96, 101, 98))  // entry 1 fills at 100
	e.checkOrders(bar(99, 111, 109)) // SL touched at 110

	if len(e.trades) != 1 {
		t.Fatalf("Expected 1 completed trade, got %d", len(e.trades))
	}
	tr := e.trades[0]
	if tr.ExitReason != orders.CloseReasonSL {
		t.Errorf("Expected exit reason %s, got %s", orders.CloseReasonSL, tr.ExitReason)
	}
	if tr.PnLPct >= 0 {
		t.Errorf("Expected a loss on a short stopped above entry, got %g", tr.PnLPct)
	}
}

func TestOverlappingSignalForcesClose(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())
	e.checkOrders(bar(99, 104, 103)) // entry 1 fills

	fresh := longSignal()
	fresh.Direction = events.DirectionShort
	fresh.ChochPrice = 97
	fresh.Entry1 = 97
	fresh.Entry2 = 102
	fresh.TakeProfit = 88
	fresh.StopLoss = 108
	fresh.Pivot8 = 108
	e.onSignal(fresh)

	if len(e.trades) != 1 {
		t.Fatalf("Expected the old trade force-closed, got %d completed", len(e.trades))
	}
	old := e.trades[0]
	if old.ExitReason != orders.CloseReasonForced {
		t.Errorf("Expected exit reason %s, got %s", orders.CloseReasonForced, old.ExitReason)
	}
	if old.ExitPrice != 97 {
		t.Errorf("Expected forced exit at the new CHoCH price 97, got %g", old.ExitPrice)
	}
	if e.trade == nil || e.trade.Signal.Direction != events.DirectionShort {
		t.Error("Expected the new short trade to occupy the slot")
	}
}

func TestOverlappingSignalWithoutPositionJustCancels(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())

	fresh := longSignal()
	fresh.ChochPrice = 102
	fresh.Entry1 = 102
	e.onSignal(fresh)

	if len(e.trades) != 0 {
		t.Fatalf("Expected no completed trades, got %d", len(e.trades))
	}
	if e.trade == nil || e.trade.Signal.Entry1 != 102 {
		t.Error("Expected the fresh signal to own the slot")
	}
}

func TestDuplicateConfirmationIgnored(t *testing.T) {
	e := testEngine()
	e.onSignal(longSignal())
	e.checkOrders(bar(99, 104, 103))

	e.onSignal(longSignal()) // same structure reappearing on the next window

	if e.signalCount != 1 {
		t.Errorf("Expected 1 counted signal, got %d", e.signalCount)
	}
	if len(e.trades) != 0 {
		t.Errorf("Expected no forced close for a duplicate confirmation, got %d trades", len(e.trades))
	}
	if !e.trade.Entry1Filled {
		t.Error("Expected the original trade state preserved")
	}
}

func TestSummaryMetrics(t *testing.T) {
	e := testEngine()
	e.trades = []Trade{
		{ID: 1, PnLPct: 5},
		{ID: 2, PnLPct: -2},
		{ID: 3, PnLPct: 3},
	}
	e.signalCount = 3

	bars := []candles.Candle{
		{OpenTime: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		{OpenTime: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
	r := e.summarise("BTCUSDT", "1h", bars)

	if r.TotalTrades != 3 || r.WinningTrades != 2 || r.LosingTrades != 1 {
		t.Errorf("Unexpected trade counts: %d/%d/%d", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	}
	if math.Abs(r.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("Expected win rate 2/3, got %g", r.WinRate)
	}
	if math.Abs(r.TotalPnLPct-6) > 1e-9 {
		t.Errorf("Expected total P&L +6%%, got %g", r.TotalPnLPct)
	}
	if math.Abs(r.ProfitFactor-4) > 1e-9 {
		t.Errorf("Expected profit factor 4, got %g", r.ProfitFactor)
	}
	// Peak +5 after trade 1, trough +3 after trade 2.
	if math.Abs(r.MaxDrawdownPct-2) > 1e-9 {
		t.Errorf("Expected max drawdown 2%%, got %g", r.MaxDrawdownPct)
	}
}

type pagingSource struct {
	calls []int64 // endTime of each request
	rows  []binance.Kline
}

func (p *pagingSource) GetKlinesRange(symbol, interval string, startTime, endTime int64, limit int) ([]binance.Kline, error) {
	p.calls = append(p.calls, endTime)

	end := len(p.rows)
	if endTime > 0 {
		for end > 0 && p.rows[end-1].OpenTime > endTime {
			end--
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return p.rows[start:end], nil
}

func TestFetchClosedPagesBackwards(t *testing.T) {
	hour := int64(time.Hour / time.Millisecond)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	src := &pagingSource{}
	for i := 0; i < 2000; i++ {
		src.rows = append(src.rows, binance.Kline{
			OpenTime: base + int64(i)*hour,
			Open:     1, High: 2, Low: 0.5, Close: 1.5, Volume: 1,
		})
	}

	e := New(src, config.PivotConfig{Left: 1, Right: 1})
	bars, err := e.fetchClosed("BTCUSDT", "1h", 1800, time.Hour)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(bars) != 1800 {
		t.Fatalf("Expected 1800 bars, got %d", len(bars))
	}
	if len(src.calls) != 2 {
		t.Fatalf("Expected 2 paged requests, got %d", len(src.calls))
	}
	if src.calls[0] != 0 {
		t.Errorf("Expected first request with open end time, got %d", src.calls[0])
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].OpenTime.Before(bars[i].OpenTime) {
			t.Fatal("Expected bars in ascending order after paging")
		}
	}
}
