package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"choch-scanner/internal/candles"
	"choch-scanner/internal/events"
)

// Trade is one completed simulated trade.
type Trade struct {
	ID              int              `json:"id"`
	SignalTimestamp time.Time        `json:"signal_timestamp"`
	Direction       events.Direction `json:"direction"`
	PatternGroup    string           `json:"pattern_group"`

	Entry1Price  float64   `json:"entry1_price"`
	Entry1Filled bool      `json:"entry1_filled"`
	Entry1Time   time.Time `json:"entry1_time,omitempty"`
	Entry2Price  float64   `json:"entry2_price"`
	Entry2Filled bool      `json:"entry2_filled"`
	Entry2Time   time.Time `json:"entry2_time,omitempty"`

	TPPrice       float64   `json:"tp_price"`
	SLPrice       float64   `json:"sl_price"`
	ExitPrice     float64   `json:"exit_price"`
	ExitTime      time.Time `json:"exit_time"`
	ExitReason    string    `json:"exit_reason"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	PnLPct        float64   `json:"pnl_pct"`
	PnLAbs        float64   `json:"pnl_abs"`

	Pivot5     float64 `json:"pivot5"`
	Pivot6     float64 `json:"pivot6"`
	Pivot8     float64 `json:"pivot8"`
	ChochPrice float64 `json:"choch_price"`
}

// Result summarises one replay run.
type Result struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	TotalBars int       `json:"total_bars"`

	TotalSignals  int     `json:"total_signals"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	AvgWinPct      float64 `json:"avg_win_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`
	AvgPnLPct      float64 `json:"avg_pnl_pct"`
	TotalPnLPct    float64 `json:"total_pnl_pct"`
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	Trades []Trade `json:"trades"`
}

// summarise folds the completed trades into a Result.
func (e *Engine) summarise(symbol, tf string, bars []candles.Candle) *Result {
	r := &Result{
		Symbol:       symbol,
		Timeframe:    tf,
		StartDate:    bars[0].OpenTime,
		EndDate:      bars[len(bars)-1].OpenTime,
		TotalBars:    len(bars),
		TotalSignals: e.signalCount,
		TotalTrades:  len(e.trades),
		Trades:       e.trades,
	}
	if r.TotalTrades == 0 {
		return r
	}

	var grossProfit, grossLoss float64
	for _, t := range e.trades {
		r.TotalPnLPct += t.PnLPct
		if t.PnLPct > 0 {
			r.WinningTrades++
			grossProfit += t.PnLPct
		} else {
			r.LosingTrades++
			grossLoss += -t.PnLPct
		}
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	r.AvgPnLPct = r.TotalPnLPct / float64(r.TotalTrades)
	if r.WinningTrades > 0 {
		r.AvgWinPct = grossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLossPct = -grossLoss / float64(r.LosingTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		r.ProfitFactor = math.Inf(1)
	}

	var running, peak, maxDD float64
	for i, t := range e.trades {
		running += t.PnLPct
		if i == 0 || running > peak {
			peak = running
		}
		if dd := peak - running; dd > maxDD {
			maxDD = dd
		}
	}
	r.MaxDrawdownPct = maxDD

	return r
}

// Summary renders a readable report of the run.
func (r *Result) Summary() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)

	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "BACKTEST SUMMARY: %s %s\n", r.Symbol, r.Timeframe)
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "Period:        %s to %s (%d bars)\n",
		r.StartDate.UTC().Format("2006-01-02"), r.EndDate.UTC().Format("2006-01-02"), r.TotalBars)
	fmt.Fprintf(&b, "Signals:       %d\n", r.TotalSignals)
	fmt.Fprintf(&b, "Trades:        %d (%d won / %d lost)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Fprintf(&b, "Win rate:      %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "Average win:   %+.2f%%\n", r.AvgWinPct)
	fmt.Fprintf(&b, "Average loss:  %+.2f%%\n", r.AvgLossPct)
	fmt.Fprintf(&b, "Net P&L:       %+.2f%%\n", r.TotalPnLPct)
	fmt.Fprintf(&b, "Profit factor: %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "Max drawdown:  %.2f%%\n", r.MaxDrawdownPct)

	for _, t := range r.Trades {
		fmt.Fprintf(&b, "\n#%d %s %s (%s)\n", t.ID, t.Direction, t.SignalTimestamp.UTC().Format(time.RFC3339), t.PatternGroup)
		fmt.Fprintf(&b, "  entry1 %.8f %s  entry2 %.8f %s\n",
			t.Entry1Price, fillMark(t.Entry1Filled), t.Entry2Price, fillMark(t.Entry2Filled))
		fmt.Fprintf(&b, "  exit %.8f (%s)  pnl %+.2f%%\n", t.ExitPrice, t.ExitReason, t.PnLPct)
	}
	fmt.Fprintf(&b, "%s\n", line)

	return b.String()
}

func fillMark(filled bool) string {
	if filled {
		return "filled"
	}
	return "unfilled"
}
