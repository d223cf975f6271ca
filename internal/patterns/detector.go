// Package patterns implements the market-structure engine: swing pivot
// detection with variant classification, the eight-pivot trend structure
// recognizer, and the three-candle change-of-character confirmation that
// turns a recognised structure into a tradeable signal.
package patterns

import (
	"fmt"

	"github.com/google/uuid"

	"choch-scanner/config"
	"choch-scanner/internal/candles"
	"choch-scanner/internal/events"
	"choch-scanner/internal/logging"
)

const (
	defaultPivotSpan  = 1
	defaultKeepPivots = 500
)

// Detector owns the pivot history and pattern state for one
// (symbol, timeframe) pair. It is rebuilt from scratch on every scan window
// and is not safe for concurrent use; each pair gets its own instance.
type Detector struct {
	symbol    string
	timeframe string

	left       int
	right      int
	keepPivots int
	allowed    map[Variant]bool

	logger *logging.Logger

	pivots  []Pivot
	pattern *Pattern

	chochLocked bool
	lockedBar   int
	lockedPrice float64
}

// NewDetector builds a detector for one symbol and timeframe using the pivot
// configuration's window half-widths, history capacity, and variant
// allow-list.
func NewDetector(symbol, timeframe string, cfg config.PivotConfig) *Detector {
	left, right := cfg.Left, cfg.Right
	if left < defaultPivotSpan {
		left = defaultPivotSpan
	}
	if right < defaultPivotSpan {
		right = defaultPivotSpan
	}
	keep := cfg.KeepPivots
	if keep <= 0 {
		keep = defaultKeepPivots
	}

	return &Detector{
		symbol:     symbol,
		timeframe:  timeframe,
		left:       left,
		right:      right,
		keepPivots: keep,
		allowed:    allowedVariants(cfg),
		logger:     logging.PatternContext(symbol, timeframe, "choch"),
	}
}

// Rebuild discards all pivot and pattern state, rescans the window for
// accepted pivots, and re-runs structure recognition over the result. It
// returns the number of pivots stored, synthetic ones included.
func (d *Detector) Rebuild(bars []candles.Candle) int {
	d.pivots = d.pivots[:0]
	d.pattern = nil
	d.chochLocked = false
	d.lockedBar = 0
	d.lockedPrice = 0

	if len(bars) < d.left+d.right+1 {
		return 0
	}

	for i := d.left; i < len(bars)-d.right; i++ {
		isHigh := isPivotHigh(bars, i, d.left, d.right)
		if !isHigh && !isPivotLow(bars, i, d.left, d.right) {
			continue
		}

		variant := classifyVariant(bars, i, isHigh)
		if variant == "" || !d.allowed[variant] {
			continue
		}

		price := bars[i].High
		if !isHigh {
			price = bars[i].Low
		}
		d.appendPivot(bars, Pivot{Index: i, Price: price, IsHigh: isHigh, Variant: variant})
	}

	d.pattern = recognizePattern(bars, d.pivots, 0)

	d.logger.Debug("rebuilt pivot history",
		"bars", len(bars),
		"pivots", len(d.pivots),
	)
	if d.pattern != nil {
		trend := "down"
		if d.pattern.Up {
			trend = "up"
		}
		d.logger.Info("eight-pivot structure recognised",
			"trend", trend,
			"group", string(d.pattern.Group),
			"p8_price", d.pattern.price(8),
		)
	}

	return len(d.pivots)
}

// Confirm runs the three-candle rule against the current state and converts
// a firing confirmation into a Signal. Returns nil when nothing fires.
func (d *Detector) Confirm(bars []candles.Candle) *events.Signal {
	c := d.confirm(bars)
	if c == nil {
		return nil
	}
	return d.buildSignal(c, bars)
}

// Process is the per-scan entry point: rebuild the pivot history from the
// fresh window, then test the newest three bars for a confirmation.
func (d *Detector) Process(bars []candles.Candle) *events.Signal {
	d.Rebuild(bars)
	return d.Confirm(bars)
}

// Pivots exposes the stored pivot sequence, oldest first.
func (d *Detector) Pivots() []Pivot { return d.pivots }

// Pattern exposes the structure recognised by the last rebuild, or nil.
func (d *Detector) Pattern() *Pattern { return d.pattern }

// Locked reports whether a confirmation has fired since the last rebuild.
func (d *Detector) Locked() bool { return d.chochLocked }

// StateKey identifies this detector's (symbol, timeframe) state.
func (d *Detector) StateKey() string {
	return fmt.Sprintf("%s_%s", d.symbol, d.timeframe)
}

// buildSignal assembles the outbound Signal from a confirmation. Entry 1
// sits at the CHoCH close, entry 2 at the sixth pivot, take profit at the
// fifth, stop loss at the eighth; the outer reference pivots ride along as
// metadata.
func (d *Detector) buildSignal(c *confirmation, bars []candles.Candle) *events.Signal {
	pat := c.pattern
	direction := events.DirectionShort
	if c.up {
		direction = events.DirectionLong
	}

	sig := &events.Signal{
		ID:           uuid.New().String(),
		Symbol:       d.symbol,
		Timeframe:    d.timeframe,
		Direction:    direction,
		PatternGroup: string(pat.Group),
		ChochPrice:   c.price,
		Entry1:       c.price,
		Entry2:       pat.price(6),
		TakeProfit:   pat.price(5),
		StopLoss:     pat.price(8),
		Pivot5:       pat.price(5),
		Pivot6:       pat.price(6),
		Pivot8:       pat.price(8),
		Timestamp:    bars[len(bars)-1].OpenTime,
		Metadata: map[string]interface{}{
			"pivot4":             pat.price(4),
			"pivot7":             pat.price(7),
			"detector_state_key": d.StateKey(),
		},
	}

	d.logger.Info("change of character confirmed",
		"direction", string(direction),
		"group", string(pat.Group),
		"price", c.price,
	)

	return sig
}
