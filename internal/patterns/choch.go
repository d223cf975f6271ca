package patterns

import (
	"math"

	"choch-scanner/internal/candles"
)

// confirmation is the outcome of the three-candle rule: the direction the
// market changed character towards, the structure it reversed, and the CHoCH
// bar that anchors the signal price.
type confirmation struct {
	up       bool
	pattern  *Pattern
	chochBar int
	price    float64
}

// Confirm applies the three-candle rule to the newest closed bars. It
// returns nil whenever any predicate fails; short windows and missing
// structures are ordinary no-signal outcomes, never errors. A firing
// confirmation locks the detector until the next rebuild.
func (d *Detector) confirm(bars []candles.Candle) *confirmation {
	if d.chochLocked || len(bars) < 3 {
		return nil
	}

	n := len(bars)
	curr, prev1, prev2 := bars[n-1], bars[n-2], bars[n-3]

	// The CHoCH bar closing as a brand-new pivot would corrupt the recorded
	// structure (it becomes that structure's newest pivot). Re-anchor one
	// pivot back so the fresh pivot is treated as the reversal bar instead.
	pat := d.pattern
	if len(d.pivots) >= patternPivots+1 && d.pivots[len(d.pivots)-1].Index == n-2 {
		pat = recognizePattern(bars, d.pivots, 1)
	}
	if pat == nil {
		return nil
	}

	// Confirmation must come after the structure completed.
	if n-1 <= pat.P8Index() {
		return nil
	}

	// A change of character runs against the structure: an up confirmation
	// needs a down structure and vice versa.
	up := !pat.Up && chochUpBar(prev2, prev1, pat) && curr.Close > prev2.High
	down := pat.Up && chochDownBar(prev2, prev1, pat) && curr.Close < prev2.Low
	if !up && !down {
		return nil
	}

	if !withinGroupLimit(up, curr.Close, pat) {
		return nil
	}
	if !volumeCluster(bars, pat, prev1.Volume) {
		return nil
	}
	if !clearsPivot8Body(up, curr, bars[pat.P8Index()]) {
		return nil
	}

	d.chochLocked = true
	d.lockedBar = n - 2
	d.lockedPrice = prev1.Close

	return &confirmation{up: up, pattern: pat, chochBar: n - 2, price: prev1.Close}
}

// chochUpBar tests the CHoCH bar of an upward change of character: it holds
// above the pre-CHoCH bar and closes back inside the structure's price
// corridor between the fourth and second pivots, above the sixth.
func chochUpBar(prev2, prev1 candles.Candle, pat *Pattern) bool {
	return prev1.Low > prev2.Low &&
		prev1.Close > prev2.High &&
		prev1.Close > pat.price(6) &&
		prev1.Close < pat.price(2) &&
		prev1.Close > pat.price(4)
}

// chochDownBar mirrors chochUpBar for a downward change of character.
func chochDownBar(prev2, prev1 candles.Candle, pat *Pattern) bool {
	return prev1.High < prev2.High &&
		prev1.Close < prev2.Low &&
		prev1.Close < pat.price(6) &&
		prev1.Close > pat.price(2) &&
		prev1.Close < pat.price(4)
}

// withinGroupLimit caps the confirmation close at the fifth pivot for G1 and
// G3 structures and at the seventh for G2; mirrored as a floor downward.
func withinGroupLimit(up bool, close float64, pat *Pattern) bool {
	limit := pat.price(5)
	if pat.Group == GroupG2 {
		limit = pat.price(7)
	}
	if up {
		return close <= limit
	}
	return close >= limit
}

// volumeCluster checks that volume concentrated on the structure pivots in
// the shape the group calls for, or that the CHoCH bar out-traded them all.
func volumeCluster(bars []candles.Candle, pat *Pattern, chochVolume float64) bool {
	v4 := bars[pat.pivot(4).Index].Volume
	v5 := bars[pat.pivot(5).Index].Volume
	v6 := bars[pat.pivot(6).Index].Volume
	v7 := bars[pat.pivot(7).Index].Volume
	v8 := bars[pat.pivot(8).Index].Volume

	if pat.Group == GroupG1 {
		recent := math.Max(v6, math.Max(v7, v8))
		base := math.Max(v4, math.Max(v5, v6))
		return (v8 == recent || v6 == recent || chochVolume >= recent) &&
			(v4 == base || v6 == base)
	}

	peak := math.Max(v4, math.Max(v5, math.Max(v6, math.Max(v7, v8))))
	return v4 == peak || v8 == peak || chochVolume >= peak
}

// clearsPivot8Body demands the confirmation candle close beyond the eighth
// pivot's bar and keep its near wick clear of that bar's body.
func clearsPivot8Body(up bool, curr, pivot8Bar candles.Candle) bool {
	bodyLow, bodyHigh := pivot8Bar.Body()
	if up {
		return curr.Close > pivot8Bar.High && curr.Low > bodyHigh
	}
	return curr.Close < pivot8Bar.Low && curr.High < bodyLow
}
