package patterns

import (
	"choch-scanner/config"
	"choch-scanner/internal/candles"
)

// Variant identifies the micro-shape of the three-bar neighbourhood around a
// pivot. Real pivots carry PH1..PH5 or PL1..PL5; pivots inserted to repair
// alternation carry Synthetic.
type Variant string

const (
	VariantPH1 Variant = "PH1"
	VariantPH2 Variant = "PH2"
	VariantPH3 Variant = "PH3"
	VariantPH4 Variant = "PH4"
	VariantPH5 Variant = "PH5"
	VariantPL1 Variant = "PL1"
	VariantPL2 Variant = "PL2"
	VariantPL3 Variant = "PL3"
	VariantPL4 Variant = "PL4"
	VariantPL5 Variant = "PL5"

	// VariantSynthetic marks a pivot inserted at the extreme of the gap
	// between two same-type pivots to keep the sequence alternating.
	VariantSynthetic Variant = "SYNTHETIC"
)

// Pivot is one swing point inside a scanned window. Index addresses the bar
// within the window the pivot was built from; the price is the bar's high for
// pivot highs and its low for pivot lows.
type Pivot struct {
	Index   int
	Price   float64
	IsHigh  bool
	Variant Variant
}

// allowedVariants expands the per-variant switches into a lookup set.
// Synthetic pivots bypass the allow-list.
func allowedVariants(cfg config.PivotConfig) map[Variant]bool {
	return map[Variant]bool{
		VariantPH1: cfg.AllowPH1,
		VariantPH2: cfg.AllowPH2,
		VariantPH3: cfg.AllowPH3,
		VariantPH4: cfg.AllowPH4,
		VariantPH5: cfg.AllowPH5,
		VariantPL1: cfg.AllowPL1,
		VariantPL2: cfg.AllowPL2,
		VariantPL3: cfg.AllowPL3,
		VariantPL4: cfg.AllowPL4,
		VariantPL5: cfg.AllowPL5,
	}
}

// isPivotHigh reports whether bar i tops every bar in its neighbourhood:
// strictly above the left side, at or above the right side.
func isPivotHigh(bars []candles.Candle, i, left, right int) bool {
	center := bars[i].High
	for j := i - left; j < i; j++ {
		if bars[j].High >= center {
			return false
		}
	}
	for j := i + 1; j <= i+right; j++ {
		if bars[j].High > center {
			return false
		}
	}
	return true
}

// isPivotLow mirrors isPivotHigh for swing lows.
func isPivotLow(bars []candles.Candle, i, left, right int) bool {
	center := bars[i].Low
	for j := i - left; j < i; j++ {
		if bars[j].Low <= center {
			return false
		}
	}
	for j := i + 1; j <= i+right; j++ {
		if bars[j].Low < center {
			return false
		}
	}
	return true
}

// classifyVariant matches the (i-1, i, i+1) triple against the variant table.
// Tests run in order and the first match wins; a triple matching none returns
// the empty Variant and the candidate is discarded.
func classifyVariant(bars []candles.Candle, i int, isHigh bool) Variant {
	if i < 1 || i >= len(bars)-1 {
		return ""
	}

	h1, h2, h3 := bars[i-1].High, bars[i].High, bars[i+1].High
	l1, l2, l3 := bars[i-1].Low, bars[i].Low, bars[i+1].Low

	if isHigh {
		switch {
		case h2 > h1 && h2 > h3 && l2 > l1 && l2 > l3:
			return VariantPH1
		case h2 >= h1 && h2 > h3 && l2 > l3 && l2 < l1:
			return VariantPH2
		case h2 > h1 && h2 >= h3 && l2 < l3 && l2 > l1:
			return VariantPH3
		case h2 >= h3 && h2 > h1 && l2 <= l3 && l2 > l1:
			return VariantPH4
		case h2 >= h3 && h2 >= h1 && l2 <= l3 && l2 > l1:
			return VariantPH5
		}
		return ""
	}

	switch {
	case l2 < l1 && l2 < l3 && h2 < h1 && h2 < h3:
		return VariantPL1
	case l2 <= l1 && l2 < l3 && h2 < h3 && h2 > h1:
		return VariantPL2
	case l2 < l1 && l2 <= l3 && h2 > h3 && h2 < h1:
		return VariantPL3
	case l2 <= l3 && l2 < l1 && h2 >= h3 && h2 < h1:
		return VariantPL4
	case l2 <= l3 && l2 <= l1 && h2 >= h3 && h2 < h1:
		return VariantPL5
	}
	return ""
}

// syntheticBetween builds the opposite-type pivot at the extreme of the gap
// separating two same-type pivots. The whole gap is scanned; ties resolve to
// the earliest bar so consecutive rebuilds over identical input agree.
func syntheticBetween(bars []candles.Candle, last, next Pivot) Pivot {
	best := last.Index + 1
	if next.IsHigh {
		for j := last.Index + 2; j < next.Index; j++ {
			if bars[j].Low < bars[best].Low {
				best = j
			}
		}
		return Pivot{Index: best, Price: bars[best].Low, IsHigh: false, Variant: VariantSynthetic}
	}
	for j := last.Index + 2; j < next.Index; j++ {
		if bars[j].High > bars[best].High {
			best = j
		}
	}
	return Pivot{Index: best, Price: bars[best].High, IsHigh: true, Variant: VariantSynthetic}
}

// appendPivot keeps the stored sequence alternating. Same-type neighbours on
// adjacent bars collapse into the stronger of the two; same-type neighbours
// with a gap get a synthetic opposite pivot inserted from the gap first.
func (d *Detector) appendPivot(bars []candles.Candle, p Pivot) {
	if n := len(d.pivots); n > 0 {
		last := d.pivots[n-1]
		if last.IsHigh == p.IsHigh {
			gap := p.Index - last.Index - 1
			if gap <= 0 {
				if (p.IsHigh && p.Price > last.Price) || (!p.IsHigh && p.Price < last.Price) {
					d.pivots[n-1] = p
				}
				return
			}
			d.push(syntheticBetween(bars, last, p))
		}
	}
	d.push(p)
}

// push appends one pivot, dropping the oldest entries beyond capacity.
func (d *Detector) push(p Pivot) {
	d.pivots = append(d.pivots, p)
	if d.keepPivots > 0 && len(d.pivots) > d.keepPivots {
		d.pivots = d.pivots[len(d.pivots)-d.keepPivots:]
	}
}
