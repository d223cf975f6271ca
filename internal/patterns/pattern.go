package patterns

import "choch-scanner/internal/candles"

// Group names the geometric ordering a valid eight-pivot structure falls
// into. G1 is the cleanest trend ladder; G2 and G3 admit a compressed middle.
type Group string

const (
	GroupG1 Group = "G1"
	GroupG2 Group = "G2"
	GroupG3 Group = "G3"
)

const patternPivots = 8

// Pattern captures one recognised eight-pivot structure. The pivots are
// detached copies ordered oldest (p1) to newest (p8); downstream predicates
// reference prices and bar positions through them, never through the live
// pivot history.
type Pattern struct {
	Up    bool
	Group Group

	pivots [patternPivots]Pivot
}

// pivot returns the n-th structure pivot, n in 1..8 oldest to newest.
func (p *Pattern) pivot(n int) Pivot { return p.pivots[n-1] }

// price returns the n-th structure pivot's price.
func (p *Pattern) price(n int) float64 { return p.pivots[n-1].Price }

// P8Index is the window position of the newest structure pivot's bar.
// Confirmation candles must close after it.
func (p *Pattern) P8Index() int { return p.pivots[patternPivots-1].Index }

// recognizePattern tests the eight newest pivots, skipping the newest
// `offset` of them, against the full structure rules: strict high/low
// alternation, a seventh-pivot retest into the fourth pivot's bar, the
// eighth pivot being the running extreme, a fifth-over-second breakout, and
// one of the G1/G2/G3 price orderings. Returns nil when any rule fails.
func recognizePattern(bars []candles.Candle, pivots []Pivot, offset int) *Pattern {
	if len(pivots) < patternPivots+offset {
		return nil
	}

	var p [patternPivots]Pivot
	start := len(pivots) - patternPivots - offset
	copy(p[:], pivots[start:start+patternPivots])

	up := alternates(p, false)
	down := alternates(p, true)
	if !up && !down {
		return nil
	}

	bar7, bar4 := bars[p[6].Index], bars[p[3].Index]
	if up && !(bar7.Low < bar4.High) {
		return nil
	}
	if down && !(bar7.High > bar4.Low) {
		return nil
	}

	if !isExtreme(p, up) {
		return nil
	}

	bar5, bar2 := bars[p[4].Index], bars[p[1].Index]
	if up && !(bar5.Low > bar2.High) {
		return nil
	}
	if down && !(bar5.High < bar2.Low) {
		return nil
	}

	group := classifyGroup(p, up)
	if group == "" {
		return nil
	}

	return &Pattern{Up: up, Group: group, pivots: p}
}

// alternates verifies strict high/low alternation across the eight pivots.
// firstHigh selects the down-structure orientation (p1 high, p8 low).
func alternates(p [patternPivots]Pivot, firstHigh bool) bool {
	want := firstHigh
	for i := 0; i < patternPivots; i++ {
		if p[i].IsHigh != want {
			return false
		}
		want = !want
	}
	return true
}

// isExtreme reports whether p8 is the highest (up) or lowest (down) price of
// the whole structure.
func isExtreme(p [patternPivots]Pivot, up bool) bool {
	p8 := p[patternPivots-1].Price
	for i := 0; i < patternPivots-1; i++ {
		if up && p[i].Price > p8 {
			return false
		}
		if !up && p[i].Price < p8 {
			return false
		}
	}
	return true
}

// classifyGroup returns the first matching price ordering, G1 before G2
// before G3, or the empty Group when none holds.
func classifyGroup(p [patternPivots]Pivot, up bool) Group {
	p2, p3, p4 := p[1].Price, p[2].Price, p[3].Price
	p5, p6, p7, p8 := p[4].Price, p[5].Price, p[6].Price, p[7].Price

	if up {
		switch {
		case p2 < p4 && p4 < p6 && p6 < p8 && p3 < p5 && p5 < p7:
			return GroupG1
		case p3 < p7 && p7 < p5 && p2 < p6 && p6 < p4 && p4 < p8 && p2 < p5:
			return GroupG2
		case p3 < p5 && p5 < p7 && p2 < p6 && p6 < p4 && p4 < p8 && p2 < p5:
			return GroupG3
		}
		return ""
	}

	switch {
	case p2 > p4 && p4 > p6 && p6 > p8 && p3 > p5 && p5 > p7:
		return GroupG1
	case p3 > p7 && p7 > p5 && p2 > p6 && p6 > p4 && p4 > p8 && p2 > p5:
		return GroupG2
	case p3 > p5 && p5 > p7 && p2 > p6 && p6 > p4 && p4 > p8 && p2 > p5:
		return GroupG3
	}
	return ""
}
