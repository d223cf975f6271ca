package scanner

import (
	"sync"
	"time"

	"choch-scanner/internal/candles"
)

// closeGrace is how long after a candle close the scanner waits before
// trusting the exchange to serve the closed bar.
const closeGrace = 30 * time.Second

// ReadyScan names one timeframe due for a scan and the close that makes it
// due. The close travels with the work so a cycle that runs long still marks
// exactly what it scanned.
type ReadyScan struct {
	Timeframe string
	PrevClose time.Time
}

// Scheduler decides when each configured timeframe is due. A timeframe is
// due once its latest close is at least closeGrace old and that close has
// not been scanned; every close is scanned at most once.
type Scheduler struct {
	timeframes []string

	mu          sync.Mutex
	lastScanned map[string]time.Time

	now func() time.Time
}

// NewScheduler validates the timeframe list up front so the loop never hits
// an unknown interval.
func NewScheduler(timeframes []string) (*Scheduler, error) {
	if err := candles.ValidateTimeframes(timeframes); err != nil {
		return nil, err
	}
	return &Scheduler{
		timeframes:  append([]string(nil), timeframes...),
		lastScanned: make(map[string]time.Time),
		now:         time.Now,
	}, nil
}

// Ready returns the timeframes due right now, in configuration order.
func (s *Scheduler) Ready() []ReadyScan {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []ReadyScan
	for _, tf := range s.timeframes {
		prev, err := candles.PrevClose(tf, now)
		if err != nil {
			continue
		}
		if now.Sub(prev) < closeGrace {
			continue
		}
		if !s.lastScanned[tf].Before(prev) {
			continue
		}
		due = append(due, ReadyScan{Timeframe: tf, PrevClose: prev})
	}
	return due
}

// MarkScanned records that every tf candle up to and including close has
// been scanned. Stale marks never move the watermark backwards.
func (s *Scheduler) MarkScanned(tf string, close time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if close.After(s.lastScanned[tf]) {
		s.lastScanned[tf] = close
	}
}

// Wait returns how long to sleep before any timeframe can next become due,
// clamped to [floor, limit].
func (s *Scheduler) Wait(floor, limit time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var nearest time.Time
	for _, tf := range s.timeframes {
		prev, err := candles.PrevClose(tf, now)
		if err != nil {
			continue
		}
		readyAt := prev.Add(closeGrace)
		if !s.lastScanned[tf].Before(prev) {
			// Current close handled; the next chance comes with the next close.
			next, err := candles.NextClose(tf, now)
			if err != nil {
				continue
			}
			readyAt = next.Add(closeGrace)
		}
		if nearest.IsZero() || readyAt.Before(nearest) {
			nearest = readyAt
		}
	}
	if nearest.IsZero() {
		return limit
	}

	wait := nearest.Sub(now)
	if wait < floor {
		wait = floor
	}
	if wait > limit {
		wait = limit
	}
	return wait
}
