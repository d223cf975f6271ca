package binance

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// rateLimiter tracks the weight budget Binance enforces per minute and holds
// requests back before the exchange starts rejecting them. A 429/418 response
// opens the gate's ban window until the timestamp the error names.
type rateLimiter struct {
	mu            sync.Mutex
	currentWeight int
	weightResetAt time.Time
	maxWeight     int // 2400 per minute for futures
	banUntil      time.Time
}

// Endpoint weights for the Binance Futures API. Weights for ticker/24hr and
// openOrders assume the no-symbol form, which is what this system calls.
var endpointWeights = map[string]int{
	"/fapi/v2/account":       5,
	"/fapi/v2/positionRisk":  5,
	"/fapi/v1/leverage":      1,
	"/fapi/v1/marginType":    1,
	"/fapi/v1/order":         1,
	"/fapi/v1/openOrders":    40,
	"/fapi/v1/allOpenOrders": 1,
	"/fapi/v1/ticker/24hr":   40,
	"/fapi/v1/klines":        5,
	"/fapi/v1/premiumIndex":  1,
	"/fapi/v1/exchangeInfo":  1,
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		maxWeight:     2400,
		weightResetAt: time.Now().Add(time.Minute),
	}
}

func endpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// waitForSlot blocks until the endpoint's weight fits the current window or
// the timeout elapses. It returns false when the caller should give up.
func (r *rateLimiter) waitForSlot(endpoint string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		r.mu.Lock()
		now := time.Now()
		if now.After(r.weightResetAt) {
			r.currentWeight = 0
			r.weightResetAt = now.Add(time.Minute)
		}

		var waitTime time.Duration
		switch {
		case now.Before(r.banUntil):
			waitTime = time.Until(r.banUntil)
		case r.currentWeight+endpointWeight(endpoint) <= r.maxWeight:
			r.mu.Unlock()
			return true
		default:
			waitTime = time.Until(r.weightResetAt)
		}
		r.mu.Unlock()

		if waitTime <= 0 {
			waitTime = 100 * time.Millisecond
		}
		if waitTime > 5*time.Second {
			waitTime = 5 * time.Second
		}
		time.Sleep(waitTime)
	}

	return false
}

// recordRequest charges a completed request against the window.
func (r *rateLimiter) recordRequest(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}
	r.currentWeight += endpointWeight(endpoint)
}

// updateFromHeaders syncs local weight tracking with the X-MBX-USED-WEIGHT-1M
// value the exchange reports. The exchange count is authoritative; only sync
// upward.
func (r *rateLimiter) updateFromHeaders(usedWeight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usedWeight > r.currentWeight {
		r.currentWeight = usedWeight
	}
}

// recordRateLimitError opens the ban window. banUntilMilli of 0 means the
// error named no timestamp; back off one minute.
func (r *rateLimiter) recordRateLimitError(banUntilMilli int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(time.Minute)
	if banUntilMilli > 0 {
		until = time.UnixMilli(banUntilMilli)
	}
	if until.After(r.banUntil) {
		r.banUntil = until
		log.Printf("[BINANCE] rate limited, holding requests until %s", until.UTC().Format(time.RFC3339))
	}
}

// parseBanUntil extracts the ban expiry from an error body such as
// "Way too many requests; IP banned until 1766824120342". Only the first
// digit run is considered; anything that is not a plausible future
// millisecond timestamp is rejected.
func parseBanUntil(errMsg string) int64 {
	start := -1
	end := len(errMsg)
	for i := 0; i < len(errMsg); i++ {
		if errMsg[i] >= '0' && errMsg[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			end = i
			break
		}
	}
	if start < 0 {
		return 0
	}

	banUntil, err := strconv.ParseInt(errMsg[start:end], 10, 64)
	if err != nil {
		return 0
	}
	if banUntil > time.Now().UnixMilli() && banUntil < time.Now().Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}
