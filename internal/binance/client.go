// Package binance is a hand-rolled REST client for the Binance USD-M futures
// API: public market data plus the HMAC-SHA256 signed endpoints the order
// manager needs. Requests retry transient failures with exponential backoff
// and respect the exchange's per-minute weight budget.
package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry configuration for API calls
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

const (
	// BaseURL is the production Binance Futures API URL
	BaseURL = "https://fapi.binance.com"
	// TestnetBaseURL is the testnet Binance Futures API URL
	TestnetBaseURL = "https://testnet.binancefuture.com"

	// MaxKlineLimit is the most candles one klines request may return
	MaxKlineLimit = 1500
)

// Client talks to the Binance USD-M futures REST API.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rateLimiter
}

// NewClient creates a futures client. testnet routes every request to the
// demo exchange.
func NewClient(apiKey, secretKey string, testnet bool) *Client {
	baseURL := BaseURL
	if testnet {
		baseURL = TestnetBaseURL
	}

	// Trim any whitespace from keys - critical for signature generation
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newRateLimiter(),
	}
}

// ==================== MARKET DATA ====================

// GetKlines retrieves up to limit candlesticks for a symbol, newest last.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	return c.GetKlinesRange(symbol, interval, 0, 0, limit)
}

// GetKlinesRange retrieves candlesticks bounded by Unix-millisecond
// timestamps. startTime or endTime of 0 leaves that bound open.
func (c *Client) GetKlinesRange(symbol, interval string, startTime, endTime int64, limit int) ([]Kline, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if startTime > 0 {
		params["startTime"] = strconv.FormatInt(startTime, 10)
	}
	if endTime > 0 {
		params["endTime"] = strconv.FormatInt(endTime, 10)
	}

	resp, err := c.publicGet("/fapi/v1/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(resp, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 9 {
			return nil, fmt.Errorf("malformed kline row %d: %d fields", i, len(raw))
		}
		klines[i] = Kline{
			OpenTime:         int64(parseFloat(raw[0])),
			Open:             parseFloat(raw[1]),
			High:             parseFloat(raw[2]),
			Low:              parseFloat(raw[3]),
			Close:            parseFloat(raw[4]),
			Volume:           parseFloat(raw[5]),
			CloseTime:        int64(parseFloat(raw[6])),
			QuoteAssetVolume: parseFloat(raw[7]),
			NumberOfTrades:   int(parseFloat(raw[8])),
		}
	}

	return klines, nil
}

// GetAll24hrTickers retrieves 24 hour price change statistics for all symbols.
func (c *Client) GetAll24hrTickers() ([]Ticker24h, error) {
	resp, err := c.publicGet("/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching 24hr tickers: %w", err)
	}

	var tickers []Ticker24h
	if err := json.Unmarshal(resp, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing 24hr tickers: %w", err)
	}

	return tickers, nil
}

// GetMarkPrice retrieves the mark price for a symbol.
func (c *Client) GetMarkPrice(symbol string) (*MarkPrice, error) {
	resp, err := c.publicGet("/fapi/v1/premiumIndex", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching mark price: %w", err)
	}

	var markPrice MarkPrice
	if err := json.Unmarshal(resp, &markPrice); err != nil {
		return nil, fmt.Errorf("error parsing mark price: %w", err)
	}

	return &markPrice, nil
}

// GetExchangeInfo retrieves futures exchange information.
func (c *Client) GetExchangeInfo() (*ExchangeInfo, error) {
	resp, err := c.publicGet("/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var exchangeInfo ExchangeInfo
	if err := json.Unmarshal(resp, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	return &exchangeInfo, nil
}

// ==================== ACCOUNT ====================

// GetAccountInfo retrieves futures account information.
func (c *Client) GetAccountInfo() (*AccountInfo, error) {
	resp, err := c.signedGet("/fapi/v2/account", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("error fetching account info: %w", err)
	}

	var accountInfo AccountInfo
	if err := json.Unmarshal(resp, &accountInfo); err != nil {
		return nil, fmt.Errorf("error parsing account info: %w", err)
	}

	return &accountInfo, nil
}

// GetUSDTBalance fetches the USDT wallet balance from the futures account.
func (c *Client) GetUSDTBalance() (float64, error) {
	accountInfo, err := c.GetAccountInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to get account info: %w", err)
	}

	for _, asset := range accountInfo.Assets {
		if asset.Asset == "USDT" {
			return asset.WalletBalance, nil
		}
	}

	return 0, nil
}

// GetPositionBySymbol retrieves the position for a specific symbol. In hedge
// mode two rows come back; the one with a non-zero amount wins.
func (c *Client) GetPositionBySymbol(symbol string) (*Position, error) {
	resp, err := c.signedGet("/fapi/v2/positionRisk", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching position: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing position: %w", err)
	}

	if len(positions) == 0 {
		return nil, fmt.Errorf("position not found for symbol: %s", symbol)
	}

	for i := range positions {
		if positions[i].PositionAmt != 0 {
			return &positions[i], nil
		}
	}

	return &positions[0], nil
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage sets the leverage for a symbol.
func (c *Client) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	resp, err := c.signedPost("/fapi/v1/leverage", map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	})
	if err != nil {
		return nil, fmt.Errorf("error setting leverage: %w", err)
	}

	var leverageResp LeverageResponse
	if err := json.Unmarshal(resp, &leverageResp); err != nil {
		return nil, fmt.Errorf("error parsing leverage response: %w", err)
	}

	return &leverageResp, nil
}

// SetMarginType sets the margin type (ISOLATED or CROSSED). Error -4046 means
// the margin type is already what was asked for and is swallowed.
func (c *Client) SetMarginType(symbol string, marginType MarginType) error {
	_, err := c.signedPost("/fapi/v1/marginType", map[string]string{
		"symbol":     symbol,
		"marginType": string(marginType),
	})
	if err != nil && !strings.Contains(err.Error(), "-4046") {
		return fmt.Errorf("error setting margin type: %w", err)
	}

	return nil
}

// ==================== TRADING ====================

// PlaceOrder places a new futures order.
func (c *Client) PlaceOrder(params OrderParams) (*OrderResponse, error) {
	reqParams := map[string]string{
		"symbol": params.Symbol,
		"side":   params.Side,
		"type":   string(params.Type),
	}

	// closePosition orders carry no quantity; the exchange closes whatever
	// the position holds at trigger time.
	if params.Quantity > 0 && !params.ClosePosition {
		reqParams["quantity"] = strconv.FormatFloat(params.Quantity, 'f', -1, 64)
	}

	if params.Price > 0 {
		reqParams["price"] = strconv.FormatFloat(params.Price, 'f', -1, 64)
	}

	if params.StopPrice > 0 {
		reqParams["stopPrice"] = strconv.FormatFloat(params.StopPrice, 'f', -1, 64)
	}

	if params.TimeInForce != "" {
		reqParams["timeInForce"] = string(params.TimeInForce)
	} else if params.Type == OrderTypeLimit {
		reqParams["timeInForce"] = string(TimeInForceGTC)
	}

	if params.ReduceOnly && !params.ClosePosition {
		reqParams["reduceOnly"] = "true"
	}

	if params.ClosePosition {
		reqParams["closePosition"] = "true"
	}

	if params.WorkingType != "" {
		reqParams["workingType"] = string(params.WorkingType)
	}

	if params.NewClientOrderId != "" {
		reqParams["newClientOrderId"] = params.NewClientOrderId
	}

	resp, err := c.signedPost("/fapi/v1/order", reqParams)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return &orderResp, nil
}

// CancelOrder cancels an existing futures order.
func (c *Client) CancelOrder(symbol string, orderId int64) error {
	_, err := c.signedDelete("/fapi/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderId, 10),
	})
	if err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}

	return nil
}

// CancelAllOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOrders(symbol string) error {
	_, err := c.signedDelete("/fapi/v1/allOpenOrders", map[string]string{
		"symbol": symbol,
	})
	if err != nil {
		return fmt.Errorf("error canceling all orders: %w", err)
	}

	return nil
}

// GetOrder retrieves a specific order.
func (c *Client) GetOrder(symbol string, orderId int64) (*Order, error) {
	resp, err := c.signedGet("/fapi/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderId, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var order Order
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}

	return &order, nil
}

// GetOpenOrders retrieves all open orders, optionally for one symbol.
func (c *Client) GetOpenOrders(symbol string) ([]Order, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	var orders []Order
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}

	return orders, nil
}

// ==================== HTTP HELPERS ====================

// buildQueryString builds a query string from params (without signature)
func (c *Client) buildQueryString(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + url.QueryEscape(v)
		}
	}
	return query
}

// sign creates a signature for the given query string
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams builds query string with signature appended
func (c *Client) signParams(params map[string]string) string {
	query := c.buildQueryString(params)
	signature := c.sign(query)
	return query + "&signature=" + signature
}

// publicGet performs an unauthenticated GET request with rate limiting and retry.
func (c *Client) publicGet(endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	query := values.Encode()

	return c.request("GET", endpoint, func() string { return query }, false)
}

// signedGet performs an authenticated GET request with rate limiting and retry.
func (c *Client) signedGet(endpoint string, params map[string]string) ([]byte, error) {
	return c.request("GET", endpoint, c.signedQuery(params), true)
}

// signedPost performs an authenticated POST request with rate limiting and retry.
func (c *Client) signedPost(endpoint string, params map[string]string) ([]byte, error) {
	return c.request("POST", endpoint, c.signedQuery(params), true)
}

// signedDelete performs an authenticated DELETE request with rate limiting and retry.
func (c *Client) signedDelete(endpoint string, params map[string]string) ([]byte, error) {
	return c.request("DELETE", endpoint, c.signedQuery(params), true)
}

// signedQuery returns a builder that stamps a fresh timestamp and signature
// on every retry attempt. A timestamp from before a backoff sleep would fail
// the exchange's recvWindow check.
func (c *Client) signedQuery(params map[string]string) func() string {
	return func() string {
		if params == nil {
			params = make(map[string]string)
		}
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = "10000" // 10 seconds tolerance for clock skew
		return c.signParams(params)
	}
}

// request runs one API call with the retry, rate limiting and weight sync
// behavior shared by every endpoint.
func (c *Client) request(method, endpoint string, buildQuery func() string, signed bool) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !c.limiter.waitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: weight budget exhausted, request blocked")
		}

		req, err := http.NewRequest(method, c.baseURL+endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = buildQuery()
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				log.Printf("[BINANCE] %s %s failed (attempt %d/%d): %v, retrying in %v",
					method, endpoint, attempt+1, maxRetries+1, err, delay)
				time.Sleep(delay)
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		// The exchange's own weight count is authoritative
		if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
			if weight, err := strconv.Atoi(usedWeight); err == nil {
				c.limiter.updateFromHeaders(weight)
			}
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 ||
				strings.Contains(string(body), "-1003") {
				c.limiter.recordRateLimitError(parseBanUntil(string(body)))
			}

			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				log.Printf("[BINANCE] %s %s returned %d (attempt %d/%d): %s, retrying in %v",
					method, endpoint, resp.StatusCode, attempt+1, maxRetries+1, string(body), delay)
				time.Sleep(delay)
				continue
			}
			return nil, lastErr
		}

		c.limiter.recordRequest(endpoint)
		return body, nil
	}

	return nil, lastErr
}

// isRetryableError checks if an error is transient and should be retried
func isRetryableError(statusCode int, body string) bool {
	// Retry on rate limits (429) and server errors (5xx)
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Retry on specific Binance errors that are transient
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1015") || // TOO_MANY_ORDERS
		strings.Contains(body, "-1016") { // SERVICE_SHUTTING_DOWN
		return true
	}
	return false
}

// calculateRetryDelay returns delay with exponential backoff and jitter
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt)) // 2^attempt
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
