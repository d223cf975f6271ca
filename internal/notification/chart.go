package notification

import "fmt"

// tvIntervals maps exchange timeframe notation to TradingView interval
// codes. Synthesised timeframes carry their minute count directly.
var tvIntervals = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"10m": "10",
	"15m": "15",
	"20m": "20",
	"25m": "25",
	"30m": "30",
	"40m": "40",
	"45m": "45",
	"50m": "50",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"6h":  "360",
	"8h":  "480",
	"12h": "720",
	"1d":  "D",
	"3d":  "3D",
	"1w":  "W",
}

// TradingViewSymbol converts an exchange symbol to TradingView notation.
// Futures symbols carry the .P suffix.
func TradingViewSymbol(symbol string, isFutures bool) string {
	if isFutures {
		return fmt.Sprintf("BINANCE:%s.P", symbol)
	}
	return fmt.Sprintf("BINANCE:%s", symbol)
}

// TradingViewInterval converts an exchange timeframe to a TradingView
// interval code. Unknown timeframes pass through unchanged.
func TradingViewInterval(timeframe string) string {
	if interval, ok := tvIntervals[timeframe]; ok {
		return interval
	}
	return timeframe
}

// ChartLink builds the TradingView chart URL for a symbol and timeframe.
func ChartLink(symbol, timeframe string, isFutures bool) string {
	return fmt.Sprintf("https://www.tradingview.com/chart/?symbol=%s&interval=%s",
		TradingViewSymbol(symbol, isFutures), TradingViewInterval(timeframe))
}
