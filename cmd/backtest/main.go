// Command backtest replays historical candles through the live detection
// engine and prints simulated trade results per (symbol, timeframe).
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"choch-scanner/config"
	"choch-scanner/internal/backtest"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/logging"
	"choch-scanner/internal/screener"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols; empty resolves the scanner universe")
	timeframesFlag := flag.String("timeframes", "", "comma-separated timeframes; empty uses the configured scan timeframes")
	limit := flag.Int("limit", 0, "closed bars per (symbol, timeframe); 0 uses HISTORICAL_LIMIT")
	flag.Parse()

	cfg := config.Load()

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "backtest",
	})
	logging.SetDefault(logger)

	bars := *limit
	if bars <= 0 {
		bars = cfg.ScannerConfig.HistoricalLimit
	}

	timeframes := cfg.ScannerConfig.Timeframes
	if *timeframesFlag != "" {
		timeframes = splitList(*timeframesFlag)
	}

	client := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, false)

	var symbols []string
	if *symbolsFlag != "" {
		symbols = splitList(*symbolsFlag)
		for i := range symbols {
			symbols[i] = strings.ToUpper(symbols[i])
		}
	} else {
		universe := screener.New(client, cfg.ScannerConfig, cfg.ScreenerConfig)
		resolved, err := universe.Resolve()
		if err != nil {
			logger.Fatal("Failed to resolve symbol universe", "error", err.Error())
		}
		symbols = resolved
	}

	if len(symbols) == 0 || len(timeframes) == 0 {
		logger.Fatal("Nothing to replay", "symbols", len(symbols), "timeframes", len(timeframes))
	}

	logger.Info("Starting replay",
		"symbols", len(symbols),
		"timeframes", timeframes,
		"bars", bars,
	)

	engine := backtest.New(client, cfg.PivotConfig)

	var failures int
	for _, symbol := range symbols {
		for _, tf := range timeframes {
			result, err := engine.Run(symbol, tf, bars)
			if err != nil {
				logger.Error("Replay failed", "symbol", symbol, "timeframe", tf, "error", err.Error())
				failures++
				continue
			}
			fmt.Print(result.Summary())
		}
	}

	if failures > 0 {
		logger.Warn("Replay finished with failures", "failed", failures)
		os.Exit(1)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
