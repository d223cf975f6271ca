package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	BinanceConfig  BinanceConfig  `json:"binance"`
	ScannerConfig  ScannerConfig  `json:"scanner"`
	PivotConfig    PivotConfig    `json:"pivot"`
	ScreenerConfig ScreenerConfig `json:"screener"`
	TradingConfig  TradingConfig  `json:"trading"`
	TelegramConfig TelegramConfig `json:"telegram"`
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// BinanceConfig holds exchange API credentials. Keys are only required when
// trading is enabled; market data endpoints are public.
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// ScannerConfig controls the scan loop: which symbols, which timeframes, how
// much history, and the floor between iterations.
type ScannerConfig struct {
	Symbols         []string `json:"symbols"`          // explicit symbol list; empty when FetchAllCoins
	FetchAllCoins   bool     `json:"fetch_all_coins"`  // resolve the universe from the exchange each pass
	Timeframes      []string `json:"timeframes"`       // e.g. ["5m","15m","25m"]
	HistoricalLimit int      `json:"historical_limit"` // bars per fetch in backtest mode
	UpdateInterval  int      `json:"update_interval"`  // seconds, floor between scan iterations
}

// PivotConfig controls pivot detection and the variant allow-list.
type PivotConfig struct {
	Left       int  `json:"left"`        // bars to the left of a pivot candidate
	Right      int  `json:"right"`       // bars to the right of a pivot candidate
	KeepPivots int  `json:"keep_pivots"` // pivot history capacity
	AllowPH1   bool `json:"allow_ph1"`
	AllowPH2   bool `json:"allow_ph2"`
	AllowPH3   bool `json:"allow_ph3"`
	AllowPH4   bool `json:"allow_ph4"`
	AllowPH5   bool `json:"allow_ph5"`
	AllowPL1   bool `json:"allow_pl1"`
	AllowPL2   bool `json:"allow_pl2"`
	AllowPL3   bool `json:"allow_pl3"`
	AllowPL4   bool `json:"allow_pl4"`
	AllowPL5   bool `json:"allow_pl5"`
}

// ScreenerConfig filters the dynamic symbol universe.
type ScreenerConfig struct {
	MinVolume24h  float64 `json:"min_volume_24h"` // minimum 24h quote volume in USDT
	QuoteCurrency string  `json:"quote_currency"`
	MaxPairs      int     `json:"max_pairs"` // 0 = unlimited
}

// TradingConfig controls the order manager subscriber.
type TradingConfig struct {
	Enabled      bool    `json:"enabled"`       // place real orders
	Demo         bool    `json:"demo"`          // route to the futures testnet
	PositionSize float64 `json:"position_size"` // USDT per position set
	Leverage     int     `json:"leverage"`
}

// TelegramConfig holds bot delivery settings.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// ServerConfig holds the dashboard HTTP bind.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

// DatabaseConfig holds the alert store connection. An empty Host disables
// persistence (the scanner still runs; alerts are not archived).
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	// RetentionDays controls the daily archive pass: alerts older than this
	// move to the archive stream.
	RetentionDays int `json:"retention_days"`
}

// RedisConfig holds the position-state store used by the order manager to
// survive restarts. Optional.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VaultConfig holds the optional secret source. When enabled, Binance and
// Telegram credentials are read from the KV path and override the environment.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // output as JSON
}

// Load reads an optional .env file, then builds the configuration from
// environment variables with defaults. It never fails; use Validate to reject
// unusable configurations before starting.
func Load() *Config {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", "")
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", getEnvOrDefault("BINANCE_SECRET", ""))

	cfg.ScannerConfig.Symbols = splitList(getEnvOrDefault("SYMBOLS", ""))
	cfg.ScannerConfig.FetchAllCoins = getEnvBoolOrDefault("FETCH_ALL_COINS", false)
	cfg.ScannerConfig.Timeframes = splitList(getEnvOrDefault("TIMEFRAMES", "5m,15m,30m"))
	cfg.ScannerConfig.HistoricalLimit = getEnvIntOrDefault("HISTORICAL_LIMIT", 500)
	cfg.ScannerConfig.UpdateInterval = getEnvIntOrDefault("UPDATE_INTERVAL", 60)

	cfg.PivotConfig.Left = getEnvIntOrDefault("PIVOT_LEFT", 1)
	cfg.PivotConfig.Right = getEnvIntOrDefault("PIVOT_RIGHT", 1)
	cfg.PivotConfig.KeepPivots = getEnvIntOrDefault("KEEP_PIVOTS", 500)
	cfg.PivotConfig.AllowPH1 = getEnvBoolOrDefault("ALLOW_PH1", true)
	cfg.PivotConfig.AllowPH2 = getEnvBoolOrDefault("ALLOW_PH2", true)
	cfg.PivotConfig.AllowPH3 = getEnvBoolOrDefault("ALLOW_PH3", true)
	cfg.PivotConfig.AllowPH4 = getEnvBoolOrDefault("ALLOW_PH4", true)
	cfg.PivotConfig.AllowPH5 = getEnvBoolOrDefault("ALLOW_PH5", true)
	cfg.PivotConfig.AllowPL1 = getEnvBoolOrDefault("ALLOW_PL1", true)
	cfg.PivotConfig.AllowPL2 = getEnvBoolOrDefault("ALLOW_PL2", true)
	cfg.PivotConfig.AllowPL3 = getEnvBoolOrDefault("ALLOW_PL3", true)
	cfg.PivotConfig.AllowPL4 = getEnvBoolOrDefault("ALLOW_PL4", true)
	cfg.PivotConfig.AllowPL5 = getEnvBoolOrDefault("ALLOW_PL5", true)

	cfg.ScreenerConfig.MinVolume24h = getEnvFloatOrDefault("MIN_VOLUME_24H", 1000000)
	cfg.ScreenerConfig.QuoteCurrency = getEnvOrDefault("QUOTE_CURRENCY", "USDT")
	cfg.ScreenerConfig.MaxPairs = getEnvIntOrDefault("MAX_PAIRS", 0)

	cfg.TradingConfig.Enabled = getEnvBoolOrDefault("ENABLE_TRADING", false)
	cfg.TradingConfig.Demo = getEnvBoolOrDefault("DEMO_TRADING", true)
	cfg.TradingConfig.PositionSize = getEnvFloatOrDefault("POSITION_SIZE", 100)
	cfg.TradingConfig.Leverage = getEnvIntOrDefault("LEVERAGE", 20)

	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramConfig.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", "")

	cfg.ServerConfig.Host = getEnvOrDefault("FLASK_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("FLASK_PORT", 5000)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "postgres")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", "")
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "choch_scanner")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	cfg.DatabaseConfig.RetentionDays = getEnvIntOrDefault("ALERT_RETENTION_DAYS", 30)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", false)
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", "")
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", false)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", "")
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "choch-scanner/credentials")

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", false)

	return cfg
}

// Validate checks the configuration and returns one error naming every
// offending key. The scanner refuses to start on a non-nil result.
func (c *Config) Validate() error {
	var errs []string

	if c.TelegramConfig.BotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramConfig.ChatID == "" {
		errs = append(errs, "TELEGRAM_CHAT_ID is required")
	}
	if !c.ScannerConfig.FetchAll() && len(c.ScannerConfig.Symbols) == 0 {
		errs = append(errs, "SYMBOLS or FETCH_ALL_COINS is required")
	}
	if len(c.ScannerConfig.Timeframes) == 0 {
		errs = append(errs, "TIMEFRAMES must list at least one timeframe")
	}
	if c.PivotConfig.Left < 1 || c.PivotConfig.Right < 1 {
		errs = append(errs, "PIVOT_LEFT and PIVOT_RIGHT must be >= 1")
	}
	if c.PivotConfig.KeepPivots < 8 {
		errs = append(errs, "KEEP_PIVOTS must be >= 8")
	}
	if c.ScannerConfig.UpdateInterval < 1 {
		errs = append(errs, "UPDATE_INTERVAL must be >= 1")
	}
	if c.TradingConfig.Enabled {
		if c.BinanceConfig.APIKey == "" || c.BinanceConfig.SecretKey == "" {
			errs = append(errs, "BINANCE_API_KEY and BINANCE_SECRET_KEY are required when ENABLE_TRADING is set")
		}
		if c.TradingConfig.PositionSize <= 0 {
			errs = append(errs, "POSITION_SIZE must be > 0 when ENABLE_TRADING is set")
		}
		if c.TradingConfig.Leverage < 1 {
			errs = append(errs, "LEVERAGE must be >= 1 when ENABLE_TRADING is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// FetchAll reports whether the symbol universe should be resolved from the
// exchange. "ALL" in SYMBOLS is accepted as an alias for FETCH_ALL_COINS.
func (c *ScannerConfig) FetchAll() bool {
	if c.FetchAllCoins {
		return true
	}
	for _, s := range c.Symbols {
		if strings.EqualFold(s, "ALL") {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
