package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"choch-scanner/config"
	"choch-scanner/internal/api"
	"choch-scanner/internal/binance"
	"choch-scanner/internal/database"
	"choch-scanner/internal/events"
	"choch-scanner/internal/logging"
	"choch-scanner/internal/notification"
	"choch-scanner/internal/orders"
	"choch-scanner/internal/scanner"
	"choch-scanner/internal/screener"
	"choch-scanner/internal/vault"
)

func main() {
	cfg := config.Load()

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx := context.Background()

	// Vault-sourced credentials override the environment before validation.
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Fatal("Failed to initialize Vault client", "error", err.Error())
		}
		creds, err := vaultClient.ReadCredentials(ctx)
		if err != nil {
			logger.Fatal("Failed to read credentials from Vault", "error", err.Error())
		}
		creds.Apply(cfg)
		logger.Info("Credentials loaded from Vault", "path", cfg.VaultConfig.SecretPath)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "error", err.Error())
	}

	// Alert persistence is optional: no DB host means the dashboard serves
	// only the in-memory history ring.
	var (
		repo      *database.Repository
		alertRepo api.AlertRepository
		alertSink notification.AlertStore
	)
	if cfg.DatabaseConfig.Host != "" {
		db, err := database.NewDB(cfg.DatabaseConfig)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err.Error())
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err.Error())
		}
		repo = database.NewRepository(db)
		alertRepo = repo
		alertSink = repo
		logger.Info("Alert persistence enabled",
			"host", cfg.DatabaseConfig.Host,
			"database", cfg.DatabaseConfig.Database,
		)
	} else {
		logger.Warn("DB_HOST not set, alerts will not be persisted")
	}

	// Redis snapshots let the order manager resume supervision after a
	// restart. Optional.
	var snapshots orders.SnapshotStore
	if cfg.RedisConfig.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("Redis unreachable, position snapshots disabled", "error", err.Error())
		} else {
			snapshots = database.NewPositionStore(rdb)
			logger.Info("Position snapshot store enabled", "addr", cfg.RedisConfig.Addr)
		}
	}

	// Market data always comes from the live exchange; only order placement
	// honours the demo flag.
	dataClient := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, false)

	universe := screener.New(dataClient, cfg.ScannerConfig, cfg.ScreenerConfig)
	fetcher := scanner.NewFetcher(dataClient)
	sched, err := scanner.NewScheduler(cfg.ScannerConfig.Timeframes)
	if err != nil {
		logger.Fatal("Invalid timeframe configuration", "error", err.Error())
	}

	bus := events.NewSignalBus(64)
	defer bus.Close()

	hub := api.NewWSHub()
	server := api.NewServer(cfg.ServerConfig, alertRepo, hub)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Dashboard server stopped", "error", err.Error())
		}
	}()

	telegram := notification.NewTelegramSender(cfg.TelegramConfig.BotToken, cfg.TelegramConfig.ChatID)
	if telegram.Enabled() {
		if err := telegram.TestConnection(); err != nil {
			logger.Warn("Telegram connectivity check failed", "error", err.Error())
		} else {
			logger.Info("Telegram connection verified")
		}
	} else {
		logger.Warn("Telegram credentials missing, alerts will not be sent")
	}

	notifier := notification.NewNotifier(telegram, hub, alertSink)
	if err := bus.Subscribe("notifier", notifier.HandleSignal); err != nil {
		logger.Fatal("Failed to subscribe notifier", "error", err.Error())
	}

	if cfg.TradingConfig.Enabled {
		tradeClient := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, cfg.TradingConfig.Demo)
		zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
		manager := orders.NewManager(tradeClient, snapshots, cfg.TradingConfig, zl)
		if err := manager.Restore(ctx); err != nil {
			logger.Warn("Failed to restore position snapshots", "error", err.Error())
		}
		manager.Start()
		defer manager.Stop()
		if err := bus.Subscribe("order-manager", manager.HandleSignal); err != nil {
			logger.Fatal("Failed to subscribe order manager", "error", err.Error())
		}
		logger.Info("Order placement enabled",
			"demo", cfg.TradingConfig.Demo,
			"position_size", cfg.TradingConfig.PositionSize,
			"leverage", cfg.TradingConfig.Leverage,
		)
	} else {
		logger.Info("Order placement disabled, running alert-only")
	}

	if repo != nil && cfg.DatabaseConfig.RetentionDays > 0 {
		go archiveLoop(ctx, repo, cfg.DatabaseConfig.RetentionDays)
	}

	scan := scanner.NewScanner(fetcher, universe, sched, bus, cfg)
	scan.Start()
	logger.Info("Scanner started",
		"timeframes", cfg.ScannerConfig.Timeframes,
		"all_coins", cfg.ScannerConfig.FetchAllCoins,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	scan.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Dashboard shutdown failed", "error", err.Error())
	}

	logger.Info("Scanner stopped")
}

// archiveLoop moves aged alerts into the archive stream once a day.
func archiveLoop(ctx context.Context, repo *database.Repository, retentionDays int) {
	logger := logging.WithComponent("archive")
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := repo.ArchiveOldAlerts(ctx, retentionDays, "age")
			if err != nil {
				logger.Error("Alert archive pass failed", "error", err.Error())
				continue
			}
			if moved > 0 {
				logger.Info("Archived aged alerts", "count", moved, "older_than_days", retentionDays)
			}
		}
	}
}
