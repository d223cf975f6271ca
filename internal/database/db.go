// Package database persists the alert corpus in PostgreSQL and open
// position sets in Redis.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"choch-scanner/config"
	"choch-scanner/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection pool and verifies it with a ping.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations executes the ordered schema migrations.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			signal_type VARCHAR(50) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			pattern_group VARCHAR(10),
			price DECIMAL(20, 8) NOT NULL,
			signal_timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc'),
			chart_link TEXT,
			is_futures BOOLEAN NOT NULL DEFAULT TRUE,
			region VARCHAR(5) NOT NULL DEFAULT 'in',
			confidence DECIMAL(5, 2),
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timeframe ON alerts(timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_direction ON alerts(direction)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_signal_timestamp ON alerts(signal_timestamp)`,

		`CREATE TABLE IF NOT EXISTS alerts_archive (
			id SERIAL PRIMARY KEY,
			alert_id INTEGER NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			signal_type VARCHAR(50) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			pattern_group VARCHAR(10),
			price DECIMAL(20, 8) NOT NULL,
			signal_timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			chart_link TEXT,
			is_futures BOOLEAN NOT NULL DEFAULT TRUE,
			region VARCHAR(5) NOT NULL DEFAULT 'in',
			confidence DECIMAL(5, 2),
			notes TEXT,
			archived_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc'),
			archive_reason VARCHAR(50) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_archive_symbol ON alerts_archive(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_archive_archived_at ON alerts_archive(archived_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations complete", "count", len(migrations))
	return nil
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
