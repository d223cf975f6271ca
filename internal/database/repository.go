package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Repository provides data access over the alert corpus.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

const alertColumns = `id, symbol, timeframe, signal_type, direction, pattern_group, price,
       signal_timestamp, created_at, chart_link, is_futures, region, confidence, notes`

// ============================================================================
// ALERTS
// ============================================================================

// InsertAlert persists a new alert and fills in its ID and created_at.
func (r *Repository) InsertAlert(ctx context.Context, alert *Alert) error {
	query := `
		INSERT INTO alerts (symbol, timeframe, signal_type, direction, pattern_group, price,
		                    signal_timestamp, chart_link, is_futures, region, confidence, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		alert.Symbol, alert.Timeframe, alert.SignalType, alert.Direction, alert.PatternGroup,
		alert.Price, alert.SignalTimestamp.UTC(), alert.ChartLink, alert.IsFutures, alert.Region,
		alert.Confidence, alert.Notes,
	).Scan(&alert.ID, &alert.CreatedAt)
}

// RecentAlerts retrieves alerts newest first with pagination.
func (r *Repository) RecentAlerts(ctx context.Context, limit, offset int) ([]*Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		ORDER BY signal_timestamp DESC
		LIMIT $1 OFFSET $2
	`, alertColumns)
	return r.queryAlerts(ctx, query, limit, offset)
}

// FilterAlerts retrieves alerts matching every non-empty filter criterion,
// newest first.
func (r *Repository) FilterAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	where, args := buildAlertFilter(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		%s
		ORDER BY signal_timestamp DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, where, limitPos, offsetPos)

	return r.queryAlerts(ctx, query, args...)
}

// buildAlertFilter renders the WHERE clause and its positional arguments for
// an AlertFilter. An empty filter yields an empty clause.
func buildAlertFilter(filter AlertFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	addIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args = append(args, values)
		conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", column, len(args)))
	}

	addIn("symbol", filter.Symbols)
	addIn("timeframe", filter.Timeframes)
	addIn("direction", filter.Directions)
	addIn("signal_type", filter.SignalTypes)

	if filter.StartDate != nil {
		args = append(args, filter.StartDate.UTC())
		conditions = append(conditions, fmt.Sprintf("signal_timestamp >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, filter.EndDate.UTC())
		conditions = append(conditions, fmt.Sprintf("signal_timestamp <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Stats aggregates the alert corpus: totals, today's count, and the ten most
// active symbols and timeframes.
func (r *Repository) Stats(ctx context.Context) (*AlertStats, error) {
	stats := &AlertStats{}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE direction = 'Long'),
		       COUNT(*) FILTER (WHERE direction = 'Short'),
		       COUNT(*) FILTER (WHERE signal_timestamp >= $1)
		FROM alerts
	`
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	err := r.db.Pool.QueryRow(ctx, query, todayStart).Scan(
		&stats.TotalAlerts, &stats.LongAlerts, &stats.ShortAlerts, &stats.TodayAlerts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts: %w", err)
	}

	stats.TopSymbols, err = r.topCounts(ctx, "symbol")
	if err != nil {
		return nil, err
	}
	stats.TopTimeframes, err = r.topCounts(ctx, "timeframe")
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *Repository) topCounts(ctx context.Context, column string) ([]SymbolCount, error) {
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS count
		FROM alerts
		GROUP BY %s
		ORDER BY count DESC
		LIMIT 10
	`, column, column)

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group alerts by %s: %w", column, err)
	}
	defer rows.Close()

	var counts []SymbolCount
	for rows.Next() {
		var c SymbolCount
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// UniqueValues lists the distinct symbols, timeframes, directions and signal
// types present in the corpus. Timeframes come back in duration order.
func (r *Repository) UniqueValues(ctx context.Context) (*FilterValues, error) {
	values := &FilterValues{}

	columns := []struct {
		name string
		dest *[]string
	}{
		{"symbol", &values.Symbols},
		{"timeframe", &values.Timeframes},
		{"direction", &values.Directions},
		{"signal_type", &values.SignalTypes},
	}

	for _, col := range columns {
		rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT %s FROM alerts`, col.name))
		if err != nil {
			return nil, fmt.Errorf("failed to list distinct %s: %w", col.name, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			*col.dest = append(*col.dest, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	sort.Strings(values.Symbols)
	sort.Strings(values.Directions)
	sort.Strings(values.SignalTypes)
	sort.Slice(values.Timeframes, func(i, j int) bool {
		return timeframeSortKey(values.Timeframes[i]) < timeframeSortKey(values.Timeframes[j])
	})

	return values, nil
}

// timeframeSortKey orders timeframes by duration; unknown formats sink to
// the end.
func timeframeSortKey(tf string) int {
	order := map[string]int{
		"1m": 1, "3m": 3, "5m": 5, "10m": 10, "15m": 15, "20m": 20, "25m": 25,
		"30m": 30, "40m": 40, "45m": 45, "50m": 50,
		"1h": 60, "2h": 120, "4h": 240, "6h": 360, "8h": 480, "12h": 720,
		"1d": 1440, "3d": 4320, "1w": 10080,
	}
	if key, ok := order[tf]; ok {
		return key
	}
	return 999999
}

func (r *Repository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*Alert, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		alert := &Alert{}
		err := rows.Scan(
			&alert.ID, &alert.Symbol, &alert.Timeframe, &alert.SignalType, &alert.Direction,
			&alert.PatternGroup, &alert.Price, &alert.SignalTimestamp, &alert.CreatedAt,
			&alert.ChartLink, &alert.IsFutures, &alert.Region, &alert.Confidence, &alert.Notes,
		)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ============================================================================
// ARCHIVE
// ============================================================================

// ArchiveOldAlerts moves alerts older than the retention window into the
// archive stream and deletes them from the live table. Returns the number of
// alerts archived.
func (r *Repository) ArchiveOldAlerts(ctx context.Context, daysToKeep int, reason string) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO alerts_archive (alert_id, symbol, timeframe, signal_type, direction,
		                            pattern_group, price, signal_timestamp, created_at,
		                            chart_link, is_futures, region, confidence, notes, archive_reason)
		SELECT id, symbol, timeframe, signal_type, direction, pattern_group, price,
		       signal_timestamp, created_at, chart_link, is_futures, region, confidence, notes, $2
		FROM alerts
		WHERE signal_timestamp < $1
	`
	tag, err := tx.Exec(ctx, insert, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to copy alerts into archive: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE signal_timestamp < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete archived alerts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RecentArchived retrieves archived alerts newest first.
func (r *Repository) RecentArchived(ctx context.Context, limit, offset int) ([]*ArchivedAlert, error) {
	query := `
		SELECT id, alert_id, symbol, timeframe, signal_type, direction, pattern_group, price,
		       signal_timestamp, created_at, chart_link, is_futures, region, confidence, notes,
		       archived_at, archive_reason
		FROM alerts_archive
		ORDER BY archived_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*ArchivedAlert
	for rows.Next() {
		a := &ArchivedAlert{}
		err := rows.Scan(
			&a.ID, &a.AlertID, &a.Symbol, &a.Timeframe, &a.SignalType, &a.Direction,
			&a.PatternGroup, &a.Price, &a.SignalTimestamp, &a.CreatedAt, &a.ChartLink,
			&a.IsFutures, &a.Region, &a.Confidence, &a.Notes, &a.ArchivedAt, &a.ArchiveReason,
		)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DeleteAlert removes one alert by ID.
func (r *Repository) DeleteAlert(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}
