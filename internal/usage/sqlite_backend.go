package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	log "github.com/hwendt/llmgate/internal/logging"
)

// SQLiteBackend implements the Backend interface using a local SQLite file.
// Timestamps are stored as unix nanoseconds so anchor compare-and-swap works
// on exact integer equality.
type SQLiteBackend struct {
	db            *sql.DB
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	retentionDays int
}

// NewSQLiteBackend opens (and creates if needed) the database file.
// The backend must be started with Start() before use.
func NewSQLiteBackend(path string, cfg BackendConfig) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent inserts.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	return &SQLiteBackend{
		db:            db,
		cleanupTicker: time.NewTicker(24 * time.Hour),
		stopChan:      make(chan struct{}),
		retentionDays: retentionDays,
	}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		requested_at INTEGER NOT NULL,
		failed INTEGER NOT NULL DEFAULT 0,
		estimated INTEGER NOT NULL DEFAULT 0,
		system_tokens INTEGER NOT NULL DEFAULT 0,
		user_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_usage_provider_requested ON usage_records(provider, requested_at);
	CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);

	CREATE TABLE IF NOT EXISTS quota_windows (
		provider TEXT PRIMARY KEY,
		last_reset_at INTEGER NOT NULL
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Start begins the background retention loop.
func (b *SQLiteBackend) Start() error {
	b.wg.Add(1)
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend.
func (b *SQLiteBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.db != nil {
			b.db.Close()
		}
	})
	return nil
}

// Insert writes one usage record.
func (b *SQLiteBackend) Insert(ctx context.Context, r Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(provider, model, requested_at, failed, estimated,
			 system_tokens, user_tokens, completion_tokens, total_tokens, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Provider, r.Model, r.RequestedAt.UnixNano(), r.Failed, r.Estimated,
		r.SystemTokens, r.UserTokens, r.CompletionTokens, r.TotalTokens,
		r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// WindowTokens sums total tokens for a provider in [start, end).
func (b *SQLiteBackend) WindowTokens(ctx context.Context, provider string, start, end time.Time) (int64, error) {
	var total int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE provider = ? AND requested_at >= ? AND requested_at < ?
	`, provider, start.UnixNano(), end.UnixNano()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum window tokens: %w", err)
	}
	return total, nil
}

// EnsureAnchor inserts a quota anchor if none exists and returns the stored one.
func (b *SQLiteBackend) EnsureAnchor(ctx context.Context, provider string, at time.Time) (time.Time, error) {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO quota_windows (provider, last_reset_at) VALUES (?, ?)
	`, provider, at.UnixNano())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to ensure quota anchor: %w", err)
	}
	var nanos int64
	err = b.db.QueryRowContext(ctx, `
		SELECT last_reset_at FROM quota_windows WHERE provider = ?
	`, provider).Scan(&nanos)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read quota anchor: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// CompareAndSwapAnchor advances the anchor from prev to next.
func (b *SQLiteBackend) CompareAndSwapAnchor(ctx context.Context, provider string, prev, next time.Time) (bool, error) {
	result, err := b.db.ExecContext(ctx, `
		UPDATE quota_windows SET last_reset_at = ?
		WHERE provider = ? AND last_reset_at = ?
	`, next.UnixNano(), provider, prev.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to advance quota anchor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetAnchor unconditionally moves the anchor.
func (b *SQLiteBackend) SetAnchor(ctx context.Context, provider string, at time.Time) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO quota_windows (provider, last_reset_at) VALUES (?, ?)
		ON CONFLICT (provider) DO UPDATE SET last_reset_at = excluded.last_reset_at
	`, provider, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set quota anchor: %w", err)
	}
	return nil
}

// GlobalStats returns aggregate statistics since the given time.
func (b *SQLiteBackend) GlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(CASE WHEN estimated = 1 THEN 1 ELSE 0 END), 0)
		FROM usage_records
		WHERE requested_at >= ?
	`, since.UnixNano())

	var stats AggregatedStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.FailureCount,
		&stats.TotalTokens, &stats.EstimatedCnt); err != nil {
		return nil, fmt.Errorf("failed to query global stats: %w", err)
	}
	return &stats, nil
}

// DailyStats returns per-day statistics since the given time.
func (b *SQLiteBackend) DailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			strftime('%Y-%m-%d', requested_at / 1000000000, 'unixepoch') as day,
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY day
		ORDER BY day
	`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Day, &d.Requests, &d.Tokens); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// ProviderStats returns per-provider/model statistics since the given time.
func (b *SQLiteBackend) ProviderStats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			provider,
			CASE WHEN model = '' THEN 'unknown' ELSE model END as model,
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY provider, model
		ORDER BY requests DESC
	`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query provider stats: %w", err)
	}
	defer rows.Close()

	var results []ProviderStats
	for rows.Next() {
		var p ProviderStats
		if err := rows.Scan(&p.Provider, &p.Model, &p.Requests, &p.Tokens); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the given time.
func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM usage_records WHERE requested_at < ?
	`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (b *SQLiteBackend) cleanupLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -b.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := b.Cleanup(ctx, cutoff)
			cancel()
			if err != nil {
				log.Errorf("Failed to cleanup old usage records: %v", err)
			} else if deleted > 0 {
				log.Infof("Cleaned up %d usage records older than %d days", deleted, b.retentionDays)
			}
		case <-b.stopChan:
			return
		}
	}
}
