package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	log "github.com/hwendt/llmgate/internal/logging"
)

// PostgresBackend implements the Backend interface using PostgreSQL with pgx.
type PostgresBackend struct {
	pool          *pgxpool.Pool
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	retentionDays int
}

// NewPostgresBackend creates a new PostgreSQL-backed persistence layer.
// The backend must be started with Start() before use.
func NewPostgresBackend(dsn string, cfg BackendConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := ensurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	return &PostgresBackend{
		pool:          pool,
		cleanupTicker: time.NewTicker(24 * time.Hour),
		stopChan:      make(chan struct{}),
		retentionDays: retentionDays,
	}, nil
}

func ensurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id BIGSERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		requested_at TIMESTAMPTZ NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		estimated BOOLEAN NOT NULL DEFAULT FALSE,
		system_tokens BIGINT NOT NULL DEFAULT 0,
		user_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_provider_requested ON usage_records(provider, requested_at);
	CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);

	CREATE TABLE IF NOT EXISTS quota_windows (
		provider TEXT PRIMARY KEY,
		last_reset_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := pool.Exec(ctx, schema)
	return err
}

// Start begins the background retention loop.
func (b *PostgresBackend) Start() error {
	b.wg.Add(1)
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend.
func (b *PostgresBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.pool != nil {
			b.pool.Close()
		}
	})
	return nil
}

// Insert writes one usage record.
func (b *PostgresBackend) Insert(ctx context.Context, r Record) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO usage_records
			(provider, model, requested_at, failed, estimated,
			 system_tokens, user_tokens, completion_tokens, total_tokens, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.Provider, r.Model, r.RequestedAt, r.Failed, r.Estimated,
		r.SystemTokens, r.UserTokens, r.CompletionTokens, r.TotalTokens,
		r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// WindowTokens sums total tokens for a provider in [start, end).
func (b *PostgresBackend) WindowTokens(ctx context.Context, provider string, start, end time.Time) (int64, error) {
	var total int64
	err := b.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE provider = $1 AND requested_at >= $2 AND requested_at < $3
	`, provider, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum window tokens: %w", err)
	}
	return total, nil
}

// EnsureAnchor inserts a quota anchor if none exists and returns the stored one.
func (b *PostgresBackend) EnsureAnchor(ctx context.Context, provider string, at time.Time) (time.Time, error) {
	var anchor time.Time
	err := b.pool.QueryRow(ctx, `
		INSERT INTO quota_windows (provider, last_reset_at)
		VALUES ($1, $2)
		ON CONFLICT (provider) DO UPDATE SET last_reset_at = quota_windows.last_reset_at
		RETURNING last_reset_at
	`, provider, at).Scan(&anchor)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to ensure quota anchor: %w", err)
	}
	return anchor, nil
}

// CompareAndSwapAnchor advances the anchor from prev to next.
func (b *PostgresBackend) CompareAndSwapAnchor(ctx context.Context, provider string, prev, next time.Time) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE quota_windows SET last_reset_at = $3
		WHERE provider = $1 AND last_reset_at = $2
	`, provider, prev, next)
	if err != nil {
		return false, fmt.Errorf("failed to advance quota anchor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetAnchor unconditionally moves the anchor.
func (b *PostgresBackend) SetAnchor(ctx context.Context, provider string, at time.Time) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO quota_windows (provider, last_reset_at)
		VALUES ($1, $2)
		ON CONFLICT (provider) DO UPDATE SET last_reset_at = EXCLUDED.last_reset_at
	`, provider, at)
	if err != nil {
		return fmt.Errorf("failed to set quota anchor: %w", err)
	}
	return nil
}

// GlobalStats returns aggregate statistics since the given time.
func (b *PostgresBackend) GlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = false THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = true THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(CASE WHEN estimated = true THEN 1 ELSE 0 END), 0)
		FROM usage_records
		WHERE requested_at >= $1
	`, since)

	var stats AggregatedStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.FailureCount,
		&stats.TotalTokens, &stats.EstimatedCnt); err != nil {
		return nil, fmt.Errorf("failed to query global stats: %w", err)
	}
	return &stats, nil
}

// DailyStats returns per-day statistics since the given time.
func (b *PostgresBackend) DailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			DATE(requested_at)::TEXT as day,
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY DATE(requested_at)
		ORDER BY day
	`, since)
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
func (b *PostgresBackend) ProviderStats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			provider,
			COALESCE(NULLIF(model, ''), 'unknown') as model,
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY provider, COALESCE(NULLIF(model, ''), 'unknown')
		ORDER BY requests DESC
	`, since)
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
func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.pool.Exec(ctx, `
		DELETE FROM usage_records WHERE requested_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (b *PostgresBackend) cleanupLoop() {
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
