// Package usage provides token accounting persistence and quota anchors.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/hwendt/llmgate/internal/config"
)

// Backend defines the persistence contract for usage records and quota
// window anchors. Implementations must be safe for concurrent use, including
// concurrent use from multiple processes sharing one database.
type Backend interface {
	// Insert writes one usage record.
	Insert(ctx context.Context, record Record) error

	// WindowTokens sums total tokens for a provider in [start, end).
	WindowTokens(ctx context.Context, provider string, start, end time.Time) (int64, error)

	// EnsureAnchor inserts a quota window anchor for the provider if none
	// exists and returns the anchor currently stored. Concurrent callers
	// all observe the same winning anchor.
	EnsureAnchor(ctx context.Context, provider string, at time.Time) (time.Time, error)

	// CompareAndSwapAnchor advances the anchor from prev to next. It
	// returns false when another writer got there first.
	CompareAndSwapAnchor(ctx context.Context, provider string, prev, next time.Time) (bool, error)

	// SetAnchor unconditionally moves the anchor, starting a fresh window.
	SetAnchor(ctx context.Context, provider string, at time.Time) error

	// GlobalStats returns aggregate statistics since the given time.
	GlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error)

	// DailyStats returns per-day statistics since the given time.
	DailyStats(ctx context.Context, since time.Time) ([]DailyStats, error)

	// ProviderStats returns per-provider/model statistics since the given time.
	ProviderStats(ctx context.Context, since time.Time) ([]ProviderStats, error)

	// Cleanup removes records older than the given time.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start begins the background retention loop.
	Start() error

	// Stop gracefully shuts down the backend.
	Stop() error
}

// BackendConfig holds parameters for backend initialization.
type BackendConfig struct {
	// DSN is the database connection string (sqlite://... or postgres://...).
	DSN string

	// RetentionDays is how many days of records to keep.
	RetentionDays int
}

const defaultRetentionDays = 90

// NewBackend creates the appropriate backend based on DSN configuration.
func NewBackend(cfg BackendConfig) (Backend, error) {
	parsed, err := config.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("usage DSN is required (use sqlite:// or postgres://)")
	}

	switch parsed.Backend {
	case "postgres":
		return NewPostgresBackend(parsed.URL, cfg)
	case "sqlite":
		return NewSQLiteBackend(parsed.Path, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", parsed.Backend)
	}
}
