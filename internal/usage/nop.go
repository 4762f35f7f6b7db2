package usage

import (
	"context"
	"time"
)

// nopBackend is used when no usage DSN is configured. Records are dropped
// and every quota window reads as empty, so nothing is ever limited.
type nopBackend struct{}

// NewNopBackend returns a Backend that discards everything.
func NewNopBackend() Backend {
	return nopBackend{}
}

func (nopBackend) Insert(context.Context, Record) error { return nil }

func (nopBackend) WindowTokens(context.Context, string, time.Time, time.Time) (int64, error) {
	return 0, nil
}

func (nopBackend) EnsureAnchor(_ context.Context, _ string, at time.Time) (time.Time, error) {
	return at, nil
}

func (nopBackend) CompareAndSwapAnchor(context.Context, string, time.Time, time.Time) (bool, error) {
	return true, nil
}

func (nopBackend) SetAnchor(context.Context, string, time.Time) error { return nil }

func (nopBackend) GlobalStats(context.Context, time.Time) (*AggregatedStats, error) {
	return &AggregatedStats{}, nil
}

func (nopBackend) DailyStats(context.Context, time.Time) ([]DailyStats, error) { return nil, nil }

func (nopBackend) ProviderStats(context.Context, time.Time) ([]ProviderStats, error) {
	return nil, nil
}

func (nopBackend) Cleanup(context.Context, time.Time) (int64, error) { return 0, nil }

func (nopBackend) Start() error { return nil }

func (nopBackend) Stop() error { return nil }
