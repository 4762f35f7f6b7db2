// Package quota enforces per-provider token budgets over rolling windows.
//
// Each provider with a token limit has one window anchor persisted next to
// the usage records. The anchor only moves forward, and only through a
// compare-and-swap: when several requests (or several processes
// sharing the database) notice an expired window at the same time, exactly
// one of them advances it and the rest re-read the winner's anchor.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/hwendt/llmgate/internal/config"
)

// Store is the persistence surface the tracker needs. *usage.SQLiteBackend
// and *usage.PostgresBackend both satisfy it.
type Store interface {
	WindowTokens(ctx context.Context, provider string, start, end time.Time) (int64, error)
	EnsureAnchor(ctx context.Context, provider string, at time.Time) (time.Time, error)
	CompareAndSwapAnchor(ctx context.Context, provider string, prev, next time.Time) (bool, error)
	SetAnchor(ctx context.Context, provider string, at time.Time) error
}

// Status describes a provider's quota window at a point in time.
type Status struct {
	Provider    string    `json:"provider"`
	TokenLimit  int64     `json:"token_limit"`
	Unlimited   bool      `json:"unlimited"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"` // -1 when unlimited
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
}

// Tracker answers quota questions for configured providers.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// currentWindow returns the bounds of the provider's active window, rolling
// the anchor forward first if it has expired.
func (t *Tracker) currentWindow(ctx context.Context, p *config.Provider) (time.Time, time.Time, error) {
	now := t.now()
	interval := p.ResetInterval()

	anchor, err := t.store.EnsureAnchor(ctx, p.Name, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	for !anchor.Add(interval).After(now) {
		// Expired. The fresh window starts now, so nothing recorded before
		// this moment counts against it.
		ok, err := t.store.CompareAndSwapAnchor(ctx, p.Name, anchor, now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if ok {
			anchor = now
			break
		}
		// Another request rolled the window first; adopt its anchor.
		anchor, err = t.store.EnsureAnchor(ctx, p.Name, now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return anchor, anchor.Add(interval), nil
}

// WouldExceed reports whether serving a request with the planned token count
// would reach or pass the provider's limit. Unlimited providers are answered
// without touching the store.
func (t *Tracker) WouldExceed(ctx context.Context, p *config.Provider, planned int64) (bool, Status, error) {
	if p.TokenLimit <= 0 {
		return false, Status{Provider: p.Name, Unlimited: true, Remaining: -1}, nil
	}
	status, err := t.Status(ctx, p)
	if err != nil {
		return false, Status{}, err
	}
	return status.Used+planned >= p.TokenLimit, status, nil
}

// Status returns the provider's current window and consumption.
func (t *Tracker) Status(ctx context.Context, p *config.Provider) (Status, error) {
	status := Status{
		Provider:   p.Name,
		TokenLimit: p.TokenLimit,
		Unlimited:  p.TokenLimit <= 0,
		Remaining:  -1,
	}
	start, end, err := t.currentWindow(ctx, p)
	if err != nil {
		return Status{}, fmt.Errorf("quota window for %q: %w", p.Name, err)
	}
	status.WindowStart = start
	status.WindowEnd = end

	used, err := t.store.WindowTokens(ctx, p.Name, start, end)
	if err != nil {
		return Status{}, fmt.Errorf("quota usage for %q: %w", p.Name, err)
	}
	status.Used = used
	if !status.Unlimited {
		status.Remaining = max(p.TokenLimit-used, 0)
	}
	return status, nil
}

// ResetNow starts a fresh window immediately. Usage recorded before the
// reset no longer counts against the limit.
func (t *Tracker) ResetNow(ctx context.Context, p *config.Provider) error {
	if err := t.store.SetAnchor(ctx, p.Name, t.now()); err != nil {
		return fmt.Errorf("reset quota for %q: %w", p.Name, err)
	}
	return nil
}
