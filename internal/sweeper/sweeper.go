// Package sweeper removes expired assessment sessions in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often expired sessions are swept.
const DefaultInterval = 5 * time.Minute

// SessionPurger deletes sessions whose TTL elapsed before now.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Start runs a background goroutine that periodically deletes expired sessions
// until ctx is cancelled. The returned channel closes when the goroutine exits.
func Start(ctx context.Context, repo SessionPurger, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, time.Now())
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Sweep performs a single purge and logs the outcome.
func Sweep(ctx context.Context, repo SessionPurger, now time.Time) int64 {
	deleted, err := repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("session sweep interrupted", "error", err)
			return 0
		}
		slog.Error("session sweeper failed to delete expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("session sweeper removed expired sessions", "count", deleted)
	}
	return deleted
}
