package store

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = 1 * time.Hour

// StartTTLWorker runs a background goroutine that periodically reverts
// long-idle sessions to a fresh state. Active support chats are never swept.
func StartTTLWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reset, err := repo.ResetIdleSessions(ctx, ttl)
				if err != nil {
					slog.Error("TTL worker sweep failed", "error", err)
					continue
				}
				if reset > 0 {
					slog.Info("TTL worker reset idle sessions", "count", reset)
				}
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
