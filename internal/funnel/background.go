package funnel

import (
	"context"
	"log/slog"
	"time"
)

// backgroundTimeout bounds fire-and-forget work so a stalled collaborator
// cannot leak goroutines.
const backgroundTimeout = 10 * time.Second

// Background runs fn in a detached goroutine. The caller is never blocked and
// never sees fn's error; a failure is logged and swallowed. The name labels
// the task in logs.
func Background(name string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("Background task failed", "task", name, "error", err)
			return
		}
		slog.Debug("Background task completed", "task", name)
	}()
}
