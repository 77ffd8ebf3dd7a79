package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
)

// RunJanitor calls p.PurgeExpired every interval until ctx is done.
func RunJanitor(ctx context.Context, p Purger, interval time.Duration) {
	if p == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn(ctx, "session", "session.purge",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "session", "session.purge",
					slog.String("status", "ok"),
					slog.Int64("count", n),
					slog.Duration("duration", logger.Took(start)),
				)
			}
		}
	}
}
