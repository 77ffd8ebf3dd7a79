package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
	tghelpers "github.com/youpin-city/mafueng-bot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds (see helpers.UpdateKind) that bypass the limit.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	Now       func() time.Time
}

// RateLimitMiddleware drops updates that arrive from the same user less than
// Interval after the previous accepted one.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
		sweptAt  time.Time
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := tghelpers.UpdateKind(c)
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			t := now()
			mu.Lock()
			if t.Sub(sweptAt) > time.Minute {
				for id, seen := range lastSeen {
					if t.Sub(seen) >= opts.Interval {
						delete(lastSeen, id)
					}
				}
				sweptAt = t
			}
			if last, ok := lastSeen[user.ID]; ok && t.Sub(last) < opts.Interval {
				mu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
					slog.String("status", "skip"),
					slog.String("kind", kind),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[user.ID] = t
			mu.Unlock()
			return next(c)
		}
	}
}
