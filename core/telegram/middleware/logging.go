package middleware

import (
	"log/slog"

	"github.com/youpin-city/mafueng-bot/core/logger"
	"github.com/youpin-city/mafueng-bot/core/telegram/callbacks"
	tghelpers "github.com/youpin-city/mafueng-bot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware prepares the request context for the update and logs a
// single sampled receipt line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)

		if logger.ShouldSampleDebug() {
			upd := c.Update()
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.Int("update_id", upd.ID),
				slog.String("kind", tghelpers.UpdateKind(c)),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user := c.Sender(); user != nil {
				if user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if user.LanguageCode != "" {
					attrs = append(attrs, slog.String("lang", user.LanguageCode))
				}
			}
			switch {
			case upd.Callback != nil:
				unique, payload := callbacks.Parse(upd.Callback)
				attrs = append(attrs,
					slog.String("cb_key", logger.SanitizeLimit(unique, 32)),
					slog.String("payload", logger.SanitizeLimit(payload, 64)),
				)
			case upd.Message != nil:
				attrs = append(attrs, slog.String("input", tghelpers.MessageKind(upd.Message)))
				if t := c.Text(); t != "" {
					attrs = append(attrs, slog.Int("chars", len([]rune(t))))
				}
			}
			logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}
