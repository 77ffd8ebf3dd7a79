package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
	tghelpers "github.com/youpin-city/mafueng-bot/core/telegram/helpers"
	tgsender "github.com/youpin-city/mafueng-bot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

func handleWithSummary(c tele.Context, handlerName string, fn func() error, extras ...slog.Attr) error {
	start := time.Now()
	tghelpers.WithHandler(c, handlerName)
	err := fn()
	logHandlerSummary(c, handlerName, start, err, extras...)
	return err
}

func logHandlerSummary(c tele.Context, handlerName string, start time.Time, err error, extras ...slog.Attr) {
	ctx := tghelpers.WithHandler(c, handlerName)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("handler", handlerName),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(tgsender.SanitizeError(err), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	attrs = append(attrs, extras...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	logger.LogEvent(ctx, logger.Component("tg"), level, "handler.handled", attrs...)
}

// deriveErrorCode names the innermost error type, e.g. STATUSERROR for a
// backend rejection wrapped by the engine.
func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	inner := err
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(coder); ok {
			if code := strings.TrimSpace(c.Code()); code != "" {
				return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
			}
		}
		inner = e
	}
	t := reflect.TypeOf(inner)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
