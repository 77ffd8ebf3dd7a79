// Package telegram is the Telegram transport: bot construction, the update
// loop, conversion of updates into engine events and the outbound gateway.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
	"github.com/youpin-city/mafueng-bot/core/logger"
	tghelpers "github.com/youpin-city/mafueng-bot/core/telegram/helpers"
	tgsender "github.com/youpin-city/mafueng-bot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a Telebot endpoint such as tele.OnText.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// NewBot builds the bot client with the configured poller and HTTP client.
// It calls getMe to validate the token.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config provided")
	}
	start := time.Now()
	poller := BuildPoller(PollerOptionsFrom(cfg))
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Telegram.Token,
		Poller:  poller,
		Client:  BuildHTTPClient(HTTPOptions{}),
		OnError: logUnhandled,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %s", tgsender.SanitizeError(err))
	}

	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("username", bot.Me.Username),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	switch p := poller.(type) {
	case *tele.Webhook:
		attrs = append(attrs, slog.String("mode", coreconfig.RunModeWebhook), slog.String("listen", p.Listen))
	case *tele.LongPoller:
		attrs = append(attrs, slog.String("mode", coreconfig.RunModeLongpoll), slog.Duration("timeout", p.Timeout))
	}
	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelInfo, "bot.ready", attrs...)
	return bot, nil
}

// logUnhandled is the last stop for handler errors. The router has already
// logged a summary, so this stays at debug.
func logUnhandled(err error, c tele.Context) {
	ctx := logger.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Debug(ctx, "tg", "handler.error",
		slog.String("status", "fail"),
		slog.String("err", tgsender.SanitizeError(err)),
	)
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	Bot    *tele.Bot
	// Outbox is closed after the bot stops.
	Outbox *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool

	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// RunTelegram registers middlewares and routes and serves updates until ctx
// is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil || opts.Bot == nil {
		return errors.New("telegram: config and bot are required")
	}
	cfg, bot := opts.Config, opts.Bot

	if !opts.DisableWebhookCleanup && strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) {
		// A leftover webhook makes getUpdates fail with 409.
		if err := bot.RemoveWebhook(false); err != nil {
			logger.Warn(ctx, "tg", "delete_webhook",
				slog.String("status", "fail"),
				slog.String("err", tgsender.SanitizeError(err)),
			)
		} else {
			logger.Debug(ctx, "tg", "delete_webhook", slog.String("status", "ok"))
		}
	}

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, route := range opts.Routes {
		if route.Endpoint != nil && route.Handler != nil {
			bot.Handle(route.Endpoint, route.Handler)
		}
	}

	closeOutbox := func() {
		if opts.Outbox != nil {
			opts.Outbox.Close()
		}
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx); err != nil {
			closeOutbox()
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()
	logger.Info(ctx, "tg", "bot.start", slog.String("status", "ok"), slog.Int("routes", len(opts.Routes)))

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx))
	}
	closeOutbox()

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
