package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
	"github.com/youpin-city/mafueng-bot/core/conversation"
	"github.com/youpin-city/mafueng-bot/core/locale"
	"github.com/youpin-city/mafueng-bot/core/logger"
	"github.com/youpin-city/mafueng-bot/core/notify"
	"github.com/youpin-city/mafueng-bot/core/session"
	"github.com/youpin-city/mafueng-bot/core/telegram"
	"github.com/youpin-city/mafueng-bot/core/telegram/router"
	tgsender "github.com/youpin-city/mafueng-bot/core/telegram/sender"
	"github.com/youpin-city/mafueng-bot/core/youpin"

	tele "gopkg.in/telebot.v4"
)

// App is the assembled bot: engine, transport and background services.
type App struct {
	cfg    *coreconfig.Config
	infra  *Result
	bot    *tele.Bot
	outbox *tgsender.Dispatcher

	Engine  *conversation.Engine
	Gateway *telegram.Gateway
	Routes  []telegram.Route
	Notify  http.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp connects to Telegram and wires the engine.
func NewApp(cfg *coreconfig.Config, infra *Result) (*App, error) {
	bot, err := telegram.NewBot(cfg)
	if err != nil {
		return nil, err
	}
	app, err := Assemble(cfg, infra, bot, telegram.BotFiles{Bot: bot})
	if err != nil {
		return nil, err
	}
	app.bot = bot
	return app, nil
}

// Assemble wires the engine around a Bot API client without starting anything.
func Assemble(cfg *coreconfig.Config, infra *Result, api telegram.BotAPI, files telegram.FileResolver) (*App, error) {
	if cfg == nil || infra == nil || infra.Store == nil {
		return nil, errors.New("bootstrap: config and session store are required")
	}

	catalog, err := locale.Load(cfg.Locale.Dir, cfg.Locale.Default)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	client, err := youpin.New(youpin.Options{
		BaseURL:  cfg.Backend.APIURI,
		Username: cfg.Backend.Username,
		Password: cfg.Backend.Password,
		Timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	outbox := tgsender.NewDispatcher(tgsender.Options{MaxRetries: 2})
	gw := telegram.NewGateway(api, telegram.GatewayOptions{Outbox: outbox})

	engine, err := conversation.New(conversation.Options{
		Store:          infra.Store,
		Gateway:        gw,
		Backend:        client,
		Uploader:       client,
		Translator:     catalog,
		Pacing:         cfg.PacingDelay(),
		SessionTTL:     cfg.Session.MaxAge,
		ResetKeyword:   cfg.Engine.ResetKeyword,
		DescThreshold:  cfg.Engine.DescThreshold,
		SerializeUsers: cfg.Engine.SerializeUsers,
		Issue: conversation.IssueDefaults{
			Owner:         cfg.Backend.UserID,
			Organization:  cfg.Backend.Organization,
			PinURLBase:    cfg.Backend.PinURLBase,
			CardTitle:     cfg.Backend.CardTitle,
			FallbackImage: cfg.Backend.FallbackImage,
		},
	})
	if err != nil {
		outbox.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelInfo, "app.assembled",
		slog.String("status", "ok"),
		slog.String("locale", catalog.Default()),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("serialize_users", cfg.Engine.SerializeUsers),
		slog.Bool("notify", cfg.Notify.Listen != ""),
	)

	return &App{
		cfg:     cfg,
		infra:   infra,
		outbox:  outbox,
		Engine:  engine,
		Gateway: gw,
		Routes:  router.ConversationRoutes(engine, telegram.NewConverter(files, nil)),
		Notify:  notify.Handler(cfg.Notify.Token, gw),
	}, nil
}

// TelegramRunOptions returns the run configuration for telegram.RunTelegram.
func (a *App) TelegramRunOptions() (telegram.RunOptions, error) {
	if a.bot == nil {
		return telegram.RunOptions{}, errors.New("bootstrap: app has no bot; use NewApp")
	}
	return telegram.RunOptions{
		Config:      a.cfg,
		Bot:         a.bot,
		Outbox:      a.outbox,
		Middlewares: telegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      a.Routes,
		OnStart:     a.Start,
		OnStop:      a.Stop,
	}, nil
}

// Start launches the session janitor and the notify endpoint.
func (a *App) Start(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if a.infra.Purger != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			session.RunJanitor(bg, a.infra.Purger, a.cfg.Session.PurgeInterval)
		}()
	}

	if addr := a.cfg.Notify.Listen; addr != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := notify.Serve(bg, addr, a.Notify); err != nil {
				logger.Error(bg, "notify", "notify.listen",
					slog.String("status", "fail"),
					slog.String("listen", addr),
					slog.String("err", err.Error()),
				)
			}
		}()
	}
	return nil
}

// Stop shuts background services down and closes the store.
func (a *App) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return a.infra.Close()
}
