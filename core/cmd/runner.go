// Package cmd runs the bot process: config, bootstrap, then the Telegram loop
// until a termination signal arrives.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/youpin-city/mafueng-bot/core/buildinfo"
	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
	"github.com/youpin-city/mafueng-bot/core/logger"
	coretelegram "github.com/youpin-city/mafueng-bot/core/telegram"
)

// DefaultConfigEnvVar names the variable consulted when no --config flag is given.
const DefaultConfigEnvVar = "CONFIG_PATH"

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	// ConfigPath wins over the environment variable.
	ConfigPath   string
	ConfigEnvVar string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ResolveConfigPath returns flag when set, else the environment variable.
// An empty result means configuration comes from the environment alone.
func ResolveConfigPath(flag, envVar string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if envVar == "" {
		envVar = DefaultConfigEnvVar
	}
	return strings.TrimSpace(os.Getenv(envVar))
}

// LoadConfig resolves the path and loads the configuration.
func LoadConfig(opts Options) (*coreconfig.Config, error) {
	load := opts.LoadConfig
	if load == nil {
		load = coreconfig.Load
	}
	path := ResolveConfigPath(opts.ConfigPath, opts.ConfigEnvVar)
	if path != "" {
		log.Printf("loading config: %s", path)
	}
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("cmd: failed to load config: %w", err)
	}
	return cfg, nil
}

// Run loads configuration, bootstraps the app and serves until ctx is done or
// SIGINT/SIGTERM arrives.
func Run(ctx context.Context, opts Options) error {
	if opts.Bootstrap == nil {
		return errors.New("cmd: Bootstrap is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	application, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}

	prevStart := runOpts.OnStart
	runOpts.OnStart = func(ctx context.Context) error {
		if prevStart != nil {
			if err := prevStart(ctx); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready",
			slog.String("status", "ok"),
			slog.String("version", buildinfo.Version),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
		return nil
	}

	prevStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context) error {
		logger.Info(ctx, "app", "shutdown", slog.String("status", "ok"))
		if prevStop != nil {
			return prevStop(ctx)
		}
		return nil
	}

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}
