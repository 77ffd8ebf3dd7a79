package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/youpin-city/mafueng-bot/core/bootstrap"
	corecmd "github.com/youpin-city/mafueng-bot/core/cmd"
	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), corecmd.Options{
				ConfigPath: flags.configPath,
				Bootstrap:  bootstrapApp,
			})
		},
	}
}

func bootstrapApp(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.NewApp(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return app, nil
}
