package main

import (
	"fmt"

	"github.com/spf13/cobra"

	corecmd "github.com/youpin-city/mafueng-bot/core/cmd"
	coreconfig "github.com/youpin-city/mafueng-bot/core/config"
	coredatabase "github.com/youpin-city/mafueng-bot/core/database"
	"github.com/youpin-city/mafueng-bot/core/logger"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres session schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := postgresConfig(flags)
			if err != nil {
				return err
			}
			defer logger.Shutdown()
			return coredatabase.RunMigrations(cfg.Storage.Postgres)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be > 0")
			}
			cfg, err := postgresConfig(flags)
			if err != nil {
				return err
			}
			defer logger.Shutdown()
			return coredatabase.RollbackMigrations(cfg.Storage.Postgres, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back.")
	cmd.AddCommand(down)

	return cmd
}

func postgresConfig(flags *rootFlags) (*coreconfig.Config, error) {
	cfg, err := corecmd.LoadConfig(corecmd.Options{ConfigPath: flags.configPath})
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend != coreconfig.StoragePostgres {
		return nil, fmt.Errorf("migrate: storage.backend is %q; migrations apply to postgres only", cfg.Storage.Backend)
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("migrate: logger init failed: %w", err)
	}
	return cfg, nil
}
