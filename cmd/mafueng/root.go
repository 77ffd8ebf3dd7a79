package main

import (
	"github.com/spf13/cobra"

	corecmd "github.com/youpin-city/mafueng-bot/core/cmd"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "mafueng",
		Short:         "Chat bot that collects issue reports",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Config file path (falls back to $"+corecmd.DefaultConfigEnvVar+"; empty means environment only).")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newMigrateCmd(flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
