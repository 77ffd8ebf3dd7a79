package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/youpin-city/mafueng-bot/core/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mafueng %s\n", buildinfo.String())
			return err
		},
	}
}
