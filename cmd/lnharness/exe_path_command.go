package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExePathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exe-path",
		Short: "Print the lightningd executable the harness would launch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := resolveExe(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exe)
			return nil
		},
	}
}
