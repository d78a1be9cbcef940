package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/config"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/logging"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "lnharness",
		Short:         "Fetch, launch and supervise regtest lightningd nodes",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Configuration file path (default $"+config.PathEnv+")")

	rootCmd.AddCommand(newExePathCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))

	return rootCmd
}

// commandContext loads the configuration once per invocation and hands
// it, with a matching logger, to the subcommands.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	log        *logging.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = os.Getenv(config.PathEnv)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("loading config: %w", err)
			return
		}
		c.config = cfg
		c.log = logging.New(cfg.Logging, version)
	})
	return c.config, c.configErr
}

// logger returns the configured logger, or the default one if the
// configuration failed to load.
func (c *commandContext) logger() *logging.Logger {
	if _, err := c.ensureConfig(); err != nil || c.log == nil {
		return logging.Default()
	}
	return c.log
}
