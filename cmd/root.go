package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"codes-bot/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "codes-bot",
		Short:         "Telegram bot that turns code lists into barcode-headed workbooks",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "optional config file (yaml, toml or json); environment variables take precedence")

	serveCmd := newServeCmd(opts)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(
		serveCmd,
		newLookupCmd(opts),
		newImportCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// loadConfig reads configuration and installs the default logger.
func (o *rootOptions) loadConfig() (config.Config, *slog.Logger, error) {
	v, err := config.New(o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
