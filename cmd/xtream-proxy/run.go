package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/server"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	noWatch       bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the proxy server",
	Long: `Start the proxy with the specified configuration.

The config file is watched and user, upstream, catalog filter and logging
changes are applied without a restart.

Examples:
  # Start with default config
  xtream-proxy run

  # Override listen address
  xtream-proxy run --listen 0.0.0.0:8080

  # Validate config without starting the server
  xtream-proxy run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "do not reload the config file on change")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	} else if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := logging.New(cfg.Telemetry.Logging, logging.Secrets(cfg), os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.SetDefault()

	opts := server.Options{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
		Logger:    logger,
	}
	if !runFlags.noWatch {
		opts.ConfigPath = cfgFile
	}

	if runFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d upstream accounts, %d users\n", len(cfg.Upstreams), len(cfg.Users))
		return nil
	}

	srv, err := server.New(cfg, opts)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}
