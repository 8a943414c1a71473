package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "xtream-proxy",
	Short: "Xtream Codes proxy for shared IPTV upstream accounts",
	Long: `xtream-proxy serves the Xtream Codes API to IPTV players on behalf of a pool
of upstream accounts. Players log in with proxy credentials; the proxy maps
them to upstream accounts, caches catalogs, fails streams over to mirror
accounts and enforces connection limits.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads, overrides from the environment and validates cfgFile.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load %s: %v", cfgFile, err))
	}
	return cfg, nil
}

func outputFormatter(format string) (cli.Formatter, error) {
	f, err := cli.NewFormatter(cli.OutputFormat(format))
	if err != nil {
		return nil, cli.NewConfigError("--format", err.Error())
	}
	return f, nil
}
