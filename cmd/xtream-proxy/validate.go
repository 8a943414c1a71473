package main

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration with environment overrides applied, validate it and
print the upstream accounts and users it defines. Passwords are never printed.

Exit status is 2 when the configuration is invalid.

Examples:
  xtream-proxy validate --config /etc/xtream-proxy/config.yaml
  xtream-proxy validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	formatter, err := outputFormatter(validateFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if validateFlags.format == string(cli.FormatText) {
		fmt.Fprintf(out, "configuration valid: %s\n\n", cfgFile)
	}
	return formatter.FormatTo(out, summaryTable(cfg))
}

// summaryTable lists accounts and users, one row each.
func summaryTable(cfg *config.Config) *cli.Table {
	t := &cli.Table{Headers: []string{"type", "name", "target", "max_connections", "notes"}}

	names := make([]string, 0, len(cfg.Upstreams))
	for name := range cfg.Upstreams {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		u := cfg.Upstreams[name]
		var notes []string
		if u.Disabled {
			notes = append(notes, "disabled")
		}
		if len(u.Mirrors) > 0 {
			notes = append(notes, "mirrors="+strings.Join(u.Mirrors, "+"))
		}
		t.Rows = append(t.Rows, []string{"upstream", name, hostOf(u.BaseURL), limitText(u.MaxConnections), strings.Join(notes, " ")})
	}

	for _, u := range cfg.Users {
		notes := ""
		if u.Suspended {
			notes = "suspended"
		}
		t.Rows = append(t.Rows, []string{"user", u.Username, u.Upstream, limitText(u.MaxConnections), notes})
	}
	return t
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func limitText(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
