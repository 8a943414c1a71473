// xtream-proxy presents a pool of Xtream Codes upstream accounts to IPTV
// players as a single Xtream Codes server.
//
// Usage:
//
//	# Start the proxy
//	xtream-proxy run --config /etc/xtream-proxy/config.yaml
//
//	# Check the configuration without starting
//	xtream-proxy validate
//
//	# Probe every upstream account once
//	xtream-proxy check
//
//	# List recent relays
//	xtream-proxy history list --user alice --since 24h
package main

import (
	"fmt"
	"os"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
