package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

var checkFlags struct {
	format      string
	concurrency int
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every upstream account once",
	Long: `Authenticate against each configured upstream account the same way the
health prober does and report the result. Exit status is 1 when any account
fails.

Examples:
  xtream-proxy check
  xtream-proxy check --format json`,
	RunE: checkUpstreams,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, csv")
	checkCmd.Flags().IntVar(&checkFlags.concurrency, "concurrency", 4, "accounts probed in parallel")
}

type probeResult struct {
	Account string        `json:"account"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

func checkUpstreams(cmd *cobra.Command, args []string) error {
	formatter, err := outputFormatter(checkFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := upstream.NewPool(cfg)
	if err != nil {
		return cli.NewCommandError("check", err)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "Probing")
	results := probeAccounts(ctx, pool, cfg.Health, checkFlags.concurrency, progress)

	t := &cli.Table{Headers: []string{"account", "status", "latency", "error"}, Data: results}
	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "failed"
			failed++
		}
		t.Rows = append(t.Rows, []string{r.Account, status, r.Latency.Round(time.Millisecond).String(), r.Error})
	}
	if err := formatter.FormatTo(cmd.OutOrStdout(), t); err != nil {
		return err
	}
	if failed > 0 {
		return cli.NewCommandError("check", fmt.Errorf("%d of %d accounts failed", failed, len(results)))
	}
	return nil
}

// probeAccounts probes every account of pool with at most concurrency
// probes in flight. Results keep the pool's account order.
func probeAccounts(ctx context.Context, pool *upstream.Pool, hc config.HealthCheckConfig, concurrency int, progress cli.ProgressReporter) []probeResult {
	accounts := pool.Accounts()
	results := make([]probeResult, len(accounts))

	progress.Start(int64(len(accounts)))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i, acct := range accounts {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, hc.Timeout)
			defer cancel()

			start := time.Now()
			err := pool.Client().Probe(probeCtx, acct)
			r := probeResult{Account: acct.Name, OK: err == nil, Latency: time.Since(start)}
			if err != nil {
				r.Error = err.Error()
			}

			results[i] = r
			progress.Increment()
			return nil
		})
	}
	_ = g.Wait()
	progress.Finish()
	return results
}
