package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/rafaalpizar/xtream-proxy/pkg/cli"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/history"
)

var historyFlags struct {
	user    string
	account string
	kind    string
	since   time.Duration
	limit   int
	offset  int
	format  string
	days    int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the relay history database",
	Long: `Query finished relays recorded by a running proxy.

Subcommands:
  list   - List recent relays, newest first
  prune  - Delete relays older than the retention period`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent relays",
	Long: `List finished relays, newest first.

Examples:
  # Last day of relays for one user
  xtream-proxy history list --user alice --since 24h

  # Export everything relayed through an account
  xtream-proxy history list --account main --limit 0 --format csv`,
	RunE: listHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete relays past retention",
	RunE:  pruneHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)

	historyListCmd.Flags().StringVar(&historyFlags.user, "user", "", "filter by proxy user")
	historyListCmd.Flags().StringVar(&historyFlags.account, "account", "", "filter by upstream account")
	historyListCmd.Flags().StringVar(&historyFlags.kind, "kind", "", "filter by stream kind (live, movie, series, timeshift, hls, relay)")
	historyListCmd.Flags().DurationVar(&historyFlags.since, "since", 0, "only relays started within this duration")
	historyListCmd.Flags().IntVar(&historyFlags.limit, "limit", 50, "max results (0 for all)")
	historyListCmd.Flags().IntVar(&historyFlags.offset, "offset", 0, "pagination offset")
	historyListCmd.Flags().StringVar(&historyFlags.format, "format", "text", "output format: text, json, csv")

	historyPruneCmd.Flags().IntVar(&historyFlags.days, "days", -1, "retention in days (config value when negative)")
}

// openHistory opens the persistent history store named by the config.
func openHistory() (history.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.Backend == "memory" {
		return nil, nil, cli.NewConfigError("history.backend", "the memory backend is not readable from another process")
	}
	store, err := history.Open(cfg.History)
	if err != nil {
		return nil, nil, cli.NewCommandError("history", err)
	}
	return store, cfg, nil
}

func listHistory(cmd *cobra.Command, args []string) error {
	formatter, err := outputFormatter(historyFlags.format)
	if err != nil {
		return err
	}
	store, _, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	q := &history.Query{
		User:    historyFlags.user,
		Account: historyFlags.account,
		Kind:    historyFlags.kind,
		Limit:   historyFlags.limit,
		Offset:  historyFlags.offset,
	}
	if historyFlags.since > 0 {
		since := time.Now().Add(-historyFlags.since)
		q.Since = &since
	}

	records, err := store.Query(context.Background(), q)
	if err != nil {
		return cli.NewCommandError("history list", err)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), historyTable(records))
}

func historyTable(records []*history.Record) *cli.Table {
	t := &cli.Table{
		Headers: []string{"started", "user", "account", "kind", "status", "duration", "bytes_out", "end_reason", "failovers"},
		Data:    records,
	}
	for _, r := range records {
		t.Rows = append(t.Rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			r.User,
			r.Account,
			r.Kind,
			strconv.Itoa(r.Status),
			r.Duration().Round(time.Second).String(),
			strconv.FormatInt(r.BytesOut, 10),
			r.EndReason,
			strconv.Itoa(r.Failovers),
		})
	}
	return t
}

func pruneHistory(cmd *cobra.Command, args []string) error {
	store, cfg, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	days := cfg.History.Retention.Days
	if historyFlags.days >= 0 {
		days = historyFlags.days
	}
	pruner, err := history.NewPruner(store, days, cfg.History.Retention.PruneSchedule, clock.New())
	if err != nil {
		return cli.NewConfigError("history.retention", err.Error())
	}
	n, err := pruner.Prune(context.Background())
	if err != nil {
		return cli.NewCommandError("history prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d relays older than %d days\n", n, days)
	return nil
}
