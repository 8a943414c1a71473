/*
Package cli provides helpers shared by the xtream-proxy commands.

Output Formatting:

Command results are printed as text tables, JSON or CSV:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, table)

Progress Reporting:

Commands that probe several upstream accounts report progress:

	progress := cli.NewProgressReporter(os.Stderr, "Probing")
	progress.Start(int64(len(accounts)))
	progress.Increment()
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
