package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newOnceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and exit",
		Long: `Run exactly one sync cycle and print its summary. Exits non-zero when
the unread query fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			report, ran := a.runner.RunOnce(ctx)
			out := cmd.OutOrStdout()
			if !ran {
				fmt.Fprintln(out, "cycle skipped: another instance holds the lock") //nolint:errcheck
				return nil
			}
			fmt.Fprintf(out, "cycle %s: discovered=%d skipped=%d alerts=%d recorded=%d failed=%d\n", //nolint:errcheck
				report.CycleID, report.Discovered, report.Skipped, report.Alerts, report.Recorded, report.Failed)
			if report.Err != nil {
				fmt.Fprintf(os.Stderr, "mailwatcher once: %v\n", report.Err) //nolint:errcheck
				return errExit
			}
			return nil
		},
	}
}
