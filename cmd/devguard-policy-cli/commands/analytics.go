package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/l3montree-dev/devguard-policy/daemons"
	"github.com/spf13/cobra"
)

func NewAnalyticsCommand() *cobra.Command {
	analytics := cobra.Command{
		Use:   "analytics",
		Short: "Value stream analytics",
	}

	analytics.AddCommand(newAnalyticsLoadCommand())
	analytics.AddCommand(newConsistencyCheckCommand())
	return &analytics
}

// untilDone repeats a run which stopped on its time or record limit. Every
// run continues from the cursor the previous one stored.
func untilDone(ctx context.Context, repeat bool, run func(ctx context.Context) (bool, error)) error {
	for {
		start := time.Now()
		done, err := run(ctx)
		if err != nil {
			return err
		}
		slog.Info("run finished", "done", done, "duration", time.Since(start))
		if done || !repeat {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func newAnalyticsLoadCommand() *cobra.Command {
	load := &cobra.Command{
		Use:   "load",
		Short: "Load stage events for every root group",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runner *daemons.DaemonRunner
			return withApp([]any{&runner}, func() error {
				return untilDone(cmd.Context(), config.GetBool("until-done"), runner.LoadCycleAnalytics)
			})
		},
	}
	load.Flags().Bool("until-done", false, "repeat the loader until every group is processed")
	return load
}

func newConsistencyCheckCommand() *cobra.Command {
	check := &cobra.Command{
		Use:   "consistency-check",
		Short: "Delete stage events whose issue or merge request no longer exists",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runner *daemons.DaemonRunner
			return withApp([]any{&runner}, func() error {
				return untilDone(cmd.Context(), config.GetBool("until-done"), runner.CheckCycleAnalyticsConsistency)
			})
		},
	}
	check.Flags().Bool("until-done", false, "repeat the check until every group is processed")
	return check
}
