package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/engine"
	"github.com/roach88/rangeplan/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Namespace string // optional - one namespace only
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded runs and verify determinism",
		Long: `Replay every recorded run against the catalog as it stood when the run
happened, and compare plans, bounds digest, candidates and keys scanned with
what was recorded.

Exit codes:
  0 - All runs replayed identically
  1 - At least one run differs
  2 - Command error (database not found, etc.)

Examples:
  rangeplan replay --db ./plans.db
  rangeplan replay --db ./plans.db --ns shop.orders --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "replay runs of one namespace only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	report, err := engine.Replay(ctx, st, opts.Namespace, engine.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRun, "replay failed", err)
	}

	if formatter.IsJSON() {
		status := "ok"
		if !report.OK() {
			status = "error"
		}
		if err := formatter.Encode(CLIResponse{Status: status, Data: report}); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, report)
	}

	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d run(s) differ on replay", report.Runs-report.Matched))
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, report *engine.ReplayReport) {
	w := formatter.Writer
	if report.Runs == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return
	}

	if report.OK() {
		fmt.Fprintf(w, "✓ %d run(s) replayed identically\n", report.Runs)
		return
	}

	fmt.Fprintf(w, "✗ %d of %d run(s) differ\n\n", report.Runs-report.Matched, report.Runs)
	for _, m := range report.Mismatches {
		fmt.Fprintf(w, "  %s %s\n", m.RunID, m.Field)
		fmt.Fprintf(w, "    recorded: %s\n", m.Recorded)
		fmt.Fprintf(w, "    replayed: %s\n", m.Replayed)
	}
}
