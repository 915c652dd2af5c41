package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	Namespace string // optional - one namespace only
	RunID     string // optional - one run only
}

// TraceRun is one recorded run in the timeline.
type TraceRun struct {
	Seq          int64    `json:"seq"`
	ID           string   `json:"id"`
	Namespace    string   `json:"namespace"`
	Query        string   `json:"query"`
	Sort         string   `json:"sort,omitempty"`
	Plans        []string `json:"plans"`
	Candidates   []string `json:"candidates"`
	NScanned     int64    `json:"n_scanned"`
	BoundsDigest string   `json:"bounds_digest"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Namespace string          `json:"namespace,omitempty"`
	Timeline  []TraceRun      `json:"timeline"`
	Plans     []ir.PlanRecord `json:"plans"`
	Stats     TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Runs        int   `json:"runs"`
	CachedPlans int   `json:"cached_plans"`
	NScanned    int64 `json:"n_scanned"`
	Candidates  int   `json:"candidates"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded runs and cached plans",
		Long: `Show the runs recorded in a database and the plans cached per query
pattern.

The output includes:
- Timeline: recorded runs in seq order, with the index used by each clause
- Plans: the plan cache, one entry per namespace and query pattern
- Stats: summary counts

Examples:
  rangeplan trace --db ./plans.db
  rangeplan trace --db ./plans.db --ns shop.orders
  rangeplan trace --db ./plans.db --run 0192f7a4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "show one namespace only")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run only")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	result, err := buildTrace(ctx, st, opts.Namespace, opts.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read trace", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// buildTrace reads runs and plans. With runID set, the timeline holds that
// run and the plans of its namespace.
func buildTrace(ctx context.Context, st *store.Store, ns, runID string) (*TraceResult, error) {
	var runs []ir.RunRecord
	if runID != "" {
		run, err := st.ReadRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		runs = []ir.RunRecord{run}
		ns = run.Namespace
	} else {
		var err error
		if runs, err = st.ReadRuns(ctx, ns); err != nil {
			return nil, err
		}
	}

	plans, err := st.ReadPlans(ctx, ns)
	if err != nil {
		return nil, err
	}

	result := &TraceResult{
		Namespace: ns,
		Timeline:  make([]TraceRun, 0, len(runs)),
		Plans:     plans,
	}
	for _, run := range runs {
		tr := TraceRun{
			Seq:          run.Seq,
			ID:           run.ID,
			Namespace:    run.Namespace,
			Query:        ir.String(run.Query),
			Plans:        run.Plans,
			Candidates:   run.Candidates,
			NScanned:     run.NScanned,
			BoundsDigest: run.BoundsDigest,
		}
		if len(run.Sort) > 0 {
			tr.Sort = run.Sort.String()
		}
		result.Timeline = append(result.Timeline, tr)
		result.Stats.NScanned += run.NScanned
		result.Stats.Candidates += len(run.Candidates)
	}
	result.Stats.Runs = len(result.Timeline)
	result.Stats.CachedPlans = len(plans)
	return result, nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result *TraceResult, verbose bool) {
	if result.Namespace != "" {
		fmt.Fprintf(w, "Trace for namespace: %s\n\n", result.Namespace)
	}

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no runs)")
	}
	for _, run := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %s %s\n", run.Seq, run.Namespace, run.Query)
		if run.Sort != "" {
			fmt.Fprintf(w, "       sort: %s\n", run.Sort)
		}
		fmt.Fprintf(w, "       plans: %s, n_scanned %d, %d candidate(s)\n",
			strings.Join(run.Plans, ", "), run.NScanned, len(run.Candidates))
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", run.ID)
			fmt.Fprintf(w, "       candidates: %s\n", strings.Join(run.Candidates, ", "))
			fmt.Fprintf(w, "       bounds digest: %s\n", truncateID(run.BoundsDigest))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Plans ===")
	if len(result.Plans) == 0 {
		fmt.Fprintln(w, "  (no cached plans)")
	}
	for _, p := range result.Plans {
		stale := ""
		if p.PlannerVersion != ir.PlannerVersion {
			stale = " (stale planner " + p.PlannerVersion + ")"
		}
		fmt.Fprintf(w, "  %s %s -> %s direction %s, n_scanned %d%s\n",
			p.Namespace, p.Pattern, p.IndexName, p.Direction, p.NScanned, stale)
		if verbose {
			fmt.Fprintf(w, "       key: %s\n", truncateID(p.PlanKey))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Runs:         %d\n", result.Stats.Runs)
	fmt.Fprintf(w, "  Cached plans: %d\n", result.Stats.CachedPlans)
	fmt.Fprintf(w, "  Keys scanned: %d\n", result.Stats.NScanned)
	fmt.Fprintf(w, "  Candidates:   %d\n", result.Stats.Candidates)
}

// truncateID shortens an ID or digest for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
