package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/compiler"
	"github.com/roach88/rangeplan/internal/engine"
	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Catalog  string
	Query    string // named query from the catalog

	Namespace string
	Filter    string
	Sort      string
	Hint      string

	MaxKeys int64
	Trace   bool
	SQL     bool

	// IDGenerator allows overriding run and document IDs (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Result *engine.Result    `json:"result"`
	SQL    *engine.SQLResult `json:"sql,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query against a persisted catalog",
		Long: `Run a query against the indexes and documents persisted in a SQLite
database, recording the run so it can be traced and replayed.

With --catalog, the namespaces, indexes and seed documents of a CUE catalog
are applied first; indexes and documents already stored are skipped. The query is
either a named query from the catalog (--query) or given with --ns and
--filter.

Example:
  rangeplan run --db ./plans.db --catalog ./catalogs --query recent_c1
  rangeplan run --db ./plans.db --ns shop.orders --filter '{"customer": "c1"}' --sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory to apply first")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "named query from the catalog")
	cmd.Flags().StringVar(&opts.Namespace, "ns", "", "namespace of the query")
	cmd.Flags().StringVar(&opts.Filter, "filter", "{}", "query filter as JSON")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort key pattern as JSON")
	cmd.Flags().StringVar(&opts.Hint, "hint", "", "index name to force, or $natural")
	cmd.Flags().Int64Var(&opts.MaxKeys, "max-keys", engine.DefaultMaxKeys, "keys one run may examine (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "record every key visited by index scans")
	cmd.Flags().BoolVar(&opts.SQL, "sql", false, "cross-check candidates with the SQL path")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runQuery(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	var cat *compiler.Catalog
	if opts.Catalog != "" {
		loadResult, loadErrors := LoadCatalog(opts.Catalog, LoadModeFailFast)
		if len(loadErrors) > 0 {
			return outputLoadError(formatter, loadErrors[0])
		}
		cat = loadResult.Catalog
		logger.Info("catalog compiled", "namespaces", len(cat.Namespaces), "queries", len(cat.Queries))
	}

	q, err := resolveQuery(opts, cat)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, "invalid query", err)
	}
	q.Trace = opts.Trace

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	engOpts := []engine.Option{
		engine.WithStore(st),
		engine.WithLogger(logger),
		engine.WithScanQuota(opts.MaxKeys),
	}
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(engOpts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := eng.Load(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to load catalog from database", err)
	}

	events := catalogEvents(eng, cat)
	formatter.VerboseLog("Applying %d catalog change(s)", len(events))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	served := make(chan error, 1)
	go func() { served <- eng.Serve(ctx) }()

	res, runErr := submitAll(ctx, eng, events, q)

	eng.Stop()
	if err := <-served; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped with error", "error", err)
	}
	if runErr != nil {
		return formatter.Fail(ExitFailure, ErrCodeRun, "run failed", runErr)
	}

	out := RunOutput{Result: res}
	if opts.SQL {
		// Serve has returned, so the engine may be called directly.
		out.SQL, err = eng.RunSQL(ctx, q)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRun, "sql run failed", err)
		}
	}

	if formatter.IsJSON() {
		return formatter.Success(out)
	}
	printRun(formatter, &out)
	return nil
}

// catalogEvents lists the catalog entries the engine does not hold yet.
// Call it before Serve starts.
func catalogEvents(eng *engine.Engine, cat *compiler.Catalog) []engine.Event {
	if cat == nil {
		return nil
	}
	var events []engine.Event
	for _, ns := range cat.Namespaces {
		coll, known := eng.Collection(ns.Name)
		for i := range ns.Indexes {
			spec := ns.Indexes[i]
			if known {
				if _, ok := coll.IndexNo(spec.Name); ok {
					continue
				}
			}
			events = append(events, engine.Event{Type: engine.EventTypeAddIndex, Index: &spec})
		}
		for _, doc := range ns.Documents {
			if known {
				if id, ok := documentID(doc); ok {
					if _, dup := coll.Document(id); dup {
						continue
					}
				}
			}
			events = append(events, engine.Event{Type: engine.EventTypeInsert, Namespace: ns.Name, Document: doc})
		}
	}
	return events
}

func documentID(doc ir.IRObject) (string, bool) {
	switch v := doc[engine.IDField].(type) {
	case ir.IRString:
		return string(v), true
	case ir.IRInt:
		return strconv.FormatInt(int64(v), 10), true
	}
	return "", false
}

// submitAll sends events through the Serve loop and then runs q.
func submitAll(ctx context.Context, eng *engine.Engine, events []engine.Event, q engine.Query) (*engine.Result, error) {
	for _, ev := range events {
		if _, err := eng.Submit(ctx, ev); err != nil {
			return nil, fmt.Errorf("apply catalog: %w", err)
		}
	}

	reply, err := eng.Submit(ctx, engine.Event{Type: engine.EventTypeRun, Query: &q})
	if err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// resolveQuery builds the query from --query or from the inline flags.
func resolveQuery(opts *RunOptions, cat *compiler.Catalog) (engine.Query, error) {
	if opts.Query != "" {
		if cat == nil {
			return engine.Query{}, fmt.Errorf("--query needs --catalog")
		}
		spec, ok := cat.Query(opts.Query)
		if !ok {
			return engine.Query{}, fmt.Errorf("catalog has no query %q", opts.Query)
		}
		return engine.Query{
			Namespace: spec.Namespace,
			Filter:    spec.Filter,
			Sort:      spec.Sort,
			Hint:      spec.Hint,
		}, nil
	}

	if opts.Namespace == "" {
		return engine.Query{}, fmt.Errorf("either --query or --ns is required")
	}
	q := engine.Query{Namespace: opts.Namespace, Hint: opts.Hint}
	if err := json.Unmarshal([]byte(opts.Filter), &q.Filter); err != nil {
		return engine.Query{}, fmt.Errorf("--filter: %w", err)
	}
	if opts.Sort != "" {
		sort, err := ir.ParseKeyPattern([]byte(opts.Sort))
		if err != nil {
			return engine.Query{}, fmt.Errorf("--sort: %w", err)
		}
		q.Sort = sort
	}
	return q, nil
}

func printRun(formatter *OutputFormatter, out *RunOutput) {
	w := formatter.Writer
	res := out.Result
	fmt.Fprintf(w, "Run %s on %s (seq %d)\n", res.RunID, res.Namespace, res.Seq)
	fmt.Fprintf(w, "  plans:     %s\n", strings.Join(res.PlanNames(), ", "))
	if res.UselessOr {
		fmt.Fprintln(w, "  $or:       useless, finished with a collection scan")
	}
	fmt.Fprintf(w, "  n_scanned: %d\n", res.NScanned)
	fmt.Fprintf(w, "  ids:       %s\n", strings.Join(res.IDs, ", "))

	for _, step := range res.Plans {
		fmt.Fprintf(w, "\n  clause %d: %s direction %s\n", step.Clause, step.Index, step.Direction)
		if step.Impossible {
			fmt.Fprintln(w, "    impossible ranges, nothing read")
			continue
		}
		if step.Vector != "" {
			fmt.Fprintf(w, "    vector: %s\n", step.Vector)
		}
		for _, b := range boundStrings(step.Bounds) {
			fmt.Fprintf(w, "    bound:  %s\n", b)
		}
		fmt.Fprintf(w, "    n_scanned %d, seeks %d, returned %d, duplicates %d\n",
			step.NScanned, step.Seeks, step.Returned, step.Duplicates)
		for _, ts := range step.Trace {
			fmt.Fprintf(w, "    key %s id %s\n", ts.Key, ts.ID)
		}
	}

	if out.SQL != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "SQL where: %s %v\n", out.SQL.Where, out.SQL.Params)
		fmt.Fprintf(w, "  fetched: %d\n", out.SQL.Fetched)
		fmt.Fprintf(w, "  ids:     %s\n", strings.Join(out.SQL.IDs, ", "))
	}
}
