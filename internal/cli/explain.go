package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/queryir"
	"github.com/roach88/rangeplan/internal/querysql"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Namespace string
	Key       string // index key pattern JSON
	Direction int
	Sort      string // sort key pattern JSON
	Doc       string // sample document JSON
	MultiKey  bool
}

// ExplainResult describes the ranges of one query.
type ExplainResult struct {
	Namespace     string          `json:"namespace"`
	Ranges        string          `json:"ranges"`
	MatchPossible bool            `json:"match_possible"`
	Special       string          `json:"special,omitempty"`
	Pattern       string          `json:"pattern"`
	PlanKey       string          `json:"plan_key"`
	Where         string          `json:"sql_where"`
	Params        []any           `json:"sql_params,omitempty"`
	Index         *IndexExplain   `json:"index,omitempty"`
	Clauses       []ClauseExplain `json:"or_clauses,omitempty"`
}

// IndexExplain is the view of the query through one index.
type IndexExplain struct {
	KeyPattern    string   `json:"key_pattern"`
	Direction     int      `json:"direction"`
	MultiKey      bool     `json:"multi_key"`
	MatchPossible bool     `json:"match_possible"`
	Vector        string   `json:"vector"`
	Bounds        []string `json:"bounds"`
	Intervals     int64    `json:"intervals"`
	Simplified    ir.IRDoc `json:"simplified"`

	// DocKey is the first key of the sample document, in scan order, that
	// lies inside the bounds. DocMatched is false when none does.
	DocKey     string `json:"doc_key,omitempty"`
	DocMatched *bool  `json:"doc_matched,omitempty"`
}

// explainCatalog is the one index named by --key.
type explainCatalog struct{ multiKey bool }

func (c explainCatalog) IndexCount() int { return 1 }
func (c explainCatalog) IsMultiKey(int) bool { return c.multiKey }

// ClauseExplain is one $or clause after earlier clauses were subtracted.
type ClauseExplain struct {
	Clause int      `json:"clause"`
	Ranges string   `json:"ranges"`
	Bounds []string `json:"bounds,omitempty"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <filter-json>",
		Short: "Show the field ranges and index bounds of a query",
		Long: `Show the field ranges and index bounds of a query without running it.

With --key, the ranges are mapped onto that index key pattern: the output
includes the range vector, the flattened bound list and the query simplified
to the index fields. With --doc, it also shows the first key of that
document the scan would land on inside the bounds. A top-level $or is shown clause by clause, each clause
with the ranges of earlier clauses subtracted.

Example:
  rangeplan explain '{"a": {"$gt": 1, "$lt": 5}, "b": 2}' --key '{"b": 1, "a": -1}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "ns", "db.c", "namespace of the query")
	cmd.Flags().StringVar(&opts.Key, "key", "", "index key pattern as JSON, e.g. '{\"a\": 1}'")
	cmd.Flags().IntVar(&opts.Direction, "dir", 1, "scan direction (1 or -1)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort key pattern as JSON")
	cmd.Flags().StringVar(&opts.Doc, "doc", "", "sample document as JSON, checked against the index bounds")
	cmd.Flags().BoolVar(&opts.MultiKey, "multikey", false, "treat the index as multi-key")

	return cmd
}

func runExplain(opts *ExplainOptions, filter string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Direction != 1 && opts.Direction != -1 {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, fmt.Sprintf("--dir must be 1 or -1, got %d", opts.Direction), nil)
	}
	var pattern, sort ir.KeyPattern
	var err error
	if opts.Key != "" {
		if pattern, err = ir.ParseKeyPattern([]byte(opts.Key)); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBadInput, "invalid --key", err)
		}
	}
	if opts.Sort != "" {
		if sort, err = ir.ParseKeyPattern([]byte(opts.Sort)); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBadInput, "invalid --sort", err)
		}
	}

	var doc ir.IRObject
	if opts.Doc != "" {
		if len(pattern) == 0 {
			return formatter.Fail(ExitCommandError, ErrCodeBadInput, "--doc needs --key", nil)
		}
		if err := json.Unmarshal([]byte(opts.Doc), &doc); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBadInput, "invalid --doc", err)
		}
	}

	pred, err := queryir.ParseQueryJSON([]byte(filter))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadInput, "invalid filter", err)
	}

	result, err := Explain(opts.Namespace, pred, pattern, ir.Direction(opts.Direction), sort, opts.MultiKey, doc)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRun, "explain", err)
	}
	formatter.VerboseLog("Explained %s on %s", filter, opts.Namespace)

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	printExplain(formatter, result)
	return nil
}

// Explain computes the ranges of pred and, when pattern is set, their
// bounds on that index. A non-nil doc is matched against those bounds.
func Explain(ns string, pred queryir.Predicate, pattern ir.KeyPattern, dir ir.Direction, sort ir.KeyPattern, multiKey bool, doc ir.IRObject) (*ExplainResult, error) {
	gen, err := keyrange.NewOrRangeGenerator(ns, pred, true)
	if err != nil {
		return nil, err
	}
	frsp := gen.Base()
	cat := explainCatalog{multiKey: multiKey}
	frs, err := frsp.ForIndex(cat, 0)
	if err != nil {
		return nil, err
	}

	qp := frs.Pattern(sort)
	planKey, err := qp.CacheKey(ns)
	if err != nil {
		return nil, err
	}
	where, params, err := querysql.NewSQLCompiler().CompileWhere(frsp.MultiKeySet())
	if err != nil {
		return nil, err
	}

	result := &ExplainResult{
		Namespace:     ns,
		Ranges:        frs.String(),
		MatchPossible: frs.MatchPossible(),
		Special:       frsp.Special(),
		Pattern:       qp.String(),
		PlanKey:       planKey,
		Where:         where,
		Params:        params,
	}

	if len(pattern) > 0 && frsp.Special() == "" {
		ix := &IndexExplain{
			KeyPattern:    pattern.String(),
			Direction:     int(dir),
			MultiKey:      multiKey,
			MatchPossible: frs.MatchPossibleForIndex(pattern),
			Bounds:        []string{},
		}
		// An impossible range has no vector; a scan reads nothing.
		if ix.MatchPossible {
			vector, err := keyrange.NewFieldRangeVector(frs, pattern, dir)
			if err != nil {
				return nil, err
			}
			bounds, err := frs.IndexBounds(pattern, dir)
			if err != nil {
				return nil, err
			}
			ix.Vector = vector.String()
			ix.Bounds = boundStrings(bounds)
			ix.Intervals = vector.Size()
			if ix.Simplified, err = frsp.SimplifiedQueryForIndex(cat, 0, pattern); err != nil {
				return nil, err
			}
			if doc != nil {
				key, ok, err := vector.FirstMatch(doc)
				if err != nil {
					return nil, fmt.Errorf("--doc: %w", err)
				}
				ix.DocMatched = &ok
				if ok {
					ix.DocKey = key.String()
				}
			}
		}
		result.Index = ix
	}

	for i := 0; gen.MoreOrClauses(); i++ {
		clause := gen.TopFrsp()
		ce := ClauseExplain{Clause: i, Ranges: clause.SingleKeySet().String()}
		if len(pattern) > 0 {
			bounds, err := clause.SingleKeyIndexBounds(pattern, dir)
			if err != nil {
				return nil, err
			}
			ce.Bounds = boundStrings(bounds)
		}
		result.Clauses = append(result.Clauses, ce)
		if err := gen.PopOrClauseSingleKey(); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func boundStrings(bounds keyrange.BoundList) []string {
	out := make([]string, len(bounds))
	for i, b := range bounds {
		out[i] = b.Start.String() + ".." + b.End.String()
	}
	return out
}

func printExplain(formatter *OutputFormatter, r *ExplainResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Namespace:      %s\n", r.Namespace)
	fmt.Fprintf(w, "Ranges:         %s\n", r.Ranges)
	fmt.Fprintf(w, "Match possible: %t\n", r.MatchPossible)
	if r.Special != "" {
		fmt.Fprintf(w, "Special:        %s\n", r.Special)
	}
	fmt.Fprintf(w, "Pattern:        %s\n", r.Pattern)
	fmt.Fprintf(w, "Plan key:       %s\n", r.PlanKey)
	switch r.Where {
	case "":
		fmt.Fprintln(w, "SQL where:      (all documents)")
	default:
		fmt.Fprintf(w, "SQL where:      %s %v\n", r.Where, r.Params)
	}

	if r.Index != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Index %s direction %d\n", r.Index.KeyPattern, r.Index.Direction)
		if r.Index.MatchPossible {
			printIndexExplain(w, r.Index)
		} else {
			fmt.Fprintln(w, "  impossible ranges, nothing to scan")
		}
	}

	if len(r.Clauses) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "$or clauses:")
		for _, c := range r.Clauses {
			fmt.Fprintf(w, "  [%d] %s\n", c.Clause, c.Ranges)
			for _, b := range c.Bounds {
				fmt.Fprintf(w, "      %s\n", b)
			}
		}
	}
}

func printIndexExplain(w io.Writer, ix *IndexExplain) {
	fmt.Fprintf(w, "  vector:     %s\n", ix.Vector)
	fmt.Fprintf(w, "  intervals:  %d\n", ix.Intervals)
	simplified, _ := ix.Simplified.MarshalJSON()
	fmt.Fprintf(w, "  simplified: %s\n", simplified)
	fmt.Fprintln(w, "  bounds:")
	if len(ix.Bounds) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, b := range ix.Bounds {
		fmt.Fprintf(w, "    %s\n", b)
	}
	switch {
	case ix.DocMatched == nil:
	case *ix.DocMatched:
		fmt.Fprintf(w, "  doc:        first key %s\n", ix.DocKey)
	default:
		fmt.Fprintln(w, "  doc:        no key inside the bounds")
	}
}
