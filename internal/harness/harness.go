package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/rangeplan/internal/compiler"
	"github.com/roach88/rangeplan/internal/engine"
	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/store"
	"github.com/roach88/rangeplan/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios through a real engine backed by an in-memory store,
// with deterministic IDs and trace numbering.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.TraceClock
	logger *slog.Logger
	ns     string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Load and compile the CUE catalog specs
// 3. Execute setup steps
// 4. Run flow queries and check their expect clauses
// 5. Evaluate assertions and return the result
//
// A query that fails is a scenario failure unless its expect clause names
// the error; setup and spec failures abort the run.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []engine.Option{
		engine.WithStore(st),
		engine.WithIDGenerator(testutil.NewSeqGenerator(scenario.IDPrefix)),
		engine.WithLogger(logger),
	}
	if scenario.MaxKeys > 0 {
		opts = append(opts, engine.WithScanQuota(scenario.MaxKeys))
	}

	h := &Harness{
		store:  st,
		engine: engine.New(opts...),
		clock:  testutil.NewTraceClock(),
		logger: logger,
		ns:     scenario.Namespace,
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.loadSpecs(ctx, scenario.Specs, result); err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// loadSpecs compiles each CUE catalog file and applies its namespaces.
func (h *Harness) loadSpecs(ctx context.Context, paths []string, result *Result) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		cat, errs := compiler.CompileCatalog(v)
		if len(errs) > 0 {
			return fmt.Errorf("%s: %w", path, errs[0])
		}
		if verrs := compiler.Validate(cat); len(verrs) > 0 {
			return fmt.Errorf("%s: %w", path, verrs[0])
		}

		for _, ns := range cat.Namespaces {
			for _, idx := range ns.Indexes {
				if err := h.addIndex(ctx, ns.Name, idx.Name, idx.KeyPattern, result); err != nil {
					return err
				}
			}
			for _, doc := range ns.Documents {
				if err := h.insert(ctx, ns.Name, doc, result); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// executeSetup runs all setup steps in order.
func (h *Harness) executeSetup(ctx context.Context, setup []SetupStep, result *Result) error {
	for i, step := range setup {
		ns := h.namespace(step.Namespace)
		if step.Index != nil {
			if err := h.addIndex(ctx, ns, step.Index.Name, step.Index.Key.Pattern(), result); err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			continue
		}

		doc, err := toObject(step.Insert)
		if err != nil {
			return fmt.Errorf("setup step %d: failed to convert document: %w", i, err)
		}
		if err := h.insert(ctx, ns, doc, result); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) addIndex(ctx context.Context, ns, name string, pattern ir.KeyPattern, result *Result) error {
	spec, err := h.engine.AddIndex(ctx, ir.IndexSpec{Name: name, Namespace: ns, KeyPattern: pattern})
	if err != nil {
		return err
	}
	result.AddEvent(TraceEvent{
		Type:      EventAddIndex,
		Namespace: ns,
		Index:     spec.Name,
		Args:      ir.IRString(spec.KeyPattern.String()),
		Seq:       h.clock.Next(),
	})
	return nil
}

func (h *Harness) insert(ctx context.Context, ns string, doc ir.IRObject, result *Result) error {
	id, err := h.engine.Insert(ctx, ns, doc)
	if err != nil {
		return err
	}
	result.AddEvent(TraceEvent{
		Type:      EventInsert,
		Namespace: ns,
		Args:      ir.IRString(id),
		Seq:       h.clock.Next(),
	})
	return nil
}

// executeFlow runs every query and checks its expect clause. Mismatches
// are recorded on result; only malformed steps return an error.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		filter, err := toObject(step.Query)
		if err != nil {
			return fmt.Errorf("flow step %d: failed to convert query: %w", i, err)
		}
		ns := h.namespace(step.Namespace)

		res, runErr := h.engine.Run(ctx, engine.Query{
			Namespace: ns,
			Filter:    filter,
			Sort:      step.Sort.Pattern(),
			Hint:      step.Hint,
		})

		ev := TraceEvent{
			Type:      EventQuery,
			Namespace: ns,
			Args:      filter,
			Seq:       h.clock.Next(),
		}
		if runErr != nil {
			ev.Error = runErr.Error()
			result.AddEvent(ev)
		} else {
			ev.IDs = res.IDs
			ev.NScanned = res.NScanned
			result.AddEvent(ev)
			for _, p := range res.Plans {
				result.AddEvent(TraceEvent{
					Type:      EventScan,
					Namespace: ns,
					Index:     p.Index,
					Clause:    p.Clause,
					Direction: p.Direction,
					Bounds:    formatBounds(p.Bounds),
					NScanned:  p.NScanned,
					Seeks:     p.Seeks,
					Seq:       h.clock.Next(),
				})
			}
		}

		for _, msg := range checkExpect(step.Expect, res, runErr) {
			result.AddError(fmt.Sprintf("flow[%d]: %s", i, msg))
		}
		h.logger.Info("flow step completed", "step", i, "ns", ns, "error", runErr)
	}
	return nil
}

// checkExpect compares one query outcome with its expect clause.
func checkExpect(exp *ExpectClause, res *engine.Result, runErr error) []string {
	if exp == nil {
		if runErr != nil {
			return []string{fmt.Sprintf("unexpected error: %v", runErr)}
		}
		return nil
	}

	if exp.Error != "" {
		switch {
		case runErr == nil:
			return []string{fmt.Sprintf("expected error containing %q, query succeeded", exp.Error)}
		case !strings.Contains(runErr.Error(), exp.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %v", exp.Error, runErr)}
		}
		return nil
	}
	if runErr != nil {
		return []string{fmt.Sprintf("unexpected error: %v", runErr)}
	}

	var msgs []string
	if exp.IDs != nil && !slices.Equal(exp.IDs, res.IDs) {
		msgs = append(msgs, fmt.Sprintf("ids = %v, want %v", res.IDs, exp.IDs))
	}
	if exp.Plans != nil && !slices.Equal(exp.Plans, res.PlanNames()) {
		msgs = append(msgs, fmt.Sprintf("plans = %v, want %v", res.PlanNames(), exp.Plans))
	}
	if exp.NScanned != nil && *exp.NScanned != res.NScanned {
		msgs = append(msgs, fmt.Sprintf("n_scanned = %d, want %d", res.NScanned, *exp.NScanned))
	}
	if exp.UselessOr != nil && *exp.UselessOr != res.UselessOr {
		msgs = append(msgs, fmt.Sprintf("useless_or = %v, want %v", res.UselessOr, *exp.UselessOr))
	}
	return msgs
}

func (h *Harness) namespace(ns string) string {
	if ns != "" {
		return ns
	}
	return h.ns
}

// formatBounds renders each bound pair as start..end.
func formatBounds(bounds keyrange.BoundList) []string {
	if len(bounds) == 0 {
		return nil
	}
	out := make([]string, len(bounds))
	for i, b := range bounds {
		out[i] = b.Start.String() + ".." + b.End.String()
	}
	return out
}

// toObject converts a YAML-decoded mapping to an IRObject. Floats are
// rejected; null becomes IRNull.
func toObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %s", ir.String(v))
	}
	return obj, nil
}
