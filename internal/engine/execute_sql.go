package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/queryir"
	"github.com/roach88/rangeplan/internal/querysql"
)

// ErrNoStore is returned by operations that read the persisted catalog
// from an engine without a store.
var ErrNoStore = errors.New("engine has no store")

// SQLResult is the outcome of RunSQL.
type SQLResult struct {
	Where   string   `json:"where"`
	Params  []any    `json:"params"`
	Fetched int      `json:"fetched"`
	IDs     []string `json:"ids"`
}

// RunSQL computes the candidates of q from the store instead of the
// in-memory indexes: the ranges of each $or clause (or of the whole query)
// compile to a SQLite predicate over the stored documents, and fetched
// documents are re-checked against the ranges. Candidates come back in
// insertion order.
//
// Both paths return every matching document, so RunSQL cross-checks the
// index scans of Run.
func (e *Engine) RunSQL(ctx context.Context, q Query) (*SQLResult, error) {
	if e.store == nil {
		return nil, fmt.Errorf("run sql: %w", ErrNoStore)
	}
	pred, err := queryir.ParseQuery(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	gen, err := keyrange.NewOrRangeGenerator(q.Namespace, pred, true)
	if err != nil {
		return nil, fmt.Errorf("compute ranges: %w", err)
	}

	var sets []*keyrange.FieldRangeSet
	if !gen.OrFound() {
		sets = append(sets, gen.Base().MultiKeySet())
	}
	for gen.MoreOrClauses() {
		sets = append(sets, gen.TopFrspOriginal().MultiKeySet())
		if err := gen.PopOrClauseSingleKey(); err != nil {
			return nil, err
		}
	}

	compiler := querysql.NewSQLCompiler()
	var clauses []string
	var params []any
	var matchers [][]*keyrange.FieldRangeVector
	unrestricted := false
	for i, frs := range sets {
		where, p, err := compiler.CompileWhere(frs)
		if err != nil {
			return nil, fmt.Errorf("compile clause %d: %w", i, err)
		}
		if where == "0" {
			continue
		}
		m, err := fieldMatchers(frs)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		matchers = append(matchers, m)
		if where == "" {
			unrestricted = true
			continue
		}
		clauses = append(clauses, "("+where+")")
		params = append(params, p...)
	}

	res := &SQLResult{IDs: []string{}}
	switch {
	case len(matchers) == 0:
		res.Where = "0"
		return res, nil
	case unrestricted:
		params = nil
	default:
		res.Where = strings.Join(clauses, " OR ")
	}
	res.Params = params

	docs, err := e.store.QueryDocuments(ctx, q.Namespace, res.Where, res.Params)
	if err != nil {
		return nil, err
	}
	res.Fetched = len(docs)
	for _, doc := range docs {
		for _, m := range matchers {
			ok, err := matchesAll(m, doc.Body)
			if err != nil {
				return nil, fmt.Errorf("document %q: %w", doc.ID, err)
			}
			if ok {
				res.IDs = append(res.IDs, doc.ID)
				break
			}
		}
	}
	e.logger.Debug("sql candidates",
		"ns", q.Namespace,
		"clauses", len(matchers),
		"fetched", res.Fetched,
		"candidates", len(res.IDs),
	)
	return res, nil
}
