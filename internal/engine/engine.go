package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/keyrange"
	"github.com/roach88/rangeplan/internal/queryir"
	"github.com/roach88/rangeplan/internal/store"
)

// DefaultMaxKeys is the default scan quota of one run.
const DefaultMaxKeys = 1_000_000

// Engine owns the collections of a catalog and runs queries against them.
//
// Thread-safety model:
//   - Enqueue(), Submit(): safe from any goroutine
//   - Serve(): must be called from exactly one goroutine
//   - AddIndex(), Insert(), Run(), Load(): not safe for concurrent use;
//     call them directly only when no Serve loop is running
//
// With a store attached every index, document and run is persisted, and
// plan choices for queries without $or are cached per query pattern.
type Engine struct {
	store  *store.Store
	clock  *Clock
	ids    IDGenerator
	logger *slog.Logger
	queue  *eventQueue

	colls map[string]*Collection

	maxKeys             int64
	singleIntervalLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists the catalog and runs to s.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithScanQuota caps the keys and documents one run may examine.
// 0 disables the limit.
func WithScanQuota(maxKeys int64) Option {
	return func(e *Engine) { e.maxKeys = maxKeys }
}

// WithSingleIntervalLimit caps the keys taken from each point combination
// of an index scan whose ranges are all points. 0 disables the cap.
func WithSingleIntervalLimit(n int) Option {
	return func(e *Engine) { e.singleIntervalLimit = n }
}

// WithIDGenerator replaces the UUIDv7 generator used for run IDs and
// generated document IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the sequence clock, e.g. to resume after a restart.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine with no collections.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
		queue:   newEventQueue(),
		colls:   make(map[string]*Collection),
		maxKeys: DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collection returns the collection of namespace ns.
func (e *Engine) Collection(ns string) (*Collection, bool) {
	c, ok := e.colls[ns]
	return c, ok
}

// Namespaces returns the known namespaces, sorted.
func (e *Engine) Namespaces() []string {
	return slices.Sorted(maps.Keys(e.colls))
}

func (e *Engine) collection(ns string) *Collection {
	c, ok := e.colls[ns]
	if !ok {
		c = NewCollection(ns)
		e.colls[ns] = c
	}
	return c
}

// AddIndex declares an index on spec.Namespace. Declaring an index drops
// the namespace's cached plans, since a better plan may now exist.
func (e *Engine) AddIndex(ctx context.Context, spec ir.IndexSpec) (ir.IndexSpec, error) {
	if spec.Namespace == "" {
		return ir.IndexSpec{}, &RuntimeError{
			Code:    ErrCodeInvalidIndex,
			Message: "index needs a namespace",
			Index:   spec.Name,
		}
	}
	coll := e.collection(spec.Namespace)
	if err := coll.AddIndex(spec); err != nil {
		return ir.IndexSpec{}, err
	}
	if spec.Name == "" {
		spec.Name = ir.DefaultIndexName(spec.KeyPattern)
	}
	idxNo, _ := coll.IndexNo(spec.Name)
	declared := coll.Indexes()[idxNo]

	seq := e.clock.Next()
	e.logger.Info("index declared",
		"ns", declared.Namespace,
		"index", declared.Name,
		"key_pattern", declared.KeyPattern.String(),
		"multi_key", declared.MultiKey,
		"seq", seq,
	)
	if e.store == nil {
		return declared, nil
	}
	if err := e.store.WriteIndex(ctx, declared, seq); err != nil {
		return ir.IndexSpec{}, fmt.Errorf("persist index %s: %w", declared.Name, err)
	}
	n, err := e.store.DeletePlans(ctx, declared.Namespace)
	if err != nil {
		return ir.IndexSpec{}, fmt.Errorf("evict plans of %s: %w", declared.Namespace, err)
	}
	if n > 0 {
		e.logger.Debug("plan cache cleared", "ns", declared.Namespace, "plans", n)
	}
	return declared, nil
}

// Insert adds a document to namespace ns and returns its ID. A document
// without _id gets a generated one, stored back into the document.
func (e *Engine) Insert(ctx context.Context, ns string, doc ir.IRObject) (string, error) {
	id, doc, err := e.documentID(ns, doc)
	if err != nil {
		return "", err
	}
	coll := e.collection(ns)
	multi, err := coll.Insert(id, doc)
	if err != nil {
		return "", err
	}

	seq := e.clock.Next()
	e.logger.Debug("document inserted", "ns", ns, "id", id, "seq", seq)
	for _, name := range multi {
		e.logger.Info("index became multi-key", "ns", ns, "index", name, "id", id)
	}
	if e.store == nil {
		return id, nil
	}
	if err := e.store.WriteDocument(ctx, ns, ir.Document{ID: id, Body: doc, Seq: seq}); err != nil {
		return "", fmt.Errorf("persist document %s: %w", id, err)
	}
	for _, name := range multi {
		if err := e.store.MarkMultiKey(ctx, ns, name); err != nil {
			return "", fmt.Errorf("persist multi-key flag of %s: %w", name, err)
		}
	}
	return id, nil
}

// documentID reads _id from doc, or generates one. Only string and
// integer IDs are accepted.
func (e *Engine) documentID(ns string, doc ir.IRObject) (string, ir.IRObject, error) {
	switch v := doc[IDField].(type) {
	case nil:
		id := e.ids.Generate()
		withID := make(ir.IRObject, len(doc)+1)
		maps.Copy(withID, doc)
		withID[IDField] = ir.IRString(id)
		return id, withID, nil
	case ir.IRString:
		return string(v), doc, nil
	case ir.IRInt:
		return strconv.FormatInt(int64(v), 10), doc, nil
	default:
		return "", nil, &RuntimeError{
			Code:      ErrCodeInvalidDocument,
			Message:   fmt.Sprintf("_id must be a string or integer, got %s", ir.String(v)),
			Namespace: ns,
		}
	}
}

// Query is one request to Run.
type Query struct {
	Namespace string
	Filter    ir.IRObject
	Sort      ir.KeyPattern

	// Hint forces an index by name, or NaturalIndex for a collection scan.
	Hint string

	// Trace records every key visited by index scans.
	Trace bool
}

// Result is the outcome of one run: the candidate documents the index
// bounds selected, in the order the scans produced them, and how each
// clause was read.
type Result struct {
	RunID        string     `json:"run_id"`
	Namespace    string     `json:"namespace"`
	IDs          []string   `json:"ids"`
	Plans        []PlanStep `json:"plans"`
	NScanned     int64      `json:"n_scanned"`
	UselessOr    bool       `json:"useless_or,omitempty"`
	BoundsDigest string     `json:"bounds_digest"`
	Seq          int64      `json:"seq"`
}

// PlanNames returns the index used by each clause, NaturalIndex for a
// collection scan.
func (r *Result) PlanNames() []string {
	names := make([]string, len(r.Plans))
	for i, p := range r.Plans {
		names[i] = p.Index
	}
	return names
}

// runConfig separates a live run from a replayed one.
type runConfig struct {
	record   bool
	useCache bool
}

// Run executes q and returns the candidate documents. The result is a
// superset of the documents matching q.Filter: every match is included,
// and a candidate lies inside the index bounds of some clause.
func (e *Engine) Run(ctx context.Context, q Query) (*Result, error) {
	return e.run(ctx, q, runConfig{record: true, useCache: true})
}

func (e *Engine) run(ctx context.Context, q Query, cfg runConfig) (*Result, error) {
	coll, ok := e.colls[q.Namespace]
	if !ok {
		return nil, NewUnknownNamespaceError(q.Namespace)
	}
	pred, err := queryir.ParseQuery(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	gen, err := keyrange.NewOrRangeGenerator(q.Namespace, pred, true)
	if err != nil {
		return nil, fmt.Errorf("compute ranges: %w", err)
	}

	res := &Result{RunID: e.ids.Generate(), Namespace: q.Namespace}
	rs := newRunState(e.maxKeys, q.Trace)
	logger := e.logger.With("run", res.RunID, "ns", q.Namespace)

	if gen.OrFound() {
		err = e.runOr(ctx, coll, gen, q, rs, res)
	} else {
		err = e.runSingle(ctx, coll, gen.Base(), q, cfg, rs, res)
	}
	if err != nil {
		if IsKeysExceededError(err) {
			logger.Warn("scan quota exceeded", "limit", e.maxKeys, "error", err)
			return nil, NewQuotaError(q.Namespace, rs.quota.Current(), e.maxKeys, err)
		}
		return nil, err
	}

	res.IDs = rs.ids
	res.NScanned = rs.quota.Current()
	if res.BoundsDigest, err = boundsDigest(res.Plans); err != nil {
		return nil, err
	}
	res.Seq = e.clock.Next()

	logger.Info("run finished",
		"plans", res.PlanNames(),
		"candidates", len(res.IDs),
		"n_scanned", res.NScanned,
		"useless_or", res.UselessOr,
	)

	if cfg.record && e.store != nil {
		rec := ir.RunRecord{
			ID:           res.RunID,
			Namespace:    q.Namespace,
			Query:        q.Filter,
			Sort:         q.Sort,
			Plans:        res.PlanNames(),
			BoundsDigest: res.BoundsDigest,
			Candidates:   res.IDs,
			NScanned:     res.NScanned,
			Seq:          res.Seq,
		}
		if _, err := e.store.WriteRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("record run %s: %w", res.RunID, err)
		}
	}
	return res, nil
}

// runSingle reads a query without $or through one plan, consulting and
// filling the plan cache.
func (e *Engine) runSingle(ctx context.Context, coll *Collection, frsp *keyrange.FieldRangeSetPair, q Query, cfg runConfig, rs *runState, res *Result) error {
	var cacheKey, shape string
	p, found := plan{}, false
	if q.Hint == "" && cfg.useCache && e.store != nil {
		qp := frsp.SingleKeySet().Pattern(q.Sort)
		key, err := qp.CacheKey(q.Namespace)
		if err != nil {
			return err
		}
		cacheKey, shape = key, qp.String()
		rec, ok, err := e.store.ReadPlan(ctx, q.Namespace, cacheKey)
		if err != nil {
			return err
		}
		if ok {
			p, found = cachedPlan(coll, rec)
		}
	}
	if !found {
		var err error
		if p, err = choosePlan(coll, frsp, q.Sort, q.Hint); err != nil {
			return err
		}
	}

	step, err := e.scanClause(ctx, coll, frsp, p, rs, 0)
	if err != nil {
		return err
	}
	res.Plans = append(res.Plans, step)

	if cacheKey == "" || p.cached {
		return nil
	}
	rec := ir.PlanRecord{
		Namespace:      q.Namespace,
		PlanKey:        cacheKey,
		Pattern:        shape,
		Direction:      p.dir,
		NScanned:       step.NScanned,
		PlannerVersion: ir.PlannerVersion,
		Seq:            e.clock.Next(),
	}
	if !p.isCollectionScan() {
		rec.IndexName = p.name
	}
	if err := e.store.WritePlan(ctx, rec); err != nil {
		return fmt.Errorf("cache plan: %w", err)
	}
	return nil
}

// runOr reads each $or clause with its own plan. Ranges already covered
// by an earlier clause are subtracted from later ones, and documents an
// earlier clause returned are not returned again. When some clause has no
// useful index the remaining clauses are abandoned for one collection scan
// over the whole query.
func (e *Engine) runOr(ctx context.Context, coll *Collection, gen *keyrange.OrRangeGenerator, q Query, rs *runState, res *Result) error {
	clause := 0
	for gen.MoreOrClauses() {
		frsp := gen.TopFrsp()
		// Clauses are read one after another, so no index order survives.
		p, err := choosePlan(coll, frsp, nil, q.Hint)
		if err != nil {
			return err
		}
		if p.isCollectionScan() {
			if err := gen.PopOrClause(coll, -1, nil); err != nil {
				return err
			}
			break
		}

		step, err := e.scanClause(ctx, coll, frsp, p, rs, clause)
		if err != nil {
			return err
		}
		res.Plans = append(res.Plans, step)

		if step.scanned != nil {
			rs.prior = append(rs.prior, step.scanned)
		}

		if err := gen.PopOrClause(coll, p.idxNo, p.pattern); err != nil {
			return err
		}
		clause++
		if gen.UselessOr() {
			break
		}
	}

	if !gen.UselessOr() {
		return nil
	}
	res.UselessOr = true
	e.logger.Debug("or clauses fall back to a collection scan", "ns", q.Namespace, "clause", clause)
	step, err := e.scanClause(ctx, coll, gen.Base(), collectionScan(), rs, clause)
	if err != nil {
		return err
	}
	res.Plans = append(res.Plans, step)
	return nil
}

func boundsDigest(steps []PlanStep) (string, error) {
	var pairs [][2]ir.IndexKey
	for _, s := range steps {
		pairs = append(pairs, s.Bounds.Pairs()...)
	}
	digest, err := ir.BoundsDigest(pairs)
	if err != nil {
		return "", fmt.Errorf("bounds digest: %w", err)
	}
	return digest, nil
}

// Load replaces the engine's collections with the catalog in its store
// and resumes the clock after the largest recorded seq.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("load: %w", ErrNoStore)
	}
	colls, err := loadCollections(ctx, e.store, "", 0)
	if err != nil {
		return err
	}
	seq, err := e.store.MaxSeq(ctx)
	if err != nil {
		return err
	}
	e.colls = colls
	e.clock = NewClockAt(seq)
	e.logger.Info("catalog loaded", "namespaces", len(colls), "seq", seq)
	return nil
}

// loadCollections rebuilds collections from s. A non-empty ns restricts
// the load to that namespace; a positive before keeps only what was
// written before that seq. Multi-key flags are recomputed from the loaded
// documents.
func loadCollections(ctx context.Context, s *store.Store, ns string, before int64) (map[string]*Collection, error) {
	namespaces := []string{ns}
	if ns == "" {
		var err error
		if namespaces, err = s.ReadNamespaces(ctx); err != nil {
			return nil, err
		}
	}

	where, params := "", []any(nil)
	if before > 0 {
		where, params = "seq < ?", []any{before}
	}

	colls := make(map[string]*Collection, len(namespaces))
	for _, name := range namespaces {
		coll := NewCollection(name)
		specs, err := s.ReadIndexesBefore(ctx, name, before)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			spec.MultiKey = false
			if err := coll.AddIndex(spec); err != nil {
				return nil, fmt.Errorf("load index %s: %w", spec.Name, err)
			}
		}
		docs, err := s.QueryDocuments(ctx, name, where, params)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if _, err := coll.Insert(doc.ID, doc.Body); err != nil {
				return nil, fmt.Errorf("load document %s: %w", doc.ID, err)
			}
		}
		colls[name] = coll
	}
	return colls, nil
}
