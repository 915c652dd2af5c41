package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rangeplan/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario declares a catalog, runs queries against it through the engine
// and asserts on the plans, bounds and candidates each query produced.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE catalog files whose namespaces, indexes and documents
	// are loaded before setup. Paths are relative to the scenario file
	// location when loaded with LoadScenarioWithBasePath.
	Specs []string `yaml:"specs,omitempty"`

	// Namespace is the default namespace of setup and flow steps.
	Namespace string `yaml:"namespace"`

	// Setup declares indexes and inserts documents, in order.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow contains the queries to run, each with optional expectations.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and store state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// IDPrefix fixes the run and document IDs the engine mints, so golden
	// traces are reproducible. Defaults to "test".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// MaxKeys overrides the engine's per-run scan quota when positive.
	MaxKeys int64 `yaml:"max_keys,omitempty"`
}

// SetupStep is either an index declaration or a document insert.
type SetupStep struct {
	Namespace string         `yaml:"namespace,omitempty"`
	Index     *IndexStep     `yaml:"index,omitempty"`
	Insert    map[string]any `yaml:"insert,omitempty"`
}

// IndexStep declares one index. An empty name gets the default name.
type IndexStep struct {
	Name string  `yaml:"name,omitempty"`
	Key  KeySpec `yaml:"key"`
}

// FlowStep runs one query.
type FlowStep struct {
	Namespace string         `yaml:"namespace,omitempty"`
	Query     map[string]any `yaml:"query"`
	Sort      KeySpec        `yaml:"sort,omitempty"`
	Hint      string         `yaml:"hint,omitempty"`

	// Expect specifies the expected outcome. If nil, the step only has to
	// run without error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a query. Unset fields are
// not checked.
type ExpectClause struct {
	// IDs are the expected candidates in scan order.
	IDs []string `yaml:"ids,omitempty"`

	// Plans are the expected index names, one per clause.
	Plans []string `yaml:"plans,omitempty"`

	NScanned  *int64 `yaml:"n_scanned,omitempty"`
	UselessOr *bool  `yaml:"useless_or,omitempty"`

	// Error is a substring of the expected error. When set the query must
	// fail.
	Error string `yaml:"error,omitempty"`
}

// KeySpec is a key pattern written as a YAML mapping, e.g. {a: 1, b: -1}.
// Unlike a Go map it keeps the field order.
type KeySpec ir.KeyPattern

// UnmarshalYAML reads the mapping node pairwise so field order survives.
func (k *KeySpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: key pattern must be a mapping", node.Line)
	}
	pattern := make(ir.KeyPattern, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, val := node.Content[i], node.Content[i+1]
		if seen[name.Value] {
			return fmt.Errorf("line %d: duplicate key field %q", name.Line, name.Value)
		}
		seen[name.Value] = true

		kf := ir.KeyField{Field: name.Value, Direction: ir.Ascending}
		switch {
		case val.Kind != yaml.ScalarNode:
			return fmt.Errorf("line %d: direction of %q must be a scalar", val.Line, name.Value)
		case val.Tag == "!!int":
			n, err := strconv.ParseInt(val.Value, 0, 64)
			if err != nil {
				return fmt.Errorf("line %d: direction of %q: %w", val.Line, name.Value, err)
			}
			kf.Direction = ir.DirectionOf(n)
		case val.Tag == "!!str":
			kf.Special = val.Value
		default:
			return fmt.Errorf("line %d: direction of %q must be an int or an index type", val.Line, name.Value)
		}
		pattern = append(pattern, kf)
	}
	*k = KeySpec(pattern)
	return nil
}

// Pattern returns the key pattern.
func (k KeySpec) Pattern() ir.KeyPattern {
	return ir.KeyPattern(k)
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a scan event used Index
	// - "trace_order": scans used Indexes in this order
	// - "trace_count": Index was scanned exactly Count times
	// - "final_state": query a store table and verify expected values
	Type string `yaml:"type"`

	// Index is the index name (used by trace_contains, trace_count).
	// "$natural" names collection scans.
	Index string `yaml:"index,omitempty"`

	// Indexes is the expected scan order (used by trace_order).
	Indexes []string `yaml:"indexes,omitempty"`

	// Count is the expected number of scans (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve spec paths relative to base path BEFORE validation
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating spec paths.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i, step := range s.Setup {
		if (step.Index == nil) == (step.Insert == nil) {
			return fmt.Errorf("setup[%d]: exactly one of index or insert is required", i)
		}
		if step.Index != nil && len(step.Index.Key) == 0 {
			return fmt.Errorf("setup[%d]: index key is required", i)
		}
		if s.Namespace == "" && step.Namespace == "" {
			return fmt.Errorf("setup[%d]: namespace is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Query == nil {
			return fmt.Errorf("flow[%d]: query is required (use {} to match everything)", i)
		}
		if s.Namespace == "" && step.Namespace == "" {
			return fmt.Errorf("flow[%d]: namespace is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Index == "" {
			return fmt.Errorf("assertions[%d]: index is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Indexes) == 0 {
			return fmt.Errorf("assertions[%d]: indexes list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Index == "" {
			return fmt.Errorf("assertions[%d]: index is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
