package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rangeplan/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonical converts a TraceSnapshot to an IRObject for canonical JSON
// serialization. Zero-valued event fields are left out.
func (s *TraceSnapshot) toCanonical() ir.IRObject {
	trace := make(ir.IRArray, len(s.Trace))
	for i, ev := range s.Trace {
		obj := ir.IRObject{
			"type": ir.IRString(ev.Type),
			"seq":  ir.IRInt(ev.Seq),
		}
		if ev.Namespace != "" {
			obj["namespace"] = ir.IRString(ev.Namespace)
		}
		if ev.Index != "" {
			obj["index"] = ir.IRString(ev.Index)
		}
		if ev.Args != nil {
			obj["args"] = ev.Args
		}
		if ev.Type == EventScan {
			obj["clause"] = ir.IRInt(ev.Clause)
			obj["direction"] = ir.IRInt(ev.Direction)
			obj["n_scanned"] = ir.IRInt(ev.NScanned)
			obj["seeks"] = ir.IRInt(ev.Seeks)
		}
		if ev.Bounds != nil {
			obj["bounds"] = stringArray(ev.Bounds)
		}
		if ev.Type == EventQuery && ev.Error == "" {
			obj["ids"] = stringArray(ev.IDs)
			obj["n_scanned"] = ir.IRInt(ev.NScanned)
		}
		if ev.Error != "" {
			obj["error"] = ir.IRString(ev.Error)
		}
		trace[i] = obj
	}

	return ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"trace":         trace,
	}
}

func stringArray(ss []string) ir.IRArray {
	arr := make(ir.IRArray, len(ss))
	for i, s := range ss {
		arr[i] = ir.IRString(s)
	}
	return arr
}

// MarshalSnapshot renders the canonical JSON of a scenario trace.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonical())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
