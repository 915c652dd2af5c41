// Package harness provides conformance testing for index bound derivation.
//
// The harness declares a catalog, runs queries through a real engine backed
// by an in-memory store, and checks which indexes were scanned, over which
// bounds, and which candidates came back.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	namespace: db.c
//	specs:
//	  - catalogs/shop.cue       # optional CUE catalogs
//	setup:
//	  - index: { key: { a: 1, b: -1 } }
//	  - insert: { _id: "1", a: 1, b: 2 }
//	flow:
//	  - query: { a: { $in: [1, 2] } }
//	    sort: { a: -1 }
//	    expect:
//	      ids: ["1"]
//	      plans: [a_1_b_-1]
//	      n_scanned: 2
//	assertions:
//	  - type: trace_contains
//	    index: a_1_b_-1
//	  - type: final_state
//	    table: indexes
//	    where: { name: a_1_b_-1 }
//	    expect: { multi_key: 0 }
//
// Key patterns are YAML mappings read in document order.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: some query clause scanned the index
//   - trace_order: indexes were scanned in the given order
//   - trace_count: the index was scanned exactly N times
//   - final_state: queries a store table (indexes, documents, plans, runs)
//
// # Deterministic Testing
//
// All scenarios execute with deterministic IDs and trace numbering:
//   - Run and document IDs come from testutil.SeqGenerator (scenario.id_prefix)
//   - Trace events are numbered by testutil.TraceClock
//   - Each run uses a fresh in-memory SQLite database
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/in_query.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err == nil && !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
