package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
)

func TestRunWithGolden_PointQuery(t *testing.T) {
	result, err := RunWithGolden(t, parse(t, pointScenario))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWithGolden_NaturalScan(t *testing.T) {
	s := parse(t, `
name: natural_scan
description: "Collection scan without indexes"
namespace: db.c
setup:
  - insert: { _id: "1", c: 1 }
  - insert: { _id: "2", c: 2 }
flow:
  - query: { c: 2 }
`)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.AddEvent(TraceEvent{Type: EventQuery, Namespace: "db.c", Args: ir.IRObject{"b": ir.IRInt(1), "a": ir.IRString("x")}, IDs: []string{}, Seq: 1})
	result.AddEvent(TraceEvent{Type: EventScan, Index: "a_1", Direction: ir.Descending, Bounds: []string{"[1]..[0]"}, NScanned: 2, Seeks: 1, Seq: 2})
	result.AddEvent(TraceEvent{Type: EventQuery, Error: "boom", Seq: 3})

	data, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[`+
			`{"args":{"a":"x","b":1},"ids":[],"n_scanned":0,"namespace":"db.c","seq":1,"type":"query"},`+
			`{"bounds":["[1]..[0]"],"clause":0,"direction":-1,"index":"a_1","n_scanned":2,"seeks":1,"seq":2,"type":"scan"},`+
			`{"error":"boom","seq":3,"type":"query"}]}`,
		string(data))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	result := NewResult()
	result.AddEvent(TraceEvent{
		Type: EventQuery,
		Args: ir.IRObject{"z": ir.IRInt(1), "a": ir.IRInt(2), "m": ir.IRArray{ir.IRNull{}, ir.IRBool(true)}},
		IDs:  []string{"1"},
		Seq:  1,
	})

	first, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalSnapshot("s", result)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
