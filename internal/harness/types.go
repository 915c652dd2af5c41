package harness

import (
	"github.com/roach88/rangeplan/internal/ir"
)

// Trace event types.
const (
	EventAddIndex = "add_index"
	EventInsert   = "insert"
	EventQuery    = "query"
	EventScan     = "scan"
)

// TraceEvent is one observed step of a scenario: a catalog change, a query
// outcome, or the scan of one query clause.
type TraceEvent struct {
	Type      string `json:"type"`
	Namespace string `json:"namespace,omitempty"`

	// Index is the declared index (add_index) or the index scanned (scan).
	Index string `json:"index,omitempty"`

	// Args is the key pattern (add_index), the document id (insert) or the
	// filter (query).
	Args ir.IRValue `json:"args,omitempty"`

	Clause    int          `json:"clause,omitempty"`
	Direction ir.Direction `json:"direction,omitempty"`
	Bounds    []string     `json:"bounds,omitempty"`
	IDs       []string     `json:"ids,omitempty"`
	NScanned  int64        `json:"n_scanned,omitempty"`
	Seeks     int          `json:"seeks,omitempty"`
	Error     string       `json:"error,omitempty"`
	Seq       int64        `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Trace contains catalog changes, queries and scans in order.
	// Used for trace assertions and golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Scans returns the scan events in trace order.
func (r *Result) Scans() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventScan {
			out = append(out, ev)
		}
	}
	return out
}
