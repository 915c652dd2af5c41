package ir

// Document is one stored document of a namespace.
type Document struct {
	ID   string   `json:"id"`
	Body IRObject `json:"body"`
	Seq  int64    `json:"seq"`
}

// PlanRecord is a plan-cache entry: the index that won for a query shape.
// An empty IndexName records a collection scan.
type PlanRecord struct {
	Namespace      string    `json:"namespace"`
	PlanKey        string    `json:"plan_key"`
	Pattern        string    `json:"pattern"`
	IndexName      string    `json:"index_name"`
	Direction      Direction `json:"direction"`
	NScanned       int64     `json:"n_scanned"`
	PlannerVersion string    `json:"planner_version"`
	Seq            int64     `json:"seq"`
}

// RunRecord is the persisted outcome of one query execution. Replaying a
// run re-executes Query under Sort and compares the outcome with these fields.
type RunRecord struct {
	ID           string     `json:"id"`
	Namespace    string     `json:"namespace"`
	Query        IRObject   `json:"query"`
	Sort         KeyPattern `json:"sort,omitempty"`
	Plans        []string   `json:"plans"`
	BoundsDigest string     `json:"bounds_digest"`
	Candidates   []string   `json:"candidates"`
	NScanned     int64      `json:"n_scanned"`
	Seq          int64      `json:"seq"`
}
