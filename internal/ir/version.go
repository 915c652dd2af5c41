package ir

// Version constants recorded with every persisted plan and run.
const (
	// IRVersion is the version of the value and key encodings.
	IRVersion = "1"

	// PlannerVersion is the rangeplan planner version. Cached plans written
	// by another version are ignored.
	PlannerVersion = "0.1.0"
)
