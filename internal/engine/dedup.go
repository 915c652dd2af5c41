package engine

// dupTracker remembers which documents a run has already returned.
//
// A multi-key index holds one entry per array element, so one scan can
// reach the same document several times, and the clauses of an $or can
// overlap where range subtraction had to stay conservative. Both cases
// must yield each document once.
//
// CRITICAL DISTINCTION from the earlier-clause check in runOr:
//   - Earlier-clause check: "does this document match a clause already
//     scanned?" (range-based, counts as skipped)
//   - dupTracker: "has this exact document been returned?" (identity-based)
type dupTracker struct {
	seen map[string]struct{}
}

func newDupTracker() *dupTracker {
	return &dupTracker{seen: make(map[string]struct{})}
}

// Add records id and reports whether it was new.
func (d *dupTracker) Add(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Len returns the number of distinct documents recorded.
func (d *dupTracker) Len() int { return len(d.seen) }
