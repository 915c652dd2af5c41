package testutil

import (
	"fmt"
	"sync"
)

// SeqGenerator mints readable sequential IDs: prefix-1, prefix-2, ...
//
// It satisfies engine.IDGenerator. Unlike engine.FixedGenerator it never
// runs out, which suits scenarios whose ID count is not known up front.
//
// Thread-safety: SeqGenerator is safe for concurrent use.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqGenerator creates a generator for prefix. An empty prefix becomes
// "test".
func NewSeqGenerator(prefix string) *SeqGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SeqGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
