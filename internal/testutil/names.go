package testutil

import (
	"fmt"
	"sync"
)

// SequentialNames generates "<prefix>-1", "<prefix>-2", ... for epics
// created without a name.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with a fresh SequentialNames produces the same names.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialNames struct {
	prefix string

	mu  sync.Mutex
	seq int
}

// NewSequentialNames creates a generator. If prefix is empty, "epic" is used.
func NewSequentialNames(prefix string) *SequentialNames {
	if prefix == "" {
		prefix = "epic"
	}
	return &SequentialNames{prefix: prefix}
}

// Generate returns the next name.
//
// Implements epic.NameGenerator.
func (g *SequentialNames) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence at 1.
func (g *SequentialNames) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
