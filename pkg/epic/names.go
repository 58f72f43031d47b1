package epic

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NameGenerator produces names for epics created without one.
// Implemented by UUIDv7Generator (production) and by the deterministic
// generators in tests.
type NameGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 names.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// clock stamps cycles with a strictly increasing sequence number.
// Sequence numbers order cycles; wall-clock time is never used for ordering.
type clock struct {
	seq atomic.Int64
}

func (c *clock) next() int64 {
	return c.seq.Add(1)
}

func (c *clock) current() int64 {
	return c.seq.Load()
}
