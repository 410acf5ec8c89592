package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/histsync/internal/record"
)

// SequentialIDs hands out record ids that are distinct, ordered, and
// identical across runs. Golden snapshots depend on them.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix uint16
	n      uint64
}

// NewSequentialIDs creates a generator. Generators with different prefixes
// never collide, so each simulated device gets its own.
func NewSequentialIDs(prefix uint16) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() record.RecordID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return record.MustRecordID(fmt.Sprintf("%08x-0000-7000-8000-%012x", g.prefix, g.n))
}

// Reset restarts the sequence.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// HostID returns a deterministic host id for device number n.
func HostID(n int) record.HostID {
	return record.MustHostID(fmt.Sprintf("00000000-0000-4000-8000-%012x", n))
}
