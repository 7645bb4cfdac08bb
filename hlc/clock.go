package hlc

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator issues monotonically increasing readings for a single node. It
// owns its (lastWall, lastCounter) state: if the physical clock moves
// forward the counter resets to zero, and if the physical clock stalls or
// regresses the counter increments on the last-issued wall time, so issuance
// never goes backwards.
type Generator struct {
	mu          sync.Mutex
	nodeID      string
	wallClock   func() time.Time
	lastWall    int64
	lastCounter uint32
	issued      bool
}

// NewGenerator creates a generator for the given node id. An empty node id
// gets a freshly generated UUID.
func NewGenerator(nodeID string) *Generator {
	return NewGeneratorWithClock(nodeID, time.Now)
}

// NewGeneratorWithClock creates a generator with an injectable wall clock,
// used by tests to simulate bursts and clock regression.
func NewGeneratorWithClock(nodeID string, wallClock func() time.Time) *Generator {
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	return &Generator{
		nodeID:    nodeID,
		wallClock: wallClock,
	}
}

// NodeID returns the node id stamped on every reading this generator issues.
func (g *Generator) NodeID() string {
	return g.nodeID
}

// Now issues the next reading. Safe for concurrent use.
func (g *Generator) Now() HLC {
	g.mu.Lock()
	defer g.mu.Unlock()

	wall := g.wallClock().UnixMilli()
	if !g.issued || wall > g.lastWall {
		g.lastWall = wall
		g.lastCounter = 0
	} else {
		g.lastCounter++
	}
	g.issued = true
	return HLC{
		WallTimeMillis: g.lastWall,
		Counter:        g.lastCounter,
		NodeID:         g.nodeID,
	}
}
