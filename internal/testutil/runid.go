package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDGenerator returns predetermined run ids so journal rows and
// golden traces are byte-identical across test runs.
//
// With ids it returns them in order and panics once they are exhausted, to
// catch a test that journals more runs than it expects. Without ids it
// counts: "test-run-0001", "test-run-0002", ...
//
// Thread-safety: safe for concurrent use.
type FixedRunIDGenerator struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedRunIDGenerator creates a generator over ids.
func NewFixedRunIDGenerator(ids ...string) *FixedRunIDGenerator {
	return &FixedRunIDGenerator{ids: ids}
}

// Generate implements journal.IDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	if len(g.ids) == 0 {
		return fmt.Sprintf("test-run-%04d", g.n)
	}
	if g.n > len(g.ids) {
		panic("FixedRunIDGenerator: all ids exhausted")
	}
	return g.ids[g.n-1]
}
