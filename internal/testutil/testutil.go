// Package testutil provides deterministic fakes for tests and the
// scenario harness.
package testutil

import (
	"fmt"
	"sync"
)

// DeterministicClock issues sequence numbers from a fixed starting point.
// Same scenario, same seqs, same golden output.
type DeterministicClock struct {
	mu   sync.Mutex
	last int64
}

// NewDeterministicClock creates a clock whose first Next() returns start+1.
func NewDeterministicClock(start int64) *DeterministicClock {
	return &DeterministicClock{last: start}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// FixedTokenGenerator issues predictable submission tokens:
// token-000001, token-000002, ...
type FixedTokenGenerator struct {
	mu sync.Mutex
	n  int
}

// NewFixedTokenGenerator creates a generator starting at token-000001.
func NewFixedTokenGenerator() *FixedTokenGenerator {
	return &FixedTokenGenerator{}
}

func (g *FixedTokenGenerator) NewToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("token-%06d", g.n), nil
}
