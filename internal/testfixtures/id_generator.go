package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out readable identifiers such as "listing-3". Each prefix
// counts independently so tests can predict the id of the next listing
// regardless of how many sessions or events were created in between.
type IDGenerator struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewIDGenerator returns a generator with every sequence at zero.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{counters: make(map[string]int)}
}

// Next returns the next identifier for prefix.
func (g *IDGenerator) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counters[prefix])
}

// Sequence binds prefix into the func() string shape the services take.
func (g *IDGenerator) Sequence(prefix string) func() string {
	return func() string { return g.Next(prefix) }
}

// Reset restarts every sequence.
func (g *IDGenerator) Reset() {
	g.mu.Lock()
	g.counters = make(map[string]int)
	g.mu.Unlock()
}
