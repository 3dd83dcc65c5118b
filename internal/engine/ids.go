package engine

import "fmt"

// idGenerator issues sequential identifiers per kind. Identifiers are
// deterministic within a run, so two runs over the same inputs produce
// identical orders, positions, and trades.
type idGenerator struct {
	counters map[string]int64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{counters: make(map[string]int64)}
}

func (g *idGenerator) next(kind string) string {
	g.counters[kind]++
	return fmt.Sprintf("%s_%d", kind, g.counters[kind])
}
