// Package affected selects the test entry files whose import closure reaches
// a changed file.
package affected

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"affected/internal/depgraph"
	"affected/internal/paths"
)

// Strategy selects how reachability is computed. Both strategies return the
// same entries.
type Strategy int

const (
	// Reverse walks importer edges once from every changed module.
	Reverse Strategy = iota
	// Forward searches the closure of each entry separately.
	Forward
)

func (s Strategy) String() string {
	if s == Forward {
		return "forward"
	}
	return "reverse"
}

// ParseStrategy parses "reverse" or "forward". Empty means Reverse.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "reverse":
		return Reverse, nil
	case "forward":
		return Forward, nil
	default:
		return Reverse, fmt.Errorf("unknown strategy %q (want reverse or forward)", s)
	}
}

// Compute returns the entries whose reachable set, the entry itself
// included, contains at least one changed module. Changed modules absent
// from the graph cannot be reached and are ignored. The result keeps the
// order of entries.
func Compute(g *depgraph.Graph, entries []depgraph.NodeID, changed []paths.ModuleID, strategy Strategy) []depgraph.NodeID {
	marks := bitset.New(uint(g.Len()))
	for _, id := range changed {
		if n, ok := g.Lookup(id); ok {
			marks.Set(uint(n))
		}
	}
	if marks.None() {
		return nil
	}

	if strategy == Forward {
		return forward(g, entries, marks)
	}
	return reverse(g, entries, marks)
}

// reverse extends marks to every module that transitively imports a changed
// module. An entry is affected iff it ends up marked.
func reverse(g *depgraph.Graph, entries []depgraph.NodeID, marks *bitset.BitSet) []depgraph.NodeID {
	queue := make([]depgraph.NodeID, 0, marks.Count())
	for i, ok := marks.NextSet(0); ok; i, ok = marks.NextSet(i + 1) {
		queue = append(queue, depgraph.NodeID(i))
	}
	for i := 0; i < len(queue); i++ {
		for _, p := range g.Predecessors(queue[i]) {
			if !marks.Test(uint(p)) {
				marks.Set(uint(p))
				queue = append(queue, p)
			}
		}
	}

	var out []depgraph.NodeID
	for _, e := range entries {
		if marks.Test(uint(e)) {
			out = append(out, e)
		}
	}
	return out
}

func forward(g *depgraph.Graph, entries []depgraph.NodeID, changed *bitset.BitSet) []depgraph.NodeID {
	var out []depgraph.NodeID
	for _, e := range entries {
		for _, n := range g.Closure(e) {
			if changed.Test(uint(n)) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
