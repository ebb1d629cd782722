// Package depgraph builds the importer -> imported graph reachable from a set
// of entry files.
package depgraph

import (
	"github.com/bits-and-blooms/bitset"

	"affected/internal/paths"
	"affected/internal/scanner"
)

// NodeID indexes a module in the graph arena.
type NodeID uint32

// Edge is an importer -> imported pair.
type Edge struct {
	From NodeID
	To   NodeID
}

// Import is one distinct specifier of a scanned module and where it went.
type Import struct {
	Specifier string             `json:"specifier"`
	Line      int                `json:"line"`
	Kind      scanner.ImportKind `json:"kind"`
	// Outcome is "file", "builtin", "ignored" or "unresolved".
	Outcome string `json:"outcome"`
	Target  NodeID `json:"-"`
	// Resolved is the target's path when Outcome is "file".
	Resolved paths.ModuleID `json:"resolved,omitempty"`
}

// Graph is an arena of modules with edges stored as index pairs. It is built
// for one computation and read-only afterwards.
type Graph struct {
	ids     []paths.ModuleID
	index   map[paths.ModuleID]NodeID
	edges   []Edge
	edgeSet map[Edge]struct{}
	out     [][]NodeID
	in      [][]NodeID
	entries []NodeID
	scanned *bitset.BitSet
	modDir  *bitset.BitSet
	imports map[NodeID][]Import
	errors  []ResolutionError
}

func newGraph() *Graph {
	return &Graph{
		index:   make(map[paths.ModuleID]NodeID),
		edgeSet: make(map[Edge]struct{}),
		scanned: bitset.New(0),
		modDir:  bitset.New(0),
		imports: make(map[NodeID][]Import),
	}
}

// add returns the node for id, creating it if needed.
func (g *Graph) add(id paths.ModuleID) (NodeID, bool) {
	if n, ok := g.index[id]; ok {
		return n, false
	}
	n := NodeID(len(g.ids))
	g.ids = append(g.ids, id)
	g.index[id] = n
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return n, true
}

func (g *Graph) addEdge(from, to NodeID) {
	e := Edge{From: from, To: to}
	if _, ok := g.edgeSet[e]; ok {
		return
	}
	g.edgeSet[e] = struct{}{}
	g.edges = append(g.edges, e)
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.ids)
}

// ID returns the module path of n.
func (g *Graph) ID(n NodeID) paths.ModuleID {
	return g.ids[n]
}

// Lookup finds the node for a module path.
func (g *Graph) Lookup(id paths.ModuleID) (NodeID, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Successors returns the modules n imports, in first-import order.
func (g *Graph) Successors(n NodeID) []NodeID {
	return g.out[n]
}

// Predecessors returns the modules importing n.
func (g *Graph) Predecessors(n NodeID) []NodeID {
	return g.in[n]
}

// Edges returns all edges in discovery order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Entries returns the entry nodes in the order they were given, without duplicates.
func (g *Graph) Entries() []NodeID {
	return g.entries
}

// Scanned reports whether n's imports were followed.
func (g *Graph) Scanned(n NodeID) bool {
	return g.scanned.Test(uint(n))
}

// InModuleDir reports whether n lives under a module directory.
func (g *Graph) InModuleDir(n NodeID) bool {
	return g.modDir.Test(uint(n))
}

// Imports returns the distinct specifiers of n with their outcomes.
func (g *Graph) Imports(n NodeID) []Import {
	return g.imports[n]
}

// Errors returns every resolution error in traversal order.
func (g *Graph) Errors() []ResolutionError {
	return g.errors
}

// Closure returns every node reachable from n, n included, in BFS order.
func (g *Graph) Closure(n NodeID) []NodeID {
	seen := bitset.New(uint(g.Len()))
	seen.Set(uint(n))
	queue := []NodeID{n}
	for i := 0; i < len(queue); i++ {
		for _, s := range g.out[queue[i]] {
			if !seen.Test(uint(s)) {
				seen.Set(uint(s))
				queue = append(queue, s)
			}
		}
	}
	return queue
}
