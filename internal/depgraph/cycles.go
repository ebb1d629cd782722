package depgraph

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Cycles returns the strongly connected components that form import cycles:
// components with more than one module, or a module importing itself.
// Members of each cycle are sorted by path and cycles are ordered by their
// first member.
func (g *Graph) Cycles() [][]NodeID {
	n := g.Len()
	const unvisited = -1
	index := make([]int, n)
	low := make([]int, n)
	for i := range index {
		index[i] = unvisited
	}
	onStack := bitset.New(uint(n))
	var stack []NodeID
	var cycles [][]NodeID
	counter := 0

	type frame struct {
		node NodeID
		next int
	}

	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		call := []frame{{node: NodeID(root)}}
		index[root], low[root] = counter, counter
		counter++
		stack = append(stack, NodeID(root))
		onStack.Set(uint(root))

		for len(call) > 0 {
			top := &call[len(call)-1]
			v := top.node
			if top.next < len(g.out[v]) {
				w := g.out[v][top.next]
				top.next++
				switch {
				case index[w] == unvisited:
					index[w], low[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack.Set(uint(w))
					call = append(call, frame{node: w})
				case onStack.Test(uint(w)):
					low[v] = min(low[v], index[w])
				}
				continue
			}

			if low[v] == index[v] {
				var scc []NodeID
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack.Clear(uint(w))
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				if len(scc) > 1 || g.hasSelfLoop(v) {
					cycles = append(cycles, scc)
				}
			}
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].node
				low[parent] = min(low[parent], low[v])
			}
		}
	}

	for _, c := range cycles {
		sort.Slice(c, func(i, j int) bool { return g.ids[c[i]] < g.ids[c[j]] })
	}
	sort.Slice(cycles, func(i, j int) bool { return g.ids[cycles[i][0]] < g.ids[cycles[j][0]] })
	return cycles
}

func (g *Graph) hasSelfLoop(n NodeID) bool {
	for _, s := range g.out[n] {
		if s == n {
			return true
		}
	}
	return false
}

func cycleErrors(g *Graph) []ResolutionError {
	var out []ResolutionError
	for _, c := range g.Cycles() {
		members := make([]string, len(c))
		for i, n := range c {
			members[i] = string(g.ID(n))
		}
		out = append(out, ResolutionError{Kind: CyclicButHandled, Members: members})
	}
	return out
}
