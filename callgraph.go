package setaac

import (
	"golang.org/x/tools/container/intsets"
)

// CallGraph is a directed graph over functions with an edge A->B iff A
// contains a private call to B. Nodes are function ordinals; the graph is
// immutable once built.
type CallGraph struct {
	addrs []string       // ordinal -> function address
	index map[string]int // function address -> ordinal
	edges [][]int        // ordinal -> sorted callee ordinals
}

func newCallGraph(p *Program) *CallGraph {
	g := &CallGraph{
		addrs: append([]string(nil), p.funcAddrs...),
		index: make(map[string]int, len(p.funcAddrs)),
		edges: make([][]int, len(p.funcAddrs)),
	}
	for i, addr := range g.addrs {
		g.index[addr] = i
	}
	for i, addr := range g.addrs {
		for _, callee := range p.functions[addr].Callees() {
			g.edges[i] = append(g.edges[i], g.index[callee])
		}
	}
	return g
}

// Callees returns the addresses of functions called by addr.
func (g *CallGraph) Callees(addr string) []string {
	i, ok := g.index[addr]
	if !ok {
		return nil
	}
	a := make([]string, len(g.edges[i]))
	for j, callee := range g.edges[i] {
		a[j] = g.addrs[callee]
	}
	return a
}

// HasEdge returns true if from calls to.
func (g *CallGraph) HasEdge(from, to string) bool {
	for _, callee := range g.Callees(from) {
		if callee == to {
			return true
		}
	}
	return false
}

// HasPath returns true if some call chain leads from one function to another.
func (g *CallGraph) HasPath(from, to string) bool {
	found := false
	g.WalkSimplePaths(from, to, func([]string) bool {
		found = true
		return false
	})
	return found
}

// SimplePaths returns every simple path from one function to another.
// Each path starts with from and ends with to.
func (g *CallGraph) SimplePaths(from, to string) [][]string {
	var paths [][]string
	g.WalkSimplePaths(from, to, func(path []string) bool {
		paths = append(paths, append([]string(nil), path...))
		return true
	})
	return paths
}

// WalkSimplePaths calls fn for each simple path from one function to another
// in a deterministic order until fn returns false. No node repeats within a
// path so recursive call graphs terminate.
func (g *CallGraph) WalkSimplePaths(from, to string, fn func(path []string) bool) {
	src, ok := g.index[from]
	if !ok {
		return
	}
	dst, ok := g.index[to]
	if !ok || src == dst {
		return
	}

	var visited intsets.Sparse
	path := []string{from}
	visited.Insert(src)

	var walk func(n int) bool
	walk = func(n int) bool {
		for _, next := range g.edges[n] {
			if visited.Has(next) {
				continue
			}
			path = append(path, g.addrs[next])
			if next == dst {
				if !fn(path) {
					return false
				}
			} else {
				visited.Insert(next)
				if !walk(next) {
					return false
				}
				visited.Remove(next)
			}
			path = path[:len(path)-1]
		}
		return true
	}
	walk(src)
}
