// Package dag solves task dependency graphs: topological ordering with
// Kahn's algorithm, cycle detection, and parallelizable level extraction.
// Pure computation, no storage access.
package dag

import (
	"sort"
)

// Node is one vertex in the dependency graph.
type Node struct {
	ID        string   `json:"id"`
	Priority  int      `json:"priority,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// TopoResult is the output of Sort.
type TopoResult struct {
	// Order is a valid execution order respecting every dependency.
	Order []string `json:"order"`
	// Levels groups nodes that can run concurrently; level i+1 only
	// depends on levels <= i.
	Levels [][]string `json:"levels"`
	// Valid is false when a cycle prevents a complete ordering.
	Valid     bool `json:"valid"`
	NodeCount int  `json:"nodeCount"`
}

// CycleResult is the output of DetectCycles.
type CycleResult struct {
	HasCycles  bool     `json:"hasCycles"`
	CycleNodes []string `json:"cycleNodes,omitempty"`
}

type graph struct {
	adj      map[string][]string
	inDegree map[string]int
	byID     map[string]Node
}

func build(nodes []Node) graph {
	g := graph{
		adj:      make(map[string][]string, len(nodes)),
		inDegree: make(map[string]int, len(nodes)),
		byID:     make(map[string]Node, len(nodes)),
	}
	for _, n := range nodes {
		g.byID[n.ID] = n
		if _, ok := g.inDegree[n.ID]; !ok {
			g.inDegree[n.ID] = 0
		}
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			// Edges into unknown nodes are ignored; the dependency is
			// assumed externally satisfied.
			if _, ok := g.byID[dep]; !ok {
				continue
			}
			g.adj[dep] = append(g.adj[dep], n.ID)
			g.inDegree[n.ID]++
		}
	}
	return g
}

// Sort runs Kahn's algorithm. Ties within a level break by priority
// descending, then ID for determinism.
func Sort(nodes []Node) TopoResult {
	g := build(nodes)
	inDeg := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDeg[id] = d
	}

	var frontier []string
	for id, d := range inDeg {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}

	res := TopoResult{NodeCount: len(nodes)}
	for len(frontier) > 0 {
		level := frontier
		frontier = nil
		sort.Slice(level, func(i, j int) bool {
			pi, pj := g.byID[level[i]].Priority, g.byID[level[j]].Priority
			if pi != pj {
				return pi > pj
			}
			return level[i] < level[j]
		})
		for _, id := range level {
			res.Order = append(res.Order, id)
			for _, next := range g.adj[id] {
				inDeg[next]--
				if inDeg[next] == 0 {
					frontier = append(frontier, next)
				}
			}
		}
		res.Levels = append(res.Levels, level)
	}
	res.Valid = len(res.Order) == len(nodes)
	return res
}

// DetectCycles finds nodes participating in cycles via three-color DFS.
func DetectCycles(nodes []Node) CycleResult {
	g := build(nodes)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	inCycle := make(map[string]bool)

	var visit func(id string, stack []string)
	visit = func(id string, stack []string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.adj[id] {
			switch color[next] {
			case white:
				visit(next, stack)
			case gray:
				// Back edge: everything from next to the stack top cycles.
				for i := len(stack) - 1; i >= 0; i-- {
					inCycle[stack[i]] = true
					if stack[i] == next {
						break
					}
				}
			}
		}
		color[id] = black
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			visit(id, nil)
		}
	}

	res := CycleResult{HasCycles: len(inCycle) > 0}
	for id := range inCycle {
		res.CycleNodes = append(res.CycleNodes, id)
	}
	sort.Strings(res.CycleNodes)
	return res
}

// WouldCycle reports whether adding a node with the given dependencies to
// the existing set introduces a cycle. Used to reject bad blockedBy edits.
func WouldCycle(existing []Node, candidate Node) bool {
	return DetectCycles(append(append([]Node{}, existing...), candidate)).HasCycles
}
