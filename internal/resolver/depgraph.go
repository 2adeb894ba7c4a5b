// Package resolver implements the claim resolution and manifest
// compilation pipeline of spec.md §4.3: parse, resolve target version,
// validate inputs, interpolate cross-deployment references, merge
// implicit variables, and emit a resolved plan.
package resolver

import (
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// nodeRef identifies one deployment vertex in the dependency graph by
// its (kind, name) claim reference within a project+region scope.
type nodeRef struct {
	Kind string
	Name string
}

// DepGraph is an arena-indexed directed graph of cross-deployment
// references accumulated during interpolation: nodes are stored in a
// flat slice and referenced by index rather than pointer, so the graph
// never holds an owning pointer into caller-managed deployment data —
// only the small (kind, name) identity needed to detect a cycle.
type DepGraph struct {
	index map[nodeRef]int
	nodes []nodeRef
	edges [][]int // edges[i] = indices of nodes that i depends on
}

// NewDepGraph returns an empty graph.
func NewDepGraph() *DepGraph {
	return &DepGraph{index: map[nodeRef]int{}}
}

func (g *DepGraph) intern(kind, name string) int {
	ref := nodeRef{Kind: kind, Name: name}
	if i, ok := g.index[ref]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, ref)
	g.edges = append(g.edges, nil)
	g.index[ref] = i
	return i
}

// AddEdge records that the deployment being resolved (root) depends on
// (kind, name), returning CyclicDependency if this edge would close a
// cycle back to root.
func (g *DepGraph) AddEdge(rootKind, rootName, depKind, depName string) error {
	root := g.intern(rootKind, rootName)
	dep := g.intern(depKind, depName)
	g.edges[root] = append(g.edges[root], dep)

	if g.reaches(dep, root) {
		return appErr.Newf(appErr.KindCyclicDependency, "dependency cycle: %s::%s -> %s::%s", rootKind, rootName, depKind, depName)
	}
	return nil
}

// reaches reports whether a depth-first walk from `from` can reach `to`.
func (g *DepGraph) reaches(from, to int) bool {
	if from == to {
		return true
	}
	visited := make([]bool, len(g.nodes))
	stack := []int{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		if n == to {
			return true
		}
		stack = append(stack, g.edges[n]...)
	}
	return false
}
