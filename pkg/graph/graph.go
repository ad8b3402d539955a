// Package graph provides the dependency graph used to order flow nodes.
//
// Vertices are node names. An edge from A to B means B must be visited after
// A. Layers groups vertices with no ordering constraint between them; inside
// a layer vertices are sorted by name so that repeated calls on the same
// input always yield the same result.
package graph

import (
	"slices"
)

// Graph is a directed dependency graph keyed by vertex name.
type Graph struct {
	vertices []string
	index    map[string]struct{}
	out      map[string]map[string]struct{}
	in       map[string]map[string]struct{}
}

// New creates a graph containing the given vertices. Duplicate names are
// collapsed.
func New(vertices ...string) *Graph {
	g := &Graph{
		index: make(map[string]struct{}, len(vertices)),
		out:   make(map[string]map[string]struct{}, len(vertices)),
		in:    make(map[string]map[string]struct{}, len(vertices)),
	}

	for _, v := range vertices {
		g.AddVertex(v)
	}

	return g
}

// AddVertex adds a vertex if it is not already present.
func (g *Graph) AddVertex(name string) {
	if _, ok := g.index[name]; ok {
		return
	}

	g.index[name] = struct{}{}
	g.vertices = append(g.vertices, name)
	g.out[name] = make(map[string]struct{})
	g.in[name] = make(map[string]struct{})
}

// HasVertex reports whether name is a vertex of the graph.
func (g *Graph) HasVertex(name string) bool {
	_, ok := g.index[name]

	return ok
}

// AddEdge records that to depends on from. Unknown endpoints are added as
// vertices; the same edge added twice counts once.
func (g *Graph) AddEdge(from, to string) {
	g.AddVertex(from)
	g.AddVertex(to)

	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
}

// Vertices returns the vertices in insertion order.
func (g *Graph) Vertices() []string {
	return slices.Clone(g.vertices)
}

// Predecessors returns the sorted direct predecessors of name.
func (g *Graph) Predecessors(name string) []string {
	return sortedKeys(g.in[name])
}

// Successors returns the sorted direct successors of name.
func (g *Graph) Successors(name string) []string {
	return sortedKeys(g.out[name])
}

// Layers performs a breadth-first topological layering (Kahn's algorithm).
// Layer 0 holds every vertex without predecessors; each following layer holds
// the vertices whose predecessors all appear in earlier layers. Vertices that
// can never be released because they sit on or behind a cycle produce a
// *CycleError.
func (g *Graph) Layers() ([][]string, error) {
	remaining := make(map[string]int, len(g.vertices))
	for _, v := range g.vertices {
		remaining[v] = len(g.in[v])
	}

	var current []string

	for _, v := range g.vertices {
		if remaining[v] == 0 {
			current = append(current, v)
		}
	}

	slices.Sort(current)

	layers := make([][]string, 0)
	visited := 0

	for len(current) > 0 {
		layers = append(layers, current)
		visited += len(current)

		var next []string

		for _, v := range current {
			for succ := range g.out[v] {
				remaining[succ]--
				if remaining[succ] == 0 {
					next = append(next, succ)
				}
			}
		}

		slices.Sort(next)
		current = next
	}

	if visited != len(g.vertices) {
		stuck := make([]string, 0, len(g.vertices)-visited)

		for _, v := range g.vertices {
			if remaining[v] > 0 {
				stuck = append(stuck, v)
			}
		}

		slices.Sort(stuck)

		return nil, &CycleError{
			Remaining: stuck,
			Cycle:     g.findCycle(stuck),
		}
	}

	return layers, nil
}

// Order flattens Layers into a single visiting order.
func (g *Graph) Order() ([]string, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(g.vertices))
	for _, layer := range layers {
		order = append(order, layer...)
	}

	return order, nil
}

// findCycle returns one concrete cycle among the given vertices, closed by
// repeating its first vertex. Vertices and neighbours are visited in name
// order so the reported cycle is stable.
func (g *Graph) findCycle(candidates []string) []string {
	const (
		white = iota
		grey
		black
	)

	allowed := make(map[string]struct{}, len(candidates))
	for _, v := range candidates {
		allowed[v] = struct{}{}
	}

	color := make(map[string]int, len(candidates))
	path := make([]string, 0, len(candidates))

	var visit func(v string) []string

	visit = func(v string) []string {
		color[v] = grey
		path = append(path, v)

		for _, next := range g.Successors(v) {
			if _, ok := allowed[next]; !ok {
				continue
			}

			switch color[next] {
			case grey:
				start := slices.Index(path, next)
				cycle := slices.Clone(path[start:])

				return append(cycle, next)
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		color[v] = black

		return nil
	}

	for _, v := range candidates {
		if color[v] != white {
			continue
		}

		if cycle := visit(v); cycle != nil {
			return cycle
		}
	}

	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
