// Package graph provides the immutable directed graph underlying every task
// structure in lattice. Nodes are opaque string labels; edges are named,
// directed, and unique per (source, name) pair.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/latticeci/lattice/pkg/schema"
)

// Edge is a named directed edge between two labels. The name is a
// dependency-role identifier chosen by the caller (e.g. "docker-image") and
// is unique per source node.
type Edge struct {
	From string
	To   string
	Name string
}

// Graph is an immutable set of labels plus named directed edges between
// them. All operations return new Graph values; adjacency views are derived
// lazily and cached. Graphs are not verified acyclic at construction:
// traversal operations detect and fail on cycles.
type Graph struct {
	nodes map[string]struct{}
	edges map[Edge]struct{}

	adjOnce sync.Once
	links   map[string][]string          // from → sorted targets
	rlinks  map[string][]string          // to → sorted sources
	named   map[string]map[string]string // from → edge name → to
}

// New builds a graph from the given nodes and edges. It fails if an edge
// references a label outside the node set, or if two edges share a source
// and a name.
func New(nodes []string, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]struct{}, len(nodes)),
		edges: make(map[Edge]struct{}, len(edges)),
	}
	for _, n := range nodes {
		g.nodes[n] = struct{}{}
	}

	names := make(map[string]map[string]bool, len(edges))
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNode, "edge source %q is not a node", e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNode, "edge target %q is not a node", e.To)
		}
		if names[e.From][e.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeInvariant, "node %q has two edges named %q", e.From, e.Name)
		}
		if names[e.From] == nil {
			names[e.From] = make(map[string]bool)
		}
		names[e.From][e.Name] = true
		g.edges[e] = struct{}{}
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// HasNode reports whether the label is a node of the graph.
func (g *Graph) HasNode(label string) bool {
	_, ok := g.nodes[label]
	return ok
}

// Nodes returns all labels in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Edges returns all edges, sorted by (from, name, to).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].To < out[j].To
	})
	return out
}

// buildAdjacency populates the cached adjacency views.
func (g *Graph) buildAdjacency() {
	g.adjOnce.Do(func() {
		g.links = make(map[string][]string, len(g.nodes))
		g.rlinks = make(map[string][]string, len(g.nodes))
		g.named = make(map[string]map[string]string, len(g.nodes))
		for e := range g.edges {
			g.links[e.From] = append(g.links[e.From], e.To)
			g.rlinks[e.To] = append(g.rlinks[e.To], e.From)
			if g.named[e.From] == nil {
				g.named[e.From] = make(map[string]string)
			}
			g.named[e.From][e.Name] = e.To
		}
		for _, targets := range g.links {
			sort.Strings(targets)
		}
		for _, sources := range g.rlinks {
			sort.Strings(sources)
		}
	})
}

// Links returns the forward adjacency view: label → sorted dependency
// labels. The returned map is shared and must not be mutated.
func (g *Graph) Links() map[string][]string {
	g.buildAdjacency()
	return g.links
}

// ReverseLinks returns the backward adjacency view: label → sorted dependent
// labels. The returned map is shared and must not be mutated.
func (g *Graph) ReverseLinks() map[string][]string {
	g.buildAdjacency()
	return g.rlinks
}

// NamedLinks returns the named adjacency view: label → edge name → target
// label. The returned map is shared and must not be mutated.
func (g *Graph) NamedLinks() map[string]map[string]string {
	g.buildAdjacency()
	return g.named
}

// TransitiveClosure returns the subgraph containing the seed labels, every
// label reachable from them by following edges forward (or backward when
// reverse is true), and all edges strictly between included labels.
//
// Reachability is computed by fixed-point iteration over the edge set so
// graphs with tens of thousands of nodes do not grow the stack.
func (g *Graph) TransitiveClosure(seeds []string, reverse bool) (*Graph, error) {
	included := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		if !g.HasNode(s) {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNode, "unknown node %q", s)
		}
		included[s] = struct{}{}
	}

	step := func(from, to string) (string, string) { return from, to }
	if reverse {
		step = func(from, to string) (string, string) { return to, from }
	}

	for {
		grew := false
		for e := range g.edges {
			src, dst := step(e.From, e.To)
			if _, ok := included[src]; !ok {
				continue
			}
			if _, ok := included[dst]; !ok {
				included[dst] = struct{}{}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	sub := &Graph{
		nodes: included,
		edges: make(map[Edge]struct{}, len(g.edges)),
	}
	for e := range g.edges {
		_, fromOK := included[e.From]
		_, toOK := included[e.To]
		if fromOK && toOK {
			sub.edges[e] = struct{}{}
		}
	}
	return sub, nil
}

// VisitPostorder yields every node after all nodes it has an edge to (its
// dependencies). Kahn's algorithm keyed on out-degree; fails with a cycle
// error naming the unresolved nodes if any remain pending after the queue
// drains. Ordering is deterministic: ready nodes are drained in sorted
// order.
func (g *Graph) VisitPostorder() ([]string, error) {
	return g.visit(false)
}

// VisitPreorder is the dual traversal: it yields a node before any node it
// has an edge to, i.e. after all of its dependents. Used by the optimizer to
// decide dependents before the dependencies they lean on.
func (g *Graph) VisitPreorder() ([]string, error) {
	return g.visit(true)
}

func (g *Graph) visit(preorder bool) ([]string, error) {
	g.buildAdjacency()

	// pending counts the edges that must resolve before a node is ready:
	// its dependencies for postorder, its dependents for preorder.
	blocking, unblocks := g.links, g.rlinks
	if preorder {
		blocking, unblocks = g.rlinks, g.links
	}

	pending := make(map[string]int, len(g.nodes))
	queue := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		pending[n] = len(blocking[n])
		if pending[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		ready := make([]string, 0, len(unblocks[node]))
		for _, next := range unblocks[node] {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(g.nodes) {
		stuck := make([]string, 0, len(g.nodes)-len(order))
		for n, p := range pending {
			if p > 0 {
				stuck = append(stuck, n)
			}
		}
		sort.Strings(stuck)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"cycle detected among nodes: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}
