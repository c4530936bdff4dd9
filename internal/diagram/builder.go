package diagram

import (
	"fmt"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// Build flattens a task graph into a Model. Nodes keep the graph's sorted
// label order; edges run in execution direction (dependency before
// dependent); levels group tasks by dependency depth, so every task sits
// one level below the deepest task it depends on.
func Build(tg *graph.TaskGraph, title string) (*Model, error) {
	order, err := tg.Graph.VisitPostorder()
	if err != nil {
		return nil, err
	}

	links := tg.Graph.Links()
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, label := range order {
		d := 0
		for _, dep := range links[label] {
			if depth[dep] >= d {
				d = depth[dep] + 1
			}
		}
		depth[label] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	labels := tg.Graph.Nodes()
	nodes := make([]*Node, 0, len(labels))
	levels := make([][]string, maxDepth+1)
	for _, label := range labels {
		task := tg.Tasks[label]
		nodes = append(nodes, &Node{ID: label, Label: nodeLabel(task), Kind: task.Kind})
		levels[depth[label]] = append(levels[depth[label]], label)
	}

	edges := make([]Edge, 0, len(tg.Graph.Edges()))
	for _, e := range tg.Graph.Edges() {
		edges = append(edges, Edge{From: e.To, To: e.From, Label: e.Name})
	}

	return &Model{Title: title, Nodes: nodes, Edges: edges, Levels: levels}, nil
}

// nodeLabel creates a human-readable label for a task node.
func nodeLabel(task *schema.Task) string {
	if task.Kind != "" {
		return fmt.Sprintf("%s\n(%s)", task.Label, task.Kind)
	}
	return task.Label
}
