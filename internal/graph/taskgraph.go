package graph

import (
	"encoding/json"

	"github.com/latticeci/lattice/pkg/schema"
)

// TaskGraph pairs a Graph with the tasks behind its labels. Every node of
// the graph is a key of Tasks and every edge mirrors a declared dependency.
// A fresh TaskGraph value is produced at each pipeline phase; earlier values
// are kept read-only for diagnostics.
type TaskGraph struct {
	Graph *Graph
	Tasks map[string]*schema.Task
}

// NewTaskSet builds an edgeless TaskGraph over the given tasks: the full
// task set before dependency linking.
func NewTaskSet(tasks map[string]*schema.Task) *TaskGraph {
	nodes := make([]string, 0, len(tasks))
	for label := range tasks {
		nodes = append(nodes, label)
	}
	g, _ := New(nodes, nil) // no edges, cannot fail
	return &TaskGraph{Graph: g, Tasks: tasks}
}

// Link produces a new TaskGraph with an edge for every declared dependency.
// A dependency referencing a label outside the task set is fatal; soft
// dependencies never become edges and never block. If-dependencies must be
// a subset of the task's dependency labels.
func (tg *TaskGraph) Link() (*TaskGraph, error) {
	edges := make([]Edge, 0, len(tg.Tasks))
	for label, task := range tg.Tasks {
		for name, dep := range task.Dependencies {
			if _, ok := tg.Tasks[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeMissingDependency,
					"dependency %q (edge %q) does not exist", dep, name).WithLabel(label)
			}
			edges = append(edges, Edge{From: label, To: dep, Name: name})
		}
		declared := make(map[string]bool, len(task.Dependencies))
		for _, dep := range task.Dependencies {
			declared[dep] = true
		}
		for _, ifDep := range task.IfDependencies {
			if !declared[ifDep] {
				return nil, schema.NewErrorf(schema.ErrCodeConfig,
					"if-dependency %q is not among declared dependencies", ifDep).WithLabel(label)
			}
		}
	}

	g, err := New(tg.Graph.Nodes(), edges)
	if err != nil {
		return nil, err
	}
	return &TaskGraph{Graph: g, Tasks: tg.Tasks}, nil
}

// Subset returns the TaskGraph restricted to the forward transitive closure
// of the seed labels: the seeds, everything they depend on, and all edges
// between included labels. Task values are shared, not copied.
func (tg *TaskGraph) Subset(seeds []string) (*TaskGraph, error) {
	sub, err := tg.Graph.TransitiveClosure(seeds, false)
	if err != nil {
		return nil, err
	}
	tasks := make(map[string]*schema.Task, sub.Len())
	for _, label := range sub.Nodes() {
		tasks[label] = tg.Tasks[label]
	}
	return &TaskGraph{Graph: sub, Tasks: tasks}, nil
}

// MarshalJSON serializes the TaskGraph as its label-keyed task map — the
// interchange form consumed by the decision and task-creation layers. The
// edges are implied by each task's dependency map and rebuilt on load.
func (tg *TaskGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(tg.Tasks)
}

// UnmarshalTaskGraph reconstructs a TaskGraph from its serialized form,
// relinking all dependency edges.
func UnmarshalTaskGraph(data []byte) (*TaskGraph, error) {
	tasks := make(map[string]*schema.Task)
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed task graph document").WithCause(err)
	}
	for label, task := range tasks {
		if task.Label == "" {
			task.Label = label
		} else if task.Label != label {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"task keyed %q declares label %q", label, task.Label)
		}
	}
	return NewTaskSet(tasks).Link()
}
