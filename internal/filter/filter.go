// Package filter selects the initial target label subset from the full task
// graph. Filters are named, pluggable, and applied in order; each one sees
// the full graph and the running selection is the intersection of their
// outputs. Expression-backed filters come in three flavors: CEL, expr, and
// jq, matching what projects already use elsewhere in their CI stacks.
package filter

import (
	"context"
	"sort"
	"sync"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// Filter selects labels from the full task graph.
type Filter interface {
	Name() string
	Apply(ctx context.Context, tg *graph.TaskGraph, params schema.Parameters, cfg *schema.GraphConfig) ([]string, error)
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc struct {
	FilterName string
	Fn         func(ctx context.Context, tg *graph.TaskGraph, params schema.Parameters, cfg *schema.GraphConfig) ([]string, error)
}

func (f FilterFunc) Name() string { return f.FilterName }

func (f FilterFunc) Apply(ctx context.Context, tg *graph.TaskGraph, params schema.Parameters, cfg *schema.GraphConfig) ([]string, error) {
	return f.Fn(ctx, tg, params, cfg)
}

// Registry maps filter names to implementations. Injected at construction
// time; no process-wide filter state.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewRegistry creates a registry with the built-in filters registered:
// target-tasks, kind, expr, cel, jq.
func NewRegistry() (*Registry, error) {
	r := &Registry{filters: make(map[string]Filter)}

	celFilter, err := NewCELFilter()
	if err != nil {
		return nil, err
	}
	for _, f := range []Filter{
		targetTasksFilter(),
		kindFilter(),
		NewExprFilter(),
		celFilter,
		NewJQFilter(),
	} {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a filter under its name. Duplicate names are a
// configuration error.
func (r *Registry) Register(f Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.filters[f.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeConfig, "filter %q already registered", f.Name())
	}
	r.filters[f.Name()] = f
	return nil
}

// Get returns the filter registered under name.
func (r *Registry) Get(name string) (Filter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeFilter, "unknown filter %q", name)
	}
	return f, nil
}

// Apply runs the named filters in order against the full task graph and
// intersects their selections. With no filters, every label is selected.
func (r *Registry) Apply(ctx context.Context, names []string, tg *graph.TaskGraph, params schema.Parameters, cfg *schema.GraphConfig) ([]string, error) {
	if len(names) == 0 {
		return tg.Graph.Nodes(), nil
	}

	var selected map[string]struct{}
	for _, name := range names {
		f, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		labels, err := f.Apply(ctx, tg, params, cfg)
		if err != nil {
			return nil, err
		}

		next := make(map[string]struct{}, len(labels))
		for _, label := range labels {
			if !tg.Graph.HasNode(label) {
				return nil, schema.NewErrorf(schema.ErrCodeFilter,
					"filter %q selected unknown label %q", name, label)
			}
			if selected == nil {
				next[label] = struct{}{}
				continue
			}
			if _, ok := selected[label]; ok {
				next[label] = struct{}{}
			}
		}
		selected = next
	}

	out := make([]string, 0, len(selected))
	for label := range selected {
		out = append(out, label)
	}
	sort.Strings(out)
	return out, nil
}

// taskEnv builds the expression environment for one task.
func taskEnv(task *schema.Task, params schema.Parameters) map[string]any {
	attrs := make(map[string]any, len(task.Attributes))
	for k, v := range task.Attributes {
		attrs[k] = v
	}
	return map[string]any{
		"label":      task.Label,
		"kind":       task.Kind,
		"attributes": attrs,
		"parameters": map[string]any(params),
	}
}

// asBool interprets an expression result as a selection decision.
func asBool(name, label string, out any) (bool, error) {
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeFilter,
			"filter %q must return a boolean, got %T", name, out).WithLabel(label)
	}
}

// selectByPredicate runs a per-task predicate over every task and returns
// the matching labels, sorted.
func selectByPredicate(tg *graph.TaskGraph, pred func(task *schema.Task) (bool, error)) ([]string, error) {
	var out []string
	for _, label := range tg.Graph.Nodes() {
		ok, err := pred(tg.Tasks[label])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, label)
		}
	}
	return out, nil
}
