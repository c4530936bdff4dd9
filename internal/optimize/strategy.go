// Package optimize prunes a target task graph: tasks whose results are not
// needed are removed, tasks whose results already exist are replaced with
// the prior task's identifier. The decisions themselves are delegated to
// pluggable strategies; this package owns the traversal order, the
// dependency-safety rules, and the final subgraph extraction.
package optimize

import (
	"context"
	"sync"
	"time"

	"github.com/latticeci/lattice/pkg/schema"
)

// Replacement is a strategy's replace decision. The zero value means "do
// not replace". TaskID substitutes a previously created task; Remove means
// "replace with nothing": drop the task outright.
type Replacement struct {
	TaskID string
	Remove bool
}

// None reports whether the strategy declined to replace.
func (r Replacement) None() bool {
	return r.TaskID == "" && !r.Remove
}

// Strategy decides whether a task's work can be skipped or substituted.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// ShouldRemoveTask reports whether the task can be dropped from the
	// graph, assuming nothing that survives depends on it.
	ShouldRemoveTask(ctx context.Context, task *schema.Task, params schema.Parameters, arg any) (bool, error)

	// ShouldReplaceTask decides whether a previously created task can stand
	// in for this one. A candidate whose artifacts expire before the given
	// deadline must be rejected.
	ShouldReplaceTask(ctx context.Context, task *schema.Task, params schema.Parameters, deadline time.Time, arg any) (Replacement, error)
}

// Registry maps strategy names to implementations. Injected at construction
// time; no process-wide strategy state.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry with the built-in strategies registered:
// always, never, match. Strategies needing collaborators (index-search) are
// registered by the caller.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	_ = r.Register("always", alwaysStrategy{})
	_ = r.Register("never", neverStrategy{})
	_ = r.Register("match", newMatchStrategy())
	return r
}

// Register adds a named strategy. Duplicate names are a configuration
// error.
func (r *Registry) Register(name string, s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConfig, "strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown strategy %q", name)
	}
	return s, nil
}

// All returns a composite strategy that removes only when every named
// strategy agrees, and replaces with the first sub-decision once all agree
// to replace.
func (r *Registry) All(names ...string) (Strategy, error) {
	subs, err := r.resolve(names)
	if err != nil {
		return nil, err
	}
	return allStrategy{subs: subs}, nil
}

// Any returns a composite strategy that removes when any named strategy
// agrees, and replaces with the first sub-decision that is not "none".
func (r *Registry) Any(names ...string) (Strategy, error) {
	subs, err := r.resolve(names)
	if err != nil {
		return nil, err
	}
	return anyStrategy{subs: subs}, nil
}

// Not inverts the named strategy's removal decision. Replacement has no
// meaningful inverse, so a Not strategy never replaces.
func (r *Registry) Not(name string) (Strategy, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return notStrategy{sub: s}, nil
}

func (r *Registry) resolve(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig, "composite strategy needs at least one sub-strategy")
	}
	subs := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// --- composites ---

type allStrategy struct{ subs []Strategy }

func (s allStrategy) ShouldRemoveTask(ctx context.Context, task *schema.Task, params schema.Parameters, arg any) (bool, error) {
	for _, sub := range s.subs {
		ok, err := sub.ShouldRemoveTask(ctx, task, params, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s allStrategy) ShouldReplaceTask(ctx context.Context, task *schema.Task, params schema.Parameters, deadline time.Time, arg any) (Replacement, error) {
	var first Replacement
	for i, sub := range s.subs {
		rep, err := sub.ShouldReplaceTask(ctx, task, params, deadline, arg)
		if err != nil {
			return Replacement{}, err
		}
		if rep.None() {
			return Replacement{}, nil
		}
		if i == 0 {
			first = rep
		}
	}
	return first, nil
}

type anyStrategy struct{ subs []Strategy }

func (s anyStrategy) ShouldRemoveTask(ctx context.Context, task *schema.Task, params schema.Parameters, arg any) (bool, error) {
	for _, sub := range s.subs {
		ok, err := sub.ShouldRemoveTask(ctx, task, params, arg)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s anyStrategy) ShouldReplaceTask(ctx context.Context, task *schema.Task, params schema.Parameters, deadline time.Time, arg any) (Replacement, error) {
	for _, sub := range s.subs {
		rep, err := sub.ShouldReplaceTask(ctx, task, params, deadline, arg)
		if err != nil {
			return Replacement{}, err
		}
		if !rep.None() {
			return rep, nil
		}
	}
	return Replacement{}, nil
}

type notStrategy struct{ sub Strategy }

func (s notStrategy) ShouldRemoveTask(ctx context.Context, task *schema.Task, params schema.Parameters, arg any) (bool, error) {
	ok, err := s.sub.ShouldRemoveTask(ctx, task, params, arg)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s notStrategy) ShouldReplaceTask(ctx context.Context, task *schema.Task, params schema.Parameters, deadline time.Time, arg any) (Replacement, error) {
	return Replacement{}, nil
}

// --- primitives ---

// alwaysStrategy removes unconditionally, never replaces.
type alwaysStrategy struct{}

func (alwaysStrategy) ShouldRemoveTask(context.Context, *schema.Task, schema.Parameters, any) (bool, error) {
	return true, nil
}

func (alwaysStrategy) ShouldReplaceTask(context.Context, *schema.Task, schema.Parameters, time.Time, any) (Replacement, error) {
	return Replacement{}, nil
}

// neverStrategy keeps the task no matter what.
type neverStrategy struct{}

func (neverStrategy) ShouldRemoveTask(context.Context, *schema.Task, schema.Parameters, any) (bool, error) {
	return false, nil
}

func (neverStrategy) ShouldReplaceTask(context.Context, *schema.Task, schema.Parameters, time.Time, any) (Replacement, error) {
	return Replacement{}, nil
}
