package filter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// CELFilter selects tasks with a CEL predicate taken from the target_cel
// parameter. The environment exposes four top-level variables:
//   - label:      string
//   - kind:       string
//   - attributes: map(string, dyn)
//   - parameters: map(string, dyn)
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELFilter struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELFilter creates the CEL-backed filter with a sandboxed environment.
func NewCELFilter() (*CELFilter, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("label", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("attributes", mapType),
		cel.Variable("parameters", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELFilter{env: env, cache: make(map[string]cel.Program)}, nil
}

func (f *CELFilter) Name() string { return "cel" }

func (f *CELFilter) Apply(_ context.Context, tg *graph.TaskGraph, params schema.Parameters, _ *schema.GraphConfig) ([]string, error) {
	expression := params.String(ParamTargetCEL)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeFilter, "cel filter requires the target_cel parameter")
	}

	prg, err := f.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	return selectByPredicate(tg, func(task *schema.Task) (bool, error) {
		out, _, err := prg.Eval(taskEnv(task, params))
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeFilter,
				"CEL evaluation failed for %q: %s", expression, err.Error()).
				WithLabel(task.Label).WithCause(err)
		}
		return asBool(f.Name(), task.Label, out.Value())
	})
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one.
func (f *CELFilter) getOrCompile(expression string) (cel.Program, error) {
	f.mu.RLock()
	if prg, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return prg, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if prg, ok := f.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := f.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).WithCause(issues.Err())
	}

	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"CEL program error for %q: %s", expression, err.Error()).WithCause(err)
	}

	f.cache[expression] = prg
	return prg, nil
}

var _ Filter = (*CELFilter)(nil)
