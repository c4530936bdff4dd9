package filter

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// ExprFilter selects tasks with an expr-lang predicate taken from the
// target_expr parameter. The expression sees label, kind, attributes, and
// parameters as top-level variables. Thread-safe: compiled *vm.Program
// objects are cached and reused.
type ExprFilter struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprFilter creates the expr-backed filter.
func NewExprFilter() *ExprFilter {
	return &ExprFilter{cache: make(map[string]*vm.Program)}
}

func (f *ExprFilter) Name() string { return "expr" }

func (f *ExprFilter) Apply(_ context.Context, tg *graph.TaskGraph, params schema.Parameters, _ *schema.GraphConfig) ([]string, error) {
	expression := params.String(ParamTargetExpr)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeFilter, "expr filter requires the target_expr parameter")
	}

	return selectByPredicate(tg, func(task *schema.Task) (bool, error) {
		env := taskEnv(task, params)
		prg, err := f.getOrCompile(expression, env)
		if err != nil {
			return false, err
		}
		out, err := vm.Run(prg, env)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeFilter,
				"expr evaluation failed for %q: %s", expression, err.Error()).
				WithLabel(task.Label).WithCause(err)
		}
		return asBool(f.Name(), task.Label, out)
	})
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one. The env map is used to infer the environment type.
func (f *ExprFilter) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
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

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"expr compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	f.cache[expression] = prg
	return prg, nil
}

var _ Filter = (*ExprFilter)(nil)
