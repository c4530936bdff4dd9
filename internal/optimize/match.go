package optimize

import (
	"context"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/latticeci/lattice/pkg/schema"
)

// matchStrategy removes a task when its expr-lang predicate argument
// evaluates to true. The predicate sees label, kind, attributes, and
// parameters as top-level variables, e.g.
//
//	attributes.tier == "3" && parameters.project != "release"
//
// Thread-safe: compiled programs are cached and reused.
type matchStrategy struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newMatchStrategy() *matchStrategy {
	return &matchStrategy{cache: make(map[string]*vm.Program)}
}

func (s *matchStrategy) ShouldRemoveTask(_ context.Context, task *schema.Task, params schema.Parameters, arg any) (bool, error) {
	expression, ok := arg.(string)
	if !ok || expression == "" {
		return false, schema.NewError(schema.ErrCodeStrategy,
			"match strategy requires a string expression argument").WithLabel(task.Label)
	}

	env := matchEnv(task, params)
	prg, err := s.getOrCompile(expression, env)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStrategy,
			"match evaluation failed for %q: %s", expression, err.Error()).
			WithLabel(task.Label).WithCause(err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeStrategy,
			"match expression %q must return a boolean, got %T", expression, out).WithLabel(task.Label)
	}
	return result, nil
}

func (s *matchStrategy) ShouldReplaceTask(context.Context, *schema.Task, schema.Parameters, time.Time, any) (Replacement, error) {
	return Replacement{}, nil
}

func matchEnv(task *schema.Task, params schema.Parameters) map[string]any {
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

func (s *matchStrategy) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	s.mu.RLock()
	if prg, ok := s.cache[expression]; ok {
		s.mu.RUnlock()
		return prg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prg, ok := s.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStrategy,
			"match compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	s.cache[expression] = prg
	return prg, nil
}
