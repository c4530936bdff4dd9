package filter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// JQFilter selects tasks with a jq predicate taken from the target_jq
// parameter, evaluated against each task's serialized form. Thread-safe:
// compiled *gojq.Code objects are cached and reused.
type JQFilter struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQFilter creates the jq-backed filter.
func NewJQFilter() *JQFilter {
	return &JQFilter{cache: make(map[string]*gojq.Code)}
}

func (f *JQFilter) Name() string { return "jq" }

func (f *JQFilter) Apply(ctx context.Context, tg *graph.TaskGraph, params schema.Parameters, _ *schema.GraphConfig) ([]string, error) {
	expression := params.String(ParamTargetJQ)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeFilter, "jq filter requires the target_jq parameter")
	}

	code, err := f.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	return selectByPredicate(tg, func(task *schema.Task) (bool, error) {
		doc, err := taskDocument(task)
		if err != nil {
			return false, err
		}
		iter := code.RunWithContext(ctx, doc)

		val, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if jqErr, isErr := val.(error); isErr {
			return false, schema.NewErrorf(schema.ErrCodeFilter,
				"jq evaluation failed for %q: %s", expression, jqErr.Error()).
				WithLabel(task.Label).WithCause(jqErr)
		}
		return asBool(f.Name(), task.Label, val)
	})
}

// taskDocument round-trips the task through JSON so gojq sees plain maps
// and slices.
func taskDocument(task *schema.Task) (map[string]any, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeFilter, "task is not serializable").WithLabel(task.Label).WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeFilter, "task document round-trip failed").WithLabel(task.Label).WithCause(err)
	}
	return doc, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a
// new one.
func (f *JQFilter) getOrCompile(expression string) (*gojq.Code, error) {
	f.mu.RLock()
	if code, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return code, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if code, ok := f.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"jq parse error in %q: %s", expression, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFilter,
			"jq compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	f.cache[expression] = code
	return code, nil
}

var _ Filter = (*JQFilter)(nil)
