package optimize

import (
	"context"
	"time"

	"github.com/latticeci/lattice/internal/index"
	"github.com/latticeci/lattice/pkg/schema"
)

// indexSearchStrategy replaces a task with a previously indexed one whose
// artifacts outlive the deadline. The strategy argument is the route (or an
// ordered list of routes) to look up; the first live hit wins.
type indexSearchStrategy struct {
	store index.Store
}

// NewIndexSearch builds the index-search strategy around a store. Register
// it under "index-search" on the run's registry.
func NewIndexSearch(store index.Store) Strategy {
	return &indexSearchStrategy{store: store}
}

func (s *indexSearchStrategy) ShouldRemoveTask(context.Context, *schema.Task, schema.Parameters, any) (bool, error) {
	return false, nil
}

func (s *indexSearchStrategy) ShouldReplaceTask(ctx context.Context, task *schema.Task, _ schema.Parameters, deadline time.Time, arg any) (Replacement, error) {
	routes, err := Routes(arg)
	if err != nil {
		return Replacement{}, err
	}
	for _, route := range routes {
		entry, err := s.store.Lookup(ctx, route)
		if err != nil {
			if index.IsNotFound(err) {
				continue
			}
			return Replacement{}, err
		}
		// A hit whose artifacts expire before the deadline is as good as a
		// miss: the dependent tasks would outlive the cached result.
		if entry.ExpiresAt.Before(deadline) {
			continue
		}
		return Replacement{TaskID: entry.TaskID}, nil
	}
	return Replacement{}, nil
}

// Routes normalizes an index-search strategy argument into the ordered
// route list it names. The generator uses the same routes when it indexes
// freshly created tasks, so lookups and writes agree on the namespace.
func Routes(arg any) ([]string, error) {
	switch v := arg.(type) {
	case string:
		if v == "" {
			return nil, schema.NewError(schema.ErrCodeStrategy, "index-search needs a route")
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		routes := make([]string, 0, len(v))
		for _, item := range v {
			route, ok := item.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeStrategy,
					"index-search route must be a string, got %T", item)
			}
			routes = append(routes, route)
		}
		return routes, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeStrategy,
			"index-search argument must be a route or list of routes, got %T", arg)
	}
}
