package filter

import (
	"context"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

// Parameter keys consumed by the built-in filters.
const (
	ParamTargetTasks = "target_tasks"
	ParamTargetKinds = "target_kinds"
	ParamTargetExpr  = "target_expr"
	ParamTargetCEL   = "target_cel"
	ParamTargetJQ    = "target_jq"
)

// targetTasksFilter selects the labels listed in the target_tasks
// parameter; with the parameter unset it selects everything.
func targetTasksFilter() Filter {
	return FilterFunc{
		FilterName: "target-tasks",
		Fn: func(_ context.Context, tg *graph.TaskGraph, params schema.Parameters, _ *schema.GraphConfig) ([]string, error) {
			requested, ok := params[ParamTargetTasks]
			if !ok {
				return tg.Graph.Nodes(), nil
			}
			labels, err := stringSlice(requested)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeFilter, "target_tasks must be a list of labels").WithCause(err)
			}
			return labels, nil
		},
	}
}

// kindFilter selects every task whose kind is listed in the target_kinds
// parameter; with the parameter unset it selects everything.
func kindFilter() Filter {
	return FilterFunc{
		FilterName: "kind",
		Fn: func(_ context.Context, tg *graph.TaskGraph, params schema.Parameters, _ *schema.GraphConfig) ([]string, error) {
			requested, ok := params[ParamTargetKinds]
			if !ok {
				return tg.Graph.Nodes(), nil
			}
			kindNames, err := stringSlice(requested)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeFilter, "target_kinds must be a list of kinds").WithCause(err)
			}
			wanted := make(map[string]bool, len(kindNames))
			for _, k := range kindNames {
				wanted[k] = true
			}
			return selectByPredicate(tg, func(task *schema.Task) (bool, error) {
				return wanted[task.Kind], nil
			})
		},
	}
}

// stringSlice coerces a parameter value into []string. Parameters decoded
// from YAML/JSON carry []any.
func stringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeFilter, "expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeFilter, "expected list, got %T", v)
	}
}
