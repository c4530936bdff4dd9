package generator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/latticeci/lattice/pkg/schema"
)

// GraphChecks returns a Hook enforcing baseline task hygiene: labels without
// whitespace, a non-empty kind, JSON-decodable payloads, and soft
// dependencies pointing at known labels. Issues accumulate per phase and
// surface together on the whole-graph call.
func GraphChecks() Hook {
	result := &schema.ValidationResult{}
	return func(_ context.Context, task *schema.Task, hc *HookContext) error {
		if task == nil {
			err := result.ToError()
			result = &schema.ValidationResult{}
			return err
		}

		if strings.ContainsAny(task.Label, " \t\n") {
			result.AddError(task.Label, schema.ErrCodeValidation, "label contains whitespace")
		}
		if task.Kind == "" {
			result.AddError(task.Label, schema.ErrCodeValidation, "task has no kind")
		}
		if len(task.Payload) > 0 && !json.Valid(task.Payload) {
			result.AddError(task.Label, schema.ErrCodeValidation, "payload is not valid JSON")
		}
		for _, dep := range task.SoftDependencies {
			if !hc.Graph.Graph.HasNode(dep) {
				result.AddWarning(task.Label, schema.ErrCodeMissingDependency,
					"soft dependency "+dep+" is not in the graph")
			}
		}
		return nil
	}
}
