package optimize

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/internal/logging"
	"github.com/latticeci/lattice/pkg/schema"
)

// Inputs carries everything one optimization run needs.
type Inputs struct {
	// Target is the target task graph to prune.
	Target *graph.TaskGraph

	// Requested labels were explicitly asked for and are never removed
	// (they may still be replaced by an existing result).
	Requested []string

	Parameters schema.Parameters

	// DoNotOptimize labels are never removed nor replaced, regardless of
	// strategy.
	DoNotOptimize []string

	// DecisionID identifies the decision context this run belongs to.
	DecisionID string

	// ExistingIDs holds identifiers assigned to labels by earlier runs;
	// surviving labels reuse their identifier instead of minting a new one.
	ExistingIDs map[string]string

	// ExistingTasks hints that a label already has a usable task from a
	// previous graph; such labels are replaced directly without consulting
	// their strategy.
	ExistingTasks map[string]string

	// Deadline is the time by which replacement artifacts must still be
	// alive. Zero means 24 hours from now.
	Deadline time.Time

	Registry *Registry
	Logger   *slog.Logger
}

// Result is an optimized task graph plus the identifier map covering every
// label that survived or was replaced.
type Result struct {
	Graph *graph.TaskGraph

	// IDs maps each surviving label to its (fresh or reused) identifier and
	// each replaced label to the identifier that stands in for it.
	IDs map[string]string

	Removed  []string
	Replaced []string
}

// Optimize prunes the target graph in three passes: removal (preorder, so
// dependents are decided before the tasks they lean on), replacement
// (postorder, so a task is only replaced once all its inputs were), and
// subgraph extraction with identifier assignment.
func Optimize(ctx context.Context, in Inputs) (*Result, error) {
	if in.Logger == nil {
		in.Logger = slog.Default()
	}
	if in.Deadline.IsZero() {
		in.Deadline = time.Now().UTC().Add(24 * time.Hour)
	}
	ctx = logging.WithRunID(ctx, in.DecisionID)

	pinned := make(map[string]bool, len(in.DoNotOptimize))
	for _, label := range in.DoNotOptimize {
		pinned[label] = true
	}
	requested := make(map[string]bool, len(in.Requested))
	for _, label := range in.Requested {
		requested[label] = true
	}

	removed, err := removalPass(ctx, in, pinned, requested)
	if err != nil {
		return nil, err
	}

	replaced, replaceRemoved, err := replacementPass(ctx, in, pinned, removed)
	if err != nil {
		return nil, err
	}
	for label := range replaceRemoved {
		removed[label] = true
	}

	return extractSubgraph(in, removed, replaced)
}

// removalPass visits the graph in preorder and marks removable labels.
//
// Two rules mark a label removed, both only once every dependent is
// already removed (a kept or requested task blocks removal of everything
// it depends on):
//  1. its strategy agrees;
//  2. it declares if-dependencies and all of them are removable on their
//     own merits — the task has nothing left to react to, so it goes even
//     when its own strategy says never.
func removalPass(ctx context.Context, in Inputs, pinned, requested map[string]bool) (map[string]bool, error) {
	order, err := in.Target.Graph.VisitPreorder()
	if err != nil {
		return nil, err
	}

	dependents := in.Target.Graph.ReverseLinks()
	removed := make(map[string]bool, len(order))

	// ownMerit memoizes per-label strategy verdicts so the if-dependency
	// rule never re-runs a strategy.
	merits := make(map[string]bool, len(order))
	ownMerit := func(label string) (bool, error) {
		if verdict, ok := merits[label]; ok {
			return verdict, nil
		}
		verdict := false
		if !pinned[label] && !requested[label] {
			var err error
			verdict, err = shouldRemove(ctx, in, in.Target.Tasks[label])
			if err != nil {
				return false, err
			}
		}
		merits[label] = verdict
		return verdict, nil
	}

	for _, label := range order {
		if pinned[label] || requested[label] {
			continue
		}
		task := in.Target.Tasks[label]

		// A surviving dependent blocks both rules: removing this label
		// would strand the dependent.
		blocked := false
		for _, dep := range dependents[label] {
			if !removed[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		verdict, err := ownMerit(label)
		if err != nil {
			return nil, err
		}
		if verdict {
			removed[label] = true
			continue
		}

		if len(task.IfDependencies) > 0 {
			gone := true
			for _, ifDep := range task.IfDependencies {
				verdict, err := ownMerit(ifDep)
				if err != nil {
					return nil, err
				}
				if !verdict {
					gone = false
					break
				}
			}
			if gone {
				removed[label] = true
			}
		}
	}
	return removed, nil
}

// replacementPass visits survivors in postorder. A label is replaced only
// when every dependency was itself replaced; the existing-tasks hint map
// short-circuits the strategy.
func replacementPass(ctx context.Context, in Inputs, pinned, removed map[string]bool) (map[string]string, map[string]bool, error) {
	order, err := in.Target.Graph.VisitPostorder()
	if err != nil {
		return nil, nil, err
	}

	links := in.Target.Graph.Links()
	dependents := in.Target.Graph.ReverseLinks()
	replaced := make(map[string]string)
	replaceRemoved := make(map[string]bool)

	for _, label := range order {
		if removed[label] || pinned[label] {
			continue
		}

		eligible := true
		for _, dep := range links[label] {
			if _, ok := replaced[dep]; !ok {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}

		if id, ok := in.ExistingTasks[label]; ok {
			replaced[label] = id
			continue
		}

		task := in.Target.Tasks[label]
		if task.Optimization == nil {
			continue
		}
		strategy, err := in.Registry.Get(task.Optimization.Strategy)
		if err != nil {
			return nil, nil, err
		}
		rep, err := strategy.ShouldReplaceTask(ctx, task, in.Parameters, in.Deadline, task.Optimization.Arg)
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeStrategy,
				"strategy %q failed", task.Optimization.Strategy).WithLabel(label).WithCause(err)
		}
		switch {
		case rep.Remove:
			// Replacing with nothing strands any surviving dependent, so
			// the verdict only takes effect when every dependent was
			// already removed.
			kept := false
			for _, dep := range dependents[label] {
				if !removed[dep] {
					kept = true
					break
				}
			}
			if !kept {
				replaceRemoved[label] = true
			}
		case rep.TaskID != "":
			replaced[label] = rep.TaskID
		}
	}
	return replaced, replaceRemoved, nil
}

// extractSubgraph builds the final graph of surviving, non-replaced labels,
// assigns identifiers, and rewrites dependencies on replaced labels to the
// replacement's real identifier. A surviving task that still depends on a
// removed label indicates a bug in the passes above and is fatal.
func extractSubgraph(in Inputs, removed map[string]bool, replaced map[string]string) (*Result, error) {
	ids := make(map[string]string, len(in.Target.Tasks))
	for label, id := range replaced {
		ids[label] = id
	}

	tasks := make(map[string]*schema.Task)
	for _, label := range in.Target.Graph.Nodes() {
		if removed[label] {
			continue
		}
		if _, ok := replaced[label]; ok {
			continue
		}

		id, ok := in.ExistingIDs[label]
		if !ok {
			id = uuid.New().String()
		}
		ids[label] = id

		task := in.Target.Tasks[label].Clone()
		task.TaskID = id
		for name, dep := range task.Dependencies {
			if removed[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeInvariant,
					"surviving task depends on removed task %q (edge %q)", dep, name).WithLabel(label)
			}
			if repID, ok := replaced[dep]; ok {
				task.Dependencies[name] = repID
			}
		}
		tasks[label] = task
	}

	// Rebuild edges between survivors only: edges into replaced labels were
	// rewritten to identifiers above and leave the graph.
	var edges []graph.Edge
	for _, e := range in.Target.Graph.Edges() {
		if _, fromOK := tasks[e.From]; !fromOK {
			continue
		}
		if _, toOK := tasks[e.To]; !toOK {
			continue
		}
		edges = append(edges, e)
	}
	nodes := make([]string, 0, len(tasks))
	for label := range tasks {
		nodes = append(nodes, label)
	}
	g, err := graph.New(nodes, edges)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Graph: &graph.TaskGraph{Graph: g, Tasks: tasks},
		IDs:   ids,
	}
	for label := range removed {
		result.Removed = append(result.Removed, label)
	}
	for label := range replaced {
		result.Replaced = append(result.Replaced, label)
	}
	sort.Strings(result.Removed)
	sort.Strings(result.Replaced)

	in.Logger.Info("optimization finished",
		slog.Int("kept", len(tasks)),
		slog.Int("removed", len(result.Removed)),
		slog.Int("replaced", len(result.Replaced)),
	)
	return result, nil
}

// shouldRemove consults the task's bound strategy. Tasks without an
// optimization descriptor are never removed on their own merits.
func shouldRemove(ctx context.Context, in Inputs, task *schema.Task) (bool, error) {
	if task.Optimization == nil {
		return false, nil
	}
	strategy, err := in.Registry.Get(task.Optimization.Strategy)
	if err != nil {
		return false, err
	}
	verdict, err := strategy.ShouldRemoveTask(ctx, task, in.Parameters, task.Optimization.Arg)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStrategy,
			"strategy %q failed", task.Optimization.Strategy).WithLabel(task.Label).WithCause(err)
	}
	return verdict, nil
}
