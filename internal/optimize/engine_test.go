package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

func buildTaskGraph(t *testing.T, tasks map[string]*schema.Task) *graph.TaskGraph {
	t.Helper()
	for label, task := range tasks {
		task.Label = label
		if task.Kind == "" {
			task.Kind = "test"
		}
	}
	tg, err := graph.NewTaskSet(tasks).Link()
	require.NoError(t, err)
	return tg
}

func optimizeWith(t *testing.T, tg *graph.TaskGraph, mutate func(*Inputs)) *Result {
	t.Helper()
	in := Inputs{
		Target:     tg,
		DecisionID: "decision-1",
		Registry:   NewRegistry(),
	}
	if mutate != nil {
		mutate(&in)
	}
	res, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestOptimizeRemovalBlockedByDependent(t *testing.T) {
	// t3 -> t2 -> t1 and t3 -> t1. t1 and t3 want removal, t2 does not.
	// t3 goes (nothing depends on it); t1 stays because surviving t2
	// still leans on it.
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"t1": {Optimization: &schema.Optimization{Strategy: "always"}},
		"t2": {
			Dependencies: map[string]string{"prev": "t1"},
			Optimization: &schema.Optimization{Strategy: "never"},
		},
		"t3": {
			Dependencies: map[string]string{"prev": "t2", "base": "t1"},
			Optimization: &schema.Optimization{Strategy: "always"},
		},
	})

	res := optimizeWith(t, tg, nil)
	assert.Equal(t, []string{"t3"}, res.Removed)
	assert.ElementsMatch(t, []string{"t1", "t2"}, res.Graph.Graph.Nodes())
}

func TestOptimizeRemovalCascade(t *testing.T) {
	// A linear chain where everything wants removal vanishes entirely.
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "always"}},
		"b": {
			Dependencies: map[string]string{"prev": "a"},
			Optimization: &schema.Optimization{Strategy: "always"},
		},
		"c": {
			Dependencies: map[string]string{"prev": "b"},
			Optimization: &schema.Optimization{Strategy: "always"},
		},
	})

	res := optimizeWith(t, tg, nil)
	assert.Equal(t, []string{"a", "b", "c"}, res.Removed)
	assert.Empty(t, res.Graph.Graph.Nodes())
}

func TestOptimizeIfDependenciesRemoval(t *testing.T) {
	// "watch" declares nothing of its own worth keeping once both tasks it
	// reacts to are removable on their own merits, even though its own
	// strategy says never.
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"x": {Optimization: &schema.Optimization{Strategy: "always"}},
		"y": {Optimization: &schema.Optimization{Strategy: "always"}},
		"watch": {
			Dependencies:   map[string]string{"x": "x", "y": "y"},
			IfDependencies: []string{"x", "y"},
			Optimization:   &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, nil)
	assert.Equal(t, []string{"watch", "x", "y"}, res.Removed)
}

func TestOptimizeIfDependenciesOneKept(t *testing.T) {
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"x": {Optimization: &schema.Optimization{Strategy: "always"}},
		"y": {Optimization: &schema.Optimization{Strategy: "never"}},
		"watch": {
			Dependencies:   map[string]string{"x": "x", "y": "y"},
			IfDependencies: []string{"x", "y"},
			Optimization:   &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, nil)
	// watch survives, so x is blocked too.
	assert.Empty(t, res.Removed)
}

func TestOptimizeDoNotOptimize(t *testing.T) {
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "always"}},
	})

	res := optimizeWith(t, tg, func(in *Inputs) {
		in.DoNotOptimize = []string{"a"}
	})
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Replaced)
	assert.Contains(t, res.IDs, "a")
}

func TestOptimizeRequestedBlocksRemovalNotReplacement(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("canned", replacementStrategy{id: "task-123"}))

	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "canned"}},
	})

	res := optimizeWith(t, tg, func(in *Inputs) {
		in.Requested = []string{"a"}
		in.Registry = reg
	})
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"a"}, res.Replaced)
	assert.Equal(t, "task-123", res.IDs["a"])
}

// replacementStrategy never removes and always replaces with a fixed id.
type replacementStrategy struct {
	id     string
	remove bool
}

func (s replacementStrategy) ShouldRemoveTask(context.Context, *schema.Task, schema.Parameters, any) (bool, error) {
	return false, nil
}

func (s replacementStrategy) ShouldReplaceTask(context.Context, *schema.Task, schema.Parameters, time.Time, any) (Replacement, error) {
	if s.remove {
		return Replacement{Remove: true}, nil
	}
	return Replacement{TaskID: s.id}, nil
}

func TestOptimizeReplacementRequiresAllDepsReplaced(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("canned", replacementStrategy{id: "task-abc"}))

	tg := buildTaskGraph(t, map[string]*schema.Task{
		"base": {Optimization: &schema.Optimization{Strategy: "never"}},
		"mid": {
			Dependencies: map[string]string{"base": "base"},
			Optimization: &schema.Optimization{Strategy: "canned"},
		},
	})

	res := optimizeWith(t, tg, func(in *Inputs) { in.Registry = reg })
	// base was not replaced, so mid cannot be.
	assert.Empty(t, res.Replaced)
	assert.ElementsMatch(t, []string{"base", "mid"}, res.Graph.Graph.Nodes())
}

func TestOptimizeReplacementRewritesDependencies(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("canned", replacementStrategy{id: "task-abc"}))

	tg := buildTaskGraph(t, map[string]*schema.Task{
		"base": {Optimization: &schema.Optimization{Strategy: "canned"}},
		"top": {
			Dependencies: map[string]string{"base": "base"},
			Optimization: &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, func(in *Inputs) { in.Registry = reg })
	assert.Equal(t, []string{"base"}, res.Replaced)
	assert.Equal(t, "task-abc", res.IDs["base"])

	top := res.Graph.Tasks["top"]
	require.NotNil(t, top)
	assert.Equal(t, "task-abc", top.Dependencies["base"])
	// Replaced labels leave the graph; only top remains.
	assert.Equal(t, []string{"top"}, res.Graph.Graph.Nodes())
}

func TestOptimizeExistingTasksHint(t *testing.T) {
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "never"}},
		"b": {},
	})

	res := optimizeWith(t, tg, func(in *Inputs) {
		in.ExistingTasks = map[string]string{"a": "prior-id", "b": "prior-b"}
	})
	// Both replaced from the hint map, "b" even without a strategy.
	assert.ElementsMatch(t, []string{"a", "b"}, res.Replaced)
	assert.Equal(t, "prior-id", res.IDs["a"])
	assert.Equal(t, "prior-b", res.IDs["b"])
}

func TestOptimizeReplacementRemoveVerdict(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("drop", replacementStrategy{remove: true}))

	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "drop"}},
	})

	res := optimizeWith(t, tg, func(in *Inputs) { in.Registry = reg })
	assert.Equal(t, []string{"a"}, res.Removed)
	assert.Empty(t, res.Graph.Graph.Nodes())
}

func TestOptimizeIfDependenciesBlockedByDependent(t *testing.T) {
	// "watch" reacts to a removable "x", but surviving "down" depends on
	// "watch": the if-dependency rule must not strand it.
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"x": {Optimization: &schema.Optimization{Strategy: "always"}},
		"watch": {
			Dependencies:   map[string]string{"x": "x"},
			IfDependencies: []string{"x"},
			Optimization:   &schema.Optimization{Strategy: "never"},
		},
		"down": {
			Dependencies: map[string]string{"watch": "watch"},
			Optimization: &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, nil)
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"down", "watch", "x"}, res.Graph.Graph.Nodes())
}

func TestOptimizeReplacementRemoveKeptForSurvivingDependent(t *testing.T) {
	// "b" survives un-replaced, so a's replace-with-nothing verdict would
	// leave it dangling; the verdict is ignored and "a" stays.
	reg := NewRegistry()
	require.NoError(t, reg.Register("drop", replacementStrategy{remove: true}))

	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "drop"}},
		"b": {
			Dependencies: map[string]string{"prev": "a"},
			Optimization: &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, func(in *Inputs) { in.Registry = reg })
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"a", "b"}, res.Graph.Graph.Nodes())
}

func TestOptimizeIdentifierAssignment(t *testing.T) {
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "never"}},
		"b": {
			Dependencies: map[string]string{"prev": "a"},
			Optimization: &schema.Optimization{Strategy: "never"},
		},
	})

	res := optimizeWith(t, tg, func(in *Inputs) {
		in.ExistingIDs = map[string]string{"a": "reused-id"}
	})
	assert.Equal(t, "reused-id", res.IDs["a"])
	assert.Equal(t, "reused-id", res.Graph.Tasks["a"].TaskID)
	assert.NotEmpty(t, res.IDs["b"])
	assert.NotEqual(t, "reused-id", res.IDs["b"])
	// Labels stay labels for surviving dependencies.
	assert.Equal(t, "a", res.Graph.Tasks["b"].Dependencies["prev"])
}

func TestOptimizeUnknownStrategy(t *testing.T) {
	tg := buildTaskGraph(t, map[string]*schema.Task{
		"a": {Optimization: &schema.Optimization{Strategy: "nope"}},
	})

	_, err := Optimize(context.Background(), Inputs{
		Target:   tg,
		Registry: NewRegistry(),
	})
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeConfig, lerr.Code)
}

func TestOptimizeDependencySafety(t *testing.T) {
	// Random DAGs with random strategies, if-dependencies, and replacement
	// verdicts: no surviving task may depend on a removed label, and the
	// result graph must always link cleanly.
	rng := rand.New(rand.NewSource(7))
	strategies := []string{"always", "never", "drop", "hit", ""}

	reg := NewRegistry()
	require.NoError(t, reg.Register("drop", replacementStrategy{remove: true}))
	require.NoError(t, reg.Register("hit", replacementStrategy{id: "real-task-id"}))

	for round := 0; round < 50; round++ {
		n := 3 + rng.Intn(10)
		tasks := make(map[string]*schema.Task, n)
		for i := 0; i < n; i++ {
			label := fmt.Sprintf("t%02d", i)
			task := &schema.Task{Dependencies: map[string]string{}}
			if s := strategies[rng.Intn(len(strategies))]; s != "" {
				task.Optimization = &schema.Optimization{Strategy: s}
			}
			// Edges only point at lower indices, so the graph is acyclic.
			var depLabels []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					dep := fmt.Sprintf("t%02d", j)
					task.Dependencies[dep] = dep
					depLabels = append(depLabels, dep)
				}
			}
			if len(depLabels) > 0 && rng.Intn(4) == 0 {
				task.IfDependencies = depLabels[:1+rng.Intn(len(depLabels))]
			}
			tasks[label] = task
		}

		tg := buildTaskGraph(t, tasks)
		res := optimizeWith(t, tg, func(in *Inputs) { in.Registry = reg })

		removed := make(map[string]bool, len(res.Removed))
		for _, label := range res.Removed {
			removed[label] = true
		}
		for label, task := range res.Graph.Tasks {
			assert.Contains(t, res.IDs, label)
			for _, dep := range task.Dependencies {
				assert.False(t, removed[dep],
					"round %d: %s depends on removed %s", round, label, dep)
			}
		}
	}
}
