package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/internal/index"
	"github.com/latticeci/lattice/pkg/schema"
)

// writeFixture lays out a kinds tree: build (two tasks, one always
// removable) and test (depends on build-a).
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"graph.yml": `
project: demo
filters: [target-tasks]
attributes:
  trust-domain: demo
`,
		"build/kind.yml": `
loader: static
`,
		"build/tasks.yml": `
- label: build-a
  attributes: {platform: linux64}
  payload: {image: builder}
- label: build-b
  attributes: {platform: macosx64}
  optimization: {strategy: always}
`,
		"test/kind.yml": `
loader: static
kind_dependencies: [build]
`,
		"test/tasks.yml": `
- label: test-a
  dependencies: {build: build-a}
`,
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestGeneratorFullPipeline(t *testing.T) {
	gen, err := New(Options{Root: writeFixture(t)})
	require.NoError(t, err)
	ctx := context.Background()

	cfg, err := gen.GraphConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project)

	params, err := gen.Parameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo", params["project"])

	kinds, _, err := gen.Kinds(ctx)
	require.NoError(t, err)
	assert.Len(t, kinds, 2)

	full, err := gen.FullTaskGraph(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"build-a", "build-b", "test-a"}, full.Graph.Nodes())
	// Project default attributes folded in, task values untouched.
	assert.Equal(t, "demo", full.Tasks["build-a"].Attributes["trust-domain"])
	assert.Equal(t, "linux64", full.Tasks["build-a"].Attributes["platform"])

	res, err := gen.OptimizedTaskGraph(ctx)
	require.NoError(t, err)
	// Without a target_tasks parameter everything is targeted, so even the
	// removable build-b survives.
	assert.Empty(t, res.Removed)

	morphed, err := gen.MorphedTaskGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Graph, morphed)

	ids, err := gen.TaskIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestGeneratorTargetSelection(t *testing.T) {
	gen, err := New(Options{
		Root:       writeFixture(t),
		Parameters: schema.Parameters{"target_tasks": []any{"test-a"}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	targets, err := gen.TargetTaskSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-a"}, targets)

	// The target graph pulls in test-a's dependency closure but not
	// build-b.
	tg, err := gen.TargetTaskGraph(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"build-a", "test-a"}, tg.Graph.Nodes())

	res, err := gen.OptimizedTaskGraph(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
}

func TestGeneratorRequestedOverridesRemoval(t *testing.T) {
	gen, err := New(Options{
		Root:       writeFixture(t),
		Parameters: schema.Parameters{"target_tasks": []any{"build-b"}},
	})
	require.NoError(t, err)

	res, err := gen.OptimizedTaskGraph(context.Background())
	require.NoError(t, err)
	// build-b is requested, so its always-remove strategy is overridden.
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"build-b"}, res.Graph.Graph.Nodes())
}

func TestGeneratorTargetKinds(t *testing.T) {
	gen, err := New(Options{
		Root:        writeFixture(t),
		TargetKinds: []string{"build"},
	})
	require.NoError(t, err)

	kinds, _, err := gen.Kinds(context.Background())
	require.NoError(t, err)
	assert.Len(t, kinds, 1)
	assert.Contains(t, kinds, "build")

	full, err := gen.FullTaskGraph(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"build-a", "build-b"}, full.Graph.Nodes())
}

func TestGeneratorHooks(t *testing.T) {
	var perTask, wholeGraph int
	hook := func(_ context.Context, task *schema.Task, hc *HookContext) error {
		if task == nil {
			wholeGraph++
		} else {
			perTask++
		}
		hc.Scratch["seen"] = true
		return nil
	}

	gen, err := New(Options{Root: writeFixture(t), Hooks: []Hook{hook}})
	require.NoError(t, err)

	_, err = gen.FullTaskGraph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, perTask)
	assert.Equal(t, 1, wholeGraph)
}

func TestGeneratorHookErrorAborts(t *testing.T) {
	boom := schema.NewError(schema.ErrCodeValidation, "payload rejected")
	hook := func(_ context.Context, task *schema.Task, _ *HookContext) error {
		if task != nil && task.Label == "build-b" {
			return boom
		}
		return nil
	}

	gen, err := New(Options{Root: writeFixture(t), Hooks: []Hook{hook}})
	require.NoError(t, err)

	_, err = gen.FullTaskGraph(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestGeneratorMorphs(t *testing.T) {
	morph := func(_ context.Context, tg *graph.TaskGraph, _ schema.Parameters) (*graph.TaskGraph, error) {
		for _, task := range tg.Tasks {
			if task.Attributes == nil {
				task.Attributes = map[string]string{}
			}
			task.Attributes["morphed"] = "yes"
		}
		return tg, nil
	}

	gen, err := New(Options{Root: writeFixture(t), Morphs: []Morph{morph}})
	require.NoError(t, err)

	tg, err := gen.MorphedTaskGraph(context.Background())
	require.NoError(t, err)
	for _, task := range tg.Tasks {
		assert.Equal(t, "yes", task.Attributes["morphed"])
	}
}

func TestGeneratorMemoization(t *testing.T) {
	gen, err := New(Options{Root: writeFixture(t)})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := gen.FullTaskGraph(ctx)
	require.NoError(t, err)
	second, err := gen.FullTaskGraph(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGeneratorParallelMatchesSerial(t *testing.T) {
	root := writeFixture(t)

	serial, err := New(Options{Root: root})
	require.NoError(t, err)
	parallel, err := New(Options{Root: root, Workers: 4})
	require.NoError(t, err)

	ctx := context.Background()
	a, err := serial.FullTaskGraph(ctx)
	require.NoError(t, err)
	b, err := parallel.FullTaskGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.Graph.Nodes(), b.Graph.Nodes())
}

func TestGeneratorVersionRequirement(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "graph.yml"),
		[]byte("project: demo\nrequires: '>= 2.0.0'\n"), 0o644))

	gen, err := New(Options{Root: root, Version: "1.4.0"})
	require.NoError(t, err)
	_, err = gen.GraphConfig(context.Background())
	require.Error(t, err)
}

// fakeStore is an in-memory index.Store for pipeline tests.
type fakeStore struct {
	entries map[string]*index.Entry
	ids     map[string]map[string]string
}

func (f *fakeStore) Insert(_ context.Context, e *index.Entry) error {
	if f.entries == nil {
		f.entries = map[string]*index.Entry{}
	}
	f.entries[e.Route] = e
	return nil
}

func (f *fakeStore) Lookup(_ context.Context, route string) (*index.Entry, error) {
	e, ok := f.entries[route]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeIndex, "route %q not found", route).
			WithDetails(map[string]any{"not_found": true})
	}
	return e, nil
}

func (f *fakeStore) SaveIDs(_ context.Context, decisionID string, ids map[string]string) error {
	if f.ids == nil {
		f.ids = map[string]map[string]string{}
	}
	f.ids[decisionID] = ids
	return nil
}

func (f *fakeStore) LoadIDs(_ context.Context, decisionID string) (map[string]string, error) {
	if ids, ok := f.ids[decisionID]; ok {
		return ids, nil
	}
	return map[string]string{}, nil
}

func (f *fakeStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Close() error                                    { return nil }

func writeIndexedFixture(t *testing.T, kindExtra string) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"graph.yml": `
project: demo
attributes:
  trust-domain: demo
`,
		"build/kind.yml": "loader: static\n" + kindExtra,
		"build/tasks.yml": `
- label: build-a
  optimization: {strategy: index-search, arg: cache.demo.build-a}
`,
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestGeneratorIndexesNewTasks(t *testing.T) {
	store := &fakeStore{}
	gen, err := New(Options{
		Root:  writeIndexedFixture(t, "rebuild_schedule: \"0 3 * * *\"\n"),
		Index: store,
	})
	require.NoError(t, err)

	res, err := gen.OptimizedTaskGraph(context.Background())
	require.NoError(t, err)
	require.True(t, res.Graph.Graph.HasNode("build-a"))

	entry, ok := store.entries["cache.demo.build-a"]
	require.True(t, ok, "surviving index-search task should be indexed")
	assert.Equal(t, res.IDs["build-a"], entry.TaskID)
	assert.Equal(t, "build-a", entry.Label)

	// The daily rebuild bounds how long the entry is trusted.
	now := time.Now().UTC()
	assert.True(t, entry.ExpiresAt.After(now))
	assert.True(t, entry.ExpiresAt.Before(now.Add(25*time.Hour)))
}

func TestGeneratorReplacesFromIndex(t *testing.T) {
	store := &fakeStore{}
	root := writeIndexedFixture(t, "")
	ctx := context.Background()

	first, err := New(Options{Root: root, Index: store})
	require.NoError(t, err)
	firstRes, err := first.OptimizedTaskGraph(ctx)
	require.NoError(t, err)
	cachedID := firstRes.IDs["build-a"]
	require.NotEmpty(t, cachedID)

	second, err := New(Options{Root: root, Index: store})
	require.NoError(t, err)
	secondRes, err := second.OptimizedTaskGraph(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"build-a"}, secondRes.Replaced)
	assert.Equal(t, cachedID, secondRes.IDs["build-a"])
	assert.False(t, secondRes.Graph.Graph.HasNode("build-a"))
}
