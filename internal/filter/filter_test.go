package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

func fixtureGraph(t *testing.T) *graph.TaskGraph {
	t.Helper()
	tasks := map[string]*schema.Task{
		"build-linux64": {Kind: "build", Label: "build-linux64", Attributes: map[string]string{"platform": "linux64", "tier": "1"}},
		"build-macos64": {Kind: "build", Label: "build-macos64", Attributes: map[string]string{"platform": "macos64", "tier": "2"}},
		"test-linux64":  {Kind: "test", Label: "test-linux64", Attributes: map[string]string{"platform": "linux64", "tier": "1"}, Dependencies: map[string]string{"build": "build-linux64"}},
	}
	tg, err := graph.NewTaskSet(tasks).Link()
	require.NoError(t, err)
	return tg
}

func newReg(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestApplyWithoutFiltersSelectsAll(t *testing.T) {
	tg := fixtureGraph(t)
	labels, err := newReg(t).Apply(context.Background(), nil, tg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, tg.Graph.Nodes(), labels)
}

func TestApplyUnknownFilter(t *testing.T) {
	tg := fixtureGraph(t)
	_, err := newReg(t).Apply(context.Background(), []string{"nope"}, tg, nil, nil)
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeFilter, lerr.Code)
}

func TestTargetTasksFilter(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetTasks: []any{"test-linux64"}}

	labels, err := newReg(t).Apply(context.Background(), []string{"target-tasks"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-linux64"}, labels)
}

func TestTargetTasksFilterRejectsUnknownLabel(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetTasks: []any{"ghost"}}

	_, err := newReg(t).Apply(context.Background(), []string{"target-tasks"}, tg, params, nil)
	require.Error(t, err)
}

func TestKindFilter(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetKinds: []any{"build"}}

	labels, err := newReg(t).Apply(context.Background(), []string{"kind"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"build-linux64", "build-macos64"}, labels)
}

func TestExprFilter(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetExpr: `attributes.platform == "linux64"`}

	labels, err := newReg(t).Apply(context.Background(), []string{"expr"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"build-linux64", "test-linux64"}, labels)
}

func TestExprFilterRejectsNonBoolean(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetExpr: `attributes.platform`}

	_, err := newReg(t).Apply(context.Background(), []string{"expr"}, tg, params, nil)
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeFilter, lerr.Code)
}

func TestCELFilter(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetCEL: `kind == "test" && attributes["tier"] == "1"`}

	labels, err := newReg(t).Apply(context.Background(), []string{"cel"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-linux64"}, labels)
}

func TestJQFilter(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{ParamTargetJQ: `.attributes.tier == "1"`}

	labels, err := newReg(t).Apply(context.Background(), []string{"jq"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"build-linux64", "test-linux64"}, labels)
}

func TestFiltersIntersectInOrder(t *testing.T) {
	tg := fixtureGraph(t)
	params := schema.Parameters{
		ParamTargetKinds: []any{"build"},
		ParamTargetExpr:  `attributes.platform == "linux64"`,
	}

	labels, err := newReg(t).Apply(context.Background(), []string{"kind", "expr"}, tg, params, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"build-linux64"}, labels)
}
