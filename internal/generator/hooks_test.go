package generator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

func TestGraphChecksClean(t *testing.T) {
	tg, err := graph.NewTaskSet(map[string]*schema.Task{
		"a": {Kind: "build", Label: "a", Payload: json.RawMessage(`{"x":1}`)},
	}).Link()
	require.NoError(t, err)

	hook := GraphChecks()
	require.NoError(t, hook(context.Background(), tg.Tasks["a"], &HookContext{Graph: tg}))
	assert.NoError(t, hook(context.Background(), nil, &HookContext{Graph: tg}))
}

func TestGraphChecksRejectsBadTasks(t *testing.T) {
	tg, err := graph.NewTaskSet(map[string]*schema.Task{
		"bad label": {Kind: "", Label: "bad label", Payload: json.RawMessage(`{oops`)},
	}).Link()
	require.NoError(t, err)

	hook := GraphChecks()
	ctx := context.Background()
	require.NoError(t, hook(ctx, tg.Tasks["bad label"], &HookContext{Graph: tg}))

	err = hook(ctx, nil, &HookContext{Graph: tg})
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeValidation, lerr.Code)
	assert.Equal(t, 3, lerr.Details["error_count"])
	assert.Equal(t, []string{"bad label"}, lerr.Details["labels"])

	// The result resets after reporting: a clean pass succeeds.
	assert.NoError(t, hook(ctx, nil, &HookContext{Graph: tg}))
}

func TestGraphChecksSoftDependencyWarning(t *testing.T) {
	tg, err := graph.NewTaskSet(map[string]*schema.Task{
		"a": {Kind: "build", Label: "a", SoftDependencies: []string{"ghost"}},
	}).Link()
	require.NoError(t, err)

	hook := GraphChecks()
	ctx := context.Background()
	require.NoError(t, hook(ctx, tg.Tasks["a"], &HookContext{Graph: tg}))
	// Warnings alone do not fail the graph.
	assert.NoError(t, hook(ctx, nil, &HookContext{Graph: tg}))
}
