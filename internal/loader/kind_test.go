package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeci/lattice/internal/validation"
	"github.com/latticeci/lattice/pkg/schema"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverKinds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "kind.yml"), `
loader: static
kind_dependencies:
  - docker-image
rebuild_schedule: "0 4 * * *"
`)
	writeFile(t, filepath.Join(dir, "docker-image", "kind.yml"), `
loader: static
always_target: true
`)
	// Directories without a kind.yml are skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))

	v, err := validation.NewKindValidator()
	require.NoError(t, err)

	kinds, err := DiscoverKinds(dir, v)
	require.NoError(t, err)
	require.Len(t, kinds, 2)
	assert.Equal(t, []string{"docker-image"}, kinds["build"].Config.KindDependencies)
	assert.Equal(t, "0 4 * * *", kinds["build"].Config.RebuildSchedule)
	assert.True(t, kinds["docker-image"].Config.AlwaysTarget)
}

func TestDiscoverKindsRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken", "kind.yml"), `
kind_dependencies: [x]
`)

	v, err := validation.NewKindValidator()
	require.NoError(t, err)

	_, err = DiscoverKinds(dir, v)
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeValidation, lerr.Code)
}

func TestStaticLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks.yml"), `
- label: build-linux64
  description: linux64 build
  attributes:
    platform: linux64
  payload:
    command: ["make", "build"]
  dependencies:
    docker-image: docker-image-builder
  optimization:
    strategy: index-search
    arg: linux.build
- label: build-macos64
  attributes:
    platform: macos64
`)

	decls, err := loadStatic(context.Background(), Request{
		Kind:   "build",
		Path:   dir,
		Config: &KindConfig{Loader: "static"},
	})
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "build-linux64", decls[0].Label)
	assert.JSONEq(t, `{"command":["make","build"]}`, string(decls[0].Payload))
	assert.Equal(t, "index-search", decls[0].Optimization.Strategy)
	assert.Nil(t, decls[1].Payload)
}

func TestStaticLoaderMissingFile(t *testing.T) {
	_, err := loadStatic(context.Background(), Request{
		Kind:   "build",
		Path:   t.TempDir(),
		Config: &KindConfig{Loader: "static"},
	})
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeConfig, lerr.Code)
}

func TestLoadGraphConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yml")
	writeFile(t, path, `
project: gecko
requires: ">= 1.2.0"
filters:
  - target-tasks
always_target_kinds:
  - docker-image
`)

	cfg, err := LoadGraphConfig(path, "1.4.0")
	require.NoError(t, err)
	assert.Equal(t, "gecko", cfg.Project)
	assert.Equal(t, []string{"target-tasks"}, cfg.Filters)

	_, err = LoadGraphConfig(path, "1.1.0")
	require.Error(t, err)
	var lerr *schema.LatticeError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, schema.ErrCodeConfig, lerr.Code)
}
