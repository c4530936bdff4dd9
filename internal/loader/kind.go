package loader

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/internal/validation"
	"github.com/latticeci/lattice/pkg/schema"
)

// DockerImageKind is implicitly required whenever generation is restricted
// to specific target kinds: almost every task ultimately runs in an image
// built by it.
const DockerImageKind = "docker-image"

// KindConfigFile is the per-kind configuration file name.
const KindConfigFile = "kind.yml"

// KindConfig is the declarative configuration of one kind directory.
type KindConfig struct {
	Loader           string   `yaml:"loader"`
	KindDependencies []string `yaml:"kind_dependencies,omitempty"`

	// RebuildSchedule is a cron expression bounding how long artifacts of
	// this kind stay fresh in the task index: a previously created task is
	// only reusable until the next scheduled rebuild.
	RebuildSchedule string `yaml:"rebuild_schedule,omitempty"`

	// AlwaysTarget includes every task of this kind in the target graph
	// regardless of filter output.
	AlwaysTarget bool `yaml:"always_target,omitempty"`

	// Config is the loader-specific configuration block, opaque to the core.
	Config map[string]any `yaml:"config,omitempty"`
}

// Kind is a named grouping of task declarations sharing one loader and
// configuration.
type Kind struct {
	Name   string
	Path   string
	Config *KindConfig
}

// DiscoverKinds scans the kinds directory for subdirectories carrying a
// kind.yml, validating each config against the kind schema.
func DiscoverKinds(dir string, validator *validation.KindValidator) (map[string]*Kind, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read kinds directory %s", dir).WithCause(err)
	}

	kinds := make(map[string]*Kind)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cfgPath := filepath.Join(path, KindConfigFile)
		data, err := os.ReadFile(cfgPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "read %s", cfgPath).WithCause(err)
		}

		// Decode twice: once generically for schema validation, once into
		// the typed config.
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse %s", cfgPath).WithCause(err)
		}
		if err := validator.ValidateKindConfig(entry.Name(), doc); err != nil {
			return nil, err
		}

		cfg := &KindConfig{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse %s", cfgPath).WithCause(err)
		}
		kinds[entry.Name()] = &Kind{Name: entry.Name(), Path: path, Config: cfg}
	}
	return kinds, nil
}

// KindGraph links kinds by their declared kind dependencies. A dependency
// on an undiscovered kind is a configuration error.
func KindGraph(kinds map[string]*Kind) (*graph.Graph, error) {
	nodes := make([]string, 0, len(kinds))
	for name := range kinds {
		nodes = append(nodes, name)
	}

	var edges []graph.Edge
	for name, kind := range kinds {
		for _, dep := range kind.Config.KindDependencies {
			if _, ok := kinds[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeKindNotFound,
					"kind %q depends on unknown kind %q", name, dep)
			}
			edges = append(edges, graph.Edge{From: name, To: dep, Name: dep})
		}
	}
	return graph.New(nodes, edges)
}

// SelectKinds restricts the discovered kinds to the transitive closure of
// the target kinds over the kind graph, plus the implicit docker-image kind
// when present. An empty target set selects everything. An unknown target
// kind is fatal.
func SelectKinds(kinds map[string]*Kind, kindGraph *graph.Graph, targets []string) (map[string]*Kind, *graph.Graph, error) {
	if len(targets) == 0 {
		return kinds, kindGraph, nil
	}

	seeds := make([]string, 0, len(targets)+1)
	for _, t := range targets {
		if _, ok := kinds[t]; !ok {
			return nil, nil, schema.NewErrorf(schema.ErrCodeKindNotFound, "kind %q not found", t)
		}
		seeds = append(seeds, t)
	}
	if _, ok := kinds[DockerImageKind]; ok {
		seeds = append(seeds, DockerImageKind)
	}
	sort.Strings(seeds)

	closed, err := kindGraph.TransitiveClosure(seeds, false)
	if err != nil {
		return nil, nil, err
	}

	selected := make(map[string]*Kind, closed.Len())
	for _, name := range closed.Nodes() {
		selected[name] = kinds[name]
	}
	return selected, closed, nil
}
