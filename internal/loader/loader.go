// Package loader discovers task kinds, sequences them by kind dependency,
// and runs their loaders to produce the full task set. Loaders themselves
// are pluggable: the core hands them their config, the resolved parameters,
// and a read-only snapshot of the tasks their kind depends on.
package loader

import (
	"context"
	"sort"
	"sync"

	"github.com/latticeci/lattice/pkg/schema"
)

// Request is the input handed to a kind loader.
type Request struct {
	Kind       string
	Path       string
	Config     *KindConfig
	Parameters schema.Parameters

	// DependencyTasks is a read-only snapshot of the already-loaded tasks
	// of the kinds this kind depends on, keyed by label. It is built before
	// the loader is dispatched; loaders must not mutate it.
	DependencyTasks map[string]*schema.Task
}

// Loader produces the raw task declarations of one kind.
type Loader interface {
	Load(ctx context.Context, req Request) ([]schema.Declaration, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, req Request) ([]schema.Declaration, error)

func (f LoaderFunc) Load(ctx context.Context, req Request) ([]schema.Declaration, error) {
	return f(ctx, req)
}

// Registry maps loader implementation names to Loaders. It is a plain value
// injected at construction time; there is no process-wide loader state.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry creates a registry with the built-in loaders registered.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	_ = r.Register("static", LoaderFunc(loadStatic))
	return r
}

// Register adds a named loader. Registering a duplicate name is a
// configuration error.
func (r *Registry) Register(name string, l Loader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loaders[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConfig, "loader %q already registered", name)
	}
	r.loaders[name] = l
	return nil
}

// Get returns the loader registered under name.
func (r *Registry) Get(name string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown loader %q", name)
	}
	return l, nil
}

// Names returns the registered loader names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
