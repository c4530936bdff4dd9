package loader

import (
	"context"
	"log/slog"

	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/internal/logging"
	"github.com/latticeci/lattice/internal/validation"
	"github.com/latticeci/lattice/internal/worker"
	"github.com/latticeci/lattice/pkg/schema"
)

// Options configures a full task-set load.
type Options struct {
	Kinds      map[string]*Kind
	KindGraph  *graph.Graph
	Registry   *Registry
	Validator  *validation.KindValidator
	Parameters schema.Parameters
	Logger     *slog.Logger

	// Workers above 1 enables the wavefront scheduler: kinds with no unmet
	// kind-dependencies run concurrently, dependents are dispatched as
	// their inputs complete.
	Workers int
}

// LoadTasks runs every kind's loader in kind-dependency order and merges
// the results into the full task set. A duplicate label anywhere is fatal.
func LoadTasks(ctx context.Context, opts Options) (map[string]*schema.Task, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers > 1 {
		return loadParallel(ctx, opts)
	}
	return loadSerial(ctx, opts)
}

// loadSerial loads kinds strictly in postorder: every kind after all kinds
// it depends on.
func loadSerial(ctx context.Context, opts Options) (map[string]*schema.Task, error) {
	order, err := opts.KindGraph.VisitPostorder()
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]*schema.Task)
	byKind := make(map[string][]*schema.Task, len(opts.Kinds))
	for _, name := range order {
		kind := opts.Kinds[name]
		decls, err := loadKind(ctx, opts, kind, dependencySnapshot(kind, byKind))
		if err != nil {
			return nil, err
		}
		loaded, err := mergeDeclarations(tasks, kind, decls)
		if err != nil {
			return nil, err
		}
		byKind[name] = loaded
	}
	return tasks, nil
}

// kindResult is one kind loader's outcome, delivered over the wavefront
// results channel.
type kindResult struct {
	kind  string
	decls []schema.Declaration
	err   error
}

// loadParallel is the wavefront scheduler: kinds whose kind-dependencies
// have all completed are dispatched into a bounded pool; each completion
// may unblock further kinds. The first failure cancels all in-flight and
// queued work — there is no partial-success mode.
func loadParallel(ctx context.Context, opts Options) (map[string]*schema.Task, error) {
	// Cycles surface the same way as in serial mode.
	if _, err := opts.KindGraph.VisitPostorder(); err != nil {
		return nil, err
	}

	pool, poolCtx := worker.NewPool(ctx, opts.Workers)
	results := make(chan kindResult, len(opts.Kinds))

	tasks := make(map[string]*schema.Task)
	byKind := make(map[string][]*schema.Task, len(opts.Kinds))

	// Snapshots are taken on the coordinating goroutine at dispatch time:
	// workers only ever see read-only inputs. Every dispatched unit posts
	// exactly one result, no matter how it exits: the coordinator counts
	// on that to terminate.
	dispatch := func(kind *Kind) {
		deps := dependencySnapshot(kind, byKind)
		pool.Go(func(ctx context.Context) error {
			res := kindResult{kind: kind.Name}
			defer func() {
				if r := recover(); r != nil {
					res.err = schema.NewErrorf(schema.ErrCodeConfig,
						"kind %s: loader panic: %v", kind.Name, r)
				}
				results <- res
			}()
			if res.err = ctx.Err(); res.err != nil {
				return res.err
			}
			res.decls, res.err = loadKind(ctx, opts, kind, deps)
			return res.err
		})
	}

	// pending counts unmet kind-dependencies per kind.
	links := opts.KindGraph.Links()
	pending := make(map[string]int, len(opts.Kinds))
	outstanding := 0
	for _, name := range opts.KindGraph.Nodes() {
		pending[name] = len(links[name])
		if pending[name] == 0 {
			dispatch(opts.Kinds[name])
			outstanding++
		}
	}

	dependents := opts.KindGraph.ReverseLinks()
	var firstErr error
	for outstanding > 0 {
		res := <-results
		outstanding--

		if res.err != nil {
			// The pool has already cancelled the siblings; keep draining so
			// in-flight workers can finish posting their results.
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}

		loaded, err := mergeDeclarations(tasks, opts.Kinds[res.kind], res.decls)
		if err != nil {
			firstErr = err
			continue
		}
		byKind[res.kind] = loaded

		for _, dep := range dependents[res.kind] {
			pending[dep]--
			if pending[dep] == 0 {
				dispatch(opts.Kinds[dep])
				outstanding++
			}
		}
	}

	if err := pool.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := poolCtx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "kind loading cancelled").WithCause(err)
	}
	return tasks, nil
}

// loadKind resolves the kind's loader, runs it, and validates every
// declaration it produced.
func loadKind(ctx context.Context, opts Options, kind *Kind, deps map[string]*schema.Task) ([]schema.Declaration, error) {
	ctx = logging.WithKind(ctx, kind.Name)
	l, err := opts.Registry.Get(kind.Config.Loader)
	if err != nil {
		return nil, err
	}

	opts.Logger.InfoContext(ctx, "loading kind", slog.Int("dependency_tasks", len(deps)))
	decls, err := l.Load(ctx, Request{
		Kind:            kind.Name,
		Path:            kind.Path,
		Config:          kind.Config,
		Parameters:      opts.Parameters,
		DependencyTasks: deps,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "kind %s failed to load", kind.Name).WithCause(err)
	}

	if opts.Validator != nil {
		for i := range decls {
			if err := opts.Validator.ValidateDeclaration(&decls[i]); err != nil {
				return nil, err
			}
		}
	}
	opts.Logger.InfoContext(ctx, "kind loaded", slog.Int("tasks", len(decls)))
	return decls, nil
}

// dependencySnapshot collects the loaded tasks of the kind's direct
// kind-dependencies into a fresh map.
func dependencySnapshot(kind *Kind, byKind map[string][]*schema.Task) map[string]*schema.Task {
	snapshot := make(map[string]*schema.Task)
	for _, dep := range kind.Config.KindDependencies {
		for _, task := range byKind[dep] {
			snapshot[task.Label] = task
		}
	}
	return snapshot
}

// mergeDeclarations binds declarations to their kind and merges them into
// the shared task map, failing on any duplicate label.
func mergeDeclarations(tasks map[string]*schema.Task, kind *Kind, decls []schema.Declaration) ([]*schema.Task, error) {
	loaded := make([]*schema.Task, 0, len(decls))
	for _, decl := range decls {
		if existing, ok := tasks[decl.Label]; ok {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateTask,
				"duplicate task: declared by kinds %s and %s", existing.Kind, kind.Name).
				WithLabel(decl.Label)
		}
		task := schema.NewTask(kind.Name, decl)
		tasks[task.Label] = task
		loaded = append(loaded, task)
	}
	return loaded, nil
}
