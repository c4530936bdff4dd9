// Package generator drives the full pipeline: discover kinds, load the
// complete task set, link it into a graph, pick targets, optimize, and
// morph. Each phase is computed at most once per Generator; later phases
// pull earlier ones on demand.
package generator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/latticeci/lattice/internal/filter"
	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/internal/index"
	"github.com/latticeci/lattice/internal/loader"
	"github.com/latticeci/lattice/internal/logging"
	"github.com/latticeci/lattice/internal/optimize"
	"github.com/latticeci/lattice/internal/validation"
	"github.com/latticeci/lattice/pkg/schema"
)

// HookContext carries the shared state handed to validation hooks.
type HookContext struct {
	Graph      *graph.TaskGraph
	Config     *schema.GraphConfig
	Parameters schema.Parameters

	// Scratch persists across hook invocations within one run, letting a
	// hook accumulate state between per-task calls and phases.
	Scratch map[string]any
}

// Hook is a validation hook run after each graph-producing phase. It is
// called once per task and then once with a nil task for whole-graph
// checks. Any error aborts generation.
type Hook func(ctx context.Context, task *schema.Task, hc *HookContext) error

// Morph rewrites the optimized graph as a final step, e.g. to fold in
// platform-specific payload tweaks. Morphs run in order; each receives the
// previous one's output.
type Morph func(ctx context.Context, tg *graph.TaskGraph, params schema.Parameters) (*graph.TaskGraph, error)

// Options configures one generation run. Zero-value collaborators get
// sensible defaults; Root is required.
type Options struct {
	// Root is the directory holding the graph config and one subdirectory
	// per kind.
	Root string

	Parameters schema.Parameters

	// TargetKinds restricts generation to these kinds plus their
	// kind-dependency closure. Empty means all kinds.
	TargetKinds []string

	// DoNotOptimize labels are exempt from removal and replacement.
	DoNotOptimize []string

	Loaders    *loader.Registry
	Filters    *filter.Registry
	Strategies *optimize.Registry
	Validator  *validation.KindValidator

	// Index, when set, backs the index-search strategy and persists the
	// run's label → task identifier map.
	Index index.Store

	Hooks  []Hook
	Morphs []Morph

	// Workers above 1 loads independent kinds concurrently.
	Workers int

	// Version is the generator version checked against the graph config's
	// requires constraint.
	Version string

	// DecisionID names the run; assigned when empty.
	DecisionID string

	// Deadline bounds replacement-artifact staleness; the optimizer
	// defaults it when zero.
	Deadline time.Time

	Logger *slog.Logger
}

// Generator computes the pipeline phases lazily and memoizes every result,
// so asking for the optimized graph also makes the intermediate artifacts
// available without recomputation. Not safe for concurrent use.
type Generator struct {
	opts Options

	graphConfig     *schema.GraphConfig
	parameters      schema.Parameters
	kinds           map[string]*loader.Kind
	kindGraph       *graph.Graph
	fullTaskSet     map[string]*schema.Task
	fullTaskGraph   *graph.TaskGraph
	targetTaskSet   []string
	targetTaskGraph *graph.TaskGraph
	optimized       *optimize.Result
	morphed         *graph.TaskGraph

	scratch map[string]any
	done    map[string]bool
}

// New builds a Generator. Missing collaborators are created with their
// defaults; a nil filter registry gets the built-in filters, a nil strategy
// registry the built-in strategies (plus index-search when an index store
// is given).
func New(opts Options) (*Generator, error) {
	if opts.Root == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "generator needs a root directory")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Loaders == nil {
		opts.Loaders = loader.NewRegistry()
	}
	if opts.Filters == nil {
		reg, err := filter.NewRegistry()
		if err != nil {
			return nil, err
		}
		opts.Filters = reg
	}
	if opts.Strategies == nil {
		opts.Strategies = optimize.NewRegistry()
	}
	if opts.Validator == nil {
		v, err := validation.NewKindValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Index != nil {
		if _, err := opts.Strategies.Get("index-search"); err != nil {
			if err := opts.Strategies.Register("index-search", optimize.NewIndexSearch(opts.Index)); err != nil {
				return nil, err
			}
		}
	}
	if opts.Version == "" {
		opts.Version = "0.0.0"
	}
	if opts.DecisionID == "" {
		opts.DecisionID = uuid.New().String()
	}
	return &Generator{opts: opts, done: make(map[string]bool)}, nil
}

// DecisionID returns the identifier naming this run.
func (g *Generator) DecisionID() string { return g.opts.DecisionID }

// GraphConfig loads and checks the project configuration.
func (g *Generator) GraphConfig(ctx context.Context) (*schema.GraphConfig, error) {
	if g.done["graph_config"] {
		return g.graphConfig, nil
	}
	cfg, err := loader.LoadGraphConfig(filepath.Join(g.opts.Root, loader.GraphConfigFile), g.opts.Version)
	if err != nil {
		return nil, err
	}
	g.graphConfig = cfg
	g.done["graph_config"] = true
	return cfg, nil
}

// Parameters merges the caller's parameters over the config-derived
// defaults. The project name is always present.
func (g *Generator) Parameters(ctx context.Context) (schema.Parameters, error) {
	if g.done["parameters"] {
		return g.parameters, nil
	}
	cfg, err := g.GraphConfig(ctx)
	if err != nil {
		return nil, err
	}

	params := schema.Parameters{"project": cfg.Project}
	if cfg.TrustRoot != "" {
		params["trust_root"] = cfg.TrustRoot
	}
	for k, v := range g.opts.Parameters {
		params[k] = v
	}
	g.parameters = params
	g.done["parameters"] = true
	return params, nil
}

// Kinds discovers the kinds tree and narrows it to the target kinds'
// closure over the kind-dependency graph.
func (g *Generator) Kinds(ctx context.Context) (map[string]*loader.Kind, *graph.Graph, error) {
	if g.done["kinds"] {
		return g.kinds, g.kindGraph, nil
	}
	if _, err := g.GraphConfig(ctx); err != nil {
		return nil, nil, err
	}

	all, err := loader.DiscoverKinds(g.opts.Root, g.opts.Validator)
	if err != nil {
		return nil, nil, err
	}
	kindGraph, err := loader.KindGraph(all)
	if err != nil {
		return nil, nil, err
	}
	kinds, kindGraph, err := loader.SelectKinds(all, kindGraph, g.opts.TargetKinds)
	if err != nil {
		return nil, nil, err
	}

	g.kinds = kinds
	g.kindGraph = kindGraph
	g.done["kinds"] = true
	g.opts.Logger.Info("kinds selected", slog.Int("count", len(kinds)))
	return kinds, kindGraph, nil
}

// FullTaskSet loads every selected kind and merges the declared tasks, with
// project-wide default attributes folded in.
func (g *Generator) FullTaskSet(ctx context.Context) (map[string]*schema.Task, error) {
	if g.done["full_task_set"] {
		return g.fullTaskSet, nil
	}
	cfg, err := g.GraphConfig(ctx)
	if err != nil {
		return nil, err
	}
	params, err := g.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	kinds, kindGraph, err := g.Kinds(ctx)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, g.opts.DecisionID)
	tasks, err := loader.LoadTasks(ctx, loader.Options{
		Kinds:      kinds,
		KindGraph:  kindGraph,
		Registry:   g.opts.Loaders,
		Validator:  g.opts.Validator,
		Parameters: params,
		Logger:     g.opts.Logger,
		Workers:    g.opts.Workers,
	})
	if err != nil {
		return nil, err
	}

	// Project attribute defaults; task values win.
	for _, task := range tasks {
		for k, v := range cfg.Attributes {
			if _, ok := task.Attributes[k]; !ok {
				if task.Attributes == nil {
					task.Attributes = make(map[string]string)
				}
				task.Attributes[k] = v
			}
		}
	}

	g.fullTaskSet = tasks
	g.done["full_task_set"] = true
	return tasks, nil
}

// FullTaskGraph links the full task set into a graph and runs the
// validation hooks over it.
func (g *Generator) FullTaskGraph(ctx context.Context) (*graph.TaskGraph, error) {
	if g.done["full_task_graph"] {
		return g.fullTaskGraph, nil
	}
	tasks, err := g.FullTaskSet(ctx)
	if err != nil {
		return nil, err
	}
	tg, err := graph.NewTaskSet(tasks).Link()
	if err != nil {
		return nil, err
	}
	if err := g.runHooks(ctx, tg); err != nil {
		return nil, err
	}
	g.fullTaskGraph = tg
	g.done["full_task_graph"] = true
	g.opts.Logger.Info("full task graph built", slog.Int("tasks", tg.Graph.Len()))
	return tg, nil
}

// TargetTaskSet applies the configured filters in order and intersects
// their selections.
func (g *Generator) TargetTaskSet(ctx context.Context) ([]string, error) {
	if g.done["target_task_set"] {
		return g.targetTaskSet, nil
	}
	cfg, err := g.GraphConfig(ctx)
	if err != nil {
		return nil, err
	}
	params, err := g.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	full, err := g.FullTaskGraph(ctx)
	if err != nil {
		return nil, err
	}

	targets, err := g.opts.Filters.Apply(ctx, cfg.Filters, full, params, cfg)
	if err != nil {
		return nil, err
	}
	g.targetTaskSet = targets
	g.done["target_task_set"] = true
	g.opts.Logger.Info("targets selected", slog.Int("count", len(targets)))
	return targets, nil
}

// TargetTaskGraph is the forward closure of the target task set plus the
// always-target tasks, over the full graph's edges.
func (g *Generator) TargetTaskGraph(ctx context.Context) (*graph.TaskGraph, error) {
	if g.done["target_task_graph"] {
		return g.targetTaskGraph, nil
	}
	cfg, err := g.GraphConfig(ctx)
	if err != nil {
		return nil, err
	}
	full, err := g.FullTaskGraph(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := g.TargetTaskSet(ctx)
	if err != nil {
		return nil, err
	}

	seeds := make(map[string]struct{}, len(targets))
	for _, label := range targets {
		seeds[label] = struct{}{}
	}
	for _, label := range g.alwaysTargets(cfg, full) {
		seeds[label] = struct{}{}
	}

	seedList := make([]string, 0, len(seeds))
	for label := range seeds {
		seedList = append(seedList, label)
	}
	sort.Strings(seedList)

	tg, err := full.Subset(seedList)
	if err != nil {
		return nil, err
	}
	if err := g.runHooks(ctx, tg); err != nil {
		return nil, err
	}
	g.targetTaskGraph = tg
	g.done["target_task_graph"] = true
	return tg, nil
}

// alwaysTargets collects the labels forced into the target graph: explicit
// config labels that exist, all tasks of always-target kinds, and all tasks
// of kinds whose own config says always_target.
func (g *Generator) alwaysTargets(cfg *schema.GraphConfig, full *graph.TaskGraph) []string {
	alwaysKinds := make(map[string]bool, len(cfg.AlwaysTargetKinds))
	for _, kind := range cfg.AlwaysTargetKinds {
		alwaysKinds[kind] = true
	}
	for name, kind := range g.kinds {
		if kind.Config != nil && kind.Config.AlwaysTarget {
			alwaysKinds[name] = true
		}
	}

	var labels []string
	for _, label := range cfg.AlwaysTarget {
		if full.Graph.HasNode(label) {
			labels = append(labels, label)
		}
	}
	for label, task := range full.Tasks {
		if alwaysKinds[task.Kind] {
			labels = append(labels, label)
		}
	}
	return labels
}

// OptimizedTaskGraph runs the optimization engine over the target graph.
// When an index store is configured, the previous run's identifier map
// seeds ID reuse and the new map is persisted afterwards.
func (g *Generator) OptimizedTaskGraph(ctx context.Context) (*optimize.Result, error) {
	if g.done["optimized"] {
		return g.optimized, nil
	}
	params, err := g.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	target, err := g.TargetTaskGraph(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := g.TargetTaskSet(ctx)
	if err != nil {
		return nil, err
	}

	var existingIDs map[string]string
	if g.opts.Index != nil {
		existingIDs, err = g.opts.Index.LoadIDs(ctx, g.opts.DecisionID)
		if err != nil {
			return nil, err
		}
	}

	// Only requested labels that made it into the target graph count.
	requested := make([]string, 0, len(targets))
	for _, label := range targets {
		if target.Graph.HasNode(label) {
			requested = append(requested, label)
		}
	}

	res, err := optimize.Optimize(ctx, optimize.Inputs{
		Target:        target,
		Requested:     requested,
		Parameters:    params,
		DoNotOptimize: g.opts.DoNotOptimize,
		DecisionID:    g.opts.DecisionID,
		ExistingIDs:   existingIDs,
		Deadline:      g.opts.Deadline,
		Registry:      g.opts.Strategies,
		Logger:        g.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := g.runHooks(ctx, res.Graph); err != nil {
		return nil, err
	}

	if g.opts.Index != nil {
		if err := g.opts.Index.SaveIDs(ctx, g.opts.DecisionID, res.IDs); err != nil {
			return nil, err
		}
		if err := g.recordIndexEntries(ctx, res); err != nil {
			return nil, err
		}
	}

	g.optimized = res
	g.done["optimized"] = true
	return res, nil
}

// recordIndexEntries indexes every surviving task that carries an
// index-search optimization under the routes its strategy argument names,
// so later runs can find its artifacts. The entry expires at the owning
// kind's next scheduled rebuild.
func (g *Generator) recordIndexEntries(ctx context.Context, res *optimize.Result) error {
	now := time.Now().UTC()
	count := 0
	for _, label := range res.Graph.Graph.Nodes() {
		task := res.Graph.Tasks[label]
		if task.Optimization == nil || task.Optimization.Strategy != "index-search" {
			continue
		}
		routes, err := optimize.Routes(task.Optimization.Arg)
		if err != nil {
			return schema.NewError(schema.ErrCodeIndex, "bad index routes").WithLabel(label).WithCause(err)
		}

		schedule := ""
		if kind, ok := g.kinds[task.Kind]; ok {
			schedule = kind.Config.RebuildSchedule
		}
		expires, err := index.ExpiryFromSchedule(schedule, now)
		if err != nil {
			return err
		}

		for _, route := range routes {
			entry := &index.Entry{
				Route:      route,
				TaskID:     task.TaskID,
				Label:      label,
				DecisionID: g.opts.DecisionID,
				ExpiresAt:  expires,
				CreatedAt:  now,
			}
			if err := g.opts.Index.Insert(ctx, entry); err != nil {
				return err
			}
			count++
		}
	}
	if count > 0 {
		g.opts.Logger.InfoContext(ctx, "indexed tasks", slog.Int("entries", count))
	}
	return nil
}

// MorphedTaskGraph applies the configured morphs to the optimized graph.
// With no morphs it is the optimized graph itself.
func (g *Generator) MorphedTaskGraph(ctx context.Context) (*graph.TaskGraph, error) {
	if g.done["morphed"] {
		return g.morphed, nil
	}
	params, err := g.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	res, err := g.OptimizedTaskGraph(ctx)
	if err != nil {
		return nil, err
	}

	tg := res.Graph
	for _, morph := range g.opts.Morphs {
		tg, err = morph(ctx, tg, params)
		if err != nil {
			return nil, err
		}
	}
	if len(g.opts.Morphs) > 0 {
		if err := g.runHooks(ctx, tg); err != nil {
			return nil, err
		}
	}
	g.morphed = tg
	g.done["morphed"] = true
	return tg, nil
}

// TaskIDs returns the identifier map produced by optimization.
func (g *Generator) TaskIDs(ctx context.Context) (map[string]string, error) {
	res, err := g.OptimizedTaskGraph(ctx)
	if err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// runHooks invokes every hook once per task in sorted label order, then
// once with a nil task for whole-graph checks.
func (g *Generator) runHooks(ctx context.Context, tg *graph.TaskGraph) error {
	if len(g.opts.Hooks) == 0 {
		return nil
	}
	if g.scratch == nil {
		g.scratch = make(map[string]any)
	}
	hc := &HookContext{
		Graph:      tg,
		Config:     g.graphConfig,
		Parameters: g.parameters,
		Scratch:    g.scratch,
	}
	labels := tg.Graph.Nodes()
	for _, hook := range g.opts.Hooks {
		for _, label := range labels {
			if err := hook(ctx, tg.Tasks[label], hc); err != nil {
				return err
			}
		}
		if err := hook(ctx, nil, hc); err != nil {
			return err
		}
	}
	return nil
}
