package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/latticeci/lattice/internal/generator"
	"github.com/latticeci/lattice/internal/index"
	"github.com/latticeci/lattice/pkg/schema"
)

type generateFlags struct {
	root        string
	paramsFile  string
	targetKinds []string
	targetTasks []string
	noOptimize  []string
	workers     int
	output      string
	decisionID  string
	useIndex    bool
}

func newGenerateCmd(cfg Config) *cobra.Command {
	flags := generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the optimized task graph for a kinds tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.root, "root", ".", "kinds tree root (holds graph.yml)")
	cmd.Flags().StringVar(&flags.paramsFile, "parameters", "", "YAML file of generation parameters")
	cmd.Flags().StringSliceVar(&flags.targetKinds, "target-kind", nil, "restrict generation to these kinds")
	cmd.Flags().StringSliceVar(&flags.targetTasks, "target-task", nil, "select these labels as targets")
	cmd.Flags().StringSliceVar(&flags.noOptimize, "do-not-optimize", nil, "labels exempt from optimization")
	cmd.Flags().IntVar(&flags.workers, "workers", cfg.Workers, "parallel kind loaders (1 = serial)")
	cmd.Flags().StringVar(&flags.output, "output", ".", "directory for the generated artifacts")
	cmd.Flags().StringVar(&flags.decisionID, "decision-id", "", "decision identifier (assigned when empty)")
	cmd.Flags().BoolVar(&flags.useIndex, "index", true, "consult the task index for replacements")
	return cmd
}

func runGenerate(ctx context.Context, cfg Config, flags generateFlags) error {
	params, err := loadParameters(flags.paramsFile)
	if err != nil {
		return err
	}
	if len(flags.targetTasks) > 0 {
		params["target_tasks"] = flags.targetTasks
	}

	opts := generator.Options{
		Root:          flags.root,
		Parameters:    params,
		TargetKinds:   flags.targetKinds,
		DoNotOptimize: flags.noOptimize,
		Workers:       flags.workers,
		Version:       version,
		DecisionID:    flags.decisionID,
		Logger:        slog.Default(),
	}

	if flags.useIndex {
		store, err := openIndex(ctx, cfg.IndexPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Index = store
	}

	gen, err := generator.New(opts)
	if err != nil {
		return err
	}

	tg, err := gen.MorphedTaskGraph(ctx)
	if err != nil {
		return err
	}
	ids, err := gen.TaskIDs(ctx)
	if err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(flags.output, "task-graph.json"), tg); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(flags.output, "label-to-taskid.json"), ids); err != nil {
		return err
	}

	slog.Info("generation complete",
		slog.String("decision_id", gen.DecisionID()),
		slog.Int("tasks", tg.Graph.Len()),
	)
	return nil
}

func openIndex(ctx context.Context, path string) (*index.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	store, err := index.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func loadParameters(path string) (schema.Parameters, error) {
	params := schema.Parameters{}
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read parameters %s", path).WithCause(err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse parameters %s", path).WithCause(err)
	}
	return params, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
