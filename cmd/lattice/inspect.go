package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/latticeci/lattice/internal/diagram"
	"github.com/latticeci/lattice/internal/generator"
	"github.com/latticeci/lattice/internal/graph"
	"github.com/latticeci/lattice/pkg/schema"
)

func newInspectCmd(cfg Config) *cobra.Command {
	var (
		root       string
		phase      string
		paramsFile string
		workers    int
		format     string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Render an intermediate pipeline phase",
		Long: `Inspect runs the pipeline up to the named phase and prints the result:
full (full task graph), target (target task graph), optimized (optimized
task graph), or kinds (selected kinds). Graph phases can be rendered as
json, mermaid, ascii, or png.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := loadParameters(paramsFile)
			if err != nil {
				return err
			}
			gen, err := generator.New(generator.Options{
				Root:       root,
				Parameters: params,
				Workers:    workers,
				Version:    version,
			})
			if err != nil {
				return err
			}
			return runInspect(cmd.Context(), gen, phase, format, output)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "kinds tree root (holds graph.yml)")
	cmd.Flags().StringVar(&phase, "phase", "full", "phase to render: kinds, full, target, optimized")
	cmd.Flags().StringVar(&paramsFile, "parameters", "", "YAML file of generation parameters")
	cmd.Flags().IntVar(&workers, "workers", cfg.Workers, "parallel kind loaders")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, mermaid, ascii, png")
	cmd.Flags().StringVar(&output, "output", "", "file to write instead of stdout (required for png)")
	return cmd
}

func runInspect(ctx context.Context, gen *generator.Generator, phase, format, output string) error {
	if phase == "kinds" {
		if format != "json" {
			return schema.NewError(schema.ErrCodeConfig, "phase kinds supports only the json format")
		}
		kinds, _, err := gen.Kinds(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(kinds))
		for name := range kinds {
			names = append(names, name)
		}
		sort.Strings(names)
		return writeOutput(output, func(f *os.File) error { return printJSON(f, names) })
	}

	var tg *graph.TaskGraph
	var err error
	switch phase {
	case "full":
		tg, err = gen.FullTaskGraph(ctx)
	case "target":
		tg, err = gen.TargetTaskGraph(ctx)
	case "optimized":
		res, optErr := gen.OptimizedTaskGraph(ctx)
		if optErr != nil {
			return optErr
		}
		tg = res.Graph
	default:
		return schema.NewErrorf(schema.ErrCodeConfig, "unknown phase %q", phase)
	}
	if err != nil {
		return err
	}

	if format == "json" {
		return writeOutput(output, func(f *os.File) error { return printJSON(f, tg) })
	}

	model, err := diagram.Build(tg, fmt.Sprintf("%s task graph", phase))
	if err != nil {
		return err
	}
	switch format {
	case "mermaid":
		return writeOutput(output, func(f *os.File) error {
			_, err := f.WriteString(diagram.RenderMermaid(model))
			return err
		})
	case "ascii":
		return writeOutput(output, func(f *os.File) error {
			_, err := f.WriteString(diagram.RenderASCII(model))
			return err
		})
	case "png":
		if output == "" {
			return schema.NewError(schema.ErrCodeConfig, "png format needs --output")
		}
		png, err := diagram.RenderImage(model)
		if err != nil {
			return err
		}
		return os.WriteFile(output, png, 0o644)
	default:
		return schema.NewErrorf(schema.ErrCodeConfig, "unknown format %q", format)
	}
}

// writeOutput runs the writer against the named file, or stdout when no
// path was given.
func writeOutput(output string, write func(*os.File) error) error {
	if output == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f)
}

func printJSON(f *os.File, v any) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
