package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/latticeci/lattice/pkg/schema"
)

// TasksFile is the default declaration file read by the static loader.
const TasksFile = "tasks.yml"

// staticDecl is the YAML shape of one declaration in a tasks file. Payload
// is arbitrary YAML re-encoded to JSON: the core never looks inside it.
type staticDecl struct {
	Label            string               `yaml:"label"`
	Description      string               `yaml:"description"`
	Attributes       map[string]string    `yaml:"attributes"`
	Payload          any                  `yaml:"payload"`
	Dependencies     map[string]string    `yaml:"dependencies"`
	SoftDependencies []string             `yaml:"soft_dependencies"`
	IfDependencies   []string             `yaml:"if_dependencies"`
	Optimization     *schema.Optimization `yaml:"optimization"`
}

// loadStatic is the built-in "static" loader: it reads declarations
// verbatim from the kind's tasks file. The file name can be overridden with
// the "tasks_file" key of the kind's config block.
func loadStatic(ctx context.Context, req Request) ([]schema.Declaration, error) {
	file := TasksFile
	if v, ok := req.Config.Config["tasks_file"].(string); ok && v != "" {
		file = v
	}
	path := filepath.Join(req.Path, file)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read tasks file %s", path).WithCause(err)
	}

	var raw []staticDecl
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse tasks file %s", path).WithCause(err)
	}

	decls := make([]schema.Declaration, 0, len(raw))
	for _, d := range raw {
		var payload json.RawMessage
		if d.Payload != nil {
			payload, err = json.Marshal(d.Payload)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeConfig,
					"payload is not JSON-encodable").WithLabel(d.Label).WithCause(err)
			}
		}
		decls = append(decls, schema.Declaration{
			Label:            d.Label,
			Description:      d.Description,
			Attributes:       d.Attributes,
			Payload:          payload,
			Dependencies:     d.Dependencies,
			SoftDependencies: d.SoftDependencies,
			IfDependencies:   d.IfDependencies,
			Optimization:     d.Optimization,
		})
	}
	return decls, nil
}
