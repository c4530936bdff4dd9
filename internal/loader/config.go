package loader

import (
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/latticeci/lattice/pkg/schema"
)

// GraphConfigFile is the project-level configuration file at the root of
// the kinds tree.
const GraphConfigFile = "graph.yml"

// LoadGraphConfig reads and checks the project graph configuration. When
// the config carries a "requires" semver constraint, the running generator
// version must satisfy it.
func LoadGraphConfig(path, generatorVersion string) (*schema.GraphConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read graph config %s", path).WithCause(err)
	}

	cfg := &schema.GraphConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "parse graph config %s", path).WithCause(err)
	}
	if cfg.Project == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "graph config %s has no project name", path)
	}

	if cfg.Requires != "" {
		constraint, err := semver.NewConstraint(cfg.Requires)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"graph config requires %q is not a valid constraint", cfg.Requires).WithCause(err)
		}
		version, err := semver.NewVersion(generatorVersion)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"generator version %q is not semver", generatorVersion).WithCause(err)
		}
		if !constraint.Check(version) {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"project %s requires generator %s, running %s", cfg.Project, cfg.Requires, generatorVersion)
		}
	}
	return cfg, nil
}
