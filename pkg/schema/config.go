package schema

// GraphConfig is the project-level generation configuration, loaded from the
// graph config YAML at the root of the kinds tree.
type GraphConfig struct {
	Project   string `json:"project" yaml:"project"`
	TrustRoot string `json:"trust_root,omitempty" yaml:"trust_root,omitempty"`

	// Requires is an optional semver constraint on the generator version.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Filters is the ordered list of named target-selection filters.
	Filters []string `json:"filters,omitempty" yaml:"filters,omitempty"`

	// AlwaysTarget lists labels included in the target graph regardless of
	// filter output. AlwaysTargetKinds does the same for whole kinds.
	AlwaysTarget      []string `json:"always_target,omitempty" yaml:"always_target,omitempty"`
	AlwaysTargetKinds []string `json:"always_target_kinds,omitempty" yaml:"always_target_kinds,omitempty"`

	// Attributes are project-wide defaults merged into every task's
	// attribute map (task values win).
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}
