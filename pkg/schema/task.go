package schema

import (
	"encoding/json"
	"sort"
)

// Optimization names the pluggable strategy bound to a task, with an opaque
// strategy-specific argument.
type Optimization struct {
	Strategy string `json:"strategy" yaml:"strategy"`
	Arg      any    `json:"arg,omitempty" yaml:"arg,omitempty"`
}

// Task is a single unit of CI work inside a generation run.
// The payload is opaque to the graph core: it is produced by kind loaders
// and consumed by the task-creation client, never interpreted here.
type Task struct {
	Kind             string            `json:"kind"`
	Label            string            `json:"label"`
	Description      string            `json:"description,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Payload          json.RawMessage   `json:"payload,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"` // edge name → label
	SoftDependencies []string          `json:"soft_dependencies,omitempty"`
	IfDependencies   []string          `json:"if_dependencies,omitempty"`
	Optimization     *Optimization     `json:"optimization,omitempty"`

	// TaskID is assigned only once the task survives into the final,
	// identifier-bearing graph. Owned by the optimizer's extraction pass.
	TaskID string `json:"task_id,omitempty"`
}

// DependencyLabels returns the task's dependency labels in sorted order.
func (t *Task) DependencyLabels() []string {
	labels := make([]string, 0, len(t.Dependencies))
	for _, label := range t.Dependencies {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Attr returns the attribute value for key, or "" if absent.
func (t *Task) Attr(key string) string {
	return t.Attributes[key]
}

// Clone returns a deep copy of the task. Payload bytes are shared: the core
// never mutates them.
func (t *Task) Clone() *Task {
	c := *t
	if t.Attributes != nil {
		c.Attributes = make(map[string]string, len(t.Attributes))
		for k, v := range t.Attributes {
			c.Attributes[k] = v
		}
	}
	if t.Dependencies != nil {
		c.Dependencies = make(map[string]string, len(t.Dependencies))
		for k, v := range t.Dependencies {
			c.Dependencies[k] = v
		}
	}
	c.SoftDependencies = append([]string(nil), t.SoftDependencies...)
	c.IfDependencies = append([]string(nil), t.IfDependencies...)
	if t.Optimization != nil {
		opt := *t.Optimization
		c.Optimization = &opt
	}
	return &c
}

// Declaration is a raw task declaration as produced by a kind loader,
// before it is bound to its kind and linked into the graph.
type Declaration struct {
	Label            string            `json:"label" yaml:"label"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Payload          json.RawMessage   `json:"payload,omitempty" yaml:"payload,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	SoftDependencies []string          `json:"soft_dependencies,omitempty" yaml:"soft_dependencies,omitempty"`
	IfDependencies   []string          `json:"if_dependencies,omitempty" yaml:"if_dependencies,omitempty"`
	Optimization     *Optimization     `json:"optimization,omitempty" yaml:"optimization,omitempty"`
}

// NewTask binds a raw declaration to its kind.
func NewTask(kind string, decl Declaration) *Task {
	return &Task{
		Kind:             kind,
		Label:            decl.Label,
		Description:      decl.Description,
		Attributes:       decl.Attributes,
		Payload:          decl.Payload,
		Dependencies:     decl.Dependencies,
		SoftDependencies: decl.SoftDependencies,
		IfDependencies:   decl.IfDependencies,
		Optimization:     decl.Optimization,
	}
}

// Parameters are the resolved generation parameters, opaque to the core and
// handed through to loaders, filters, and strategies.
type Parameters map[string]any

// String returns the parameter value as a string, or "" when absent or not
// a string.
func (p Parameters) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Bool returns the parameter value as a bool, false when absent.
func (p Parameters) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}
