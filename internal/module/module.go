// Package module implements the Module Registry (spec C5): locating
// and validating a cognitive module (roles, rule-set, prompt
// templates, classifier entry point).
//
// Grounded on internal/registry's generic Base, specialized to *Module
// with the structural validation the spec requires at registration
// (the teacher's registry itself performs no validation).
package module

import (
	"context"
	"fmt"

	"github.com/thinksuit/thinksuit/internal/registry"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// Role is a named mode of LLM use with its own temperature and prompts.
type Role struct {
	Name        string
	Temperature float64
	IsDefault   bool
	Description string
}

// Rule is one forward-chaining production: if Conditions are
// satisfied by the current fact set, it may emit new facts or a
// candidate ExecutionPlan (spec §4.6). The condition/action shapes are
// module-defined; the core treats them as opaque callables.
type Rule struct {
	Name       string
	Priority   int
	Conditions func(facts []Fact) bool
	Apply      func(facts []Fact) RuleOutcome
}

// Fact mirrors the shape the signal/rule components operate on; kept
// here (rather than imported from internal/signal) to avoid a import
// cycle, since both internal/signal and internal/module need it and
// internal/signal depends on internal/module for rule evaluation.
type Fact struct {
	Type       string
	Dimension  string
	Signal     string
	Name       string
	Confidence float64
	Data       map[string]any
}

// RuleOutcome is what a Rule.Apply call produces: new facts and/or a
// plan candidate with its confidence.
type RuleOutcome struct {
	Facts      []Fact
	Plan       any // *plan.Plan; any to avoid an import cycle with internal/plan
	Confidence float64
}

// Classifier detects signals over the current thread under a soft
// time budget (spec §4.6).
type Classifier func(ctx context.Context, t thread.Thread) ([]Fact, error)

// Module is the pluggable bundle the core executes against (spec §3).
type Module struct {
	Namespace string
	Name      string
	Version   string
	Roles     []Role

	// Prompts holds dotted-key prompt fragments: system.<role>,
	// primary.<role>, adapt.<name>, length.<name>.
	Prompts map[string]string

	Rules       []Rule
	Classifiers map[string]Classifier

	ToolDependencies []string
	Presets          map[string]any
	Frames           map[string]any

	// Tokens holds named maxTokens budgets, e.g. Tokens["default"] is
	// the direct/task strategy's maxTokens when a plan does not
	// override it (spec §4.8: "maxTokens=module.tokens.default").
	Tokens map[string]int
}

// DefaultMaxTokens returns Tokens["default"], or 1024 if unset.
func (m *Module) DefaultMaxTokens() int {
	if v, ok := m.Tokens["default"]; ok && v > 0 {
		return v
	}
	return 1024
}

// Key returns the registry lookup key "<namespace>/<name>".
func (m *Module) Key() string {
	return fmt.Sprintf("%s/%s", m.Namespace, m.Name)
}

// RoleTemperature returns the configured temperature for roleName, or
// 0.7 if the role is unknown (a conservative default matching neither
// extreme of the temperature range).
func (m *Module) RoleTemperature(roleName string) float64 {
	for _, r := range m.Roles {
		if r.Name == roleName {
			return r.Temperature
		}
	}
	return 0.7
}

// Validate checks the structural requirements a Module must satisfy
// before it can be registered (spec §4.5: "has namespace, name,
// version, roles[]").
func (m *Module) Validate() error {
	if m.Namespace == "" {
		return thinkerr.New(thinkerr.CodeModule, "module: namespace is required")
	}
	if m.Name == "" {
		return thinkerr.New(thinkerr.CodeModule, "module: name is required")
	}
	if m.Version == "" {
		return thinkerr.New(thinkerr.CodeModule, "module: version is required")
	}
	if len(m.Roles) == 0 {
		return thinkerr.New(thinkerr.CodeModule, "module: at least one role is required")
	}
	seen := make(map[string]bool, len(m.Roles))
	for _, r := range m.Roles {
		if r.Name == "" {
			return thinkerr.New(thinkerr.CodeModule, "module: role name is required")
		}
		if seen[r.Name] {
			return thinkerr.New(thinkerr.CodeModule, fmt.Sprintf("module: duplicate role %q", r.Name))
		}
		seen[r.Name] = true
	}
	return nil
}

// Registry resolves modules by "<namespace>/<name>" key, validating
// structure on registration.
type Registry struct {
	base *registry.Base[*Module]
}

// New constructs an empty module Registry.
func New() *Registry {
	return &Registry{base: registry.New[*Module]()}
}

// Register validates m and adds it under m.Key().
func (r *Registry) Register(m *Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := r.base.Register(m.Key(), m); err != nil {
		return thinkerr.Wrap(thinkerr.CodeModule, "register module", err)
	}
	return nil
}

// Get resolves a module by "<namespace>/<name>" key (spec §4.5).
func (r *Registry) Get(key string) (*Module, error) {
	m, ok := r.base.Get(key)
	if !ok {
		return nil, thinkerr.New(thinkerr.CodeModule, fmt.Sprintf("module: %q not found", key))
	}
	return m, nil
}

// List returns every registered module.
func (r *Registry) List() []*Module {
	return r.base.List()
}
