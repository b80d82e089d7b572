package main

import (
	"fmt"

	"github.com/thinksuit/thinksuit/internal/builtinmodule"
	"github.com/thinksuit/thinksuit/internal/module"
)

// ValidateCmd validates a module's structure (spec C5: "validate
// structure (has namespace, name, version, roles[])"). Only the
// built-in module is available to validate from the CLI today — a
// deployment supplying its own module validates it the same way by
// calling module.Module.Validate directly from its own Go code.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	m := builtinmodule.New()
	if err := m.Validate(); err != nil {
		return err
	}
	fmt.Printf("module %s is valid: %d role(s), %d rule(s)\n", moduleKey(m), len(m.Roles), len(m.Rules))
	return nil
}

func moduleKey(m *module.Module) string {
	return m.Key()
}
