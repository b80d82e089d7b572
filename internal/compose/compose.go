// Package compose implements the Instruction Composer (spec C7):
// building a {system, primary} prompt pair for a role+plan+facts,
// side-effect-free.
//
// Grounded on pkg/instruction/template.go's placeholder-substitution
// approach ({variable} resolved from a context), generalized from
// session-state placeholders to fact-map placeholders since the
// composer has no session state to read, only the current turn's
// aggregated facts.
package compose

import (
	"regexp"
	"strings"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/signal"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// placeholderRegex matches {name} and {name?} (optional) placeholders
// in a prompt fragment, substituted from the fact map.
var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)(\?)?\}`)

func renderFragment(fragment string, values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(fragment, func(match string) string {
		groups := placeholderRegex.FindStringSubmatch(match)
		name, optional := groups[1], groups[2] == "?"
		if v, ok := values[name]; ok {
			return v
		}
		if optional {
			return ""
		}
		return match
	})
}

func factValues(facts []signal.Fact) map[string]string {
	values := make(map[string]string, len(facts))
	for _, f := range facts {
		key := f.Signal
		if key == "" {
			key = f.Name
		}
		if key == "" {
			continue
		}
		values[key] = f.Signal
		if f.Dimension != "" {
			values[f.Dimension+"."+key] = key
		}
	}
	return values
}

// Compose builds the {system, primary} pair for p's role against m's
// prompt fragments and the aggregated facts, applying the thread tail
// as the final user message per the primary.<role> template (spec
// §4.7). It performs no I/O and mutates none of its arguments.
func Compose(p *plan.Plan, m *module.Module, facts []signal.Fact, t thread.Thread) (system, primary string) {
	values := factValues(facts)

	var sys strings.Builder
	if frag, ok := m.Prompts["system."+p.Role]; ok {
		sys.WriteString(renderFragment(frag, values))
	}
	for _, name := range p.Adaptations {
		if frag, ok := m.Prompts["adapt."+name]; ok {
			sys.WriteString("\n")
			sys.WriteString(renderFragment(frag, values))
		}
	}
	for _, f := range facts {
		if f.Type != signal.FactTypeTurnContext {
			continue
		}
		if frag, ok := m.Prompts["length.default"]; ok {
			sys.WriteString("\n")
			sys.WriteString(renderFragment(frag, values))
		}
	}

	primaryTemplate, ok := m.Prompts["primary."+p.Role]
	if !ok {
		return sys.String(), t.Tail()
	}
	values["thread.tail"] = t.Tail()
	return sys.String(), renderFragment(primaryTemplate, values)
}
