package workflow

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentdispatch/types"
)

// Validate checks a definition. It reports every problem it finds, joined
// into a single INVALID_DEFINITION error.
func (d *Definition) Validate() error {
	if d == nil {
		return types.NewError(types.ErrInvalidDefinition, "workflow definition is nil")
	}

	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("workflow name is required"))
	}
	if len(d.Steps) == 0 {
		errs = append(errs, errors.New("workflow must have at least one step"))
	}
	if d.Settings.MaxConcurrentSteps < 0 {
		errs = append(errs, errors.New("max_concurrent_steps must not be negative"))
	}

	ids := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			errs = append(errs, errors.New("step ID is required"))
			continue
		}
		if ids[step.ID] {
			errs = append(errs, fmt.Errorf("duplicate step ID: %s", step.ID))
		}
		ids[step.ID] = true

		if step.Type == "" {
			errs = append(errs, fmt.Errorf("step %s: type is required", step.ID))
		}
		if step.RetryCount < 0 {
			errs = append(errs, fmt.Errorf("step %s: retry_count must not be negative", step.ID))
		}
	}

	for _, step := range d.Steps {
		for _, pre := range step.Prerequisites {
			if pre == step.ID {
				errs = append(errs, fmt.Errorf("step %s: cannot depend on itself", step.ID))
			} else if !ids[pre] {
				errs = append(errs, fmt.Errorf("step %s: prerequisite %s does not exist", step.ID, pre))
			}
		}
	}

	for i, t := range d.Transitions {
		if !ids[t.From] {
			errs = append(errs, fmt.Errorf("transition %d: from step %q does not exist", i, t.From))
		}
		if !ids[t.To] {
			errs = append(errs, fmt.Errorf("transition %d: to step %q does not exist", i, t.To))
		}
		if c := t.Condition; c != nil {
			if (c.Type == ConditionStepCompleted || c.Type == ConditionStepFailed) && !ids[c.StepID] {
				errs = append(errs, fmt.Errorf("transition %d: condition step %q does not exist", i, c.StepID))
			}
		}
	}

	if len(errs) == 0 {
		if cycle := d.findCycle(); cycle != "" {
			errs = append(errs, fmt.Errorf("prerequisite cycle detected involving step: %s", cycle))
		}
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidDefinition, "invalid workflow definition").
			WithCause(errors.Join(errs...))
	}
	return nil
}

// findCycle runs a DFS over prerequisite edges and returns a step on a cycle.
func (d *Definition) findCycle() string {
	edges := make(map[string][]string, len(d.Steps))
	for _, s := range d.Steps {
		edges[s.ID] = s.Prerequisites
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range edges[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if onStack[next] {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, s := range d.Steps {
		if !visited[s.ID] && visit(s.ID) {
			return s.ID
		}
	}
	return ""
}

// incoming returns the transitions targeting each step.
func (d *Definition) incoming() map[string][]Transition {
	out := make(map[string][]Transition)
	for _, t := range d.Transitions {
		out[t.To] = append(out[t.To], t)
	}
	return out
}

// outgoing returns the transitions leaving the given step.
func (d *Definition) outgoing(stepID string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == stepID {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// Serialization
// =============================================================================

// ParseDefinition decodes a YAML or JSON definition and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrInvalidDefinition, "failed to parse workflow definition").WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile reads a definition from a YAML or JSON file.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("workflow file %s: %w", path, err)
	}
	return def, nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
