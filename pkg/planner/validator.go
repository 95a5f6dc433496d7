package planner

import (
	"fmt"
	"strings"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// ValidationResult lists everything wrong with a plan. Errors block
// execution; warnings do not.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Err converts an invalid result into a ValidationError, nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return errors.New(errors.CodeValidationRejected, strings.Join(r.Errors, "; "))
}

// Validator checks a plan against the registry and permission state before
// it may be approved. Validation is read-only, so repeated calls on the
// same plan return the same result.
type Validator struct {
	registry *capability.Registry
	perms    permissions.Checker
}

func NewValidator(registry *capability.Registry, perms permissions.Checker) *Validator {
	return &Validator{registry: registry, perms: perms}
}

// Validate checks tool references, step parameters, dependency shape, and
// permission feasibility. A plan with a cycle, an unknown tool, or a
// permission that can never be obtained is invalid.
func (v *Validator) Validate(p *plan.ExecutionPlan) ValidationResult {
	var result ValidationResult

	ids := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d has no ID", i))
			continue
		}
		if ids[step.ID] {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate step ID %s", step.ID))
		}
		ids[step.ID] = true
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		cap, ok := v.registry.Get(step.Operation)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s references unknown tool %q", step.ID, step.Operation))
			continue
		}
		if err := cap.ValidateParams(step.Params); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s: invalid params: %v", step.ID, err))
		}
		for _, perm := range permissions.Missing(v.perms, cap.RequiredPermissions()) {
			if v.perms.Requestable(perm) {
				result.Warnings = append(result.Warnings, fmt.Sprintf("step %s needs permission %s (not yet granted)", step.ID, perm))
			} else {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s needs permission %s, which is denied", step.ID, perm))
			}
		}
		for _, dep := range step.DependsOn {
			if !ids[dep] {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep))
			}
			if dep == step.ID {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s depends on itself", step.ID))
			}
		}
	}

	if cyclic := hasCycle(p.Steps); cyclic {
		result.Errors = append(result.Errors, "plan dependencies contain a cycle")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// hasCycle runs Kahn's algorithm over the dependency edges. Unknown deps
// are reported separately, so they are ignored here.
func hasCycle(steps []plan.OperationStep) bool {
	known := make(map[string]bool, len(steps))
	for i := range steps {
		known[steps[i].ID] = true
	}
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for i := range steps {
		id := steps[i].ID
		for _, dep := range steps[i].DependsOn {
			if !known[dep] || dep == id {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := make([]string, 0, len(steps))
	for i := range steps {
		if indegree[steps[i].ID] == 0 {
			queue = append(queue, steps[i].ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(steps)
}
