// Package planner turns an intent analysis into a dependency-ordered
// execution plan and validates plans before they reach the executor.
package planner

import (
	"time"

	"github.com/google/uuid"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/intent"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// Planner selects the best tool for each required capability and wires
// dependency edges from produced/consumed data kinds.
type Planner struct {
	registry *capability.Registry
	perms    permissions.Checker
}

func New(registry *capability.Registry, perms permissions.Checker) *Planner {
	return &Planner{registry: registry, perms: perms}
}

// BuildPlan produces a draft plan for the analysis. A direct-response
// analysis yields a valid zero-step plan. PlanningError is returned when a
// required capability has no registered tool, or a consumed data kind has
// no producer anywhere in the registry.
func (p *Planner) BuildPlan(analysis *intent.Analysis) (*plan.ExecutionPlan, error) {
	if analysis.Direct() {
		return plan.New(analysis.Request, nil), nil
	}

	selected, err := p.selectTools(analysis)
	if err != nil {
		return nil, err
	}
	selected, err = p.addProducers(analysis.Request, selected)
	if err != nil {
		return nil, err
	}

	steps := make([]plan.OperationStep, 0, len(selected))
	producerStep := make(map[capability.DataKind]string)
	for _, cap := range selected {
		step := plan.OperationStep{
			ID:          uuid.NewString(),
			Domain:      cap.Domain(),
			Operation:   cap.Name(),
			Description: cap.Description(),
			Params:      defaultParams(cap),
			Estimate:    estimateFor(cap.Domain()),
			Risk:        cap.RiskLevel(),
		}
		steps = append(steps, step)
		for _, kind := range cap.Produces() {
			if _, ok := producerStep[kind]; !ok {
				producerStep[kind] = step.ID
			}
		}
	}
	for i := range steps {
		cap, _ := p.registry.Get(steps[i].Operation)
		for _, kind := range cap.Consumes() {
			dep, ok := producerStep[kind]
			if !ok {
				return nil, errors.Newf(errors.CodePlanningNoTool,
					"no tool produces %s needed by %s", kind, cap.Name()).
					WithContext("tool", cap.Name())
			}
			if dep != steps[i].ID {
				steps[i].DependsOn = append(steps[i].DependsOn, dep)
			}
		}
	}

	return plan.New(analysis.Request, steps), nil
}

// selectTools resolves each required capability to a registered tool,
// keeping the highest-relevance candidate per domain. Ties go to the tool
// with fewer missing permissions.
func (p *Planner) selectTools(analysis *intent.Analysis) ([]capability.Capability, error) {
	type candidate struct {
		cap     capability.Capability
		score   float64
		missing int
	}
	best := make(map[capability.Domain]candidate)
	var order []capability.Domain

	for _, name := range analysis.RequiredCapabilities {
		cap, ok := p.registry.Get(name)
		if !ok {
			return nil, errors.Newf(errors.CodePlanningNoTool, "no registered tool for capability %q", name)
		}
		c := candidate{
			cap:     cap,
			score:   cap.RelevanceScore(analysis.Request),
			missing: len(permissions.Missing(p.perms, cap.RequiredPermissions())),
		}
		cur, seen := best[cap.Domain()]
		if !seen {
			best[cap.Domain()] = c
			order = append(order, cap.Domain())
			continue
		}
		if c.score > cur.score || (c.score == cur.score && c.missing < cur.missing) {
			best[cap.Domain()] = c
		}
	}

	selected := make([]capability.Capability, 0, len(order))
	for _, d := range order {
		selected = append(selected, best[d].cap)
	}
	return selected, nil
}

// addProducers prepends tools producing data kinds the selected set
// consumes but nothing yet produces.
func (p *Planner) addProducers(request string, selected []capability.Capability) ([]capability.Capability, error) {
	produced := make(map[capability.DataKind]bool)
	chosen := make(map[string]bool)
	for _, cap := range selected {
		chosen[cap.Name()] = true
		for _, kind := range cap.Produces() {
			produced[kind] = true
		}
	}

	var prefix []capability.Capability
	for _, cap := range selected {
		for _, kind := range cap.Consumes() {
			if produced[kind] {
				continue
			}
			producer, err := p.bestProducer(request, kind, chosen)
			if err != nil {
				return nil, err
			}
			prefix = append(prefix, producer)
			chosen[producer.Name()] = true
			for _, k := range producer.Produces() {
				produced[k] = true
			}
		}
	}
	return append(prefix, selected...), nil
}

func (p *Planner) bestProducer(request string, kind capability.DataKind, exclude map[string]bool) (capability.Capability, error) {
	var best capability.Capability
	var bestScore float64
	var bestMissing int
	for _, cap := range p.registry.All() {
		if exclude[cap.Name()] || !capability.ProducesKind(cap, kind) {
			continue
		}
		score := cap.RelevanceScore(request)
		missing := len(permissions.Missing(p.perms, cap.RequiredPermissions()))
		if best == nil || score > bestScore || (score == bestScore && missing < bestMissing) {
			best, bestScore, bestMissing = cap, score, missing
		}
	}
	if best == nil {
		return nil, errors.Newf(errors.CodePlanningNoTool, "no tool produces data kind %s", kind)
	}
	return best, nil
}

func defaultParams(cap capability.Capability) map[string]any {
	schema := cap.ParameterSchema()
	if len(schema.Properties) == 0 {
		return nil
	}
	params := make(map[string]any)
	for name, prop := range schema.Properties {
		if prop.Default != nil {
			params[name] = prop.Default
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// estimateFor maps a domain to a coarse duration used for critical-path
// estimates shown in the plan preview.
func estimateFor(domain capability.Domain) time.Duration {
	switch domain {
	case capability.DomainDevice, capability.DomainNetwork:
		return 500 * time.Millisecond
	case capability.DomainNotifications:
		return time.Second
	case capability.DomainVision:
		return 2 * time.Second
	case capability.DomainMedia:
		return 3 * time.Second
	case capability.DomainLocation:
		return 5 * time.Second
	default:
		return time.Second
	}
}
