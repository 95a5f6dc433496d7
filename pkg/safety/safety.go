// Package safety gates plans on risk before execution. It escalates
// per-step risk for missing permissions, aggregates plan risk, and decides
// whether a plan can be auto-approved or needs explicit user confirmation.
package safety

import (
	"fmt"
	"time"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// Decision is the user's answer to a confirmation prompt.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionModify Decision = "modify"
	DecisionCancel Decision = "cancel"
)

// FlaggedStep explains why one step raised the plan's risk.
type FlaggedStep struct {
	StepID             string                   `json:"step_id"`
	Operation          string                   `json:"operation"`
	BaseRisk           risk.Level               `json:"base_risk"`
	EffectiveRisk      risk.Level               `json:"effective_risk"`
	MissingPermissions []permissions.Permission `json:"missing_permissions,omitempty"`
	Reason             string                   `json:"reason"`
}

// SecurityReport is the safety checker's verdict on a plan.
type SecurityReport struct {
	PlanID        string        `json:"plan_id"`
	AggregateRisk risk.Level    `json:"aggregate_risk"`
	AutoApproved  bool          `json:"auto_approved"`
	Flagged       []FlaggedStep `json:"flagged,omitempty"`
}

// PreviewStep is one row of the plan preview shown before confirmation.
type PreviewStep struct {
	Operation   string            `json:"operation"`
	Domain      capability.Domain `json:"domain"`
	Description string            `json:"description"`
	Estimate    time.Duration     `json:"estimate"`
	Risk        risk.Level        `json:"risk"`
}

// PlanPreview is what a host app renders when asking the user to confirm a
// high-risk plan.
type PlanPreview struct {
	PlanID        string        `json:"plan_id"`
	Intent        string        `json:"intent"`
	Steps         []PreviewStep `json:"steps"`
	AggregateRisk risk.Level    `json:"aggregate_risk"`
	TotalEstimate time.Duration `json:"total_estimate"`
}

// Checker evaluates plan risk against current permission state.
type Checker struct {
	registry *capability.Registry
	perms    permissions.Checker
}

func NewChecker(registry *capability.Registry, perms permissions.Checker) *Checker {
	return &Checker{registry: registry, perms: perms}
}

// Check computes each step's effective risk and the plan aggregate. A
// missing permission escalates the step one level per permission,
// saturating at critical; a permission that is neither granted nor
// requestable makes the step itself critical. The plan aggregate is the
// maximum effective step risk, forced to critical when any step lacks a
// granted required permission, and is written back to the plan. Low and
// medium aggregates are auto-approved; high and critical require a
// Decision.
func (c *Checker) Check(p *plan.ExecutionPlan) SecurityReport {
	report := SecurityReport{PlanID: p.ID, AggregateRisk: risk.Low}
	anyMissing := false

	for i := range p.Steps {
		step := &p.Steps[i]
		effective := step.Risk
		var missing []permissions.Permission
		var unrequestable bool

		if cap, ok := c.registry.Get(step.Operation); ok {
			missing = permissions.Missing(c.perms, cap.RequiredPermissions())
			effective = effective.Escalate(len(missing))
			for _, perm := range missing {
				if !c.perms.Requestable(perm) {
					unrequestable = true
				}
			}
		}
		if len(missing) > 0 {
			anyMissing = true
		}
		if unrequestable {
			effective = risk.Critical
		}

		if effective != step.Risk {
			report.Flagged = append(report.Flagged, FlaggedStep{
				StepID:             step.ID,
				Operation:          step.Operation,
				BaseRisk:           step.Risk,
				EffectiveRisk:      effective,
				MissingPermissions: missing,
				Reason:             flagReason(missing, unrequestable),
			})
		} else if effective >= risk.High {
			report.Flagged = append(report.Flagged, FlaggedStep{
				StepID:        step.ID,
				Operation:     step.Operation,
				BaseRisk:      step.Risk,
				EffectiveRisk: effective,
				Reason:        "high-risk operation",
			})
		}
		report.AggregateRisk = risk.Max(report.AggregateRisk, effective)
	}
	if anyMissing {
		report.AggregateRisk = risk.Critical
	}

	report.AutoApproved = report.AggregateRisk.AutoApprovable()
	p.Risk = report.AggregateRisk
	return report
}

// Preview builds the confirmation payload for a plan.
func (c *Checker) Preview(p *plan.ExecutionPlan, report SecurityReport) PlanPreview {
	preview := PlanPreview{
		PlanID:        p.ID,
		Intent:        p.Intent,
		AggregateRisk: report.AggregateRisk,
		TotalEstimate: p.Estimate,
	}
	for _, step := range p.Steps {
		preview.Steps = append(preview.Steps, PreviewStep{
			Operation:   step.Operation,
			Domain:      step.Domain,
			Description: step.Description,
			Estimate:    step.Estimate,
			Risk:        step.Risk,
		})
	}
	return preview
}

func flagReason(missing []permissions.Permission, unrequestable bool) string {
	if unrequestable {
		return "requires a denied permission"
	}
	if len(missing) == 1 {
		return fmt.Sprintf("missing permission %s", missing[0])
	}
	return fmt.Sprintf("missing %d permissions", len(missing))
}
