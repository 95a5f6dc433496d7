// Package plan defines the execution plan data model: ordered operation
// steps with dependency edges, the plan status machine, and the execution
// and phase records appended to the audit log.
package plan

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// Status is the lifecycle state of an execution plan. Transitions are
// monotonic: Draft → Approved → Executing → a terminal state. Cancelled is
// reachable from any non-terminal state.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusApproved           Status = "approved"
	StatusExecuting          Status = "executing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step of the
// status machine.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	switch s {
	case StatusDraft:
		return next == StatusApproved
	case StatusApproved:
		return next == StatusExecuting
	case StatusExecuting:
		return next == StatusCompleted || next == StatusPartiallyCompleted || next == StatusFailed
	}
	return false
}

// OperationStep is one capability invocation within a plan.
type OperationStep struct {
	ID          string           `json:"id"`
	Domain      capability.Domain `json:"domain"`
	Operation   string           `json:"operation"`
	Description string           `json:"description"`
	Params      map[string]any   `json:"params,omitempty"`
	DependsOn   []string         `json:"depends_on,omitempty"`
	Optional    bool             `json:"optional,omitempty"`
	Estimate    time.Duration    `json:"estimate"`
	Risk        risk.Level       `json:"risk"`
}

// ExecutionPlan is a validated, ordered set of operation steps for one
// user request.
type ExecutionPlan struct {
	ID        string          `json:"id"`
	Intent    string          `json:"intent"`
	Steps     []OperationStep `json:"steps"`
	Risk      risk.Level      `json:"risk"`
	Estimate  time.Duration   `json:"estimate"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds a draft plan for the given intent. The plan estimate is the
// critical-path duration over the step dependency graph, and the plan risk
// starts as the maximum step risk (the safety gate may escalate it).
func New(intent string, steps []OperationStep) *ExecutionPlan {
	p := &ExecutionPlan{
		ID:        ulid.Make().String(),
		Intent:    intent,
		Steps:     steps,
		Status:    StatusDraft,
		CreatedAt: time.Now(),
	}
	p.Estimate = p.CriticalPath()
	p.Risk = p.MaxStepRisk()
	return p
}

// Transition advances the plan status, rejecting illegal moves.
func (p *ExecutionPlan) Transition(next Status) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("illegal plan transition %s -> %s", p.Status, next)
	}
	p.Status = next
	return nil
}

// Step returns the step with the given ID, or nil.
func (p *ExecutionPlan) Step(id string) *OperationStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// MaxStepRisk returns the highest risk level of any step, Low for a
// zero-step plan.
func (p *ExecutionPlan) MaxStepRisk() risk.Level {
	level := risk.Low
	for _, s := range p.Steps {
		level = risk.Max(level, s.Risk)
	}
	return level
}

// CriticalPath returns the longest dependency chain through the plan
// measured in step estimates. Independent steps overlap, so the plan
// estimate is the critical path rather than the sum of all steps.
func (p *ExecutionPlan) CriticalPath() time.Duration {
	byID := make(map[string]*OperationStep, len(p.Steps))
	for i := range p.Steps {
		byID[p.Steps[i].ID] = &p.Steps[i]
	}
	memo := make(map[string]time.Duration, len(p.Steps))
	visiting := make(map[string]bool, len(p.Steps))

	var finish func(id string) time.Duration
	finish = func(id string) time.Duration {
		if d, ok := memo[id]; ok {
			return d
		}
		step, ok := byID[id]
		if !ok || visiting[id] {
			// Unknown refs and cycles are validator errors; contribute
			// nothing here so the estimate stays defined.
			return 0
		}
		visiting[id] = true
		var longest time.Duration
		for _, dep := range step.DependsOn {
			if d := finish(dep); d > longest {
				longest = d
			}
		}
		visiting[id] = false
		total := longest + step.Estimate
		memo[id] = total
		return total
	}

	var critical time.Duration
	for i := range p.Steps {
		if d := finish(p.Steps[i].ID); d > critical {
			critical = d
		}
	}
	return critical
}
