package plan

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sidekicklabs/sidekick/pkg/capability"
)

// StepOutcome classifies how a step ended.
type StepOutcome string

const (
	OutcomeSucceeded   StepOutcome = "succeeded"
	OutcomeFailed      StepOutcome = "failed"
	OutcomeSkipped     StepOutcome = "skipped"
	OutcomeSubstituted StepOutcome = "substituted"
	OutcomeCancelled   StepOutcome = "cancelled"
)

// ToolExecution records a single capability invocation outcome. Every step a
// workflow touches gets one, including skips and cancellations.
type ToolExecution struct {
	ID        string             `json:"id"`
	PlanID    string             `json:"plan_id"`
	StepID    string             `json:"step_id"`
	Tool      string             `json:"tool"`
	Args      map[string]any     `json:"args,omitempty"`
	Result    *capability.Result `json:"result,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	Outcome   StepOutcome        `json:"outcome"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
}

// NewExecution starts an execution record for a step.
func NewExecution(planID string, step *OperationStep) *ToolExecution {
	return &ToolExecution{
		ID:        ulid.Make().String(),
		PlanID:    planID,
		StepID:    step.ID,
		Tool:      step.Operation,
		Args:      step.Params,
		StartedAt: time.Now(),
	}
}

// Finish stamps the end time. A clock step backwards is clamped so the
// record never shows a negative duration.
func (e *ToolExecution) Finish(outcome StepOutcome) {
	e.Outcome = outcome
	e.EndedAt = time.Now()
	if e.EndedAt.Before(e.StartedAt) {
		e.EndedAt = e.StartedAt
	}
}

// Succeeded reports whether the step produced a successful result.
func (e *ToolExecution) Succeeded() bool {
	return e.Outcome == OutcomeSucceeded || e.Outcome == OutcomeSubstituted
}

// Duration is the wall time the invocation took.
func (e *ToolExecution) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}
