package workflow

import (
	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// Action is what the workflow does about a failed step.
type Action string

const (
	// ActionRetry re-runs the step, up to the retry budget.
	ActionRetry Action = "retry"
	// ActionSkip records the step as skipped and continues. Only optional
	// steps should be skipped.
	ActionSkip Action = "skip"
	// ActionSubstitute re-runs the step with an alternate tool.
	ActionSubstitute Action = "substitute"
	// ActionAbort gives up on the step; its dependents are skipped while
	// independent branches continue.
	ActionAbort Action = "abort"
)

// Recovery is a handler's verdict on a failed step.
type Recovery struct {
	Action     Action
	Substitute capability.Capability // set when Action is ActionSubstitute
}

// RecoveryHandler decides how to proceed when a step fails. attempt is
// 1-based and counts executions of the step so far.
type RecoveryHandler interface {
	HandleFailure(step *plan.OperationStep, attempt int, err error) Recovery
}

// DefaultRecovery retries retryable errors within the budget, skips
// optional steps, substitutes an alternate tool when the registry has one,
// and otherwise aborts.
type DefaultRecovery struct {
	Registry   *capability.Registry
	MaxRetries int
}

func (d *DefaultRecovery) HandleFailure(step *plan.OperationStep, attempt int, err error) Recovery {
	if errors.IsRetryable(err) && attempt <= d.MaxRetries {
		return Recovery{Action: ActionRetry}
	}
	if step.Optional {
		return Recovery{Action: ActionSkip}
	}
	if d.Registry != nil && attempt == 1 {
		if cap, ok := d.Registry.Get(step.Operation); ok {
			if alts := d.Registry.Alternates(cap); len(alts) > 0 {
				return Recovery{Action: ActionSubstitute, Substitute: alts[0]}
			}
		}
	}
	return Recovery{Action: ActionAbort}
}
