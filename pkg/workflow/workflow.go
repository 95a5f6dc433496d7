// Package workflow executes approved plans: dependency-ordered dispatch on
// a bounded worker budget, streamed step progress, and failure recovery.
package workflow

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/telemetry"
)

// DefaultWorkers is the worker budget when none is configured. Device
// hosts keep this small.
const DefaultWorkers = 2

// Config tunes a Manager.
type Config struct {
	// Workers bounds how many steps run concurrently.
	Workers int
	// MaxRetries bounds retry recovery per step.
	MaxRetries int
	// StepTimeout bounds a single capability call. Zero means no bound.
	StepTimeout time.Duration
	// Recovery decides what to do about failed steps. Defaults to
	// DefaultRecovery.
	Recovery RecoveryHandler
	// Sink receives progress and status events.
	Sink EventSink
	// Metrics, when set, tracks the running-step gauge.
	Metrics *telemetry.Metrics
}

// Manager runs approved plans.
type Manager struct {
	registry    *capability.Registry
	perms       permissions.Checker
	recovery    RecoveryHandler
	workers     int64
	stepTimeout time.Duration
	sink        EventSink
	metrics     *telemetry.Metrics
}

func NewManager(registry *capability.Registry, perms permissions.Checker, cfg Config) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	recovery := cfg.Recovery
	if recovery == nil {
		retries := cfg.MaxRetries
		if retries <= 0 {
			retries = 2
		}
		recovery = &DefaultRecovery{Registry: registry, MaxRetries: retries}
	}
	return &Manager{
		registry:    registry,
		perms:       perms,
		recovery:    recovery,
		workers:     int64(workers),
		stepTimeout: cfg.StepTimeout,
		sink:        cfg.Sink,
		metrics:     cfg.Metrics,
	}
}

// Result is the outcome of executing one plan.
type Result struct {
	PlanID     string
	Status     plan.Status
	Executions []*plan.ToolExecution
	Outcomes   map[string]plan.StepOutcome
}

type stepResult struct {
	stepID    string
	attempt   int
	execution *plan.ToolExecution
	err       error
}

// Execute runs an approved plan to a terminal status. Cancelling ctx stops
// new dispatch; steps already running finish and their results are kept.
// Every step the plan names ends up with a ToolExecution record.
func (m *Manager) Execute(ctx context.Context, p *plan.ExecutionPlan) (*Result, error) {
	if err := p.Transition(plan.StatusExecuting); err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "plan not executable")
	}

	broker := NewBroker(m.sink)
	defer broker.Close()
	broker.Publish(plan.PlanStatusChanged(p.ID, plan.StatusExecuting))

	res := &Result{
		PlanID:   p.ID,
		Outcomes: make(map[string]plan.StepOutcome, len(p.Steps)),
	}

	pending := make(map[string]*plan.OperationStep, len(p.Steps))
	attempts := make(map[string]int, len(p.Steps))
	substitutes := make(map[string]capability.Capability)
	lastSuccess := make(map[string]*plan.ToolExecution)
	for i := range p.Steps {
		pending[p.Steps[i].ID] = &p.Steps[i]
	}

	sem := semaphore.NewWeighted(m.workers)
	results := make(chan stepResult)
	running := 0
	cancelled := false

	record := func(ex *plan.ToolExecution, outcome plan.StepOutcome, err error) {
		ex.Finish(outcome)
		if err != nil && ex.Error == "" {
			ex.Error = err.Error()
		}
		res.Executions = append(res.Executions, ex)
		res.Outcomes[ex.StepID] = outcome
		broker.Publish(plan.StepFinished(p.ID, ex.StepID, outcome, err))
	}

	dispatch := func(step *plan.OperationStep) {
		attempts[step.ID]++
		attempt := attempts[step.ID]
		cap := substitutes[step.ID]
		if cap == nil {
			cap, _ = m.registry.Get(step.Operation)
		}
		// Snapshot dependency results here, on the loop goroutine: the
		// step goroutine must not read lastSuccess while settle writes it.
		deps := make(map[string]*plan.ToolExecution, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if ex, ok := lastSuccess[dep]; ok {
				deps[dep] = ex
			}
		}
		delete(pending, step.ID)
		running++
		m.metrics.WorkerStarted()
		go m.runStep(ctx, p, step, cap, attempt, deps, broker, results)
	}

	for len(pending) > 0 || running > 0 {
		if cancelled {
			for id, step := range pending {
				ex := plan.NewExecution(p.ID, step)
				record(ex, plan.OutcomeCancelled, nil)
				delete(pending, id)
			}
		} else {
			for progress := true; progress; {
				progress = false
				for _, step := range pending {
					switch m.depState(step, res.Outcomes) {
					case depsBlocked:
						ex := plan.NewExecution(p.ID, step)
						ex.Error = "dependency did not complete"
						record(ex, plan.OutcomeSkipped, nil)
						delete(pending, step.ID)
						progress = true
					case depsReady:
						if sem.TryAcquire(1) {
							dispatch(step)
							progress = true
						}
					}
				}
			}
		}

		if running == 0 {
			if len(pending) > 0 && !cancelled {
				// Nothing running and nothing dispatchable: every pending
				// step waits on another pending step, so the dependency
				// graph is cyclic. Validation rejects such plans; refuse
				// instead of spinning.
				return nil, errors.New(errors.CodeInternal, "plan wedged: pending steps form a dependency cycle")
			}
			break
		}

		var done <-chan struct{}
		if !cancelled {
			done = ctx.Done()
		}
		select {
		case sr := <-results:
			sem.Release(1)
			running--
			m.metrics.WorkerDone()
			m.settle(p, sr, res.Outcomes, pending, substitutes, lastSuccess, record)
		case <-done:
			cancelled = true
		}
	}

	res.Status = finalStatus(p, res, cancelled)
	if err := p.Transition(res.Status); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "status transition")
	}
	broker.Publish(plan.PlanStatusChanged(p.ID, res.Status))
	return res, nil
}

// settle applies a step result, consulting the recovery handler on
// failure.
func (m *Manager) settle(
	p *plan.ExecutionPlan,
	sr stepResult,
	outcomes map[string]plan.StepOutcome,
	pending map[string]*plan.OperationStep,
	substitutes map[string]capability.Capability,
	lastSuccess map[string]*plan.ToolExecution,
	record func(*plan.ToolExecution, plan.StepOutcome, error),
) {
	step := p.Step(sr.stepID)
	if sr.err == nil {
		outcome := plan.OutcomeSucceeded
		if substitutes[sr.stepID] != nil {
			outcome = plan.OutcomeSubstituted
		}
		lastSuccess[sr.stepID] = sr.execution
		record(sr.execution, outcome, nil)
		return
	}

	recovery := m.recovery.HandleFailure(step, sr.attempt, sr.err)
	switch recovery.Action {
	case ActionRetry:
		record(sr.execution, plan.OutcomeFailed, sr.err)
		// The step gets another attempt: clear its outcome so dependents
		// keep waiting instead of cascading into skips.
		delete(outcomes, step.ID)
		pending[step.ID] = step
	case ActionSubstitute:
		record(sr.execution, plan.OutcomeFailed, sr.err)
		delete(outcomes, step.ID)
		substitutes[step.ID] = recovery.Substitute
		pending[step.ID] = step
	case ActionSkip:
		sr.execution.Reasoning = "skipped after failure: step is optional"
		record(sr.execution, plan.OutcomeSkipped, sr.err)
	default: // ActionAbort
		record(sr.execution, plan.OutcomeFailed, sr.err)
	}
}

type depState int

const (
	depsWaiting depState = iota
	depsReady
	depsBlocked
)

// depState classifies a pending step: ready when every dependency
// succeeded, blocked when any dependency failed, was skipped, or was
// cancelled. A retried dependency is waiting, not blocked, while it is
// back in the pending set or running.
func (m *Manager) depState(step *plan.OperationStep, outcomes map[string]plan.StepOutcome) depState {
	state := depsReady
	for _, dep := range step.DependsOn {
		outcome, done := outcomes[dep]
		if !done {
			state = depsWaiting
			continue
		}
		switch outcome {
		case plan.OutcomeSucceeded, plan.OutcomeSubstituted:
		default:
			return depsBlocked
		}
	}
	return state
}

// runStep executes one attempt of a step. The capability call gets a
// context detached from plan cancellation so an in-flight call always runs
// to completion, bounded only by the step timeout. deps is the dispatch-time
// snapshot of the step's dependency executions.
func (m *Manager) runStep(
	ctx context.Context,
	p *plan.ExecutionPlan,
	step *plan.OperationStep,
	cap capability.Capability,
	attempt int,
	deps map[string]*plan.ToolExecution,
	broker *Broker,
	results chan<- stepResult,
) {
	ex := plan.NewExecution(p.ID, step)
	if cap == nil {
		results <- stepResult{stepID: step.ID, attempt: attempt, execution: ex,
			err: errors.Newf(errors.CodeValidationUnknownTool, "unknown tool %q", step.Operation)}
		return
	}
	ex.Tool = cap.Name()

	// Permission state may have changed since approval.
	if missing := permissions.Missing(m.perms, cap.RequiredPermissions()); len(missing) > 0 {
		results <- stepResult{stepID: step.ID, attempt: attempt, execution: ex,
			err: errors.Newf(errors.CodeValidationPermission, "permission %s not granted", missing[0])}
		return
	}

	params := mergeParams(step, cap, deps)
	ex.Args = params

	onProgress := func(message string) {
		broker.Publish(plan.StepProgress(p.ID, step.ID, message))
	}

	callCtx := context.WithoutCancel(ctx)
	if m.stepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, m.stepTimeout)
		defer cancel()
	}
	result, err := cap.ExecuteStreaming(callCtx, params, onProgress)
	ex.Result = result
	if err != nil {
		code := errors.CodeExecutionFailed
		message := cap.Name() + " failed"
		if stderrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			code = errors.CodeExecutionTimeout
			message = cap.Name() + " timed out"
		}
		results <- stepResult{stepID: step.ID, attempt: attempt, execution: ex,
			err: errors.Wrap(err, code, message)}
		return
	}
	if result != nil && !result.Success {
		results <- stepResult{stepID: step.ID, attempt: attempt, execution: ex,
			err: errors.Newf(errors.CodeExecutionFailed, "%s reported failure: %s", cap.Name(), result.Message)}
		return
	}
	results <- stepResult{stepID: step.ID, attempt: attempt, execution: ex}
}

// mergeParams combines the step's planned params with data produced by its
// dependencies, read from the dispatch-time snapshot. A produced value
// keyed by a data kind the capability consumes flows in unless the plan
// already pinned that param.
func mergeParams(step *plan.OperationStep, cap capability.Capability, deps map[string]*plan.ToolExecution) map[string]any {
	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	consumes := cap.Consumes()
	for _, dep := range step.DependsOn {
		ex, ok := deps[dep]
		if !ok || ex.Result == nil {
			continue
		}
		for k, v := range ex.Result.Data {
			for _, kind := range consumes {
				if string(kind) == k {
					if _, pinned := step.Params[k]; !pinned {
						params[k] = v
					}
				}
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// finalStatus derives the terminal plan status from step outcomes.
func finalStatus(p *plan.ExecutionPlan, res *Result, cancelled bool) plan.Status {
	if cancelled {
		return plan.StatusCancelled
	}
	if len(p.Steps) == 0 {
		return plan.StatusCompleted
	}

	succeeded, failed := 0, 0
	requiredIncomplete := false
	for i := range p.Steps {
		step := &p.Steps[i]
		switch res.Outcomes[step.ID] {
		case plan.OutcomeSucceeded, plan.OutcomeSubstituted:
			succeeded++
		case plan.OutcomeSkipped:
			if !step.Optional {
				requiredIncomplete = true
			}
		default:
			failed++
			requiredIncomplete = true
		}
	}
	switch {
	case failed == 0 && !requiredIncomplete:
		return plan.StatusCompleted
	case succeeded > 0:
		return plan.StatusPartiallyCompleted
	default:
		return plan.StatusFailed
	}
}
