// Package orchestrator runs one turn end to end: intent analysis,
// planning, validation, the safety gate, execution, and synthesis. Each
// phase is traced and appended to the audit log.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sidekicklabs/sidekick/pkg/audit"
	"github.com/sidekicklabs/sidekick/pkg/bus"
	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/config"
	"github.com/sidekicklabs/sidekick/pkg/conversation"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/intent"
	"github.com/sidekicklabs/sidekick/pkg/logging"
	"github.com/sidekicklabs/sidekick/pkg/model"
	"github.com/sidekicklabs/sidekick/pkg/observability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/planner"
	"github.com/sidekicklabs/sidekick/pkg/safety"
	"github.com/sidekicklabs/sidekick/pkg/synth"
	"github.com/sidekicklabs/sidekick/pkg/telemetry"
	"github.com/sidekicklabs/sidekick/pkg/workflow"
)

// Confirmer answers the safety gate's confirmation prompt. Returning
// DecisionModify with a plan replaces the pending plan, which is then
// re-validated and re-checked.
type Confirmer interface {
	Confirm(ctx context.Context, preview safety.PlanPreview, report safety.SecurityReport) (safety.Decision, *plan.ExecutionPlan, error)
}

// Options wires an Orchestrator.
type Options struct {
	Registry  *capability.Registry
	Perms     permissions.Checker
	Generator model.Generator
	Confirmer Confirmer
	Audit     audit.Sink
	Bus       bus.MessageBus
	Logger    *logging.Logger
	Metrics   *telemetry.Metrics
	History   *conversation.Memory
	Config    *config.Config
}

// Orchestrator runs turns against a sealed capability registry.
type Orchestrator struct {
	registry  *capability.Registry
	perms     permissions.Checker
	analyzer  *intent.Analyzer
	planner   *planner.Planner
	validator *planner.Validator
	checker   *safety.Checker
	synth     *synth.Synthesizer
	confirmer Confirmer
	audit     audit.Sink
	bus       bus.MessageBus
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	history   *conversation.Memory
	cfg       *config.Config
}

func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sink := opts.Audit
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	history := opts.History
	if history == nil {
		history = conversation.NewMemory(50)
	}
	return &Orchestrator{
		registry:  opts.Registry,
		perms:     opts.Perms,
		analyzer:  intent.NewAnalyzer(opts.Registry),
		planner:   planner.New(opts.Registry, opts.Perms),
		validator: planner.NewValidator(opts.Registry, opts.Perms),
		checker:   safety.NewChecker(opts.Registry, opts.Perms),
		synth: synth.New(opts.Generator, cfg.Generation.Model,
			cfg.Generation.Temperature, cfg.Generation.MaxContextTokens),
		confirmer: opts.Confirmer,
		audit:     sink,
		bus:       opts.Bus,
		logger:    logger,
		metrics:   opts.Metrics,
		history:   history,
		cfg:       cfg,
	}
}

// TurnResult is everything a turn produced.
type TurnResult struct {
	Plan       *plan.ExecutionPlan
	Report     safety.SecurityReport
	Executions []*plan.ToolExecution
	Response   string
}

// StartTurn runs the turn on its own goroutine and delivers the result on
// the returned channel.
func (o *Orchestrator) StartTurn(ctx context.Context, request string, deviceCtx intent.DeviceContext) <-chan TurnOutcome {
	out := make(chan TurnOutcome, 1)
	go func() {
		result, err := o.RunTurn(ctx, request, deviceCtx)
		out <- TurnOutcome{Result: result, Err: err}
		close(out)
	}()
	return out
}

// TurnOutcome pairs a turn result with its error for channel delivery.
type TurnOutcome struct {
	Result *TurnResult
	Err    error
}

// RunTurn executes the turn state machine. Input, planning, and validation
// errors fail the turn; execution failures are scoped to their steps; a
// synthesis failure falls back to a deterministic summary.
func (o *Orchestrator) RunTurn(ctx context.Context, request string, deviceCtx intent.DeviceContext) (*TurnResult, error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "turn",
		trace.WithAttributes(attribute.String("request", request)))
	defer span.End()

	analysis, err := o.analyzePhase(ctx, request, deviceCtx)
	if err != nil {
		return nil, err
	}

	p, err := o.planPhase(ctx, analysis)
	if err != nil {
		return nil, err
	}
	log := o.logger.WithPlan(p.ID)
	span.SetAttributes(attribute.String("plan_id", p.ID))

	if err := o.validatePhase(ctx, p, log); err != nil {
		return nil, err
	}

	report, proceed, err := o.safetyPhase(ctx, p, log)
	if err != nil {
		return nil, err
	}
	result := &TurnResult{Plan: p, Report: report}
	if !proceed {
		result.Response = "Okay, I won't do that."
		o.finishTurn(p, result, started)
		return result, nil
	}

	if len(p.Steps) == 0 {
		// Direct response: nothing for the executor to run.
		if err := p.Transition(plan.StatusExecuting); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "complete plan")
		}
		if err := p.Transition(plan.StatusCompleted); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "complete plan")
		}
		o.emit(ctx, plan.PlanStatusChanged(p.ID, plan.StatusCompleted))
	} else {
		execResult, err := o.executePhase(ctx, p, log)
		if err != nil {
			return nil, err
		}
		result.Executions = execResult.Executions
	}

	result.Response = o.synthesisPhase(ctx, p, result.Executions, log)
	o.history.Append(conversation.RoleUser, request)
	o.history.Append(conversation.RoleAssistant, result.Response)
	o.finishTurn(p, result, started)
	return result, nil
}

func (o *Orchestrator) analyzePhase(ctx context.Context, request string, deviceCtx intent.DeviceContext) (*intent.Analysis, error) {
	ctx, span := observability.StartSpan(ctx, "turn.intent")
	defer span.End()

	analysis, err := o.analyzer.Analyze(request, deviceCtx, o.history)
	if err != nil {
		observability.RecordError(ctx, err)
		o.logger.Warn(logging.CategoryIntent, "intent analysis rejected request",
			map[string]any{"error": err.Error()})
		return nil, err
	}
	o.logger.Info(logging.CategoryIntent, "intent analyzed", map[string]any{
		"capabilities": analysis.RequiredCapabilities,
		"confidence":   analysis.Confidence,
	})
	return analysis, nil
}

func (o *Orchestrator) planPhase(ctx context.Context, analysis *intent.Analysis) (*plan.ExecutionPlan, error) {
	ctx, span := observability.StartSpan(ctx, "turn.planning")
	defer span.End()

	p, err := o.planner.BuildPlan(analysis)
	if err != nil {
		observability.RecordError(ctx, err)
		o.logger.Warn(logging.CategoryPlanning, "planning failed",
			map[string]any{"error": err.Error()})
		return nil, err
	}

	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhasePlanning))
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhasePlanning))
	o.logger.WithPlan(p.ID).Info(logging.CategoryPlanning, "plan built", map[string]any{
		"steps":    len(p.Steps),
		"risk":     p.Risk.String(),
		"estimate": p.Estimate.String(),
	})
	return p, nil
}

func (o *Orchestrator) validatePhase(ctx context.Context, p *plan.ExecutionPlan, log *logging.Logger) error {
	ctx, span := observability.StartSpan(ctx, "turn.validation")
	defer span.End()
	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhaseValidation))

	res := o.validator.Validate(p)
	if !res.Valid {
		err := res.Err()
		observability.RecordError(ctx, err)
		o.emit(ctx, plan.PhaseFailed(p.ID, plan.PhaseValidation, err))
		log.Error(logging.CategoryValidation, "plan rejected", map[string]any{
			"errors": res.Errors,
		})
		return err
	}
	if len(res.Warnings) > 0 {
		log.Warn(logging.CategoryValidation, "plan has warnings", map[string]any{
			"warnings": res.Warnings,
		})
	}
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseValidation))
	return nil
}

// safetyPhase gates the plan. It returns proceed=false when the user
// cancelled; the plan is then already in its terminal Cancelled state.
func (o *Orchestrator) safetyPhase(ctx context.Context, p *plan.ExecutionPlan, log *logging.Logger) (safety.SecurityReport, bool, error) {
	ctx, span := observability.StartSpan(ctx, "turn.safety")
	defer span.End()
	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhaseSafety))

	report := o.checker.Check(p)
	log.Info(logging.CategorySafety, "risk assessed", map[string]any{
		"aggregate":     report.AggregateRisk.String(),
		"auto_approved": report.AutoApproved,
		"flagged":       len(report.Flagged),
	})
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseSafety))

	if !report.AutoApproved {
		decision, modified, err := o.confirmPhase(ctx, p, report)
		if err != nil {
			return report, false, err
		}
		switch decision {
		case safety.DecisionAccept:
		case safety.DecisionModify:
			if modified == nil {
				return report, false, errors.New(errors.CodeValidationRejected, "modify decision without a plan")
			}
			*p = *modified
			if err := o.validatePhase(ctx, p, log); err != nil {
				return report, false, err
			}
			return o.safetyPhase(ctx, p, log)
		default: // DecisionCancel
			if err := p.Transition(plan.StatusCancelled); err != nil {
				return report, false, errors.Wrap(err, errors.CodeInternal, "cancel plan")
			}
			o.emit(ctx, plan.PlanStatusChanged(p.ID, plan.StatusCancelled))
			log.Info(logging.CategorySafety, "user cancelled plan", nil)
			return report, false, nil
		}
	}

	if err := p.Transition(plan.StatusApproved); err != nil {
		return report, false, errors.Wrap(err, errors.CodeInternal, "approve plan")
	}
	o.emit(ctx, plan.PlanStatusChanged(p.ID, plan.StatusApproved))
	return report, true, nil
}

func (o *Orchestrator) confirmPhase(ctx context.Context, p *plan.ExecutionPlan, report safety.SecurityReport) (safety.Decision, *plan.ExecutionPlan, error) {
	ctx, span := observability.StartSpan(ctx, "turn.confirmation")
	defer span.End()
	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhaseConfirmation))

	if o.confirmer == nil {
		o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseConfirmation))
		return safety.DecisionCancel, nil, nil
	}

	confirmCtx := ctx
	if o.cfg.Safety.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, o.cfg.Safety.ConfirmTimeout)
		defer cancel()
	}

	preview := o.checker.Preview(p, report)
	decision, modified, err := o.confirmer.Confirm(confirmCtx, preview, report)
	if err != nil {
		// An expired or failed prompt is a cancellation, not a turn error.
		o.emit(ctx, plan.PhaseFailed(p.ID, plan.PhaseConfirmation, err))
		return safety.DecisionCancel, nil, nil
	}
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseConfirmation))
	return decision, modified, nil
}

func (o *Orchestrator) executePhase(ctx context.Context, p *plan.ExecutionPlan, log *logging.Logger) (*workflow.Result, error) {
	ctx, span := observability.StartSpan(ctx, "turn.execution",
		trace.WithAttributes(attribute.Int("steps", len(p.Steps))))
	defer span.End()
	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhaseExecution))

	sink := func(ev plan.PhaseEvent) {
		o.emit(ctx, ev)
		if ev.Kind == plan.EventStepProgress {
			log.Debug(logging.CategoryWorkflow, ev.Message, map[string]any{"step": ev.StepID})
		}
	}
	manager := workflow.NewManager(o.registry, o.perms, workflow.Config{
		Workers:     o.cfg.Workflow.Workers,
		MaxRetries:  o.cfg.Workflow.MaxRetries,
		StepTimeout: o.cfg.Workflow.StepTimeout,
		Sink:        sink,
		Metrics:     o.metrics,
	})

	result, err := manager.Execute(ctx, p)
	if err != nil {
		observability.RecordError(ctx, err)
		o.emit(ctx, plan.PhaseFailed(p.ID, plan.PhaseExecution, err))
		return nil, err
	}

	for _, ex := range result.Executions {
		if aerr := o.audit.AppendExecution(ctx, ex); aerr != nil {
			log.Error(logging.CategoryAudit, "audit append failed", map[string]any{"error": aerr.Error()})
		}
		o.metrics.ObserveStep(ex.Tool, string(ex.Outcome), ex.Duration())
	}
	log.Info(logging.CategoryWorkflow, "plan executed", map[string]any{
		"status":     string(result.Status),
		"executions": len(result.Executions),
	})
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseExecution))
	return result, nil
}

func (o *Orchestrator) synthesisPhase(ctx context.Context, p *plan.ExecutionPlan, executions []*plan.ToolExecution, log *logging.Logger) string {
	ctx, span := observability.StartSpan(ctx, "turn.synthesis")
	defer span.End()
	o.emit(ctx, plan.PhaseStarted(p.ID, plan.PhaseSynthesis))

	response, err := o.synth.Synthesize(ctx, p, executions, o.history)
	if err != nil {
		// The fallback response is already usable; record and move on.
		observability.RecordError(ctx, err)
		o.emit(ctx, plan.PhaseFailed(p.ID, plan.PhaseSynthesis, err))
		log.Warn(logging.CategorySynthesis, "generation failed, using fallback",
			map[string]any{"error": err.Error()})
		return response
	}
	o.emit(ctx, plan.PhaseCompleted(p.ID, plan.PhaseSynthesis))
	return response
}

func (o *Orchestrator) finishTurn(p *plan.ExecutionPlan, result *TurnResult, started time.Time) {
	o.metrics.ObserveTurn(string(p.Status), len(p.Steps), time.Since(started))
}

// emit appends an event to the audit log and publishes it on the bus. The
// audit write survives turn cancellation: a cancelled plan still gets its
// terminal events recorded.
func (o *Orchestrator) emit(ctx context.Context, ev plan.PhaseEvent) {
	ctx = context.WithoutCancel(ctx)
	if err := o.audit.AppendEvent(ctx, ev); err != nil {
		o.logger.Error(logging.CategoryAudit, "audit append failed",
			map[string]any{"error": err.Error()})
	}
	if o.bus != nil {
		if err := bus.PublishEvent(ctx, o.bus, ev); err != nil {
			o.logger.Warn(logging.CategoryBus, "event publish failed",
				map[string]any{"error": err.Error()})
		}
	}
}

// Events exposes the audit trail for a plan.
func (o *Orchestrator) Events(ctx context.Context, planID string) ([]plan.PhaseEvent, error) {
	return o.audit.Events(ctx, planID)
}
