package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sidekicklabs/sidekick/pkg/audit"
	"github.com/sidekicklabs/sidekick/pkg/bus"
	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/intent"
	"github.com/sidekicklabs/sidekick/pkg/model"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/risk"
	"github.com/sidekicklabs/sidekick/pkg/safety"
)

type fakeCap struct {
	name     string
	domain   capability.Domain
	perms    []permissions.Permission
	level    risk.Level
	produces []capability.DataKind
	consumes []capability.DataKind
	keywords []string
	execute  func(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error)
}

func (f *fakeCap) Name() string                                  { return f.name }
func (f *fakeCap) Description() string                           { return "fake " + f.name }
func (f *fakeCap) Domain() capability.Domain                     { return f.domain }
func (f *fakeCap) RequiredPermissions() []permissions.Permission { return f.perms }
func (f *fakeCap) RiskLevel() risk.Level                         { return f.level }
func (f *fakeCap) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{Type: "object"}
}
func (f *fakeCap) ValidateParams(map[string]any) error { return nil }
func (f *fakeCap) Produces() []capability.DataKind     { return f.produces }
func (f *fakeCap) Consumes() []capability.DataKind     { return f.consumes }
func (f *fakeCap) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, f.keywords)
}
func (f *fakeCap) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	if f.execute != nil {
		return f.execute(ctx, params, onProgress)
	}
	return &capability.Result{Success: true, Message: f.name + " done"}, nil
}

type staticGenerator struct{ text string }

func (g staticGenerator) Generate(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	if g.text == "" {
		return nil, fmt.Errorf("generator down")
	}
	return &model.ChatResponse{Content: g.text}, nil
}

type staticConfirmer struct {
	decision safety.Decision
	called   bool
}

func (c *staticConfirmer) Confirm(ctx context.Context, preview safety.PlanPreview, report safety.SecurityReport) (safety.Decision, *plan.ExecutionPlan, error) {
	c.called = true
	return c.decision, nil, nil
}

func newOrchestrator(t *testing.T, perms permissions.Checker, confirmer Confirmer, caps ...*fakeCap) (*Orchestrator, *audit.MemorySink) {
	t.Helper()
	reg := capability.NewRegistry()
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.name, err)
		}
	}
	reg.Seal()
	sink := audit.NewMemorySink()
	o := New(Options{
		Registry:  reg,
		Perms:     perms,
		Generator: staticGenerator{text: "All done."},
		Confirmer: confirmer,
		Audit:     sink,
		Bus:       bus.NewMemoryBus(),
	})
	return o, sink
}

func batteryCap() *fakeCap {
	return &fakeCap{
		name: "battery_status", domain: capability.DomainDevice, level: risk.Low,
		produces: []capability.DataKind{capability.DataDeviceState},
		keywords: []string{"battery", "charge"},
		execute: func(_ context.Context, _ map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
			onProgress("Reading battery state")
			return &capability.Result{Success: true, Message: "Battery at 80%",
				Data: map[string]any{"device_state": "battery=80"}}, nil
		},
	}
}

func TestTurnSingleStepCompletes(t *testing.T) {
	o, sink := newOrchestrator(t, permissions.NewState(), nil, batteryCap())

	result, err := o.RunTurn(context.Background(), "what's my battery level?", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Plan.Status != plan.StatusCompleted {
		t.Errorf("status = %s", result.Plan.Status)
	}
	if len(result.Executions) != 1 || result.Executions[0].Tool != "battery_status" {
		t.Errorf("executions = %+v", result.Executions)
	}
	if result.Response != "All done." {
		t.Errorf("response = %q", result.Response)
	}

	events, err := sink.Events(context.Background(), result.Plan.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var phases []plan.Phase
	for _, ev := range events {
		if ev.Kind == plan.EventPhaseStarted {
			phases = append(phases, ev.Phase)
		}
	}
	want := []plan.Phase{plan.PhasePlanning, plan.PhaseValidation, plan.PhaseSafety, plan.PhaseExecution, plan.PhaseSynthesis}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestTurnPipelineOrdersProducerBeforeConsumer(t *testing.T) {
	var order []string
	camera := &fakeCap{
		name: "camera_capture", domain: capability.DomainMedia, level: risk.Medium,
		perms:    []permissions.Permission{permissions.Camera},
		produces: []capability.DataKind{capability.DataImage},
		keywords: []string{"photo", "picture"},
		execute: func(context.Context, map[string]any, capability.ProgressFunc) (*capability.Result, error) {
			order = append(order, "camera_capture")
			return &capability.Result{Success: true, Data: map[string]any{"image": "img-9"}}, nil
		},
	}
	ocr := &fakeCap{
		name: "text_recognition", domain: capability.DomainVision, level: risk.Low,
		consumes: []capability.DataKind{capability.DataImage},
		produces: []capability.DataKind{capability.DataText},
		keywords: []string{"read", "text"},
		execute: func(_ context.Context, params map[string]any, _ capability.ProgressFunc) (*capability.Result, error) {
			order = append(order, "text_recognition")
			if params["image"] != "img-9" {
				return nil, fmt.Errorf("no image flowed in")
			}
			return &capability.Result{Success: true, Message: "Found: hello"}, nil
		},
	}
	st := permissions.NewState()
	st.Grant(permissions.Camera)
	o, _ := newOrchestrator(t, st, nil, camera, ocr)

	result, err := o.RunTurn(context.Background(), "take a picture and read the text", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Plan.Status != plan.StatusCompleted {
		t.Fatalf("status = %s", result.Plan.Status)
	}
	if len(order) != 2 || order[0] != "camera_capture" || order[1] != "text_recognition" {
		t.Errorf("order = %v", order)
	}
}

func TestTurnNoProducerIsPlanningError(t *testing.T) {
	ocr := &fakeCap{
		name: "text_recognition", domain: capability.DomainVision, level: risk.Low,
		consumes: []capability.DataKind{capability.DataImage},
		keywords: []string{"read", "text"},
	}
	o, _ := newOrchestrator(t, permissions.NewState(), nil, ocr)

	_, err := o.RunTurn(context.Background(), "read the text", intent.DeviceContext{})
	if !errors.IsCode(err, errors.CodePlanningNoTool) {
		t.Fatalf("err = %v, want planning error", err)
	}
}

func TestTurnHighRiskCancelledByUser(t *testing.T) {
	executed := false
	location := &fakeCap{
		name: "current_location", domain: capability.DomainLocation, level: risk.High,
		perms:    []permissions.Permission{permissions.Location},
		produces: []capability.DataKind{capability.DataCoordinates},
		keywords: []string{"location", "where"},
		execute: func(context.Context, map[string]any, capability.ProgressFunc) (*capability.Result, error) {
			executed = true
			return &capability.Result{Success: true}, nil
		},
	}
	st := permissions.NewState()
	st.Grant(permissions.Location)
	confirmer := &staticConfirmer{decision: safety.DecisionCancel}
	o, _ := newOrchestrator(t, st, confirmer, location)

	result, err := o.RunTurn(context.Background(), "where am I?", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !confirmer.called {
		t.Error("high-risk plan skipped confirmation")
	}
	if result.Plan.Status != plan.StatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Plan.Status)
	}
	if executed {
		t.Error("cancelled plan still executed a step")
	}
	if len(result.Executions) != 0 {
		t.Errorf("executions = %d, want 0", len(result.Executions))
	}
}

func TestTurnHighRiskAcceptedByUser(t *testing.T) {
	location := &fakeCap{
		name: "current_location", domain: capability.DomainLocation, level: risk.High,
		perms:    []permissions.Permission{permissions.Location},
		produces: []capability.DataKind{capability.DataCoordinates},
		keywords: []string{"location", "where"},
	}
	st := permissions.NewState()
	st.Grant(permissions.Location)
	confirmer := &staticConfirmer{decision: safety.DecisionAccept}
	o, _ := newOrchestrator(t, st, confirmer, location)

	result, err := o.RunTurn(context.Background(), "where am I?", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Plan.Status != plan.StatusCompleted {
		t.Errorf("status = %s", result.Plan.Status)
	}
}

func TestTurnMidFailurePartiallyCompletes(t *testing.T) {
	camera := &fakeCap{
		name: "camera_capture", domain: capability.DomainMedia, level: risk.Low,
		produces: []capability.DataKind{capability.DataImage},
		keywords: []string{"inspect"},
	}
	ocr := &fakeCap{
		name: "text_recognition", domain: capability.DomainVision, level: risk.Low,
		consumes: []capability.DataKind{capability.DataImage},
		produces: []capability.DataKind{capability.DataText},
		keywords: []string{"inspect"},
		execute: func(context.Context, map[string]any, capability.ProgressFunc) (*capability.Result, error) {
			return nil, fmt.Errorf("blurry image")
		},
	}
	notify := &fakeCap{
		name: "summarize_text", domain: capability.DomainGeneral, level: risk.Low,
		consumes: []capability.DataKind{capability.DataText},
		keywords: []string{"inspect"},
	}
	o, _ := newOrchestrator(t, permissions.NewState(), nil, camera, ocr, notify)

	result, err := o.RunTurn(context.Background(), "inspect this label", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Plan.Status != plan.StatusPartiallyCompleted {
		t.Fatalf("status = %s, want partially completed", result.Plan.Status)
	}

	outcomes := make(map[string]plan.StepOutcome)
	for _, ex := range result.Executions {
		outcomes[ex.Tool] = ex.Outcome
	}
	if outcomes["camera_capture"] != plan.OutcomeSucceeded {
		t.Errorf("camera = %s", outcomes["camera_capture"])
	}
	if outcomes["text_recognition"] != plan.OutcomeFailed {
		t.Errorf("ocr = %s", outcomes["text_recognition"])
	}
	if outcomes["summarize_text"] != plan.OutcomeSkipped {
		t.Errorf("summarize = %s", outcomes["summarize_text"])
	}
	// The response still reports the partial results.
	if result.Response == "" {
		t.Error("empty response for partial completion")
	}
}

func TestTurnEmptyRequestIsInputError(t *testing.T) {
	o, _ := newOrchestrator(t, permissions.NewState(), nil, batteryCap())
	_, err := o.RunTurn(context.Background(), "  ", intent.DeviceContext{})
	if !errors.IsCode(err, errors.CodeInputEmpty) {
		t.Fatalf("err = %v", err)
	}
}

func TestTurnDirectResponseWithoutSteps(t *testing.T) {
	o, sink := newOrchestrator(t, permissions.NewState(), nil, batteryCap())
	result, err := o.RunTurn(context.Background(), "tell me a joke", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(result.Plan.Steps) != 0 {
		t.Errorf("steps = %d", len(result.Plan.Steps))
	}
	if result.Plan.Status != plan.StatusCompleted {
		t.Errorf("status = %s", result.Plan.Status)
	}
	if result.Response == "" {
		t.Error("empty response")
	}

	// A zero-step plan bypasses the executor entirely.
	events, err := sink.Events(context.Background(), result.Plan.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	for _, ev := range events {
		if ev.Phase == plan.PhaseExecution {
			t.Errorf("unexpected execution phase event: %+v", ev)
		}
	}
}

func TestConcurrentTurnsShareHistorySafely(t *testing.T) {
	o, _ := newOrchestrator(t, permissions.NewState(), nil, batteryCap())

	first := o.StartTurn(context.Background(), "what's my battery level?", intent.DeviceContext{})
	second := o.StartTurn(context.Background(), "battery again please", intent.DeviceContext{})

	for _, ch := range []<-chan TurnOutcome{first, second} {
		select {
		case outcome := <-ch:
			if outcome.Err != nil {
				t.Fatalf("turn error: %v", outcome.Err)
			}
			if outcome.Result.Plan.Status != plan.StatusCompleted {
				t.Errorf("status = %s", outcome.Result.Plan.Status)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("turn did not finish")
		}
	}
}

func TestTurnSynthesisFailureFallsBack(t *testing.T) {
	reg := capability.NewRegistry()
	c := batteryCap()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	reg.Seal()
	o := New(Options{
		Registry:  reg,
		Perms:     permissions.NewState(),
		Generator: staticGenerator{}, // always errors
		Audit:     audit.NewMemorySink(),
	})

	result, err := o.RunTurn(context.Background(), "check the battery", intent.DeviceContext{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Plan.Status != plan.StatusCompleted {
		t.Errorf("status = %s", result.Plan.Status)
	}
	if !strings.Contains(result.Response, "Battery at 80%") {
		t.Errorf("fallback response = %q", result.Response)
	}
}

func TestStartTurnDeliversResult(t *testing.T) {
	o, _ := newOrchestrator(t, permissions.NewState(), nil, batteryCap())

	select {
	case outcome := <-o.StartTurn(context.Background(), "battery?", intent.DeviceContext{}):
		if outcome.Err != nil {
			t.Fatalf("err = %v", outcome.Err)
		}
		if outcome.Result.Plan.Status != plan.StatusCompleted {
			t.Errorf("status = %s", outcome.Result.Plan.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
}
