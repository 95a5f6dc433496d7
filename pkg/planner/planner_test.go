package planner

import (
	"context"
	"testing"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/intent"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/plan"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

type fakeCap struct {
	name     string
	domain   capability.Domain
	perms    []permissions.Permission
	level    risk.Level
	produces []capability.DataKind
	consumes []capability.DataKind
	keywords []string
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
func (f *fakeCap) ExecuteStreaming(context.Context, map[string]any, capability.ProgressFunc) (*capability.Result, error) {
	return &capability.Result{Success: true}, nil
}

func buildRegistry(t *testing.T, caps ...*fakeCap) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.name, err)
		}
	}
	reg.Seal()
	return reg
}

func camera() *fakeCap {
	return &fakeCap{
		name: "camera_capture", domain: capability.DomainMedia,
		perms: []permissions.Permission{permissions.Camera}, level: risk.Medium,
		produces: []capability.DataKind{capability.DataImage},
		keywords: []string{"photo", "camera"},
	}
}

func ocr() *fakeCap {
	return &fakeCap{
		name: "text_recognition", domain: capability.DomainVision, level: risk.Low,
		consumes: []capability.DataKind{capability.DataImage},
		produces: []capability.DataKind{capability.DataText},
		keywords: []string{"read", "text"},
	}
}

func battery() *fakeCap {
	return &fakeCap{
		name: "battery_status", domain: capability.DomainDevice, level: risk.Low,
		produces: []capability.DataKind{capability.DataDeviceState},
		keywords: []string{"battery"},
	}
}

func grantedState(perms ...permissions.Permission) *permissions.State {
	st := permissions.NewState()
	for _, p := range perms {
		st.Grant(p)
	}
	return st
}

func TestBuildPlanSingleStep(t *testing.T) {
	reg := buildRegistry(t, battery())
	p := New(reg, grantedState())

	got, err := p.BuildPlan(&intent.Analysis{
		Request:              "what's my battery level",
		RequiredCapabilities: []string{"battery_status"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(got.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(got.Steps))
	}
	if got.Steps[0].Operation != "battery_status" {
		t.Errorf("operation = %q", got.Steps[0].Operation)
	}
	if got.Status != plan.StatusDraft {
		t.Errorf("status = %s, want draft", got.Status)
	}
}

func TestBuildPlanZeroSteps(t *testing.T) {
	reg := buildRegistry(t, battery())
	p := New(reg, grantedState())

	got, err := p.BuildPlan(&intent.Analysis{Request: "tell me a joke"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(got.Steps) != 0 {
		t.Errorf("steps = %d, want 0", len(got.Steps))
	}
}

func TestBuildPlanWiresConsumerDependency(t *testing.T) {
	reg := buildRegistry(t, camera(), ocr())
	p := New(reg, grantedState(permissions.Camera))

	got, err := p.BuildPlan(&intent.Analysis{
		Request:              "take a photo and read the text",
		RequiredCapabilities: []string{"camera_capture", "text_recognition"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	var captureID string
	for _, s := range got.Steps {
		if s.Operation == "camera_capture" {
			captureID = s.ID
		}
	}
	for _, s := range got.Steps {
		if s.Operation == "text_recognition" {
			if len(s.DependsOn) != 1 || s.DependsOn[0] != captureID {
				t.Errorf("ocr depends on %v, want [%s]", s.DependsOn, captureID)
			}
		}
	}
}

func TestBuildPlanAddsMissingProducer(t *testing.T) {
	reg := buildRegistry(t, camera(), ocr())
	p := New(reg, grantedState(permissions.Camera))

	// Only OCR required; the planner must pull in a producer for its
	// consumed image.
	got, err := p.BuildPlan(&intent.Analysis{
		Request:              "read the text",
		RequiredCapabilities: []string{"text_recognition"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want capture + ocr", len(got.Steps))
	}
}

func TestBuildPlanNoToolForCapability(t *testing.T) {
	reg := buildRegistry(t, battery())
	p := New(reg, grantedState())

	_, err := p.BuildPlan(&intent.Analysis{
		Request:              "take a photo",
		RequiredCapabilities: []string{"camera_capture"},
	})
	if !errors.IsCode(err, errors.CodePlanningNoTool) {
		t.Fatalf("expected planning error, got %v", err)
	}
}

func TestBuildPlanNoProducerForConsumedKind(t *testing.T) {
	reg := buildRegistry(t, ocr())
	p := New(reg, grantedState())

	_, err := p.BuildPlan(&intent.Analysis{
		Request:              "read the text",
		RequiredCapabilities: []string{"text_recognition"},
	})
	if !errors.IsCode(err, errors.CodePlanningNoTool) {
		t.Fatalf("expected planning error, got %v", err)
	}
}

func TestBuildPlanTieBreaksTowardGrantedPermissions(t *testing.T) {
	gated := camera()
	open := &fakeCap{
		name: "screen_capture", domain: capability.DomainMedia, level: risk.Medium,
		produces: []capability.DataKind{capability.DataImage},
		keywords: []string{"photo", "camera"},
	}
	reg := buildRegistry(t, gated, open)
	p := New(reg, grantedState()) // camera permission not granted

	got, err := p.BuildPlan(&intent.Analysis{
		Request:              "take a photo",
		RequiredCapabilities: []string{"camera_capture", "screen_capture"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(got.Steps) != 1 || got.Steps[0].Operation != "screen_capture" {
		t.Errorf("steps = %+v, want single screen_capture step", got.Steps)
	}
}

func TestBuildPlanIsAcyclic(t *testing.T) {
	reg := buildRegistry(t, camera(), ocr(), battery())
	p := New(reg, grantedState(permissions.Camera))
	v := NewValidator(reg, grantedState(permissions.Camera))

	got, err := p.BuildPlan(&intent.Analysis{
		Request:              "take a photo, read the text, check battery",
		RequiredCapabilities: []string{"camera_capture", "text_recognition", "battery_status"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if hasCycle(got.Steps) {
		t.Error("planner produced a cyclic plan")
	}
	if res := v.Validate(got); !res.Valid {
		t.Errorf("planner output failed validation: %v", res.Errors)
	}
}
