package intent

import (
	"context"
	"testing"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/conversation"
	"github.com/sidekicklabs/sidekick/pkg/errors"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

type fakeCap struct {
	name     string
	domain   capability.Domain
	keywords []string
}

func (f *fakeCap) Name() string                                      { return f.name }
func (f *fakeCap) Description() string                               { return f.name }
func (f *fakeCap) Domain() capability.Domain                         { return f.domain }
func (f *fakeCap) RequiredPermissions() []permissions.Permission     { return nil }
func (f *fakeCap) RiskLevel() risk.Level                             { return risk.Low }
func (f *fakeCap) ParameterSchema() capability.ParameterSchema       { return capability.ParameterSchema{Type: "object"} }
func (f *fakeCap) ValidateParams(map[string]any) error               { return nil }
func (f *fakeCap) Produces() []capability.DataKind                   { return nil }
func (f *fakeCap) Consumes() []capability.DataKind                   { return nil }
func (f *fakeCap) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, f.keywords)
}
func (f *fakeCap) ExecuteStreaming(context.Context, map[string]any, capability.ProgressFunc) (*capability.Result, error) {
	return &capability.Result{Success: true}, nil
}

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	caps := []*fakeCap{
		{name: "battery_status", domain: capability.DomainDevice, keywords: []string{"battery", "charge"}},
		{name: "camera_capture", domain: capability.DomainMedia, keywords: []string{"photo", "camera"}},
		{name: "current_location", domain: capability.DomainLocation, keywords: []string{"location", "where"}},
	}
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.name, err)
		}
	}
	reg.Seal()
	return reg
}

func TestAnalyzeMatchesCapability(t *testing.T) {
	a := NewAnalyzer(testRegistry(t))
	got, err := a.Analyze("what's my battery level?", DeviceContext{BatteryLevel: 80}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got.RequiredCapabilities) != 1 || got.RequiredCapabilities[0] != "battery_status" {
		t.Errorf("capabilities = %v", got.RequiredCapabilities)
	}
	if len(got.Domains) != 1 || got.Domains[0] != capability.DomainDevice {
		t.Errorf("domains = %v", got.Domains)
	}
	if got.Confidence <= 0 {
		t.Errorf("confidence = %v", got.Confidence)
	}
}

func TestAnalyzeEmptyRequest(t *testing.T) {
	a := NewAnalyzer(testRegistry(t))
	_, err := a.Analyze("   ", DeviceContext{}, nil)
	if !errors.IsCode(err, errors.CodeInputEmpty) {
		t.Fatalf("expected input empty error, got %v", err)
	}
}

func TestAnalyzeUnparseableRequest(t *testing.T) {
	a := NewAnalyzer(testRegistry(t))
	_, err := a.Analyze("?!% ---", DeviceContext{}, nil)
	if !errors.IsCode(err, errors.CodeInputUnparseable) {
		t.Fatalf("expected unparseable error, got %v", err)
	}
}

func TestAnalyzeNoMatchIsDirect(t *testing.T) {
	a := NewAnalyzer(testRegistry(t))
	got, err := a.Analyze("tell me a joke", DeviceContext{}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.Direct() {
		t.Errorf("expected direct response, got capabilities %v", got.RequiredCapabilities)
	}
}

func TestAnalyzeFollowUpUsesHistory(t *testing.T) {
	hist := conversation.NewMemory(10)
	hist.Append(conversation.RoleUser, "take a photo of this receipt")
	hist.Append(conversation.RoleAssistant, "Photo captured.")

	a := NewAnalyzer(testRegistry(t))
	got, err := a.Analyze("do it again", DeviceContext{}, hist)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got.RequiredCapabilities) == 0 {
		t.Fatal("expected history to resolve the follow-up")
	}
	if got.RequiredCapabilities[0] != "camera_capture" {
		t.Errorf("capabilities = %v", got.RequiredCapabilities)
	}
}

func TestAnalyzeMultipleDomains(t *testing.T) {
	a := NewAnalyzer(testRegistry(t))
	got, err := a.Analyze("take a photo and tell me my location", DeviceContext{}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got.Domains) != 2 {
		t.Errorf("domains = %v, want media and location", got.Domains)
	}
}
