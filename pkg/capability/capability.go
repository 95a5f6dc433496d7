// Package capability defines the tool abstraction the orchestration engine
// schedules against. A capability never implements device behavior itself;
// concrete implementations bridge into the host platform.
package capability

import (
	"context"

	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// Domain routes an operation step to a class of capabilities.
type Domain string

const (
	DomainDevice        Domain = "device"
	DomainMedia         Domain = "media"
	DomainVision        Domain = "vision"
	DomainLocation      Domain = "location"
	DomainNotifications Domain = "notifications"
	DomainNetwork       Domain = "network"
	DomainGeneral       Domain = "general"
)

// DataKind tags the values a capability produces or consumes. The planner
// builds step dependencies by matching a step's consumed kinds against
// earlier steps' produced kinds.
type DataKind string

const (
	DataImage       DataKind = "image"
	DataText        DataKind = "text"
	DataCoordinates DataKind = "coordinates"
	DataDeviceState DataKind = "device_state"
)

// ParameterSchema defines the parameters a capability accepts
type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema defines a single parameter
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Result represents the result of a capability invocation
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ProgressFunc receives human-readable progress text while a capability runs.
type ProgressFunc func(message string)

// Capability is a single invocable device capability.
//
// ExecuteStreaming must honor ctx cancellation between units of work but is
// not required to preempt an in-flight platform call. RelevanceScore must
// return a value in [0, 1].
type Capability interface {
	Name() string
	Description() string
	Domain() Domain
	RequiredPermissions() []permissions.Permission
	RiskLevel() risk.Level
	ParameterSchema() ParameterSchema
	ValidateParams(params map[string]any) error
	RelevanceScore(request string) float64
	Produces() []DataKind
	Consumes() []DataKind
	ExecuteStreaming(ctx context.Context, params map[string]any, onProgress ProgressFunc) (*Result, error)
}

// ProducesKind reports whether cap produces the given data kind.
func ProducesKind(cap Capability, kind DataKind) bool {
	for _, k := range cap.Produces() {
		if k == kind {
			return true
		}
	}
	return false
}
