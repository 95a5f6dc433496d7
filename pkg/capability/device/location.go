package device

import (
	"context"
	"fmt"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// LocationCapability reads the device's current position.
type LocationCapability struct {
	Bridge Bridge
}

func (c *LocationCapability) Name() string { return "current_location" }

func (c *LocationCapability) Description() string {
	return "Reads the device's current geographic location"
}

func (c *LocationCapability) Domain() capability.Domain { return capability.DomainLocation }

func (c *LocationCapability) RequiredPermissions() []permissions.Permission {
	return []permissions.Permission{permissions.Location}
}

func (c *LocationCapability) RiskLevel() risk.Level { return risk.High }

func (c *LocationCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{
		Type: "object",
		Properties: map[string]capability.PropertySchema{
			"accuracy": {
				Type:        "string",
				Description: "Desired location accuracy",
				Default:     "balanced",
				Enum:        []string{"coarse", "balanced", "precise"},
			},
		},
	}
}

func (c *LocationCapability) ValidateParams(params map[string]any) error {
	v, ok := params["accuracy"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("accuracy must be a string")
	}
	switch s {
	case "coarse", "balanced", "precise":
		return nil
	default:
		return fmt.Errorf("unknown accuracy %q", s)
	}
}

func (c *LocationCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"location", "where", "position", "gps", "coordinates"})
}

func (c *LocationCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataCoordinates}
}

func (c *LocationCapability) Consumes() []capability.DataKind { return nil }

func (c *LocationCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	accuracy := "balanced"
	if v, ok := params["accuracy"].(string); ok && v != "" {
		accuracy = v
	}
	if onProgress != nil {
		onProgress("Acquiring location fix")
	}
	lat, lon, err := c.Bridge.CurrentLocation(ctx, accuracy)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	return &capability.Result{
		Success: true,
		Message: fmt.Sprintf("Location: %.5f, %.5f", lat, lon),
		Data:    map[string]any{"latitude": lat, "longitude": lon, "accuracy": accuracy},
	}, nil
}
