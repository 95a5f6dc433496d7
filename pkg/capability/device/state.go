package device

import (
	"context"
	"fmt"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// BatteryCapability reads the battery charge level and charging state.
type BatteryCapability struct {
	Bridge Bridge
}

func (c *BatteryCapability) Name() string { return "battery_status" }

func (c *BatteryCapability) Description() string {
	return "Reads the current battery charge level and whether the device is charging"
}

func (c *BatteryCapability) Domain() capability.Domain { return capability.DomainDevice }

func (c *BatteryCapability) RequiredPermissions() []permissions.Permission { return nil }

func (c *BatteryCapability) RiskLevel() risk.Level { return risk.Low }

func (c *BatteryCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{Type: "object", Properties: map[string]capability.PropertySchema{}}
}

func (c *BatteryCapability) ValidateParams(params map[string]any) error { return nil }

func (c *BatteryCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"battery", "charge", "charging", "power level"})
}

func (c *BatteryCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataDeviceState}
}

func (c *BatteryCapability) Consumes() []capability.DataKind { return nil }

func (c *BatteryCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	if onProgress != nil {
		onProgress("Reading battery status")
	}
	level, charging, err := c.Bridge.BatteryStatus(ctx)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	state := "discharging"
	if charging {
		state = "charging"
	}
	return &capability.Result{
		Success: true,
		Message: fmt.Sprintf("Battery at %d%% (%s)", level, state),
		Data:    map[string]any{"level": level, "charging": charging},
	}, nil
}

// ConnectivityCapability reports the active network and reachability.
type ConnectivityCapability struct {
	Bridge Bridge
}

func (c *ConnectivityCapability) Name() string { return "connectivity_status" }

func (c *ConnectivityCapability) Description() string {
	return "Reports the active network type and whether the device is online"
}

func (c *ConnectivityCapability) Domain() capability.Domain { return capability.DomainNetwork }

func (c *ConnectivityCapability) RequiredPermissions() []permissions.Permission { return nil }

func (c *ConnectivityCapability) RiskLevel() risk.Level { return risk.Low }

func (c *ConnectivityCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{Type: "object", Properties: map[string]capability.PropertySchema{}}
}

func (c *ConnectivityCapability) ValidateParams(params map[string]any) error { return nil }

func (c *ConnectivityCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"wifi", "network", "online", "internet", "connection"})
}

func (c *ConnectivityCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataDeviceState}
}

func (c *ConnectivityCapability) Consumes() []capability.DataKind { return nil }

func (c *ConnectivityCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	if onProgress != nil {
		onProgress("Checking connectivity")
	}
	network, online, err := c.Bridge.ConnectivityStatus(ctx)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	msg := fmt.Sprintf("Connected via %s", network)
	if !online {
		msg = "Device is offline"
	}
	return &capability.Result{
		Success: true,
		Message: msg,
		Data:    map[string]any{"network": network, "online": online},
	}, nil
}
