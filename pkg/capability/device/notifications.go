package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/permissions"
	"github.com/sidekicklabs/sidekick/pkg/risk"
)

// NotificationsCapability reads the currently active notifications.
type NotificationsCapability struct {
	Bridge Bridge
}

func (c *NotificationsCapability) Name() string { return "read_notifications" }

func (c *NotificationsCapability) Description() string {
	return "Reads the device's active notifications"
}

func (c *NotificationsCapability) Domain() capability.Domain {
	return capability.DomainNotifications
}

func (c *NotificationsCapability) RequiredPermissions() []permissions.Permission {
	return []permissions.Permission{permissions.Notifications}
}

func (c *NotificationsCapability) RiskLevel() risk.Level { return risk.Medium }

func (c *NotificationsCapability) ParameterSchema() capability.ParameterSchema {
	return capability.ParameterSchema{
		Type: "object",
		Properties: map[string]capability.PropertySchema{
			"app": {Type: "string", Description: "Only include notifications from this app"},
		},
	}
}

func (c *NotificationsCapability) ValidateParams(params map[string]any) error { return nil }

func (c *NotificationsCapability) RelevanceScore(request string) float64 {
	return capability.KeywordScore(request, []string{"notification", "notifications", "alerts", "messages", "unread"})
}

func (c *NotificationsCapability) Produces() []capability.DataKind {
	return []capability.DataKind{capability.DataText}
}

func (c *NotificationsCapability) Consumes() []capability.DataKind { return nil }

func (c *NotificationsCapability) ExecuteStreaming(ctx context.Context, params map[string]any, onProgress capability.ProgressFunc) (*capability.Result, error) {
	if onProgress != nil {
		onProgress("Reading notifications")
	}
	notifs, err := c.Bridge.ActiveNotifications(ctx)
	if err != nil {
		return &capability.Result{Success: false, Message: err.Error()}, err
	}
	appFilter, _ := params["app"].(string)
	var lines []string
	items := make([]map[string]any, 0, len(notifs))
	for _, n := range notifs {
		if appFilter != "" && !strings.EqualFold(n.App, appFilter) {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", n.App, n.Title, n.Body))
		items = append(items, map[string]any{
			"app":    n.App,
			"title":  n.Title,
			"body":   n.Body,
			"posted": n.Posted,
		})
	}
	return &capability.Result{
		Success: true,
		Message: fmt.Sprintf("%d active notifications", len(items)),
		Data: map[string]any{
			"text":          strings.Join(lines, "\n"),
			"notifications": items,
		},
	}, nil
}
