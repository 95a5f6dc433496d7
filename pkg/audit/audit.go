// Package audit persists phase events and tool executions so a turn can be
// reconstructed after the fact.
package audit

import (
	"context"

	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// Sink is an append-only audit destination. Implementations must be safe
// for concurrent use.
type Sink interface {
	// AppendEvent records one phase event.
	AppendEvent(ctx context.Context, ev plan.PhaseEvent) error

	// AppendExecution records one tool execution outcome.
	AppendExecution(ctx context.Context, ex *plan.ToolExecution) error

	// Events returns the recorded events for a plan, oldest first.
	Events(ctx context.Context, planID string) ([]plan.PhaseEvent, error)

	// Executions returns the recorded executions for a plan, oldest first.
	Executions(ctx context.Context, planID string) ([]*plan.ToolExecution, error)

	// Close releases resources.
	Close() error
}
