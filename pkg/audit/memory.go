package audit

import (
	"context"
	"sync"

	"github.com/sidekicklabs/sidekick/pkg/plan"
)

// MemorySink keeps audit records in process. Used in tests and hosts that
// do not want persistence.
type MemorySink struct {
	mu         sync.RWMutex
	events     map[string][]plan.PhaseEvent
	executions map[string][]*plan.ToolExecution
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		events:     make(map[string][]plan.PhaseEvent),
		executions: make(map[string][]*plan.ToolExecution),
	}
}

func (s *MemorySink) AppendEvent(ctx context.Context, ev plan.PhaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.PlanID] = append(s.events[ev.PlanID], ev)
	return nil
}

func (s *MemorySink) AppendExecution(ctx context.Context, ex *plan.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[ex.PlanID] = append(s.executions[ex.PlanID], ex)
	return nil
}

func (s *MemorySink) Events(ctx context.Context, planID string) ([]plan.PhaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]plan.PhaseEvent, len(s.events[planID]))
	copy(out, s.events[planID])
	return out, nil
}

func (s *MemorySink) Executions(ctx context.Context, planID string) ([]*plan.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*plan.ToolExecution, len(s.executions[planID]))
	copy(out, s.executions[planID])
	return out, nil
}

func (s *MemorySink) Close() error { return nil }
