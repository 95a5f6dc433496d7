package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidekicklabs/sidekick/pkg/capability"
	"github.com/sidekicklabs/sidekick/pkg/plan"
)

func sinks(t *testing.T) map[string]Sink {
	t.Helper()
	sqlite, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Sink{
		"memory": NewMemorySink(),
		"sqlite": sqlite,
	}
}

func TestSinkRoundTripsEvents(t *testing.T) {
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			events := []plan.PhaseEvent{
				plan.PhaseStarted("p1", plan.PhaseIntent),
				plan.PhaseCompleted("p1", plan.PhaseIntent),
				plan.StepProgress("p1", "s1", "Opening rear camera"),
				plan.PlanStatusChanged("p1", plan.StatusCompleted),
			}
			for _, ev := range events {
				require.NoError(t, sink.AppendEvent(ctx, ev))
			}
			// Another plan's events must not leak in.
			require.NoError(t, sink.AppendEvent(ctx, plan.PhaseStarted("p2", plan.PhasePlanning)))

			got, err := sink.Events(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, got, len(events))
			for i, ev := range events {
				require.Equal(t, ev.Kind, got[i].Kind)
				require.Equal(t, ev.Message, got[i].Message)
			}
		})
	}
}

func TestSinkRoundTripsExecutions(t *testing.T) {
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			step := &plan.OperationStep{ID: "s1", Operation: "battery_status"}
			ex := plan.NewExecution("p1", step)
			ex.Result = &capability.Result{Success: true, Message: "Battery at 80%"}
			ex.Finish(plan.OutcomeSucceeded)
			require.NoError(t, sink.AppendExecution(ctx, ex))

			got, err := sink.Executions(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "battery_status", got[0].Tool)
			require.Equal(t, plan.OutcomeSucceeded, got[0].Outcome)
			require.Equal(t, "Battery at 80%", got[0].Result.Message)
		})
	}
}

func TestSinkEmptyPlan(t *testing.T) {
	for name, sink := range sinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			events, err := sink.Events(ctx, "missing")
			require.NoError(t, err)
			require.Empty(t, events)
			executions, err := sink.Executions(ctx, "missing")
			require.NoError(t, err)
			require.Empty(t, executions)
		})
	}
}

func TestSQLiteRecentPlans(t *testing.T) {
	sink, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.AppendEvent(ctx, plan.PhaseStarted("old", plan.PhaseIntent)))
	require.NoError(t, sink.AppendEvent(ctx, plan.PhaseStarted("new", plan.PhaseIntent)))

	plans, err := sink.RecentPlans(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Contains(t, plans, "old")
	require.Contains(t, plans, "new")
}
