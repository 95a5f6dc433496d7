package plan

import "time"

// Phase names one stage of a turn.
type Phase string

const (
	PhaseIntent       Phase = "intent"
	PhasePlanning     Phase = "planning"
	PhaseValidation   Phase = "validation"
	PhaseSafety       Phase = "safety"
	PhaseConfirmation Phase = "confirmation"
	PhaseExecution    Phase = "execution"
	PhaseSynthesis    Phase = "synthesis"
)

// EventKind is the stable discriminant of a PhaseEvent. Audit rows and bus
// messages are keyed on it, so values never change meaning.
type EventKind string

const (
	EventPhaseStarted   EventKind = "phase_started"
	EventPhaseCompleted EventKind = "phase_completed"
	EventPhaseFailed    EventKind = "phase_failed"
	EventStepProgress   EventKind = "step_progress"
	EventStepFinished   EventKind = "step_finished"
	EventPlanStatus     EventKind = "plan_status"
)

// PhaseEvent is one entry of a turn's audit trail. Which fields are set
// depends on Kind: phase events carry Phase, step events carry StepID and
// Message, status events carry Status.
type PhaseEvent struct {
	Kind    EventKind   `json:"kind"`
	PlanID  string      `json:"plan_id"`
	Phase   Phase       `json:"phase,omitempty"`
	StepID  string      `json:"step_id,omitempty"`
	Message string      `json:"message,omitempty"`
	Status  Status      `json:"status,omitempty"`
	Outcome StepOutcome `json:"outcome,omitempty"`
	Error   string      `json:"error,omitempty"`
	At      time.Time   `json:"at"`
}

func PhaseStarted(planID string, phase Phase) PhaseEvent {
	return PhaseEvent{Kind: EventPhaseStarted, PlanID: planID, Phase: phase, At: time.Now()}
}

func PhaseCompleted(planID string, phase Phase) PhaseEvent {
	return PhaseEvent{Kind: EventPhaseCompleted, PlanID: planID, Phase: phase, At: time.Now()}
}

func PhaseFailed(planID string, phase Phase, err error) PhaseEvent {
	ev := PhaseEvent{Kind: EventPhaseFailed, PlanID: planID, Phase: phase, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func StepProgress(planID, stepID, message string) PhaseEvent {
	return PhaseEvent{Kind: EventStepProgress, PlanID: planID, StepID: stepID, Message: message, At: time.Now()}
}

func StepFinished(planID, stepID string, outcome StepOutcome, err error) PhaseEvent {
	ev := PhaseEvent{Kind: EventStepFinished, PlanID: planID, StepID: stepID, Outcome: outcome, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func PlanStatusChanged(planID string, status Status) PhaseEvent {
	return PhaseEvent{Kind: EventPlanStatus, PlanID: planID, Status: status, At: time.Now()}
}
