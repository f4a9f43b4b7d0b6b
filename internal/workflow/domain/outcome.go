package domain

import "strings"

// Outcome is the terminal result recorded on an enrollment.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeGoalMet          Outcome = "goal_met"
	OutcomeStoppedManual    Outcome = "stopped:manual"
	OutcomeStoppedArchived  Outcome = "stopped:workflow_archived"
	OutcomeSendFailed       Outcome = "error:send_failed"
	OutcomeMissingEdge      Outcome = "error:missing_edge"
	OutcomeUnknownNode      Outcome = "error:unknown_node"
	OutcomeInvalidCondition Outcome = "error:invalid_condition"
	OutcomeMissingRecipient Outcome = "error:missing_recipient"
	OutcomeInvalidRecipient Outcome = "error:invalid_recipient"
	OutcomeRenderFailed     Outcome = "error:render_failed"
	OutcomeCycleLimit       Outcome = "error:hop_limit"
)

func SuppressedOutcome(reason string) Outcome {
	return Outcome("suppressed:" + reason)
}

// Status maps an outcome to the terminal enrollment status.
func (o Outcome) Status() EnrollmentStatus {
	if o == OutcomeCompleted || o == OutcomeGoalMet {
		return EnrollmentCompleted
	}
	return EnrollmentStopped
}

func (o Outcome) IsError() bool {
	return strings.HasPrefix(string(o), "error:")
}
