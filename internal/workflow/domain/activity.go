package domain

import (
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
)

// OutcomeActivity describes a terminal enrollment for the CRM timeline.
func OutcomeActivity(e Enrollment) crmdomain.Activity {
	activity := crmdomain.Activity{
		Type:         crmdomain.ActivityEnrollmentOutcome,
		OrgID:        e.OrgID.String(),
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		WorkflowID:   e.WorkflowID.String(),
		EnrollmentID: e.ID.String(),
		Detail:       e.LastError,
		OccurredAt:   e.LastTransitionAt,
	}
	if e.Outcome != nil {
		activity.Outcome = *e.Outcome
	}
	return activity
}
