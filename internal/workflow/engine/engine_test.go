package engine_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/providers/email"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/engine"
	"github.com/smallbiznis/sequencer/internal/workflow/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const contactEmail = "ada@example.com"

func outcomeOf(e domain.Enrollment) string {
	if e.Outcome == nil {
		return ""
	}
	return *e.Outcome
}

func threeStepGraph() domain.Graph {
	return enginetest.Linear(
		enginetest.EmailNode("intro", "Hi {{.Fields.first_name}}"),
		enginetest.WaitNode("pause", 2),
		enginetest.EmailNode("follow_up", "Following up"),
	)
}

func TestEndToEndEmailWaitEmail(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Onboarding", threeStepGraph())

	e := h.Enroll(t, def, "c1")
	assert.Equal(t, "intro", e.CurrentNodeID)
	require.NotNil(t, e.NextCheckAt)
	assert.True(t, e.NextCheckAt.Equal(enginetest.Start))

	require.Equal(t, 1, h.RunDue(t))
	msgs := h.Sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, contactEmail, msgs[0].To)
	assert.Equal(t, "Hi Ada", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTMLBody, "Hello Ada")
	assert.Equal(t, e.ID.String()+":intro", msgs[0].IdempotencyKey)

	e = h.Reload(t, e.ID)
	assert.Equal(t, "pause", e.CurrentNodeID)
	assert.Equal(t, domain.EnrollmentActive, e.Status)
	require.NotNil(t, e.NextCheckAt)
	assert.True(t, e.NextCheckAt.Equal(enginetest.Start.Add(48*time.Hour)))

	h.Clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, h.RunDue(t))

	h.Clock.Advance(24 * time.Hour)
	h.RunDue(t)
	msgs = h.Sender.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Following up", msgs[1].Subject)

	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Equal(t, string(domain.OutcomeCompleted), outcomeOf(e))
	assert.Nil(t, e.ActiveKey)
	assert.Nil(t, e.NextCheckAt)
	require.Len(t, e.Path, 3)
	assert.Equal(t, "sent", e.Path[0].Result)
	assert.Equal(t, "elapsed", e.Path[1].Result)
	assert.Equal(t, "sent", e.Path[2].Result)

	activities := h.Activity.All()
	require.Len(t, activities, 1)
	assert.Equal(t, string(domain.OutcomeCompleted), activities[0].Outcome)
	assert.Equal(t, "c1", activities[0].EntityID)
}

func TestSecondSendIsSubjectToFrequencyCap(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Onboarding", threeStepGraph())
	e := h.Enroll(t, def, "c1")
	h.RunDue(t)
	require.Len(t, h.Sender.Messages(), 1)

	// four more sends from elsewhere bring the address to the cap
	for i := 0; i < 4; i++ {
		h.Clock.Advance(time.Hour)
		h.Ingest(t, "c1", eventdomain.EventEmailSent, fmt.Sprintf(`{"email":%q}`, contactEmail))
	}
	h.Clock.Set(enginetest.Start.Add(48 * time.Hour))
	h.RunDue(t)

	assert.Len(t, h.Sender.Messages(), 1)
	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentStopped, e.Status)
	assert.Equal(t, "suppressed:frequency_cap", outcomeOf(e))
}

func TestSuppressedRecipientStopsEnrollment(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	_, err := h.Gate.Suppress(h.Ctx, suppressiondomain.SuppressRequest{Email: contactEmail, Reason: suppressiondomain.ReasonHardBounce})
	require.NoError(t, err)
	def := h.CreateActive(t, "Onboarding", threeStepGraph())

	e := h.Enroll(t, def, "c1")
	h.RunDue(t)

	assert.Empty(t, h.Sender.Messages())
	e = h.Reload(t, e.ID)
	assert.Equal(t, "suppressed:hard_bounce", outcomeOf(e))
	assert.Equal(t, domain.EnrollmentStopped, e.Status)
}

func TestGoalCheckShortCircuitsRemainingPath(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	graph := enginetest.Linear(
		enginetest.EmailNode("intro", "Hello"),
		domain.Node{ID: "replied", Type: domain.NodeGoalCheck, Config: domain.GoalConfig{GoalType: eventdomain.EventReplyReceived}},
		enginetest.EmailNode("nudge", "Nudge"),
	)
	def := h.CreateActive(t, "Reply goal", graph)
	e := h.Enroll(t, def, "c1")
	h.Ingest(t, "c1", eventdomain.EventReplyReceived, fmt.Sprintf(`{"email":%q}`, contactEmail))

	h.RunDue(t)

	assert.Len(t, h.Sender.Messages(), 1)
	e = h.Reload(t, e.ID)
	assert.Equal(t, string(domain.OutcomeGoalMet), outcomeOf(e))
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Equal(t, "replied", e.CurrentNodeID)
}

func TestGoalCheckNotMetFollowsDefaultEdge(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	graph := enginetest.Linear(
		domain.Node{ID: "replied", Type: domain.NodeGoalCheck, Config: domain.GoalConfig{GoalType: eventdomain.EventReplyReceived}},
		enginetest.EmailNode("nudge", "Nudge"),
	)
	def := h.CreateActive(t, "Reply goal", graph)
	e := h.Enroll(t, def, "c1")

	h.RunDue(t)

	assert.Len(t, h.Sender.Messages(), 1)
	e = h.Reload(t, e.ID)
	assert.Equal(t, string(domain.OutcomeCompleted), outcomeOf(e))
}

func TestGoalCheckWithOnlyGoalMetEdgeCompletes(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	graph := domain.Graph{
		Nodes: []domain.Node{
			{ID: "g", Type: domain.NodeGoalCheck, Config: domain.GoalConfig{GoalType: eventdomain.EventReplyReceived}},
			enginetest.EmailNode("thanks", "Thanks"),
		},
		Edges: []domain.Edge{{From: "g", To: "thanks", Label: domain.EdgeGoalMet}},
	}
	def := h.CreateActive(t, "Goal only", graph)
	e := h.Enroll(t, def, "c1")

	h.RunDue(t)

	assert.Empty(t, h.Sender.Messages())
	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Equal(t, string(domain.OutcomeCompleted), outcomeOf(e))
	assert.Empty(t, e.LastError)
}

func TestLongestWaitHolds(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Patient", enginetest.Linear(
		enginetest.EmailNode("intro", "Hello"),
		enginetest.WaitNode("pause", domain.MaxWaitDays),
		enginetest.EmailNode("later", "Later"),
	))
	e := h.Enroll(t, def, "c1")

	h.RunDue(t)

	assert.Len(t, h.Sender.Messages(), 1)
	e = h.Reload(t, e.ID)
	assert.Equal(t, "pause", e.CurrentNodeID)
	assert.Equal(t, domain.EnrollmentActive, e.Status)
	require.NotNil(t, e.NextCheckAt)
	assert.True(t, e.NextCheckAt.Equal(enginetest.Start.AddDate(0, 0, domain.MaxWaitDays)))
}

func TestExitGoalEndsEnrollmentBeforeNextNode(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	graph := enginetest.Linear(
		enginetest.WaitNode("pause", 1),
		enginetest.EmailNode("pitch", "Pitch"),
	)
	graph.ExitGoal = &domain.GoalConfig{GoalType: eventdomain.EventMeetingBooked}
	def := h.CreateActive(t, "Meeting goal", graph)
	e := h.Enroll(t, def, "c1")
	h.RunDue(t)

	h.Clock.Advance(2 * time.Hour)
	h.Ingest(t, "c1", eventdomain.EventMeetingBooked, fmt.Sprintf(`{"email":%q}`, contactEmail))
	h.Clock.Advance(24 * time.Hour)
	h.RunDue(t)

	assert.Empty(t, h.Sender.Messages())
	e = h.Reload(t, e.ID)
	assert.Equal(t, string(domain.OutcomeGoalMet), outcomeOf(e))
	assert.Equal(t, "pause", e.CurrentNodeID)
}

func TestStageChangedGoalMatchesTargetStage(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	graph := enginetest.Linear(
		enginetest.WaitNode("pause", 1),
		domain.Node{ID: "won", Type: domain.NodeGoalCheck, Config: domain.GoalConfig{GoalType: eventdomain.EventStageChanged, ToStage: "customer"}},
		enginetest.EmailNode("nudge", "Nudge"),
	)
	def := h.CreateActive(t, "Stage goal", graph)
	e := h.Enroll(t, def, "c1")
	h.RunDue(t)

	h.Ingest(t, "c1", eventdomain.EventStageChanged, `{"from_stage":"lead","to_stage":"opportunity"}`)
	h.Clock.Advance(24 * time.Hour)
	h.RunDue(t)
	e = h.Reload(t, e.ID)
	assert.Equal(t, string(domain.OutcomeCompleted), outcomeOf(e), "other stage must not satisfy the goal")

	h2 := enginetest.New(t)
	h2.AddContact(t, "c1", contactEmail, nil)
	def2 := h2.CreateActive(t, "Stage goal", graph)
	e2 := h2.Enroll(t, def2, "c1")
	h2.RunDue(t)
	h2.Ingest(t, "c1", eventdomain.EventStageChanged, `{"from_stage":"lead","to_stage":"Customer"}`)
	h2.Clock.Advance(24 * time.Hour)
	h2.RunDue(t)
	e2 = h2.Reload(t, e2.ID)
	assert.Equal(t, string(domain.OutcomeGoalMet), outcomeOf(e2))
	assert.Empty(t, h2.Sender.Messages())
}

func conditionGraph(cond domain.Condition) domain.Graph {
	return domain.Graph{
		Nodes: []domain.Node{
			{ID: "check", Type: domain.NodeCondition, Config: domain.ConditionConfig{Condition: cond}},
			enginetest.EmailNode("yes", "Yes"),
			enginetest.EmailNode("no", "No"),
		},
		Edges: []domain.Edge{
			{From: "check", To: "yes", Label: domain.EdgeTrue},
			{From: "check", To: "no", Label: domain.EdgeFalse},
		},
	}
}

func TestConditionBranches(t *testing.T) {
	cases := []struct {
		name  string
		cond  domain.Condition
		setup func(t *testing.T, h *enginetest.Harness)
		want  string
	}{
		{
			name: "score below threshold",
			cond: domain.ScoreAtLeast{Threshold: 30},
			want: "No",
		},
		{
			name: "score at threshold",
			cond: domain.ScoreAtLeast{Threshold: 30},
			setup: func(t *testing.T, h *enginetest.Harness) {
				_, err := h.Scores.Adjust(h.Ctx, scoringdomain.AdjustRequest{EntityID: "c1", Delta: 30})
				require.NoError(t, err)
			},
			want: "Yes",
		},
		{
			name: "tier listed",
			cond: domain.TierIn{Tiers: []string{"hot", "sales_ready"}},
			setup: func(t *testing.T, h *enginetest.Harness) {
				_, err := h.Scores.Adjust(h.Ctx, scoringdomain.AdjustRequest{EntityID: "c1", Delta: 60})
				require.NoError(t, err)
			},
			want: "Yes",
		},
		{
			name: "event since enrollment",
			cond: domain.EventOccurred{EventType: eventdomain.EventEmailClicked},
			setup: func(t *testing.T, h *enginetest.Harness) {
				h.Ingest(t, "c1", eventdomain.EventEmailClicked, fmt.Sprintf(`{"email":%q}`, contactEmail))
			},
			want: "Yes",
		},
		{
			name: "event missing",
			cond: domain.EventOccurred{EventType: eventdomain.EventEmailClicked, WithinDays: 3},
			want: "No",
		},
		{
			name: "entity field matches",
			cond: domain.EntityFieldEquals{Field: "industry", Value: "Fintech"},
			want: "Yes",
		},
		{
			name: "entity field differs",
			cond: domain.EntityFieldEquals{Field: "industry", Value: "retail"},
			want: "No",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := enginetest.New(t)
			h.AddContact(t, "c1", contactEmail, map[string]any{"industry": "fintech"})
			def := h.CreateActive(t, "Branch", conditionGraph(tc.cond))
			h.Enroll(t, def, "c1")
			if tc.setup != nil {
				tc.setup(t, h)
			}

			h.RunDue(t)

			msgs := h.Sender.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tc.want, msgs[0].Subject)
		})
	}
}

func TestMissingConditionEdgeStopsOnlyThatEnrollment(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	h.AddContact(t, "c2", "grace@example.com", nil)

	// inserted directly: activation would reject the missing false edge
	graph := conditionGraph(domain.ScoreAtLeast{Threshold: 90})
	graph.Nodes = graph.Nodes[:2]
	graph.Edges = graph.Edges[:1]
	broken := domain.Definition{
		ID:         h.Node.Generate(),
		OrgID:      h.OrgID,
		WorkflowID: h.Node.Generate(),
		Version:    1,
		IsLatest:   true,
		Key:        "broken",
		Name:       "Broken",
		Status:     domain.WorkflowActive,
		EntityType: eventdomain.EntityTypeContact,
		Graph:      datatypes.NewJSONType(graph),
		CreatedAt:  h.Clock.Now(),
		UpdatedAt:  h.Clock.Now(),
	}
	require.NoError(t, h.Repo.InsertDefinition(h.Ctx, h.DB, &broken))
	healthy := h.CreateActive(t, "Healthy", threeStepGraph())

	bad := h.Enroll(t, broken, "c1")
	good := h.Enroll(t, healthy, "c2")
	h.RunDue(t)

	bad = h.Reload(t, bad.ID)
	assert.Equal(t, string(domain.OutcomeMissingEdge), outcomeOf(bad))
	assert.NotEmpty(t, bad.LastError)
	good = h.Reload(t, good.ID)
	assert.Equal(t, domain.EnrollmentActive, good.Status)
	assert.Equal(t, "pause", good.CurrentNodeID)
}

func TestSplitAssignmentIsSticky(t *testing.T) {
	h := enginetest.New(t)
	graph := domain.Graph{
		Nodes: []domain.Node{
			{ID: "ab", Type: domain.NodeSplit, Config: domain.SplitConfig{Variants: []domain.SplitVariant{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}}}},
			enginetest.WaitNode("wait_a", 1),
			enginetest.WaitNode("wait_b", 1),
		},
		Edges: []domain.Edge{
			{From: "ab", To: "wait_a", Label: domain.EdgeSplitVariant, Variant: "a"},
			{From: "ab", To: "wait_b", Label: domain.EdgeSplitVariant, Variant: "b"},
		},
	}
	def := h.CreateActive(t, "AB", graph)

	var ids []domain.Enrollment
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("c%d", i)
		h.AddContact(t, id, id+"@example.com", nil)
		ids = append(ids, h.Enroll(t, def, id))
	}
	h.RunDue(t)

	for _, e := range ids {
		e = h.Reload(t, e.ID)
		variant, ok := e.Snapshot("split:ab")
		require.True(t, ok)
		assert.Equal(t, "wait_"+variant, e.CurrentNodeID)

		again := h.Reload(t, e.ID)
		got, _ := again.Snapshot("split:ab")
		assert.Equal(t, variant, got)
	}
}

func TestVersionPinning(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	h.AddContact(t, "c2", "grace@example.com", nil)
	v1 := h.CreateActive(t, "Pinned", enginetest.Linear(
		enginetest.WaitNode("pause", 1),
		enginetest.EmailNode("pitch", "Version one"),
	))
	old := h.Enroll(t, v1, "c1")
	h.RunDue(t)

	v2, err := h.Workflows.CreateDefinition(h.Ctx, domain.CreateDefinitionRequest{
		WorkflowID: v1.WorkflowID.String(),
		Name:       "Pinned",
		Definition: enginetest.Linear(enginetest.EmailNode("fresh", "Version two")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, domain.WorkflowActive, v2.Status)

	fresh := h.Enroll(t, v2, "c2")
	assert.Equal(t, 2, fresh.WorkflowVersion)
	assert.Equal(t, "fresh", fresh.CurrentNodeID)

	h.Clock.Advance(24 * time.Hour)
	h.RunDue(t)

	subjects := map[string]bool{}
	for _, msg := range h.Sender.Messages() {
		subjects[msg.Subject] = true
	}
	assert.True(t, subjects["Version one"])
	assert.True(t, subjects["Version two"])

	old = h.Reload(t, old.ID)
	assert.Equal(t, 1, old.WorkflowVersion)
	assert.Equal(t, "pitch", old.CurrentNodeID)
	assert.Equal(t, domain.EnrollmentCompleted, old.Status)
}

func TestTransientSendFailureRetriesWithBackoff(t *testing.T) {
	h := enginetest.New(t, enginetest.WithDelivery(5, time.Minute, time.Hour))
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Retry", enginetest.Linear(enginetest.EmailNode("intro", "Hello")))
	e := h.Enroll(t, def, "c1")
	h.Sender.FailNext(errors.New("421 try again later"), errors.New("421 try again later"))

	h.RunDue(t)
	e = h.Reload(t, e.ID)
	assert.Equal(t, 1, e.SendAttempts)
	assert.Equal(t, "intro", e.CurrentNodeID)
	require.NotNil(t, e.NextCheckAt)
	assert.True(t, e.NextCheckAt.Equal(enginetest.Start.Add(time.Minute)))
	assert.Contains(t, e.LastError, "421")

	h.Clock.Advance(time.Minute)
	h.RunDue(t)
	e = h.Reload(t, e.ID)
	assert.Equal(t, 2, e.SendAttempts)
	assert.True(t, e.NextCheckAt.Equal(enginetest.Start.Add(3*time.Minute)))

	h.Clock.Advance(2 * time.Minute)
	h.RunDue(t)
	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Len(t, h.Sender.Messages(), 1)
}

func TestSendFailureExhaustsAttempts(t *testing.T) {
	h := enginetest.New(t, enginetest.WithDelivery(2, time.Minute, time.Hour))
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Retry", enginetest.Linear(enginetest.EmailNode("intro", "Hello")))
	e := h.Enroll(t, def, "c1")
	h.Sender.FailNext(errors.New("connection refused"), errors.New("connection refused"))

	h.RunDue(t)
	h.Clock.Advance(time.Minute)
	h.RunDue(t)

	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentStopped, e.Status)
	assert.Equal(t, string(domain.OutcomeSendFailed), outcomeOf(e))
	assert.Equal(t, "connection refused", e.LastError)
	require.Len(t, h.Activity.All(), 1)
	assert.Equal(t, string(domain.OutcomeSendFailed), h.Activity.All()[0].Outcome)
}

func TestPermanentRejectionStopsWithoutRetry(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Reject", enginetest.Linear(enginetest.EmailNode("intro", "Hello")))
	e := h.Enroll(t, def, "c1")
	h.Sender.FailNext(fmt.Errorf("550 mailbox unavailable: %w", email.ErrInvalidRecipient))

	h.RunDue(t)

	e = h.Reload(t, e.ID)
	assert.Equal(t, string(domain.OutcomeInvalidRecipient), outcomeOf(e))
	assert.Equal(t, 1, e.SendAttempts)
}

func TestMissingRecipientFallsBackToSnapshot(t *testing.T) {
	h := enginetest.New(t)
	def := h.CreateActive(t, "Snapshot", enginetest.Linear(enginetest.EmailNode("intro", "Hello")))

	res, err := h.Workflows.Enroll(h.Ctx, domain.EnrollRequest{
		WorkflowID: def.WorkflowID.String(),
		EntityID:   "lead-9",
		Snapshot:   map[string]any{"email": "Lead@Example.com"},
	})
	require.NoError(t, err)
	unknown := h.Enroll(t, def, "lead-10")

	h.RunDue(t)

	msgs := h.Sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "lead@example.com", msgs[0].To)
	assert.Equal(t, domain.EnrollmentCompleted, h.Reload(t, res.Enrollment.ID).Status)
	assert.Equal(t, string(domain.OutcomeMissingRecipient), outcomeOf(h.Reload(t, unknown.ID)))
}

func TestRecordedSendIsNotRepeated(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Replay", enginetest.Linear(enginetest.EmailNode("intro", "Hello")))
	e := h.Enroll(t, def, "c1")

	// an earlier tick sent and recorded the email but never committed
	occurred := h.Clock.Now()
	_, err := h.Events.Ingest(h.Ctx, eventdomain.IngestRequest{
		EventType:  eventdomain.EventEmailSent,
		EntityType: eventdomain.EntityTypeContact,
		EntityID:   "c1",
		OccurredAt: &occurred,
		Payload:    []byte(fmt.Sprintf(`{"email":%q}`, contactEmail)),
		DedupeKey:  e.ID.String() + ":intro",
	})
	require.NoError(t, err)

	h.RunDue(t)

	assert.Empty(t, h.Sender.Messages())
	assert.Equal(t, domain.EnrollmentCompleted, h.Reload(t, e.ID).Status)
}

func TestAdvanceWithStaleTokenIsRejected(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Lease", threeStepGraph())
	h.Enroll(t, def, "c1")

	now := h.Clock.Now()
	claimed, err := h.Repo.ClaimDue(h.Ctx, h.DB, now, 10, now.Add(time.Minute), "owner")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = h.Engine.Advance(h.Ctx, claimed[0], "intruder")
	assert.ErrorIs(t, err, engine.ErrLeaseLost)
}

func TestPausedEnrollmentKeepsStatusAfterInFlightTick(t *testing.T) {
	h := enginetest.New(t)
	h.AddContact(t, "c1", contactEmail, nil)
	def := h.CreateActive(t, "Pause", threeStepGraph())
	e := h.Enroll(t, def, "c1")

	now := h.Clock.Now()
	claimed, err := h.Repo.ClaimDue(h.Ctx, h.DB, now, 10, now.Add(time.Minute), "owner")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = h.Workflows.Pause(h.Ctx, e.ID.String())
	require.NoError(t, err)

	_, err = h.Engine.Advance(h.Ctx, claimed[0], "owner")
	require.NoError(t, err)

	e = h.Reload(t, e.ID)
	assert.Equal(t, domain.EnrollmentPaused, e.Status)
	assert.Equal(t, "pause", e.CurrentNodeID)
	assert.Len(t, h.Sender.Messages(), 1)
}
