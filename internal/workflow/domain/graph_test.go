package domain

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

const sampleGraph = `{
  "exit_goal": {"goal_type": "reply_received"},
  "nodes": [
    {"id": "intro", "type": "email", "config": {"subject": "Hi", "body": "<p>Hi</p>"}},
    {"id": "check", "type": "condition", "config": {"kind": "tier_in", "tiers": ["hot"]}},
    {"id": "ab", "type": "split", "config": {"variants": [{"name": "a", "weight": 1}, {"name": "b", "weight": 2}]}},
    {"id": "wait_a", "type": "wait", "config": {"wait_days": 1.5, "wait_until_time": "09:30"}},
    {"id": "wait_b", "type": "wait", "config": {"wait_days": 2}},
    {"id": "goal", "type": "goal_check", "config": {"goal_type": "stage_changed", "to_stage": "customer"}},
    {"id": "later", "type": "sms", "config": {"text": "hey"}}
  ],
  "edges": [
    {"from": "intro", "to": "check"},
    {"from": "check", "to": "ab", "label": "true"},
    {"from": "check", "to": "goal", "label": "false"},
    {"from": "ab", "to": "wait_a", "label": "split_variant", "variant": "a"},
    {"from": "ab", "to": "wait_b", "label": "split_variant", "variant": "b"},
    {"from": "goal", "to": "later"}
  ]
}`

func decodeSample(t *testing.T) Graph {
	t.Helper()
	var g Graph
	require.NoError(t, json.Unmarshal([]byte(sampleGraph), &g))
	g.Normalize()
	return g
}

func TestGraphDecodesTypedConfigs(t *testing.T) {
	g := decodeSample(t)

	require.NotNil(t, g.ExitGoal)
	assert.Equal(t, "reply_received", g.ExitGoal.GoalType)

	check, ok := g.Node("check")
	require.True(t, ok)
	cond, ok := check.Config.(ConditionConfig)
	require.True(t, ok)
	assert.Equal(t, TierIn{Tiers: []string{"hot"}}, cond.Condition)

	wait, _ := g.Node("wait_a")
	waitCfg, ok := wait.Config.(WaitConfig)
	require.True(t, ok)
	assert.Equal(t, 1.5, *waitCfg.WaitDays)
	assert.Equal(t, "09:30", waitCfg.WaitUntilTime)

	later, _ := g.Node("later")
	_, opaque := later.Config.(OpaqueConfig)
	assert.True(t, opaque)

	next, ok := g.Next("intro", EdgeDefault, "")
	require.True(t, ok)
	assert.Equal(t, "check", next)
	next, ok = g.Next("ab", EdgeSplitVariant, "b")
	require.True(t, ok)
	assert.Equal(t, "wait_b", next)
	_, ok = g.Next("ab", EdgeSplitVariant, "c")
	assert.False(t, ok)

	entry, err := g.EntryNode()
	require.NoError(t, err)
	assert.Equal(t, "intro", entry)
}

func TestGraphRoundTripKeepsUnknownConfig(t *testing.T) {
	g := decodeSample(t)
	raw, err := json.Marshal(g)
	require.NoError(t, err)

	var again Graph
	require.NoError(t, json.Unmarshal(raw, &again))
	later, _ := again.Node("later")
	opaque, ok := later.Config.(OpaqueConfig)
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"hey"}`, string(opaque.Raw))

	check, _ := again.Node("check")
	assert.Equal(t, TierIn{Tiers: []string{"hot"}}, check.Config.(ConditionConfig).Condition)
}

func TestUnknownConditionKindIsOpaque(t *testing.T) {
	var cfg ConditionConfig
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"geo_within","radius":5}`), &cfg))
	opaque, ok := cfg.Condition.(OpaqueCondition)
	require.True(t, ok)
	assert.Equal(t, ConditionKind("geo_within"), opaque.Kind())

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"geo_within","radius":5}`, string(raw))
}

func TestValidateGraphDraftRules(t *testing.T) {
	g := decodeSample(t)
	assert.NoError(t, ValidateGraph(&g), "unknown node types are allowed in drafts")
	assert.ErrorIs(t, ValidateForActivation(&g), ErrInvalidDefinition)

	cases := map[string]Graph{
		"empty":     {},
		"duplicate": {Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}}, {ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}}}},
		"self loop": {Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}}}, Edges: []Edge{{From: "a", To: "a", Label: EdgeDefault}}},
		"two entries": {Nodes: []Node{
			{ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}},
			{ID: "b", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}},
		}},
		"bad label": {
			Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}}, {ID: "b", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(1)}}},
			Edges: []Edge{{From: "a", To: "b", Label: "maybe"}},
		},
		"bad clock":    {Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{WaitUntilTime: "25:00"}}}},
		"empty wait":   {Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{}}}},
		"endless wait": {Nodes: []Node{{ID: "a", Type: NodeWait, Config: WaitConfig{WaitDays: ptr(MaxWaitDays + 1)}}}},
	}
	for name, graph := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateGraph(&graph), ErrInvalidDefinition)
		})
	}
}

func TestValidateForActivationBranches(t *testing.T) {
	g := decodeSample(t)
	g.Nodes = g.Nodes[:len(g.Nodes)-1]
	g.Edges = g.Edges[:len(g.Edges)-1]
	require.NoError(t, ValidateForActivation(&g))

	missingVariant := g
	missingVariant.Edges = append([]Edge(nil), g.Edges...)
	missingVariant.Edges = missingVariant.Edges[:4]
	assert.ErrorIs(t, ValidateForActivation(&missingVariant), ErrInvalidDefinition)

	twoDefaults := g
	twoDefaults.Edges = append(append([]Edge(nil), g.Edges...), Edge{From: "wait_a", To: "goal", Label: EdgeDefault}, Edge{From: "wait_a", To: "wait_b", Label: EdgeDefault})
	assert.ErrorIs(t, ValidateForActivation(&twoDefaults), ErrInvalidDefinition)
}

func TestWaitDue(t *testing.T) {
	entered := time.Date(2026, 4, 6, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, entered.Add(36*time.Hour), WaitDue(WaitConfig{WaitDays: ptr(1.5)}, entered))
	assert.Equal(t,
		time.Date(2026, 4, 7, 9, 30, 0, 0, time.UTC),
		WaitDue(WaitConfig{WaitUntilTime: "09:30"}, entered),
		"clock time earlier than entry rolls to the next day")
	assert.Equal(t,
		time.Date(2026, 4, 8, 9, 30, 0, 0, time.UTC),
		WaitDue(WaitConfig{WaitDays: ptr(1.5), WaitUntilTime: "09:30"}, entered))
	assert.Equal(t,
		time.Date(2026, 4, 6, 18, 0, 0, 0, time.UTC),
		WaitDue(WaitConfig{WaitUntilTime: "18:00"}, entered))
	assert.Equal(t,
		entered.AddDate(0, 0, MaxWaitDays),
		WaitDue(WaitConfig{WaitDays: ptr(1e6)}, entered),
		"very long waits saturate instead of overflowing")
}

func TestDefinitionSchemaParses(t *testing.T) {
	sch, err := schema.Parse(&Definition{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := sch.LookUpField("TriggerEventTypes")
	require.NotNil(t, field)
	assert.Equal(t, schema.DataType("text"), field.DataType)
}

func TestEnrollmentPathIsBounded(t *testing.T) {
	now := time.Date(2026, 4, 6, 15, 0, 0, 0, time.UTC)
	e := Enrollment{}
	for i := 0; i < MaxPathEntries+10; i++ {
		e.EnterNode(Node{ID: "n", Type: NodeWait}, "elapsed", now.Add(time.Duration(i)*time.Minute))
	}
	require.Len(t, e.Path, MaxPathEntries)
	assert.Equal(t, "elapsed", e.Path[0].Result)
	assert.Nil(t, e.Path[len(e.Path)-1].ExitedAt)

	e.Finish(OutcomeGoalMet, "goal_met", now.Add(time.Hour))
	assert.Equal(t, EnrollmentCompleted, e.Status)
	assert.Equal(t, "goal_met", e.Path[len(e.Path)-1].Result)
	assert.Nil(t, e.NextCheckAt)
	assert.Nil(t, e.ActiveKey)
}

func TestOutcomeStatus(t *testing.T) {
	assert.Equal(t, EnrollmentCompleted, OutcomeCompleted.Status())
	assert.Equal(t, EnrollmentCompleted, OutcomeGoalMet.Status())
	assert.Equal(t, EnrollmentStopped, SuppressedOutcome("frequency_cap").Status())
	assert.Equal(t, Outcome("suppressed:frequency_cap"), SuppressedOutcome("frequency_cap"))
	assert.True(t, OutcomeSendFailed.IsError())
	assert.False(t, OutcomeStoppedManual.IsError())
}

func ptr(v float64) *float64 { return &v }
