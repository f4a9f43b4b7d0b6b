package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.uber.org/zap"
)

// tick holds the in-memory working copy of one enrollment for the duration
// of a single Advance call. Nothing is written until the commit.
type tick struct {
	engine *Engine
	graph  domain.Graph
	e      domain.Enrollment
	now    time.Time
	log    *zap.Logger
}

// step is what a node handler asks the loop to do next: finish with an
// outcome, hold until a time, or follow an edge.
type step struct {
	edge      domain.EdgeLabel
	variant   string
	result    string
	holdUntil *time.Time
	outcome   domain.Outcome
}

func follow(edge domain.EdgeLabel, result string) step {
	return step{edge: edge, result: result}
}

func finish(outcome domain.Outcome, result string) step {
	return step{outcome: outcome, result: result}
}

func hold(until time.Time, result string) step {
	return step{holdUntil: &until, result: result}
}

func (t *tick) run(ctx context.Context) error {
	if goal := t.graph.ExitGoal; goal != nil {
		met, err := t.goalMet(ctx, *goal)
		if err != nil {
			return err
		}
		if met {
			t.e.Finish(domain.OutcomeGoalMet, "exit_goal", t.now)
			return nil
		}
	}

	// an activated graph is acyclic, so a path never visits more nodes
	// than the graph has
	for hop := 0; hop <= len(t.graph.Nodes); hop++ {
		node, ok := t.graph.Node(t.e.CurrentNodeID)
		if !ok {
			t.e.LastError = fmt.Sprintf("node %q is not in version %d", t.e.CurrentNodeID, t.e.WorkflowVersion)
			t.e.Finish(domain.OutcomeUnknownNode, "unknown_node", t.now)
			return nil
		}

		st, err := t.execute(ctx, node)
		if err != nil {
			return err
		}
		t.engine.scheduler.IncNodeExecution(string(node.Type), st.result)

		if st.outcome != "" {
			t.e.Finish(st.outcome, st.result, t.now)
			return nil
		}
		if st.holdUntil != nil {
			t.e.NextCheckAt = st.holdUntil
			return nil
		}

		nextID, ok := t.graph.Next(node.ID, st.edge, st.variant)
		if !ok {
			if t.pathEnds(node.ID) {
				t.e.Finish(domain.OutcomeCompleted, st.result, t.now)
				return nil
			}
			t.e.LastError = fmt.Sprintf("node %q has no %s edge", node.ID, st.edge)
			t.e.Finish(domain.OutcomeMissingEdge, st.result, t.now)
			return nil
		}
		next, ok := t.graph.Node(nextID)
		if !ok {
			t.e.LastError = fmt.Sprintf("edge from %q targets missing node %q", node.ID, nextID)
			t.e.Finish(domain.OutcomeUnknownNode, st.result, t.now)
			return nil
		}

		t.e.EnterNode(next, st.result, t.now)
		switch next.Type {
		case domain.NodeEmail:
			now := t.now
			t.e.NextCheckAt = &now
			return nil
		case domain.NodeWait:
			cfg, _ := next.Config.(domain.WaitConfig)
			due := domain.WaitDue(cfg, t.now)
			t.e.NextCheckAt = &due
			return nil
		}
	}

	t.e.LastError = "hop limit reached"
	t.e.Finish(domain.OutcomeCycleLimit, "hop_limit", t.now)
	return nil
}

// pathEnds reports whether node has nowhere left to go. goal_met edges are
// never followed, so they do not count.
func (t *tick) pathEnds(nodeID string) bool {
	for _, edge := range t.graph.Outgoing(nodeID) {
		if edge.Label != domain.EdgeGoalMet {
			return false
		}
	}
	return true
}

func (t *tick) execute(ctx context.Context, node domain.Node) (step, error) {
	switch cfg := node.Config.(type) {
	case domain.EmailConfig:
		return t.email(ctx, node, cfg)
	case domain.WaitConfig:
		return t.wait(cfg), nil
	case domain.ConditionConfig:
		return t.condition(ctx, node, cfg)
	case domain.SplitConfig:
		return t.split(node, cfg), nil
	case domain.GoalConfig:
		met, err := t.goalMet(ctx, cfg)
		if err != nil {
			return step{}, err
		}
		if met {
			return finish(domain.OutcomeGoalMet, "goal_met"), nil
		}
		return follow(domain.EdgeDefault, "goal_not_met"), nil
	default:
		t.e.LastError = fmt.Sprintf("node %q has unsupported type %q", node.ID, node.Type)
		return finish(domain.OutcomeUnknownNode, "unknown_node"), nil
	}
}

func (t *tick) wait(cfg domain.WaitConfig) step {
	due := domain.WaitDue(cfg, t.e.NodeEnteredAt)
	if t.now.Before(due) {
		return hold(due, "waiting")
	}
	return follow(domain.EdgeDefault, "elapsed")
}
