package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type NodeType string

const (
	NodeEmail     NodeType = "email"
	NodeWait      NodeType = "wait"
	NodeCondition NodeType = "condition"
	NodeSplit     NodeType = "split"
	NodeGoalCheck NodeType = "goal_check"
)

func (t NodeType) Known() bool {
	switch t {
	case NodeEmail, NodeWait, NodeCondition, NodeSplit, NodeGoalCheck:
		return true
	default:
		return false
	}
}

// Immediate node types are evaluated in the same tick they are entered.
func (t NodeType) Immediate() bool {
	return t == NodeCondition || t == NodeSplit || t == NodeGoalCheck
}

type EdgeLabel string

const (
	EdgeDefault      EdgeLabel = "default"
	EdgeTrue         EdgeLabel = "true"
	EdgeFalse        EdgeLabel = "false"
	EdgeSplitVariant EdgeLabel = "split_variant"
	EdgeGoalMet      EdgeLabel = "goal_met"
)

func (l EdgeLabel) Valid() bool {
	switch l {
	case EdgeDefault, EdgeTrue, EdgeFalse, EdgeSplitVariant, EdgeGoalMet:
		return true
	default:
		return false
	}
}

// Graph is the immutable definition document of one workflow version.
type Graph struct {
	ExitGoal *GoalConfig `json:"exit_goal,omitempty"`
	Nodes    []Node      `json:"nodes"`
	Edges    []Edge      `json:"edges"`
}

type Edge struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Label   EdgeLabel `json:"label"`
	Variant string    `json:"variant,omitempty"`
}

type Node struct {
	ID     string     `json:"id"`
	Type   NodeType   `json:"type"`
	Name   string     `json:"name,omitempty"`
	Config NodeConfig `json:"config"`
}

// NodeConfig is a tagged union keyed by Node.Type. Unknown node types keep
// their raw config in OpaqueConfig.
type NodeConfig interface {
	isNodeConfig()
}

type EmailConfig struct {
	TemplateID string `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}

// WaitConfig resolves after WaitDays from node entry, then rounds forward to
// the next WaitUntilTime ("HH:MM", UTC) when set.
type WaitConfig struct {
	WaitDays      *float64 `json:"wait_days,omitempty"`
	WaitUntilTime string   `json:"wait_until_time,omitempty"`
}

type SplitVariant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type SplitConfig struct {
	Variants []SplitVariant `json:"variants"`
}

// GoalConfig names the event type that satisfies the goal. For
// stage_changed, ToStage optionally narrows the target stage.
type GoalConfig struct {
	GoalType string `json:"goal_type"`
	ToStage  string `json:"to_stage,omitempty"`
}

type OpaqueConfig struct {
	Raw json.RawMessage
}

func (EmailConfig) isNodeConfig()     {}
func (WaitConfig) isNodeConfig()      {}
func (ConditionConfig) isNodeConfig() {}
func (SplitConfig) isNodeConfig()     {}
func (GoalConfig) isNodeConfig()      {}
func (OpaqueConfig) isNodeConfig()    {}

func (c OpaqueConfig) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("{}"), nil
	}
	return c.Raw, nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string          `json:"id"`
		Type   NodeType        `json:"type"`
		Name   string          `json:"name"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.ID = strings.TrimSpace(raw.ID)
	n.Type = NodeType(strings.ToLower(strings.TrimSpace(string(raw.Type))))
	n.Name = raw.Name

	cfg := raw.Config
	if len(cfg) == 0 || string(cfg) == "null" {
		cfg = []byte("{}")
	}
	config, err := decodeNodeConfig(n.Type, cfg)
	if err != nil {
		return fmt.Errorf("node %q: %w", n.ID, err)
	}
	n.Config = config
	return nil
}

func decodeNodeConfig(nodeType NodeType, raw json.RawMessage) (NodeConfig, error) {
	switch nodeType {
	case NodeEmail:
		var c EmailConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	case NodeWait:
		var c WaitConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	case NodeCondition:
		var c ConditionConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	case NodeSplit:
		var c SplitConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	case NodeGoalCheck:
		var c GoalConfig
		err := json.Unmarshal(raw, &c)
		return c, err
	default:
		return OpaqueConfig{Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func (g *Graph) Node(id string) (Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

func (g *Graph) Outgoing(id string) []Edge {
	var edges []Edge
	for _, edge := range g.Edges {
		if edge.From == id {
			edges = append(edges, edge)
		}
	}
	return edges
}

// Next returns the target of the first edge from id carrying label (and
// variant, for split edges).
func (g *Graph) Next(id string, label EdgeLabel, variant string) (string, bool) {
	for _, edge := range g.Edges {
		if edge.From != id || edge.Label != label {
			continue
		}
		if label == EdgeSplitVariant && edge.Variant != variant {
			continue
		}
		return edge.To, true
	}
	return "", false
}

// EntryNode returns the single node without incoming edges.
func (g *Graph) EntryNode() (string, error) {
	inbound := make(map[string]int, len(g.Nodes))
	for _, edge := range g.Edges {
		inbound[edge.To]++
	}
	entry := ""
	for _, node := range g.Nodes {
		if inbound[node.ID] > 0 {
			continue
		}
		if entry != "" {
			return "", fmt.Errorf("%w: multiple entry nodes (%s, %s)", ErrInvalidDefinition, entry, node.ID)
		}
		entry = node.ID
	}
	if entry == "" {
		return "", fmt.Errorf("%w: no entry node", ErrInvalidDefinition)
	}
	return entry, nil
}

// Normalize fills implicit defaults: an unlabeled edge is a default edge.
func (g *Graph) Normalize() {
	for i := range g.Edges {
		g.Edges[i].From = strings.TrimSpace(g.Edges[i].From)
		g.Edges[i].To = strings.TrimSpace(g.Edges[i].To)
		label := EdgeLabel(strings.ToLower(strings.TrimSpace(string(g.Edges[i].Label))))
		if label == "" {
			label = EdgeDefault
		}
		g.Edges[i].Label = label
	}
	if g.ExitGoal != nil && strings.TrimSpace(g.ExitGoal.GoalType) == "" {
		g.ExitGoal = nil
	}
}
