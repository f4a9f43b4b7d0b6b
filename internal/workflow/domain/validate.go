package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidateGraph applies the structural rules every saved version must meet:
// unique node ids, edges between existing nodes, and a single entry node.
func ValidateGraph(g *Graph) error {
	if g == nil || len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node id is required", ErrInvalidDefinition)
		}
		if _, dup := seen[node.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}
		seen[node.ID] = struct{}{}
		if err := validateNodeConfig(node); err != nil {
			return err
		}
	}
	for _, edge := range g.Edges {
		if _, ok := seen[edge.From]; !ok {
			return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidDefinition, edge.From)
		}
		if _, ok := seen[edge.To]; !ok {
			return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidDefinition, edge.To)
		}
		if edge.From == edge.To {
			return fmt.Errorf("%w: self loop on %q", ErrInvalidDefinition, edge.From)
		}
		if !edge.Label.Valid() {
			return fmt.Errorf("%w: edge label %q", ErrInvalidDefinition, edge.Label)
		}
	}
	if g.ExitGoal != nil {
		if err := validateGoal(*g.ExitGoal); err != nil {
			return err
		}
	}
	_, err := g.EntryNode()
	return err
}

// ValidateForActivation adds the rules a version must meet before entities
// can be enrolled: known node types, complete branching, and no cycles.
func ValidateForActivation(g *Graph) error {
	if err := ValidateGraph(g); err != nil {
		return err
	}
	for _, node := range g.Nodes {
		if !node.Type.Known() {
			return fmt.Errorf("%w: unknown node type %q on %q", ErrInvalidDefinition, node.Type, node.ID)
		}
		if err := validateBranches(g, node); err != nil {
			return err
		}
	}
	return checkAcyclic(g)
}

func validateNodeConfig(node Node) error {
	switch cfg := node.Config.(type) {
	case EmailConfig:
		if strings.TrimSpace(cfg.Subject) == "" && strings.TrimSpace(cfg.TemplateID) == "" {
			return fmt.Errorf("%w: email node %q needs a subject or template_id", ErrInvalidDefinition, node.ID)
		}
	case WaitConfig:
		if cfg.WaitDays == nil && cfg.WaitUntilTime == "" {
			return fmt.Errorf("%w: wait node %q needs wait_days or wait_until_time", ErrInvalidDefinition, node.ID)
		}
		if cfg.WaitDays != nil && (*cfg.WaitDays < 0 || *cfg.WaitDays > MaxWaitDays) {
			return fmt.Errorf("%w: wait node %q wait_days must be between 0 and %d", ErrInvalidDefinition, node.ID, MaxWaitDays)
		}
		if cfg.WaitUntilTime != "" {
			if _, _, err := ParseClock(cfg.WaitUntilTime); err != nil {
				return fmt.Errorf("%w: wait node %q: %v", ErrInvalidDefinition, node.ID, err)
			}
		}
	case ConditionConfig:
		if err := validateCondition(node.ID, cfg.Condition); err != nil {
			return err
		}
	case SplitConfig:
		if len(cfg.Variants) == 0 {
			return fmt.Errorf("%w: split node %q has no variants", ErrInvalidDefinition, node.ID)
		}
		names := map[string]struct{}{}
		for _, variant := range cfg.Variants {
			if variant.Name == "" || variant.Weight <= 0 {
				return fmt.Errorf("%w: split node %q variant needs a name and positive weight", ErrInvalidDefinition, node.ID)
			}
			if _, dup := names[variant.Name]; dup {
				return fmt.Errorf("%w: split node %q repeats variant %q", ErrInvalidDefinition, node.ID, variant.Name)
			}
			names[variant.Name] = struct{}{}
		}
	case GoalConfig:
		return validateGoal(cfg)
	}
	return nil
}

func validateCondition(nodeID string, cond Condition) error {
	switch c := cond.(type) {
	case nil:
		return fmt.Errorf("%w: condition node %q has no kind", ErrInvalidDefinition, nodeID)
	case TierIn:
		if len(c.Tiers) == 0 {
			return fmt.Errorf("%w: condition node %q lists no tiers", ErrInvalidDefinition, nodeID)
		}
	case EventOccurred:
		if strings.TrimSpace(c.EventType) == "" || c.WithinDays < 0 {
			return fmt.Errorf("%w: condition node %q needs event_type", ErrInvalidDefinition, nodeID)
		}
	case EntityFieldEquals:
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("%w: condition node %q needs field", ErrInvalidDefinition, nodeID)
		}
	}
	return nil
}

func validateGoal(goal GoalConfig) error {
	if strings.TrimSpace(goal.GoalType) == "" {
		return fmt.Errorf("%w: goal_type is required", ErrInvalidDefinition)
	}
	return nil
}

func validateBranches(g *Graph, node Node) error {
	counts := map[EdgeLabel]int{}
	variants := map[string]int{}
	for _, edge := range g.Outgoing(node.ID) {
		counts[edge.Label]++
		if edge.Label == EdgeSplitVariant {
			variants[edge.Variant]++
		}
	}

	switch node.Type {
	case NodeCondition:
		cfg, _ := node.Config.(ConditionConfig)
		if _, opaque := cfg.Condition.(OpaqueCondition); opaque || cfg.Condition == nil {
			return fmt.Errorf("%w: condition node %q has unsupported kind", ErrInvalidDefinition, node.ID)
		}
		if counts[EdgeTrue] != 1 || counts[EdgeFalse] != 1 || len(counts) != 2 {
			return fmt.Errorf("%w: condition node %q needs exactly one true and one false edge", ErrInvalidDefinition, node.ID)
		}
	case NodeSplit:
		cfg, _ := node.Config.(SplitConfig)
		if len(counts) != 1 || counts[EdgeSplitVariant] != len(cfg.Variants) {
			return fmt.Errorf("%w: split node %q needs one edge per variant", ErrInvalidDefinition, node.ID)
		}
		for _, variant := range cfg.Variants {
			if variants[variant.Name] != 1 {
				return fmt.Errorf("%w: split node %q has no edge for variant %q", ErrInvalidDefinition, node.ID, variant.Name)
			}
		}
	case NodeGoalCheck:
		delete(counts, EdgeGoalMet)
		fallthrough
	default:
		if counts[EdgeDefault] > 1 || len(counts) > 1 || (len(counts) == 1 && counts[EdgeDefault] == 0) {
			return fmt.Errorf("%w: %s node %q allows a single default edge", ErrInvalidDefinition, node.Type, node.ID)
		}
	}
	return nil
}

func checkAcyclic(g *Graph) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: cycle through %q", ErrInvalidDefinition, id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, edge := range g.Outgoing(id) {
			if err := visit(edge.To); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, node := range g.Nodes {
		if err := visit(node.ID); err != nil {
			return err
		}
	}
	return nil
}

// ParseClock parses "HH:MM" in 24h form.
func ParseClock(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("wait_until_time %q is not HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("wait_until_time %q has invalid hour", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("wait_until_time %q has invalid minute", value)
	}
	return hour, minute, nil
}

// MaxWaitDays caps a single wait at ten years.
const MaxWaitDays = 3650

// WaitDue returns when a wait node entered at enteredAt resolves.
func WaitDue(cfg WaitConfig, enteredAt time.Time) time.Time {
	due := enteredAt.UTC()
	if cfg.WaitDays != nil && *cfg.WaitDays > 0 {
		days := min(*cfg.WaitDays, MaxWaitDays)
		due = due.Add(time.Duration(days * float64(24*time.Hour)))
	}
	if cfg.WaitUntilTime == "" {
		return due
	}
	hour, minute, err := ParseClock(cfg.WaitUntilTime)
	if err != nil {
		return due
	}
	at := time.Date(due.Year(), due.Month(), due.Day(), hour, minute, 0, 0, time.UTC)
	if at.Before(due) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
