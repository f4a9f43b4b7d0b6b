package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
)

func (t *tick) condition(ctx context.Context, node domain.Node, cfg domain.ConditionConfig) (step, error) {
	var (
		ok  bool
		err error
	)
	switch c := cfg.Condition.(type) {
	case domain.ScoreAtLeast:
		score, serr := t.engine.scores.Get(ctx, t.e.EntityID)
		if serr != nil {
			return step{}, serr
		}
		ok = score.Score >= c.Threshold
	case domain.TierIn:
		score, serr := t.engine.scores.Get(ctx, t.e.EntityID)
		if serr != nil {
			return step{}, serr
		}
		for _, tier := range c.Tiers {
			if strings.EqualFold(strings.TrimSpace(tier), string(score.Tier)) {
				ok = true
				break
			}
		}
	case domain.EventOccurred:
		since := t.e.EnteredAt
		if c.WithinDays > 0 {
			since = t.now.AddDate(0, 0, -c.WithinDays)
		}
		ok, err = t.hasEvent(ctx, strings.TrimSpace(c.EventType), since, nil)
	case domain.EntityFieldEquals:
		entity, rerr := t.entity(ctx)
		if rerr != nil {
			return step{}, rerr
		}
		if entity != nil {
			value, found := entity.Field(c.Field)
			ok = found && strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(c.Value))
		}
	default:
		kind := "none"
		if cfg.Condition != nil {
			kind = string(cfg.Condition.Kind())
		}
		t.e.LastError = fmt.Sprintf("condition node %q has unsupported kind %q", node.ID, kind)
		return finish(domain.OutcomeInvalidCondition, "invalid_condition"), nil
	}
	if err != nil {
		return step{}, err
	}
	if ok {
		return follow(domain.EdgeTrue, "true"), nil
	}
	return follow(domain.EdgeFalse, "false"), nil
}

// split assigns a variant once per enrollment and node. The assignment is a
// pure function of the ids, and it is stored so later edits to weights do
// not move an enrollment that already branched.
func (t *tick) split(node domain.Node, cfg domain.SplitConfig) step {
	key := "split:" + node.ID
	if chosen, ok := t.e.Snapshot(key); ok {
		for _, variant := range cfg.Variants {
			if variant.Name == chosen {
				return step{edge: domain.EdgeSplitVariant, variant: chosen, result: chosen}
			}
		}
	}

	chosen := pickVariant(t.e.ID.String()+":"+node.ID, cfg.Variants)
	if chosen == "" {
		t.e.LastError = fmt.Sprintf("split node %q has no weighted variants", node.ID)
		return finish(domain.OutcomeMissingEdge, "no_variant")
	}
	t.e.SetSnapshot(key, chosen)
	return step{edge: domain.EdgeSplitVariant, variant: chosen, result: chosen}
}

func pickVariant(seed string, variants []domain.SplitVariant) string {
	total := 0
	for _, variant := range variants {
		if variant.Weight > 0 {
			total += variant.Weight
		}
	}
	if total == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	point := int(h.Sum32() % uint32(total))
	for _, variant := range variants {
		if variant.Weight <= 0 {
			continue
		}
		if point < variant.Weight {
			return variant.Name
		}
		point -= variant.Weight
	}
	return ""
}

// goalMet looks for a goal event recorded since the entity entered the
// workflow.
func (t *tick) goalMet(ctx context.Context, goal domain.GoalConfig) (bool, error) {
	goalType := strings.ToLower(strings.TrimSpace(goal.GoalType))
	if goalType == "" {
		return false, nil
	}
	var match func(eventdomain.Event) bool
	if goalType == eventdomain.EventStageChanged && strings.TrimSpace(goal.ToStage) != "" {
		want := strings.TrimSpace(goal.ToStage)
		match = func(ev eventdomain.Event) bool {
			payload, err := ev.DecodedPayload()
			if err != nil {
				return false
			}
			stage, ok := payload.(eventdomain.StageChangePayload)
			return ok && strings.EqualFold(strings.TrimSpace(stage.ToStage), want)
		}
	}
	return t.hasEvent(ctx, goalType, t.e.EnteredAt, match)
}

func (t *tick) hasEvent(ctx context.Context, eventType string, since time.Time, match func(eventdomain.Event) bool) (bool, error) {
	limit := 1
	if match != nil {
		limit = 0
	}
	from := since.UTC()
	events, err := t.engine.eventRepo.Query(ctx, t.engine.db, t.e.OrgID, eventdomain.QueryFilter{
		EntityID:   t.e.EntityID,
		EventTypes: []string{eventType},
		From:       &from,
		Limit:      limit,
	})
	if err != nil {
		return false, err
	}
	if match == nil {
		return len(events) > 0, nil
	}
	for _, ev := range events {
		if match(*ev) {
			return true, nil
		}
	}
	return false, nil
}

// entity resolves the enrolled entity from the CRM. A missing entity is not
// an error; callers fall back to the enrollment snapshot.
func (t *tick) entity(ctx context.Context) (*crmdomain.Entity, error) {
	if t.engine.resolver == nil {
		return nil, nil
	}
	entity, err := t.engine.resolver.Resolve(ctx, t.e.OrgID, t.e.EntityType, t.e.EntityID)
	if err != nil {
		if errors.Is(err, crmdomain.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entity, nil
}
