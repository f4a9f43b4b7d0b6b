package domain

import (
	"encoding/json"
	"strings"
)

type ConditionKind string

const (
	ConditionScoreAtLeast      ConditionKind = "score_at_least"
	ConditionTierIn            ConditionKind = "tier_in"
	ConditionEventOccurred     ConditionKind = "event_occurred"
	ConditionEntityFieldEquals ConditionKind = "entity_field_equals"
)

// Condition is the typed predicate of a condition node.
type Condition interface {
	Kind() ConditionKind
}

type ScoreAtLeast struct {
	Threshold int `json:"threshold"`
}

type TierIn struct {
	Tiers []string `json:"tiers"`
}

// EventOccurred matches an event of EventType within the last WithinDays,
// or since enrollment when WithinDays is zero.
type EventOccurred struct {
	EventType  string `json:"event_type"`
	WithinDays int    `json:"within_days,omitempty"`
}

type EntityFieldEquals struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// OpaqueCondition keeps an unrecognised kind intact so the definition still
// round-trips. It never evaluates.
type OpaqueCondition struct {
	KindName string
	Raw      json.RawMessage
}

func (ScoreAtLeast) Kind() ConditionKind      { return ConditionScoreAtLeast }
func (TierIn) Kind() ConditionKind            { return ConditionTierIn }
func (EventOccurred) Kind() ConditionKind     { return ConditionEventOccurred }
func (EntityFieldEquals) Kind() ConditionKind { return ConditionEntityFieldEquals }
func (c OpaqueCondition) Kind() ConditionKind { return ConditionKind(c.KindName) }

// ConditionConfig is encoded flat: {"kind": "...", ...variant fields}.
type ConditionConfig struct {
	Condition Condition
}

func (c *ConditionConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	kind := ConditionKind(strings.ToLower(strings.TrimSpace(head.Kind)))

	var (
		cond Condition
		err  error
	)
	switch kind {
	case ConditionScoreAtLeast:
		var v ScoreAtLeast
		err = json.Unmarshal(data, &v)
		cond = v
	case ConditionTierIn:
		var v TierIn
		err = json.Unmarshal(data, &v)
		cond = v
	case ConditionEventOccurred:
		var v EventOccurred
		err = json.Unmarshal(data, &v)
		cond = v
	case ConditionEntityFieldEquals:
		var v EntityFieldEquals
		err = json.Unmarshal(data, &v)
		cond = v
	default:
		cond = OpaqueCondition{KindName: string(kind), Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return err
	}
	c.Condition = cond
	return nil
}

func (c ConditionConfig) MarshalJSON() ([]byte, error) {
	switch v := c.Condition.(type) {
	case nil:
		return []byte("{}"), nil
	case OpaqueCondition:
		if len(v.Raw) == 0 {
			return json.Marshal(map[string]string{"kind": v.KindName})
		}
		return v.Raw, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields := map[string]any{}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["kind"] = v.Kind()
		return json.Marshal(fields)
	}
}
